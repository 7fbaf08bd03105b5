// Package dbconfig centralizes the settings that the reference
// implementation kept as process-global mutable state: the logger
// callback, the index-node cache size, and the free-space flatten
// threshold. Every tunable is a field on Config with a documented
// default applied by Normalize, following the zero-value-means-default
// constructor idiom (diskpacked.newStorage's maxFileSize, for instance).
package dbconfig

import "log"

const (
	// DefaultIndexCacheSize is the number of deserialized index nodes the
	// NodeCodec keeps warm.
	DefaultIndexCacheSize = 32

	// DefaultFlattenThreshold is the fraction (out of 1.0) of the device's
	// blocks that must be free before Database.Flatten compacts.
	DefaultFlattenThreshold = 0.25

	// DefaultBlockSize is the size in bytes of every block on a freshly
	// created device.
	DefaultBlockSize = 4096
)

// Logger is the callback signature used for diagnostic output, matching
// the teacher's own stdlib-log ambient convention.
type Logger func(format string, args ...any)

// Config carries the tunables of a Database. The zero value is not
// usable directly; call Normalize (or go through Open, which calls it)
// to fill in defaults.
type Config struct {
	// BlockSize is the fixed block size of the underlying device. Only
	// meaningful when creating a new device; ignored when opening an
	// existing one, whose block size is read from its header.
	BlockSize uint32

	// IndexCacheSize bounds how many index nodes NodeCodec keeps
	// deserialized at once.
	IndexCacheSize int

	// FlattenThreshold is the free-block fraction at or above which
	// Database.Flatten compacts and Database.ShouldFlatten reports true.
	// Commit never flattens on its own. Normalize replaces a zero value
	// with DefaultFlattenThreshold.
	FlattenThreshold float64

	// Logger receives diagnostic messages (flatten progress). Defaults to
	// log.Printf.
	Logger Logger

	// ReadOnly opens the device for read-only access; all mutating
	// operations return dberr.InvalidState.
	ReadOnly bool
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithBlockSize overrides the block size used when creating a new
// device.
func WithBlockSize(size uint32) Option {
	return func(c *Config) { c.BlockSize = size }
}

// WithIndexCacheSize overrides the index-node cache capacity.
func WithIndexCacheSize(n int) Option {
	return func(c *Config) { c.IndexCacheSize = n }
}

// WithFlattenThreshold overrides the free-space fraction that triggers
// compaction.
func WithFlattenThreshold(frac float64) Option {
	return func(c *Config) { c.FlattenThreshold = frac }
}

// WithLogger overrides the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// ReadOnly marks the database as read-only.
func ReadOnly() Option {
	return func(c *Config) { c.ReadOnly = true }
}

// New builds a Config from the given options, applying defaults for any
// field left unset.
func New(opts ...Option) Config {
	c := Config{}
	for _, opt := range opts {
		opt(&c)
	}
	c.Normalize()
	return c
}

// Normalize fills zero-valued fields with their documented defaults, the
// same "zero means default" convention the teacher's own storage
// constructor uses for maxFileSize.
func (c *Config) Normalize() {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.IndexCacheSize == 0 {
		c.IndexCacheSize = DefaultIndexCacheSize
	}
	if c.FlattenThreshold == 0 {
		c.FlattenThreshold = DefaultFlattenThreshold
	}
	if c.Logger == nil {
		c.Logger = log.Printf
	}
}
