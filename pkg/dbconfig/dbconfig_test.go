package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, uint32(DefaultBlockSize), c.BlockSize)
	assert.Equal(t, DefaultIndexCacheSize, c.IndexCacheSize)
	assert.Equal(t, DefaultFlattenThreshold, c.FlattenThreshold)
	assert.NotNil(t, c.Logger)
	assert.False(t, c.ReadOnly)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	var logged []string
	c := New(
		WithBlockSize(8192),
		WithIndexCacheSize(4),
		WithFlattenThreshold(0.5),
		WithLogger(func(format string, args ...any) { logged = append(logged, format) }),
		ReadOnly(),
	)
	assert.Equal(t, uint32(8192), c.BlockSize)
	assert.Equal(t, 4, c.IndexCacheSize)
	assert.Equal(t, 0.5, c.FlattenThreshold)
	assert.True(t, c.ReadOnly)

	c.Logger("hello %d", 1)
	assert.Equal(t, []string{"hello %d"}, logged)
}

func TestNormalizeOnlyFillsZeroFields(t *testing.T) {
	c := Config{BlockSize: 1024}
	c.Normalize()
	assert.Equal(t, uint32(1024), c.BlockSize)
	assert.Equal(t, DefaultIndexCacheSize, c.IndexCacheSize)
}
