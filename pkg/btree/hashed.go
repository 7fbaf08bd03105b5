package btree

import (
	"crypto/sha256"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dbconfig"
)

// HashedDatabase wraps a 32-byte-keyed Database and hashes arbitrary
// caller-supplied keys with SHA-256 before every operation, mirroring
// BTreeSha256Database — the reference implementation's variant for
// keys that don't naturally fit a fixed width (§D, §6).
type HashedDatabase struct {
	db *Database
}

// OpenHashed opens (or creates) a 32-byte-keyed database at path and
// wraps it for hashed-key access.
func OpenHashed(path, contentID string, opts ...dbconfig.Option) (*HashedDatabase, error) {
	db, err := Open(path, contentID, sha256.Size, opts...)
	if err != nil {
		return nil, err
	}
	return &HashedDatabase{db: db}, nil
}

func hashKey(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

// Underlying returns the wrapped fixed-width Database, for callers that
// need direct access (Commit, Rollback, Flatten, Stats, ...).
func (h *HashedDatabase) Underlying() *Database { return h.db }

// Contains reports whether key (of any length) is present.
func (h *HashedDatabase) Contains(key []byte) (bool, error) {
	return h.db.Contains(hashKey(key))
}

// Find looks up key, returning its value and whether it was present.
func (h *HashedDatabase) Find(key []byte) ([]byte, bool, error) {
	return h.db.Find(hashKey(key))
}

// Insert adds or overwrites key with value.
func (h *HashedDatabase) Insert(key, value []byte) (bool, error) {
	return h.db.Insert(hashKey(key), value)
}

// Remove deletes key.
func (h *HashedDatabase) Remove(key []byte) (bool, error) {
	return h.db.Remove(hashKey(key))
}

// Close closes the underlying database.
func (h *HashedDatabase) Close() error { return h.db.Close() }
