package btree

import (
	"os"
	"sync"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dbconfig"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/lru"
)

// Database is the public facade: a readers-writer lock held for the
// duration of each call (§5), one exclusive writer and many concurrent
// readers, guarding a Tree built over a blockstore.Device.
type Database struct {
	mu sync.RWMutex

	dev   *blockstore.Device
	codec *codec
	tree  *Tree

	cfg        dbconfig.Config
	autoCommit bool
	closed     bool
}

// Open opens path, creating it with the given content identifier and
// key size if it does not already exist. Opening an existing file with
// a different blockSize/keySize than the one recorded in its header
// ignores the caller's values and uses the file's, per §6.
func Open(path, contentID string, keySize uint32, opts ...dbconfig.Option) (*Database, error) {
	cfg := dbconfig.New(opts...)

	var dev *blockstore.Device
	var err error
	if _, statErr := os.Stat(path); statErr != nil {
		dev, err = blockstore.Create(path, contentID, keySize, cfg.BlockSize, cfg)
	} else {
		dev, err = blockstore.Open(path, cfg)
	}
	if err != nil {
		return nil, err
	}

	c := newCodec(dev, cfg.IndexCacheSize)
	return &Database{
		dev:   dev,
		codec: c,
		tree:  newTree(c, dev),
		cfg:   cfg,
	}, nil
}

func (db *Database) checkOpen() error {
	if db.closed {
		return dberr.InvalidState("database is closed")
	}
	return nil
}

// Close flushes outstanding writes (if auto-commit is enabled) and
// releases the backing file handle.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if db.autoCommit {
		if err := db.dev.Commit(); err != nil {
			return err
		}
	}
	db.closed = true
	return db.dev.Close()
}

// Contains reports whether key is present.
func (db *Database) Contains(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	return db.tree.Contains(key)
}

// Find looks up key, returning its value and whether it was present.
func (db *Database) Find(key []byte) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	return db.tree.Find(key)
}

// Range collects every record with low <= key <= high in ascending
// order.
func (db *Database) Range(low, high []byte) ([]LeafRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.tree.Range(low, high)
}

// ForEach visits every record with low <= key <= high in ascending
// order without allocating an intermediate slice.
func (db *Database) ForEach(low, high []byte, visit Visitor) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.tree.ForEach(low, high, visit)
}

// Insert adds or overwrites key with value, returning whether a
// previous value was overwritten. Auto-commits if enabled.
func (db *Database) Insert(key, value []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	overwrote, err := db.tree.Insert(key, value)
	if err != nil {
		return false, err
	}
	if db.autoCommit {
		if err := db.dev.Commit(); err != nil {
			return false, err
		}
	}
	return overwrote, nil
}

// Remove deletes key, returning whether a value existed. Auto-commits
// if enabled.
func (db *Database) Remove(key []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	removed, err := db.tree.Remove(key)
	if err != nil {
		return false, err
	}
	if db.autoCommit {
		if err := db.dev.Commit(); err != nil {
			return false, err
		}
	}
	return removed, nil
}

// RecordCount returns the total number of stored records via full
// traversal.
func (db *Database) RecordCount() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	return db.tree.Count()
}

// IndexLevels returns 0 when the root is a leaf, otherwise the depth of
// index levels above it.
func (db *Database) IndexLevels() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	return db.tree.IndexLevels()
}

// Commit flushes the current transaction: every dirty block, the
// free-space chain, and the atomic root selector flip.
func (db *Database) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.dev.Commit()
}

// Rollback discards the uncommitted-write buffer and all in-flight
// free-space bookkeeping, reverting to the last committed snapshot.
func (db *Database) Rollback() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.dev.Rollback()
}

// SetAutoCommit toggles whether Insert/Remove commit immediately.
func (db *Database) SetAutoCommit(on bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.autoCommit = on
}

// SetIndexCacheSize replaces the index-node cache with a freshly sized
// one, discarding whatever was previously warm.
func (db *Database) SetIndexCacheSize(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.codec.indexCache = lru.New[blockstore.Index, *IndexNode](n)
}

// RecoverAll performs a full traversal that isolates failures per
// subtree, for use against a possibly-corrupted file.
func (db *Database) RecoverAll(visit Visitor, onError ErrorHandler) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		onError("database", err)
		return
	}
	db.tree.RecoverAll(visit, onError)
}

// WalkNodes performs a full node-level traversal (mirrors
// BTreeMixin::forAllNodes), exposed for integrity-checking tools built
// atop this package.
func (db *Database) WalkNodes(visit NodeVisitor) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.tree.WalkNodes(visit)
}

// Flatten performs online compaction when the free-block fraction
// reaches the configured threshold (the same test ShouldFlatten
// applies), logging before/after free percentages as the reference
// implementation does. Below the threshold it returns without changes.
func (db *Database) Flatten() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}

	before, err := db.dev.FreeBlockCount()
	if err != nil {
		return err
	}
	total := int(db.dev.BlockCount())
	if total == 0 || float64(before)/float64(total) < db.cfg.FlattenThreshold {
		return nil
	}
	db.cfg.Logger("flatten: starting with %.1f%% of %d blocks free", 100*float64(before)/float64(total), total)

	if err := db.tree.Flatten(); err != nil {
		return err
	}
	if err := db.dev.Commit(); err != nil {
		return err
	}

	after, err := db.dev.FreeBlockCount()
	if err != nil {
		return err
	}
	afterTotal := int(db.dev.BlockCount())
	afterPct := 0.0
	if afterTotal > 0 {
		afterPct = 100 * float64(after) / float64(afterTotal)
	}
	db.cfg.Logger("flatten: finished with %.1f%% of %d blocks free", afterPct, afterTotal)
	return nil
}

// ShouldFlatten reports whether the free-space fraction has crossed the
// configured FlattenThreshold.
func (db *Database) ShouldFlatten() (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	free, err := db.dev.FreeBlockCount()
	if err != nil {
		return false, err
	}
	total := int(db.dev.BlockCount())
	if total == 0 {
		return false, nil
	}
	return float64(free)/float64(total) >= db.cfg.FlattenThreshold, nil
}
