package btree

// Stats reports structural block accessors the reference
// implementation's tooling layer exposes (§D): the total block count,
// the number of free blocks, and the index/leaf block counts derived
// from a full node traversal.
type Stats struct {
	TotalBlockCount int
	FreeBlockCount  int
	IndexBlockCount int
	LeafBlockCount  int
}

// Stats computes a structural snapshot of the database via a full
// traversal plus the free-space bookkeeping.
func (db *Database) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return Stats{}, err
	}

	free, err := db.dev.FreeBlockCount()
	if err != nil {
		return Stats{}, err
	}
	indexCount, err := db.tree.IndexCount()
	if err != nil {
		return Stats{}, err
	}
	leafCount, err := db.tree.LeafCount()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalBlockCount: int(db.dev.BlockCount()),
		FreeBlockCount:  free,
		IndexBlockCount: indexCount,
		LeafBlockCount:  leafCount,
	}, nil
}
