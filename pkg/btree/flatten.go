package btree

import (
	"encoding/binary"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
)

// Flatten performs the online compaction pass described in §4.4: it
// gathers every free block (on-disk chain plus in-memory available
// pool) into a single ascending pool, then recursively re-stores every
// node whose block pointer (for a leaf, any block of its chain) exceeds
// the smallest still-available index,
// shrinking the live block-index space. The precondition that the root
// be an index (a single-leaf root has nothing to compact) matches the
// reference implementation.
func (t *Tree) Flatten() error {
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex || root.RootIsLeaf {
		return nil
	}

	if err := t.dev.HarvestFreeChain(); err != nil {
		return err
	}

	newRoot, _, err := t.flattenNode(root.RootPointer, false)
	if err != nil {
		return err
	}
	t.dev.SetRoot(newRoot, false)
	t.dev.ShrinkToUsed()
	return nil
}

// flattenNode recursively compacts idx's subtree, re-storing it (and
// thereby moving it to a smaller block index) whenever its current
// index exceeds the smallest available one. It returns the node's
// (possibly new) index and whether it changed.
func (t *Tree) flattenNode(idx blockstore.Index, isLeaf bool) (blockstore.Index, bool, error) {
	if isLeaf {
		return t.flattenLeaf(idx)
	}

	node, err := t.store.LoadIndex(idx)
	if err != nil {
		return 0, false, err
	}
	childIsLeaf := node.Level == 0
	n := len(node.Entries) + 1
	childChanged := false
	for slot := 0; slot < n; slot++ {
		newChild, changed, err := t.flattenNode(childPointer(node, slot), childIsLeaf)
		if err != nil {
			return 0, false, err
		}
		if changed {
			setChildPointer(node, slot, newChild)
			childChanged = true
		}
	}

	smallest, ok := t.dev.SmallestAvailable()
	relocate := ok && idx > smallest
	if !relocate {
		if childChanged {
			// Already optimally placed: persist the updated child
			// pointers in place rather than forcing a relocation that
			// could only make this node's own index worse.
			if err := t.store.RewriteIndex(idx, node); err != nil {
				return 0, false, err
			}
		}
		return idx, false, nil
	}

	newIdx, err := t.store.StoreIndex(node)
	if err != nil {
		return 0, false, err
	}
	if err := t.store.DeleteIndex(idx); err != nil {
		return 0, false, err
	}
	return newIdx, true, nil
}

func (t *Tree) flattenLeaf(idx blockstore.Index) (blockstore.Index, bool, error) {
	smallest, ok := t.dev.SmallestAvailable()
	if !ok {
		return idx, false, nil
	}
	// The leaf stays only if every block of its chain, not just the head,
	// is at or below the smallest available index.
	b := idx
	for b != blockstore.NullIndex && b <= smallest {
		buf, err := t.dev.ReadFullBlock(b)
		if err != nil {
			return 0, false, err
		}
		b = blockstore.Index(binary.BigEndian.Uint32(buf[len(buf)-4:]))
	}
	if b == blockstore.NullIndex {
		return idx, false, nil
	}
	leaf, err := t.store.LoadLeaf(idx)
	if err != nil {
		return 0, false, err
	}
	// Free the old chain first so the new chain takes the lowest free
	// slots, including any the old chain held.
	if err := t.store.DeleteLeaf(idx); err != nil {
		return 0, false, err
	}
	newIdx, err := t.store.StoreLeaf(leaf)
	if err != nil {
		return 0, false, err
	}
	return newIdx, true, nil
}
