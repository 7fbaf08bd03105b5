package btree

import (
	"golang.org/x/sync/errgroup"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
)

// Visitor receives one record during a range scan or full traversal.
// Returning an error aborts the walk (except inside RecoverAll, which
// isolates errors per subtree instead).
type Visitor func(key, value []byte) error

// ForEach visits every record with low <= key <= high in ascending
// order. Because index nodes carry no sibling pointers and leaves carry
// no next-leaf pointer (design note: the hook is a no-op in this
// store), the walk re-descends from the root for each subtree and
// tracks the highest key already emitted (lastKey) to avoid visiting
// the right side of an already-swept node twice (§4.4 "iterator
// re-entry correctness").
func (t *Tree) ForEach(low, high []byte, visit Visitor) error {
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		return nil
	}
	var lastKey []byte
	return t.forEachNode(root.RootPointer, root.RootIsLeaf, low, high, &lastKey, visit)
}

func (t *Tree) forEachNode(idx blockstore.Index, isLeaf bool, low, high []byte, lastKey *[]byte, visit Visitor) error {
	if isLeaf {
		leaf, err := t.store.LoadLeaf(idx)
		if err != nil {
			return err
		}
		for _, rec := range leaf.Records {
			if *lastKey != nil && !bytesLess(*lastKey, rec.Key) {
				continue
			}
			if bytesLess(rec.Key, low) || bytesLess(high, rec.Key) {
				continue
			}
			if err := visit(rec.Key, rec.Value); err != nil {
				return err
			}
			*lastKey = rec.Key
		}
		return nil
	}

	node, err := t.store.LoadIndex(idx)
	if err != nil {
		return err
	}
	childIsLeaf := node.Level == 0
	n := len(node.Entries) + 1
	for slot := 0; slot < n; slot++ {
		var upper []byte
		if slot < len(node.Entries) {
			upper = node.Entries[slot].Key
		}
		if upper != nil && *lastKey != nil && !bytesLess(*lastKey, upper) {
			continue // entire subtree already swept
		}
		var lower []byte
		if slot > 0 {
			lower = node.Entries[slot-1].Key
		}
		if lower != nil && bytesLess(high, lower) {
			break // remaining children start beyond the requested range
		}
		if upper != nil && bytesLess(upper, low) {
			continue
		}
		child := childPointer(node, slot)
		if err := t.forEachNode(child, childIsLeaf, low, high, lastKey, visit); err != nil {
			return err
		}
	}
	return nil
}

// Range collects every record with low <= key <= high in ascending
// order.
func (t *Tree) Range(low, high []byte) ([]LeafRecord, error) {
	var out []LeafRecord
	err := t.ForEach(low, high, func(k, v []byte) error {
		out = append(out, LeafRecord{Key: k, Value: v})
		return nil
	})
	return out, err
}

// ErrorHandler receives a textual context and the error encountered
// while recovering one subtree.
type ErrorHandler func(context string, err error)

// RecoverAll performs a full traversal that isolates failures at each
// subtree: a torn or corrupt block loses only its own subtree, not the
// rest of the scan (§4.4 recover).
//
// The root's immediate children are recovered concurrently via
// errgroup: this is read-only fan-out over independent subtrees (no
// node is ever touched by two goroutines), so it never competes with
// the single-writer discipline of §5. visit and onError must be safe
// for concurrent use when the root is an index with more than one
// child.
func (t *Tree) RecoverAll(visit Visitor, onError ErrorHandler) {
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		return
	}
	if root.RootIsLeaf {
		t.recoverNode(root.RootPointer, true, visit, onError)
		return
	}

	node, err := t.store.LoadIndex(root.RootPointer)
	if err != nil {
		onError("loading root index", err)
		return
	}
	childIsLeaf := node.Level == 0
	n := len(node.Entries) + 1

	var g errgroup.Group
	for slot := 0; slot < n; slot++ {
		child := childPointer(node, slot)
		g.Go(func() error {
			t.recoverNode(child, childIsLeaf, visit, onError)
			return nil
		})
	}
	g.Wait()
}

func (t *Tree) recoverNode(idx blockstore.Index, isLeaf bool, visit Visitor, onError ErrorHandler) {
	if isLeaf {
		leaf, err := t.store.LoadLeaf(idx)
		if err != nil {
			onError("loading leaf", err)
			return
		}
		for _, rec := range leaf.Records {
			if err := visit(rec.Key, rec.Value); err != nil {
				onError("visiting record", err)
			}
		}
		return
	}
	node, err := t.store.LoadIndex(idx)
	if err != nil {
		onError("loading index", err)
		return
	}
	childIsLeaf := node.Level == 0
	n := len(node.Entries) + 1
	for slot := 0; slot < n; slot++ {
		t.recoverNode(childPointer(node, slot), childIsLeaf, visit, onError)
	}
}

// NodeVisitor is called once per node during WalkNodes. Returning
// descend=false skips the node's children (meaningless for leaves).
type NodeVisitor func(isLeaf bool, idx blockstore.Index, level byte) (descend bool, err error)

// WalkNodes performs a full node-level traversal, mirroring
// BTreeMixin::forAllNodes. Used by Stats (through IndexCount and
// LeafCount).
func (t *Tree) WalkNodes(visit NodeVisitor) error {
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		return nil
	}
	return t.walkNode(root.RootPointer, root.RootIsLeaf, visit)
}

func (t *Tree) walkNode(idx blockstore.Index, isLeaf bool, visit NodeVisitor) error {
	level := byte(0)
	if !isLeaf {
		node, err := t.store.LoadIndex(idx)
		if err != nil {
			return err
		}
		level = node.Level
		descend, err := visit(false, idx, level)
		if err != nil {
			return err
		}
		if !descend {
			return nil
		}
		childIsLeaf := node.Level == 0
		n := len(node.Entries) + 1
		for slot := 0; slot < n; slot++ {
			if err := t.walkNode(childPointer(node, slot), childIsLeaf, visit); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := visit(true, idx, level)
	return err
}

// Count returns the total number of records via full traversal.
func (t *Tree) Count() (int, error) {
	n := 0
	err := t.ForEach(nil, maxKey(t.store.KeySize()), func(k, v []byte) error {
		n++
		return nil
	})
	return n, err
}

func maxKey(size int) []byte {
	k := make([]byte, size)
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

// IndexCount, LeafCount and IndexLevels are structural metrics computed
// by full node-level traversal (§4.4).
func (t *Tree) IndexCount() (int, error) {
	n := 0
	err := t.WalkNodes(func(isLeaf bool, idx blockstore.Index, level byte) (bool, error) {
		if !isLeaf {
			n++
		}
		return true, nil
	})
	return n, err
}

func (t *Tree) LeafCount() (int, error) {
	n := 0
	err := t.WalkNodes(func(isLeaf bool, idx blockstore.Index, level byte) (bool, error) {
		if isLeaf {
			n++
		}
		return true, nil
	})
	return n, err
}

// IndexLevels returns 0 when the root is a leaf, otherwise the root
// index's level + 1.
func (t *Tree) IndexLevels() (int, error) {
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex || root.RootIsLeaf {
		return 0, nil
	}
	node, err := t.store.LoadIndex(root.RootPointer)
	if err != nil {
		return 0, err
	}
	return int(node.Level) + 1, nil
}
