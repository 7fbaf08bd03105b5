package btree

import (
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

// Tree is the ordered map over a NodeStore, implementing the recursive
// modify protocol of §4.4. It holds no root state of its own — the
// current root pointer and leaf flag live on the blockstore.Device, so
// that Database.Commit/Rollback (which operate on the device) always
// see the tree's latest structural changes.
type Tree struct {
	store NodeStore
	dev   *blockstore.Device
}

func newTree(store NodeStore, dev *blockstore.Device) *Tree {
	return &Tree{store: store, dev: dev}
}

type opKind int

const (
	opInsert opKind = iota
	opRemove
)

// modifyResult is the single recursive frame shared by insert and
// remove, per §4.4's "modify protocol".
type modifyResult struct {
	newIndex   blockstore.Index
	overwrote  bool // insert: previous value existed
	removed    bool // remove: a value existed
	splitKey   []byte
	splitIndex blockstore.Index
	needsJoin  bool
}

// Contains reports whether key is present.
func (t *Tree) Contains(key []byte) (bool, error) {
	_, ok, err := t.Find(key)
	return ok, err
}

// Find descends from the root: at each index it picks the child whose
// separator range contains the key (upper-bound), and at the leaf
// performs a lower-bound search followed by an equality test.
func (t *Tree) Find(key []byte) ([]byte, bool, error) {
	if err := t.checkKey(key); err != nil {
		return nil, false, err
	}
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		return nil, false, nil
	}
	idx, isLeaf := root.RootPointer, root.RootIsLeaf
	for !isLeaf {
		node, err := t.store.LoadIndex(idx)
		if err != nil {
			return nil, false, err
		}
		idx = node.childAt(key)
		isLeaf = node.Level == 0
	}
	leaf, err := t.store.LoadLeaf(idx)
	if err != nil {
		return nil, false, err
	}
	pos, ok := leaf.find(key)
	if !ok {
		return nil, false, nil
	}
	return leaf.Records[pos].Value, true, nil
}

func (t *Tree) checkKey(key []byte) error {
	if len(key) != t.store.KeySize() {
		return dberr.InvalidArgument("key length %d does not match configured key size %d", len(key), t.store.KeySize())
	}
	return nil
}

// Insert adds or overwrites key with value, returning whether a
// previous value was overwritten.
func (t *Tree) Insert(key, value []byte) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		leaf := &LeafNode{Records: []LeafRecord{{Key: key, Value: value}}}
		idx, err := t.store.StoreLeaf(leaf)
		if err != nil {
			return false, err
		}
		t.dev.SetRoot(idx, true)
		return false, nil
	}

	result, err := t.modify(root.RootPointer, root.RootIsLeaf, key, value, opInsert)
	if err != nil {
		return false, err
	}
	if err := t.finishRoot(result, root.RootIsLeaf); err != nil {
		return false, err
	}
	return result.overwrote, nil
}

// Remove deletes key, returning whether a value existed.
func (t *Tree) Remove(key []byte) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	root := t.dev.Root()
	if root.RootPointer == blockstore.NullIndex {
		return false, nil
	}

	result, err := t.modify(root.RootPointer, root.RootIsLeaf, key, nil, opRemove)
	if err != nil {
		return false, err
	}
	if err := t.finishRoot(result, root.RootIsLeaf); err != nil {
		return false, err
	}
	return result.removed, nil
}

// finishRoot applies the top-level frame's outcome to the device's root
// descriptor: synthesizing a new root on split, collapsing a one-child
// index root, or simply recording the new pointer.
func (t *Tree) finishRoot(result modifyResult, wasLeaf bool) error {
	if result.splitKey != nil {
		level := byte(0)
		if !wasLeaf {
			left, err := t.store.LoadIndex(result.newIndex)
			if err != nil {
				return err
			}
			level = left.Level + 1
		}
		newRoot := &IndexNode{
			Level:   level,
			Begin:   result.newIndex,
			Entries: []IndexEntry{{Key: result.splitKey, Child: result.splitIndex}},
		}
		idx, err := t.store.StoreIndex(newRoot)
		if err != nil {
			return err
		}
		t.dev.SetRoot(idx, false)
		return nil
	}

	if wasLeaf {
		t.dev.SetRoot(result.newIndex, true)
		return nil
	}

	node, err := t.store.LoadIndex(result.newIndex)
	if err != nil {
		return err
	}
	if len(node.Entries) == 0 {
		// Root index collapsed to a single child: promote it.
		t.dev.SetRoot(node.Begin, node.Level == 0)
		return t.store.DeleteIndex(result.newIndex)
	}
	t.dev.SetRoot(result.newIndex, false)
	return nil
}

// modify is the shared recursive frame: descend to the target leaf,
// apply the local mutation, and propagate splits/joins upward.
func (t *Tree) modify(idx blockstore.Index, isLeaf bool, key, value []byte, op opKind) (modifyResult, error) {
	if isLeaf {
		return t.modifyLeaf(idx, key, value, op)
	}
	return t.modifyIndex(idx, key, value, op)
}

func (t *Tree) modifyLeaf(idx blockstore.Index, key, value []byte, op opKind) (modifyResult, error) {
	leaf, err := t.store.LoadLeaf(idx)
	if err != nil {
		return modifyResult{}, err
	}
	pos, found := leaf.find(key)

	var overwrote, removed bool
	switch op {
	case opInsert:
		if found {
			leaf.Records[pos].Value = value
			overwrote = true
		} else {
			leaf.Records = append(leaf.Records, LeafRecord{})
			copy(leaf.Records[pos+1:], leaf.Records[pos:])
			leaf.Records[pos] = LeafRecord{Key: key, Value: value}
		}
	case opRemove:
		if !found {
			return modifyResult{newIndex: idx}, nil
		}
		leaf.Records = append(leaf.Records[:pos], leaf.Records[pos+1:]...)
		removed = true
	}

	if op == opInsert && t.store.LeafNeedsSplit(leaf) {
		mid := len(leaf.Records) / 2
		left := &LeafNode{Records: append([]LeafRecord(nil), leaf.Records[:mid]...)}
		right := &LeafNode{Records: append([]LeafRecord(nil), leaf.Records[mid:]...)}
		leftIdx, err := t.store.StoreLeaf(left)
		if err != nil {
			return modifyResult{}, err
		}
		rightIdx, err := t.store.StoreLeaf(right)
		if err != nil {
			return modifyResult{}, err
		}
		if err := t.store.DeleteLeaf(idx); err != nil {
			return modifyResult{}, err
		}
		return modifyResult{newIndex: leftIdx, overwrote: overwrote, splitKey: right.Records[0].Key, splitIndex: rightIdx}, nil
	}

	newIdx, err := t.store.StoreLeaf(leaf)
	if err != nil {
		return modifyResult{}, err
	}
	if err := t.store.DeleteLeaf(idx); err != nil {
		return modifyResult{}, err
	}
	needsJoin := op == opRemove && t.store.LeafNeedsShift(leaf)
	return modifyResult{newIndex: newIdx, overwrote: overwrote, removed: removed, needsJoin: needsJoin}, nil
}

func (t *Tree) modifyIndex(idx blockstore.Index, key, value []byte, op opKind) (modifyResult, error) {
	node, err := t.store.LoadIndex(idx)
	if err != nil {
		return modifyResult{}, err
	}
	pos := node.childIndexAt(key)
	slot := pos + 1
	childIdx := childPointer(node, slot)
	childIsLeaf := node.Level == 0

	childResult, err := t.modify(childIdx, childIsLeaf, key, value, op)
	if err != nil {
		return modifyResult{}, err
	}

	changed := childResult.newIndex != childIdx
	setChildPointer(node, slot, childResult.newIndex)

	if op == opInsert && childResult.splitKey != nil {
		insertEntry(node, slot, IndexEntry{Key: childResult.splitKey, Child: childResult.splitIndex})
		changed = true
	}
	if op == opRemove && childResult.needsJoin {
		if err := t.resolveJoin(node, slot); err != nil {
			return modifyResult{}, err
		}
		changed = true
	}

	if !changed {
		return modifyResult{newIndex: idx, overwrote: childResult.overwrote, removed: childResult.removed}, nil
	}

	if op == opInsert && t.store.IndexNeedsSplit(node) {
		mid := len(node.Entries) / 2
		left := &IndexNode{Level: node.Level, Begin: node.Begin, Entries: append([]IndexEntry(nil), node.Entries[:mid]...)}
		promoted := node.Entries[mid]
		right := &IndexNode{Level: node.Level, Begin: promoted.Child, Entries: append([]IndexEntry(nil), node.Entries[mid+1:]...)}
		leftIdx, err := t.store.StoreIndex(left)
		if err != nil {
			return modifyResult{}, err
		}
		rightIdx, err := t.store.StoreIndex(right)
		if err != nil {
			return modifyResult{}, err
		}
		if err := t.store.DeleteIndex(idx); err != nil {
			return modifyResult{}, err
		}
		return modifyResult{newIndex: leftIdx, overwrote: childResult.overwrote, splitKey: promoted.Key, splitIndex: rightIdx}, nil
	}

	newIdx, err := t.store.StoreIndex(node)
	if err != nil {
		return modifyResult{}, err
	}
	if err := t.store.DeleteIndex(idx); err != nil {
		return modifyResult{}, err
	}
	needsJoin := op == opRemove && t.store.IndexNeedsShift(node)
	return modifyResult{newIndex: newIdx, overwrote: childResult.overwrote, removed: childResult.removed, needsJoin: needsJoin}, nil
}

// --- normalized child-slot helpers: slot 0 is Begin, slot i+1 is Entries[i] ---

func childPointer(n *IndexNode, slot int) blockstore.Index {
	if slot == 0 {
		return n.Begin
	}
	return n.Entries[slot-1].Child
}

func setChildPointer(n *IndexNode, slot int, idx blockstore.Index) {
	if slot == 0 {
		n.Begin = idx
		return
	}
	n.Entries[slot-1].Child = idx
}

func insertEntry(n *IndexNode, slot int, e IndexEntry) {
	n.Entries = append(n.Entries, IndexEntry{})
	copy(n.Entries[slot+1:], n.Entries[slot:])
	n.Entries[slot] = e
}

// resolveJoin implements §4.4 step 3's sibling selection and
// merge/shift policy for the child at the given normalized slot.
func (t *Tree) resolveJoin(node *IndexNode, slot int) error {
	lastSlot := len(node.Entries)
	var left int
	if slot == lastSlot {
		left = slot - 1
	} else {
		left = slot
	}
	right := left + 1
	if left < 0 || right > lastSlot {
		return nil // no sibling to join with (single-child node)
	}

	leftIdx := childPointer(node, left)
	rightIdx := childPointer(node, right)
	sepKey := node.Entries[left].Key

	if node.Level == 0 {
		return t.resolveLeafJoin(node, left, right, leftIdx, rightIdx)
	}
	return t.resolveIndexJoin(node, left, right, leftIdx, rightIdx, sepKey)
}

func (t *Tree) resolveLeafJoin(node *IndexNode, left, right int, leftIdx, rightIdx blockstore.Index) error {
	leftLeaf, err := t.store.LoadLeaf(leftIdx)
	if err != nil {
		return err
	}
	rightLeaf, err := t.store.LoadLeaf(rightIdx)
	if err != nil {
		return err
	}

	merged := &LeafNode{Records: append(append([]LeafRecord(nil), leftLeaf.Records...), rightLeaf.Records...)}
	if !t.store.LeafNeedsSplit(merged) {
		newIdx, err := t.store.StoreLeaf(merged)
		if err != nil {
			return err
		}
		if err := t.store.DeleteLeaf(leftIdx); err != nil {
			return err
		}
		if err := t.store.DeleteLeaf(rightIdx); err != nil {
			return err
		}
		setChildPointer(node, left, newIdx)
		removeEntry(node, left)
		return nil
	}

	leftShort := t.store.LeafNeedsShift(leftLeaf)
	rightShort := t.store.LeafNeedsShift(rightLeaf)
	switch {
	case leftShort && !rightShort:
		moved := rightLeaf.Records[0]
		rightLeaf.Records = rightLeaf.Records[1:]
		leftLeaf.Records = append(leftLeaf.Records, moved)
	case rightShort && !leftShort:
		moved := leftLeaf.Records[len(leftLeaf.Records)-1]
		leftLeaf.Records = leftLeaf.Records[:len(leftLeaf.Records)-1]
		rightLeaf.Records = append([]LeafRecord{moved}, rightLeaf.Records...)
	default:
		return nil
	}

	newLeftIdx, err := t.store.StoreLeaf(leftLeaf)
	if err != nil {
		return err
	}
	newRightIdx, err := t.store.StoreLeaf(rightLeaf)
	if err != nil {
		return err
	}
	if err := t.store.DeleteLeaf(leftIdx); err != nil {
		return err
	}
	if err := t.store.DeleteLeaf(rightIdx); err != nil {
		return err
	}
	setChildPointer(node, left, newLeftIdx)
	setChildPointer(node, right, newRightIdx)
	node.Entries[left].Key = rightLeaf.Records[0].Key
	return nil
}

func (t *Tree) resolveIndexJoin(node *IndexNode, left, right int, leftIdx, rightIdx blockstore.Index, sepKey []byte) error {
	leftNode, err := t.store.LoadIndex(leftIdx)
	if err != nil {
		return err
	}
	rightNode, err := t.store.LoadIndex(rightIdx)
	if err != nil {
		return err
	}

	if leftNode.PointerCount()+rightNode.PointerCount() <= t.store.MaxIndexPointers() {
		merged := &IndexNode{Level: leftNode.Level, Begin: leftNode.Begin}
		merged.Entries = append(append([]IndexEntry(nil), leftNode.Entries...), IndexEntry{Key: sepKey, Child: rightNode.Begin})
		merged.Entries = append(merged.Entries, rightNode.Entries...)
		newIdx, err := t.store.StoreIndex(merged)
		if err != nil {
			return err
		}
		if err := t.store.DeleteIndex(leftIdx); err != nil {
			return err
		}
		if err := t.store.DeleteIndex(rightIdx); err != nil {
			return err
		}
		setChildPointer(node, left, newIdx)
		removeEntry(node, left)
		return nil
	}

	leftShort := t.store.IndexNeedsShift(leftNode)
	rightShort := t.store.IndexNeedsShift(rightNode)
	var newSep []byte
	switch {
	case leftShort && !rightShort:
		moved := IndexEntry{Key: sepKey, Child: rightNode.Begin}
		leftNode.Entries = append(leftNode.Entries, moved)
		rightNode.Begin = rightNode.Entries[0].Child
		newSep = rightNode.Entries[0].Key
		rightNode.Entries = rightNode.Entries[1:]
	case rightShort && !leftShort:
		last := leftNode.Entries[len(leftNode.Entries)-1]
		leftNode.Entries = leftNode.Entries[:len(leftNode.Entries)-1]
		rightNode.Entries = append([]IndexEntry{{Key: sepKey, Child: rightNode.Begin}}, rightNode.Entries...)
		rightNode.Begin = last.Child
		newSep = last.Key
	default:
		return nil
	}

	newLeftIdx, err := t.store.StoreIndex(leftNode)
	if err != nil {
		return err
	}
	newRightIdx, err := t.store.StoreIndex(rightNode)
	if err != nil {
		return err
	}
	if err := t.store.DeleteIndex(leftIdx); err != nil {
		return err
	}
	if err := t.store.DeleteIndex(rightIdx); err != nil {
		return err
	}
	setChildPointer(node, left, newLeftIdx)
	setChildPointer(node, right, newRightIdx)
	node.Entries[left].Key = newSep
	return nil
}

func removeEntry(n *IndexNode, at int) {
	n.Entries = append(n.Entries[:at], n.Entries[at+1:]...)
}
