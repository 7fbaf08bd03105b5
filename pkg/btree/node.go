// Package btree implements the ordered key-value map described in §4.3
// (NodeCodec) and §4.4 (BPlusTree) of the design: fixed-width keys,
// variable-width values chained across blocks, copy-on-write node
// storage, and a Database facade providing the public operations.
//
// Grounded on StarBTree.hpp (BTreeMixin's modify/traversal recursion)
// and StarBTreeDatabase.cpp (the concrete node encodings and the
// BTreeImpl that plays the role of this package's NodeStore).
package btree

import "github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"

// IndexEntry pairs a separator key with the child covering keys greater
// than or equal to it (and less than the next separator, or unbounded
// if it is the last entry).
type IndexEntry struct {
	Key   []byte
	Child blockstore.Index
}

// IndexNode is an interior node: a level, an unconditional begin
// pointer covering keys below the first separator, and an ascending
// sequence of separator/child pairs.
type IndexNode struct {
	Level   byte
	Begin   blockstore.Index
	Entries []IndexEntry
}

// PointerCount returns (begin set ? 1 : 0) + len(Entries), matching §3's
// definition.
func (n *IndexNode) PointerCount() int {
	c := len(n.Entries)
	if n.Begin != blockstore.NullIndex {
		c++
	}
	return c
}

// childAt returns the child pointer covering key, using an upper-bound
// search over the separator list (§4.4 find/modify descent).
func (n *IndexNode) childAt(key []byte) blockstore.Index {
	lo, hi := 0, len(n.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytesLess(key, n.Entries[mid].Key) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return n.Begin
	}
	return n.Entries[lo-1].Child
}

// childIndexAt returns the position in Entries (or -1 for Begin) of the
// child covering key, mirroring childAt but returning a mutable slot.
func (n *IndexNode) childIndexAt(key []byte) int {
	lo, hi := 0, len(n.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytesLess(key, n.Entries[mid].Key) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}

// LeafRecord is one stored (key, value) pair.
type LeafRecord struct {
	Key   []byte
	Value []byte
}

// LeafNode is an ordered sequence of records spanning one head block
// plus zero or more continuation blocks.
type LeafNode struct {
	Records []LeafRecord
}

// find returns the index of key in Records via lower-bound binary
// search, and whether it was an exact match.
func (n *LeafNode) find(key []byte) (int, bool) {
	lo, hi := 0, len(n.Records)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytesLess(n.Records[mid].Key, key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.Records) && bytesEqual(n.Records[lo].Key, key) {
		return lo, true
	}
	return lo, false
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
