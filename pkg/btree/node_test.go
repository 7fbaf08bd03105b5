package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
)

func k(b byte) []byte { return []byte{b} }

func TestIndexNodeChildAt(t *testing.T) {
	n := &IndexNode{
		Begin: 10,
		Entries: []IndexEntry{
			{Key: k(5), Child: 20},
			{Key: k(10), Child: 30},
		},
	}
	assert.Equal(t, blockstore.Index(10), n.childAt(k(0)))
	assert.Equal(t, blockstore.Index(10), n.childAt(k(4)))
	assert.Equal(t, blockstore.Index(20), n.childAt(k(5)))
	assert.Equal(t, blockstore.Index(20), n.childAt(k(9)))
	assert.Equal(t, blockstore.Index(30), n.childAt(k(10)))
	assert.Equal(t, blockstore.Index(30), n.childAt(k(255)))
}

func TestIndexNodeChildIndexAt(t *testing.T) {
	n := &IndexNode{
		Begin: 10,
		Entries: []IndexEntry{
			{Key: k(5), Child: 20},
			{Key: k(10), Child: 30},
		},
	}
	assert.Equal(t, -1, n.childIndexAt(k(0)))
	assert.Equal(t, 0, n.childIndexAt(k(5)))
	assert.Equal(t, 1, n.childIndexAt(k(10)))
	assert.Equal(t, 1, n.childIndexAt(k(255)))
}

func TestIndexNodePointerCount(t *testing.T) {
	n := &IndexNode{Begin: blockstore.NullIndex, Entries: []IndexEntry{{Key: k(1), Child: 1}}}
	assert.Equal(t, 1, n.PointerCount())

	n.Begin = 0
	assert.Equal(t, 2, n.PointerCount())
}

func TestLeafNodeFind(t *testing.T) {
	n := &LeafNode{Records: []LeafRecord{
		{Key: k(1), Value: []byte("a")},
		{Key: k(3), Value: []byte("b")},
		{Key: k(5), Value: []byte("c")},
	}}

	pos, ok := n.find(k(3))
	assert.True(t, ok)
	assert.Equal(t, 1, pos)

	pos, ok = n.find(k(2))
	assert.False(t, ok)
	assert.Equal(t, 1, pos)

	pos, ok = n.find(k(0))
	assert.False(t, ok)
	assert.Equal(t, 0, pos)

	pos, ok = n.find(k(9))
	assert.False(t, ok)
	assert.Equal(t, 3, pos)
}

func TestBytesLessAndEqual(t *testing.T) {
	assert.True(t, bytesLess([]byte{1}, []byte{2}))
	assert.False(t, bytesLess([]byte{2}, []byte{1}))
	assert.True(t, bytesLess([]byte{1}, []byte{1, 0}))
	assert.False(t, bytesLess([]byte{1, 0}, []byte{1}))
	assert.True(t, bytesEqual([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, bytesEqual([]byte{1, 2}, []byte{1, 3}))
	assert.False(t, bytesEqual([]byte{1}, []byte{1, 2}))
}
