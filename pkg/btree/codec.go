package btree

import (
	"encoding/binary"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/blockstore"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/lru"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/vlq"
)

// NodeStore is the language-neutral re-architecture of the reference
// implementation's compile-time mixin (design note 1): a plain
// interface the Tree is built over, rather than a template parameter.
type NodeStore interface {
	LoadIndex(idx blockstore.Index) (*IndexNode, error)
	LoadLeaf(idx blockstore.Index) (*LeafNode, error)
	StoreIndex(n *IndexNode) (blockstore.Index, error)
	StoreLeaf(n *LeafNode) (blockstore.Index, error)
	RewriteIndex(idx blockstore.Index, n *IndexNode) error
	DeleteIndex(idx blockstore.Index) error
	DeleteLeaf(idx blockstore.Index) error

	KeySize() int
	MaxIndexPointers() int
	IndexNeedsSplit(n *IndexNode) bool
	IndexNeedsShift(n *IndexNode) bool
	LeafNeedsSplit(n *LeafNode) bool
	LeafNeedsShift(n *LeafNode) bool
}

// codec is the concrete NodeStore: it serializes nodes to and from a
// *blockstore.Device and caches deserialized index nodes by block index
// (§4.3). Leaf nodes are never cached — they are large and each read
// is already a multi-block chain walk.
type codec struct {
	dev        *blockstore.Device
	keySize    int
	indexCache *lru.Cache[blockstore.Index, *IndexNode]
}

func newCodec(dev *blockstore.Device, indexCacheSize int) *codec {
	return &codec{
		dev:        dev,
		keySize:    int(dev.KeySize()),
		indexCache: lru.New[blockstore.Index, *IndexNode](indexCacheSize),
	}
}

func (c *codec) KeySize() int { return c.keySize }

// MaxIndexPointers is (blockSize - magic(2) - level(1) - begin(4) -
// count(4)) / (keySize+4) + 1, per §4.3.
func (c *codec) MaxIndexPointers() int {
	bs := int(c.dev.BlockSize())
	return (bs-2-1-4-4)/(c.keySize+4) + 1
}

func (c *codec) IndexNeedsSplit(n *IndexNode) bool {
	return n.PointerCount() > c.MaxIndexPointers()
}

func (c *codec) IndexNeedsShift(n *IndexNode) bool {
	return n.PointerCount() < (c.MaxIndexPointers()+1)/2
}

func (c *codec) leafHeadCapacity() int { return int(c.dev.BlockSize()) - 2 - 4 - 4 }
func (c *codec) leafContCapacity() int { return int(c.dev.BlockSize()) - 2 - 4 }

func (c *codec) leafEncodedSize(n *LeafNode) int {
	total := 0
	for _, r := range n.Records {
		total += c.keySize + vlq.SizeUint(uint64(len(r.Value))) + len(r.Value)
	}
	return total
}

// leafSplitThreshold is roughly twice a block's capacity: a leaf is
// allowed to grow across head-plus-continuation blocks up to this size
// before it must split into two sibling leaves. leafHeadCapacity only
// decides where StoreLeaf cuts the payload across blocks, not whether a
// split is warranted.
func (c *codec) leafSplitThreshold() int {
	return 2*int(c.dev.BlockSize()) - 2*4 - 4
}

func (c *codec) LeafNeedsSplit(n *LeafNode) bool {
	return len(n.Records) >= 2 && c.leafEncodedSize(n) >= c.leafSplitThreshold()
}

func (c *codec) LeafNeedsShift(n *LeafNode) bool {
	return c.leafEncodedSize(n) < int(c.dev.BlockSize())/2
}

// --- index nodes ---

func (c *codec) LoadIndex(idx blockstore.Index) (*IndexNode, error) {
	if n, ok := c.indexCache.Get(idx); ok {
		return n, nil
	}
	buf, err := c.dev.ReadFullBlock(idx)
	if err != nil {
		return nil, err
	}
	if string(buf[0:2]) != "II" {
		return nil, dberr.Corruption("index block %d: bad magic %q", idx, buf[0:2])
	}
	level := buf[2]
	begin := blockstore.Index(binary.BigEndian.Uint32(buf[3:7]))
	count := binary.BigEndian.Uint32(buf[7:11])
	n := &IndexNode{Level: level, Begin: begin, Entries: make([]IndexEntry, 0, count)}
	off := 11
	for i := uint32(0); i < count; i++ {
		key := append([]byte(nil), buf[off:off+c.keySize]...)
		off += c.keySize
		child := blockstore.Index(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		n.Entries = append(n.Entries, IndexEntry{Key: key, Child: child})
	}
	c.indexCache.Add(idx, n)
	return n, nil
}

func (c *codec) encodeIndex(n *IndexNode) []byte {
	bs := int(c.dev.BlockSize())
	buf := make([]byte, bs)
	copy(buf[0:2], "II")
	buf[2] = n.Level
	binary.BigEndian.PutUint32(buf[3:7], uint32(n.Begin))
	binary.BigEndian.PutUint32(buf[7:11], uint32(len(n.Entries)))
	off := 11
	for _, e := range n.Entries {
		copy(buf[off:off+c.keySize], e.Key)
		off += c.keySize
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(e.Child))
		off += 4
	}
	return buf
}

func (c *codec) StoreIndex(n *IndexNode) (blockstore.Index, error) {
	idx, err := c.dev.AllocateBlock()
	if err != nil {
		return 0, err
	}
	if err := c.dev.WriteBlock(idx, c.encodeIndex(n)); err != nil {
		return 0, err
	}
	c.indexCache.Add(idx, n)
	return idx, nil
}

// RewriteIndex overwrites n into its existing block idx without
// allocating a new one, for Flatten's in-place updates: a node whose
// child pointers changed but whose own index is already optimally
// placed must still persist the new pointers, without being relocated
// to a worse slot in the process.
func (c *codec) RewriteIndex(idx blockstore.Index, n *IndexNode) error {
	if err := c.dev.WriteBlock(idx, c.encodeIndex(n)); err != nil {
		return err
	}
	c.indexCache.Add(idx, n)
	return nil
}

func (c *codec) DeleteIndex(idx blockstore.Index) error {
	c.dev.FreeBlock(idx)
	c.indexCache.Remove(idx)
	return nil
}

// --- leaf nodes ---

func (c *codec) LoadLeaf(head blockstore.Index) (*LeafNode, error) {
	bs := int(c.dev.BlockSize())
	buf, err := c.dev.ReadFullBlock(head)
	if err != nil {
		return nil, err
	}
	if string(buf[0:2]) != "LL" {
		return nil, dberr.Corruption("leaf block %d: bad magic %q", head, buf[0:2])
	}
	count := binary.BigEndian.Uint32(buf[2:6])
	next := blockstore.Index(binary.BigEndian.Uint32(buf[bs-4:]))
	payload := append([]byte(nil), buf[6:bs-4]...)

	for next != blockstore.NullIndex {
		cbuf, err := c.dev.ReadFullBlock(next)
		if err != nil {
			return nil, err
		}
		if string(cbuf[0:2]) != "LL" {
			return nil, dberr.Corruption("leaf continuation %d: bad magic %q", next, cbuf[0:2])
		}
		payload = append(payload, cbuf[2:bs-4]...)
		next = blockstore.Index(binary.BigEndian.Uint32(cbuf[bs-4:]))
	}

	n := &LeafNode{Records: make([]LeafRecord, 0, count)}
	off := 0
	for i := uint32(0); i < count; i++ {
		if off+c.keySize > len(payload) {
			return nil, dberr.Corruption("leaf %d: truncated record stream", head)
		}
		key := append([]byte(nil), payload[off:off+c.keySize]...)
		off += c.keySize
		vlen, consumed, err := vlq.DecodeUint(payload[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		if off+int(vlen) > len(payload) {
			return nil, dberr.Corruption("leaf %d: value runs past chain", head)
		}
		value := append([]byte(nil), payload[off:off+int(vlen)]...)
		off += int(vlen)
		n.Records = append(n.Records, LeafRecord{Key: key, Value: value})
	}
	return n, nil
}

func (c *codec) encodeLeafPayload(n *LeafNode) []byte {
	out := make([]byte, 0, c.leafEncodedSize(n))
	for _, r := range n.Records {
		out = append(out, r.Key...)
		out = vlq.AppendUint(out, uint64(len(r.Value)))
		out = append(out, r.Value...)
	}
	return out
}

// StoreLeaf writes n as a fresh chain of blocks (head + continuations),
// per the copy-on-write rule that every re-store produces new block
// indices, and returns the head index.
func (c *codec) StoreLeaf(n *LeafNode) (blockstore.Index, error) {
	bs := int(c.dev.BlockSize())
	payload := c.encodeLeafPayload(n)

	headCap := c.leafHeadCapacity()
	contCap := c.leafContCapacity()

	type chunk struct {
		isHead bool
		data   []byte
	}
	var chunks []chunk
	if len(payload) <= headCap {
		chunks = append(chunks, chunk{true, payload})
	} else {
		chunks = append(chunks, chunk{true, payload[:headCap]})
		rest := payload[headCap:]
		for len(rest) > 0 {
			n := contCap
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, chunk{false, rest[:n]})
			rest = rest[n:]
		}
	}

	indices := make([]blockstore.Index, len(chunks))
	for i := range chunks {
		idx, err := c.dev.AllocateBlock()
		if err != nil {
			return 0, err
		}
		indices[i] = idx
	}

	for i, ch := range chunks {
		buf := make([]byte, bs)
		copy(buf[0:2], "LL")
		next := blockstore.NullIndex
		if i+1 < len(indices) {
			next = indices[i+1]
		}
		if ch.isHead {
			binary.BigEndian.PutUint32(buf[2:6], uint32(len(n.Records)))
			copy(buf[6:bs-4], ch.data)
		} else {
			copy(buf[2:bs-4], ch.data)
		}
		binary.BigEndian.PutUint32(buf[bs-4:], uint32(next))
		if err := c.dev.WriteBlock(indices[i], buf); err != nil {
			return 0, err
		}
	}
	return indices[0], nil
}

// DeleteLeaf frees every block in the chain starting at head.
func (c *codec) DeleteLeaf(head blockstore.Index) error {
	bs := int(c.dev.BlockSize())
	idx := head
	for idx != blockstore.NullIndex {
		buf, err := c.dev.ReadFullBlock(idx)
		if err != nil {
			return err
		}
		next := blockstore.Index(binary.BigEndian.Uint32(buf[bs-4:]))
		c.dev.FreeBlock(idx)
		idx = next
	}
	return nil
}
