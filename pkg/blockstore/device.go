// Package blockstore implements fixed-size block I/O over a random-access
// file: header parsing, double-buffered root descriptors with an atomic
// selector flip, uncommitted-write buffering, and the on-disk free-space
// chain. It is the foundation the btree package builds node storage on.
//
// Grounded on StarBTreeDatabase.cpp's readBlock/rawWriteBlock/commitWrites/
// writeRoot/readRoot/reserveBlock/freeBlock/doCommit; the struct-wrapping-
// *os.File idiom follows perkeep's pkg/blobserver/diskpacked.
package blockstore

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dbconfig"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

// Index identifies a fixed-size block within a Device. NullIndex marks
// "no block".
type Index uint32

// NullIndex is the reserved value meaning "no block".
const NullIndex Index = 0xFFFFFFFF

const (
	formatMagic   = "BTreeDB5"
	magicLen      = 8
	contentIDLen  = 12
	rootDescLen   = 21
	rawHeaderLen  = magicLen + 4 + contentIDLen + 4 + 1 + 2*rootDescLen // 71
)

// RootDescriptor is the quadruple that defines a tree's top-of-state:
// the free-index chain head, the device size in bytes, the root block
// pointer, and whether that root is a leaf.
type RootDescriptor struct {
	FreeIndexHead Index
	DeviceSize    uint64
	RootPointer   Index
	RootIsLeaf    bool
}

func (r RootDescriptor) encode() []byte {
	buf := make([]byte, rootDescLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.FreeIndexHead))
	binary.BigEndian.PutUint64(buf[4:12], r.DeviceSize)
	binary.BigEndian.PutUint32(buf[12:16], uint32(r.RootPointer))
	if r.RootIsLeaf {
		buf[16] = 1
	}
	return buf
}

func decodeRootDescriptor(buf []byte) RootDescriptor {
	return RootDescriptor{
		FreeIndexHead: Index(binary.BigEndian.Uint32(buf[0:4])),
		DeviceSize:    binary.BigEndian.Uint64(buf[4:12]),
		RootPointer:   Index(binary.BigEndian.Uint32(buf[12:16])),
		RootIsLeaf:    buf[16] != 0,
	}
}

// headerSize rounds rawHeaderLen up to the next multiple of blockSize, per
// the green-field open-question decision recorded in DESIGN.md.
func headerSize(blockSize uint32) int64 {
	bs := int64(blockSize)
	n := (int64(rawHeaderLen) + bs - 1) / bs
	return n * bs
}

// Device owns a single backing file: positional block reads/writes, the
// uncommitted-write buffer, and the double-buffered root header.
type Device struct {
	mu sync.RWMutex

	file     *os.File
	readOnly bool

	blockSize  uint32
	keySize    uint32
	contentID  string
	headerSize int64

	selector     byte
	committed    RootDescriptor
	working      RootDescriptor
	blockCount   Index
	dirty        map[Index][]byte
	free         *FreeList
	cfg          dbconfig.Config
}

// Create initializes a new, empty database file: header, an empty leaf
// root, and an initial commit. It fails if path already exists with
// non-zero size.
func Create(path, contentID string, keySize, blockSize uint32, cfg dbconfig.Config) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.IO(err, "create device file")
	}
	if st, err := f.Stat(); err != nil || st.Size() != 0 {
		f.Close()
		if err == nil {
			err = os.ErrExist
		}
		return nil, dberr.IO(err, "create device file")
	}
	cfg.Normalize()
	d := &Device{
		file:       f,
		blockSize:  blockSize,
		keySize:    keySize,
		contentID:  padContentID(contentID),
		headerSize: headerSize(blockSize),
		dirty:      make(map[Index][]byte),
		cfg:        cfg,
	}
	d.free = newFreeList(d)

	root := RootDescriptor{
		FreeIndexHead: NullIndex,
		DeviceSize:    uint64(d.headerSize),
		RootPointer:   NullIndex,
		RootIsLeaf:    true,
	}
	d.committed = root
	d.working = root

	emptyLeaf := make([]byte, blockSize)
	copy(emptyLeaf, "LL")
	binary.BigEndian.PutUint32(emptyLeaf[2:6], 0)
	binary.BigEndian.PutUint32(emptyLeaf[blockSize-4:], uint32(NullIndex))

	rootIdx, err := d.AllocateBlock()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := d.WriteBlock(rootIdx, emptyLeaf); err != nil {
		f.Close()
		return nil, err
	}
	d.working.RootPointer = rootIdx
	d.working.RootIsLeaf = true

	if err := d.writeHeaderLayout(); err != nil {
		f.Close()
		return nil, err
	}
	if err := d.Commit(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Open opens an existing database file, validating the format magic and
// re-resizing the file to the recorded device size (discarding any torn
// tail left by an interrupted write). A read-only device leaves the file
// at its current size.
func Open(path string, cfg dbconfig.Config) (*Device, error) {
	cfg.Normalize()
	flag := os.O_RDWR
	if cfg.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, dberr.IO(err, "open device file")
	}
	d := &Device{
		file:     f,
		readOnly: cfg.ReadOnly,
		dirty:    make(map[Index][]byte),
		cfg:      cfg,
	}
	if err := d.readHeaderLayout(); err != nil {
		f.Close()
		return nil, err
	}
	d.free = newFreeList(d)
	d.working = d.committed
	d.blockCount = Index((d.committed.DeviceSize - uint64(d.headerSize)) / uint64(d.blockSize))

	if !cfg.ReadOnly {
		if err := f.Truncate(int64(d.committed.DeviceSize)); err != nil {
			f.Close()
			return nil, dberr.IO(err, "truncate to recorded device size")
		}
	}
	return d, nil
}

func padContentID(id string) string {
	if len(id) > contentIDLen {
		return id[:contentIDLen]
	}
	return id
}

func (d *Device) writeHeaderLayout() error {
	buf := make([]byte, d.headerSize)
	copy(buf[0:magicLen], formatMagic)
	binary.BigEndian.PutUint32(buf[8:12], d.blockSize)
	copy(buf[12:24], d.contentID)
	binary.BigEndian.PutUint32(buf[24:28], d.keySize)
	buf[28] = d.selector
	copy(buf[29:29+rootDescLen], d.committed.encode())
	copy(buf[50:50+rootDescLen], d.committed.encode())
	if _, err := d.file.WriteAt(buf, 0); err != nil {
		return dberr.IO(err, "write header")
	}
	return nil
}

func (d *Device) readHeaderLayout() error {
	head := make([]byte, 29)
	if _, err := io.ReadFull(d.file, head); err != nil {
		return dberr.IO(err, "read header prefix")
	}
	if string(head[0:magicLen]) != formatMagic {
		return dberr.Format("bad format magic %q", head[0:magicLen])
	}
	d.blockSize = binary.BigEndian.Uint32(head[8:12])
	d.contentID = string(head[12:24])
	d.keySize = binary.BigEndian.Uint32(head[24:28])
	d.selector = head[28]
	d.headerSize = headerSize(d.blockSize)

	roots := make([]byte, 2*rootDescLen)
	if _, err := d.file.ReadAt(roots, 29); err != nil {
		return dberr.IO(err, "read root descriptors")
	}
	a := decodeRootDescriptor(roots[0:rootDescLen])
	b := decodeRootDescriptor(roots[rootDescLen : 2*rootDescLen])
	if d.selector == 0 {
		d.committed = a
	} else {
		d.committed = b
	}
	return nil
}

// BlockSize returns the device's fixed block size.
func (d *Device) BlockSize() uint32 { return d.blockSize }

// KeySize returns the fixed key length recorded in the header.
func (d *Device) KeySize() uint32 { return d.keySize }

// ContentID returns the content identifier recorded in the header.
func (d *Device) ContentID() string { return d.contentID }

// Root returns the current working root descriptor.
func (d *Device) Root() RootDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.working
}

// SetRoot updates the working root pointer and leaf flag. Called by the
// btree package after a modify cascades a new root into place.
func (d *Device) SetRoot(ptr Index, isLeaf bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.working.RootPointer = ptr
	d.working.RootIsLeaf = isLeaf
}

func (d *Device) blockOffset(idx Index) int64 {
	return d.headerSize + int64(idx)*int64(d.blockSize)
}

// ReadBlock reads length bytes at offset within block idx, preferring the
// uncommitted-write buffer if the block is dirty.
func (d *Device) ReadBlock(idx Index, offset, length uint32) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readBlockLocked(idx, offset, length)
}

func (d *Device) readBlockLocked(idx Index, offset, length uint32) ([]byte, error) {
	if offset+length > d.blockSize {
		return nil, dberr.Corruption("read range [%d,%d) exceeds block size %d", offset, offset+length, d.blockSize)
	}
	if idx >= d.blockCount {
		return nil, dberr.Corruption("block %d beyond device size", idx)
	}
	if buf, ok := d.dirty[idx]; ok {
		out := make([]byte, length)
		copy(out, buf[offset:offset+length])
		return out, nil
	}
	out := make([]byte, length)
	if _, err := d.file.ReadAt(out, d.blockOffset(idx)+int64(offset)); err != nil {
		return nil, dberr.IO(err, "read block")
	}
	return out, nil
}

// ReadFullBlock reads an entire block (the common case for node decode).
func (d *Device) ReadFullBlock(idx Index) ([]byte, error) {
	return d.ReadBlock(idx, 0, d.blockSize)
}

// WriteBlock writes data at offset within block idx into the
// uncommitted-write buffer, preloading the existing block contents into
// the buffer on first touch this transaction.
func (d *Device) WriteBlock(idx Index, data []byte) error {
	return d.WriteBlockAt(idx, 0, data)
}

// WriteBlockAt writes data at the given in-block offset.
func (d *Device) WriteBlockAt(idx Index, offset uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return dberr.InvalidState("device opened read-only")
	}
	if offset+uint32(len(data)) > d.blockSize {
		return dberr.Corruption("write range [%d,%d) exceeds block size %d", offset, offset+uint32(len(data)), d.blockSize)
	}
	buf, ok := d.dirty[idx]
	if !ok {
		buf = make([]byte, d.blockSize)
		if idx < d.blockCount {
			if _, err := d.file.ReadAt(buf, d.blockOffset(idx)); err != nil && err != io.EOF {
				return dberr.IO(err, "preload block for write")
			}
		}
		d.dirty[idx] = buf
	}
	copy(buf[offset:], data)
	return nil
}

// growByOne extends the block-index space by one block and returns the
// new index, used for tail-growth allocation. It does not touch the
// file directly; WriteBlockAt will zero-fill on first touch.
func (d *Device) growByOne() Index {
	idx := d.blockCount
	d.blockCount++
	return idx
}

// AllocateBlock reserves a fresh block index, either from the in-memory
// available pool, the on-disk free chain, or by tail-growth.
func (d *Device) AllocateBlock() (Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.free.Reserve()
}

// FreeBlock releases a block index back to the free pool.
func (d *Device) FreeBlock(idx Index) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free.Free(idx)
	delete(d.dirty, idx)
}

// FreeBlockCount returns the total number of free blocks (§D FreeBlockCount).
func (d *Device) FreeBlockCount() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.free.Count()
}

// Sync flushes the OS file buffers.
func (d *Device) Sync() error {
	if err := d.file.Sync(); err != nil {
		return dberr.IO(err, "sync")
	}
	return nil
}

// Commit writes every dirty block to the file, syncs, writes the
// alternate root descriptor, syncs, flips the selector, and syncs once
// more — the sole crash-safety mechanism (§3, §5).
func (d *Device) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return dberr.InvalidState("device opened read-only")
	}

	if err := d.free.commitLocked(); err != nil {
		return err
	}
	d.working.DeviceSize = uint64(d.headerSize) + uint64(d.blockCount)*uint64(d.blockSize)

	for idx, buf := range d.dirty {
		if _, err := d.file.WriteAt(buf, d.blockOffset(idx)); err != nil {
			return dberr.IO(err, "write dirty block")
		}
	}
	d.dirty = make(map[Index][]byte)

	if err := d.file.Truncate(int64(d.working.DeviceSize)); err != nil {
		return dberr.IO(err, "truncate to device size")
	}
	if err := d.file.Sync(); err != nil {
		return dberr.IO(err, "sync after block writes")
	}

	altSelector := 1 - d.selector
	altOffset := int64(29)
	if altSelector == 1 {
		altOffset = 29 + rootDescLen
	}
	if _, err := d.file.WriteAt(d.working.encode(), altOffset); err != nil {
		return dberr.IO(err, "write alternate root descriptor")
	}
	if err := d.file.Sync(); err != nil {
		return dberr.IO(err, "sync after root write")
	}

	if _, err := d.file.WriteAt([]byte{altSelector}, 28); err != nil {
		return dberr.IO(err, "flip selector")
	}
	if err := d.file.Sync(); err != nil {
		return dberr.IO(err, "sync after selector flip")
	}

	d.selector = altSelector
	d.committed = d.working
	return nil
}

// Rollback discards the uncommitted-write buffer and all in-memory
// available-block bookkeeping, re-reads the root header, and truncates
// the file back to the last committed device size.
func (d *Device) Rollback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = make(map[Index][]byte)
	d.free.rollbackLocked()
	d.working = d.committed
	d.blockCount = Index((d.committed.DeviceSize - uint64(d.headerSize)) / uint64(d.blockSize))
	if err := d.file.Truncate(int64(d.committed.DeviceSize)); err != nil {
		return dberr.IO(err, "truncate on rollback")
	}
	return nil
}

// Close releases the backing file handle. It does not commit: anything
// still in the uncommitted-write buffer is discarded.
func (d *Device) Close() error {
	if err := d.file.Close(); err != nil {
		return dberr.IO(err, "close device file")
	}
	return nil
}

// BlockCount returns the number of blocks currently spanned by the
// device, including free ones.
func (d *Device) BlockCount() Index {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blockCount
}

// HarvestFreeChain pulls every on-disk free-index chain block into the
// in-memory available pool, leaving the chain empty. Step 1 of Flatten.
func (d *Device) HarvestFreeChain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.free.harvestAllLocked()
}

// SmallestAvailable returns the smallest in-memory available block
// index, if any, used by Flatten to decide whether a node needs
// re-storing at a lower index.
func (d *Device) SmallestAvailable() (Index, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.free.smallest()
}

// ShrinkToUsed recomputes the device size as header + blockSize × used
// blocks (blockCount minus whatever remains in the available pool) and
// clears the now-stale available pool. Step 3 of Flatten; it does not
// touch the file itself; the following Commit truncates the file to the
// new size and makes it durable.
func (d *Device) ShrinkToUsed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	used := int(d.blockCount) - len(d.free.available)
	if used < 0 {
		used = 0
	}
	d.blockCount = Index(used)
	d.free.available = nil
	d.working.DeviceSize = uint64(d.headerSize) + uint64(used)*uint64(d.blockSize)
}

// Logger returns the configured diagnostic callback.
func (d *Device) Logger() dbconfig.Logger { return d.cfg.Logger }

// Config returns a copy of the device's active configuration.
func (d *Device) Config() dbconfig.Config { return d.cfg }
