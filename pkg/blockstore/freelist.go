package blockstore

import (
	"encoding/binary"
	"sort"
)

// FreeList tracks free block indices as a linked chain of on-disk
// "FF"-magic index blocks, plus the two in-memory sets described in
// spec §4.2: available_blocks (ordered, because flatten relies on the
// smallest free index) and uncommitted (the blocks reserved in the
// current transaction).
//
// All FreeList methods assume the owning Device's mu is already held by
// the caller at the appropriate level (write lock for every method here
// except Count, which only needs a read lock) — there is no separate
// free-list lock, matching the single coarse readers-writer discipline
// of §5 rather than introducing a finer-grained one the spec never
// describes.
//
// Grounded on StarBTreeDatabase.cpp's reserveBlock/freeBlock/doCommit
// and the free-index block layout from StarBlockAllocator.hpp.
type FreeList struct {
	dev *Device

	available   []Index // ascending
	uncommitted map[Index]bool
}

func newFreeList(dev *Device) *FreeList {
	return &FreeList{dev: dev, uncommitted: make(map[Index]bool)}
}

func (f *FreeList) insertAvailable(idx Index) {
	i := sort.Search(len(f.available), func(i int) bool { return f.available[i] >= idx })
	f.available = append(f.available, 0)
	copy(f.available[i+1:], f.available[i:])
	f.available[i] = idx
}

func (f *FreeList) popSmallestAvailable() Index {
	idx := f.available[0]
	f.available = f.available[1:]
	return idx
}

// freeEntryCapacity is how many 4-byte free-block entries fit in one
// FF block alongside its magic, next pointer, and count.
func freeEntryCapacity(blockSize uint32) int {
	return int(blockSize-2-4-4) / 4
}

// Reserve hands out a fresh block index: from the available pool, then
// the on-disk free chain, then by extending the device. Caller must
// hold dev.mu for writing.
func (f *FreeList) Reserve() (Index, error) {
	if len(f.available) == 0 {
		head := f.dev.working.FreeIndexHead
		if head != NullIndex {
			if err := f.pullChainBlock(head); err != nil {
				return 0, err
			}
		}
	}

	var idx Index
	if len(f.available) > 0 {
		idx = f.popSmallestAvailable()
	} else {
		idx = f.dev.growByOne()
	}
	f.uncommitted[idx] = true
	return idx, nil
}

// pullChainBlock reads the head free-index block, returns its freed
// entries plus the block itself to the available pool, and advances the
// working free-index head to the chain's next pointer.
func (f *FreeList) pullChainBlock(head Index) error {
	buf, err := f.dev.readBlockLocked(head, 0, f.dev.blockSize)
	if err != nil {
		return err
	}
	next := Index(binary.BigEndian.Uint32(buf[2:6]))
	count := binary.BigEndian.Uint32(buf[6:10])
	for i := uint32(0); i < count; i++ {
		entry := Index(binary.BigEndian.Uint32(buf[10+i*4 : 14+i*4]))
		f.insertAvailable(entry)
	}
	f.insertAvailable(head)
	f.dev.working.FreeIndexHead = next
	return nil
}

// Free releases idx back to the available pool, where the next Reserve
// can hand it out again. Blocks reserved in this transaction and blocks
// committed earlier are treated alike: whatever is still in the pool at
// Commit is written into the on-disk free-index chain. Caller must hold
// dev.mu for writing.
func (f *FreeList) Free(idx Index) {
	delete(f.uncommitted, idx)
	f.insertAvailable(idx)
}

// commitLocked flushes the available pool into the on-disk free-index
// chain. Called by Device.Commit while holding dev.mu.
func (f *FreeList) commitLocked() error {
	if len(f.available) == 0 {
		f.uncommitted = make(map[Index]bool)
		return nil
	}

	capacity := freeEntryCapacity(f.dev.blockSize)
	head := f.dev.working.FreeIndexHead
	entries := f.available
	f.available = nil

	for len(entries) > 0 {
		host := entries[0]
		entries = entries[1:]

		n := capacity
		if n > len(entries) {
			n = len(entries)
		}
		payload := entries[:n]
		entries = entries[n:]

		buf := make([]byte, f.dev.blockSize)
		copy(buf[0:2], "FF")
		binary.BigEndian.PutUint32(buf[2:6], uint32(head))
		binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
		for i, e := range payload {
			binary.BigEndian.PutUint32(buf[10+i*4:14+i*4], uint32(e))
		}
		f.dev.dirty[host] = buf
		head = host
	}

	f.dev.working.FreeIndexHead = head
	f.uncommitted = make(map[Index]bool)
	return nil
}

// rollbackLocked discards all in-memory free-space bookkeeping. Called
// by Device.Rollback while holding dev.mu.
func (f *FreeList) rollbackLocked() {
	f.available = nil
	f.uncommitted = make(map[Index]bool)
}

// harvestAllLocked walks the entire on-disk free chain into the
// available pool and clears the chain head, used by Flatten's first
// step. Caller must hold dev.mu for writing.
func (f *FreeList) harvestAllLocked() error {
	for f.dev.working.FreeIndexHead != NullIndex {
		if err := f.pullChainBlock(f.dev.working.FreeIndexHead); err != nil {
			return err
		}
	}
	return nil
}

// smallest returns the smallest available block index, if any.
func (f *FreeList) smallest() (Index, bool) {
	if len(f.available) == 0 {
		return 0, false
	}
	return f.available[0], true
}

// Count returns the total number of free blocks: the in-memory
// available pool plus every entry reachable from the on-disk chain
// head. Caller must hold dev.mu for reading at least.
func (f *FreeList) Count() (int, error) {
	total := len(f.available)
	next := f.dev.working.FreeIndexHead
	seen := make(map[Index]bool)
	for next != NullIndex {
		if seen[next] {
			break
		}
		seen[next] = true
		buf, err := f.dev.readBlockLocked(next, 0, f.dev.blockSize)
		if err != nil {
			return 0, err
		}
		count := binary.BigEndian.Uint32(buf[6:10])
		total += int(count) + 1 // +1 for the chain block itself
		next = Index(binary.BigEndian.Uint32(buf[2:6]))
	}
	return total, nil
}
