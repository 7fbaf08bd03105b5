package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dbconfig"
	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

func newTestDevice(t *testing.T) (*Device, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := dbconfig.New(dbconfig.WithBlockSize(256))
	dev, err := Create(path, "testcontent", 16, 256, cfg)
	require.NoError(t, err)
	return dev, path
}

func TestCreateWritesValidHeader(t *testing.T) {
	dev, _ := newTestDevice(t)
	defer dev.Close()

	assert.Equal(t, uint32(256), dev.BlockSize())
	assert.Equal(t, uint32(16), dev.KeySize())
	assert.Equal(t, "testcontent", dev.ContentID())

	root := dev.Root()
	assert.True(t, root.RootIsLeaf)
	assert.NotEqual(t, NullIndex, root.RootPointer)
}

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t)
	defer dev.Close()

	idx, err := dev.AllocateBlock()
	require.NoError(t, err)

	payload := []byte("hello block store")
	require.NoError(t, dev.WriteBlock(idx, payload))

	got, err := dev.ReadBlock(idx, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, dev.Commit())

	got, err = dev.ReadBlock(idx, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReopenAfterCommitPreservesState(t *testing.T) {
	dev, path := newTestDevice(t)

	idx, err := dev.AllocateBlock()
	require.NoError(t, err)
	payload := []byte("persisted across reopen")
	require.NoError(t, dev.WriteBlock(idx, payload))
	require.NoError(t, dev.Commit())
	require.NoError(t, dev.Close())

	cfg := dbconfig.New()
	reopened, err := Open(path, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint32(256), reopened.BlockSize())
	got, err := reopened.ReadBlock(idx, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRollbackDiscardsUncommittedWrites(t *testing.T) {
	dev, _ := newTestDevice(t)
	defer dev.Close()

	idx, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(idx, []byte("committed")))
	require.NoError(t, dev.Commit())

	idx2, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(idx2, []byte("uncommitted")))

	require.NoError(t, dev.Rollback())

	// idx2 was allocated after the last commit, so rollback reverts the
	// device size and the block is no longer addressable.
	_, err = dev.ReadBlock(idx2, 0, 4)
	assert.Error(t, err)

	got, err := dev.ReadBlock(idx, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got)
}

func TestFreeBlockIsReusedBeforeGrowth(t *testing.T) {
	dev, _ := newTestDevice(t)
	defer dev.Close()

	a, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(a, []byte("a")))
	require.NoError(t, dev.Commit())

	before := dev.BlockCount()
	dev.FreeBlock(a)
	require.NoError(t, dev.Commit())

	b, err := dev.AllocateBlock()
	require.NoError(t, err)
	assert.Equal(t, a, b, "freed block should be reused instead of growing the device")
	assert.Equal(t, before, dev.BlockCount())
}

func TestWriteOnReadOnlyDeviceFails(t *testing.T) {
	_, path := newTestDevice(t)

	cfg := dbconfig.New(dbconfig.ReadOnly())
	dev, err := Open(path, cfg)
	require.NoError(t, err)
	defer dev.Close()

	err = dev.WriteBlock(0, []byte("x"))
	require.Error(t, err)
	assert.True(t, dberr.Is(err, dberr.KindInvalidState))
}

func TestFreeBlockCountAfterChainCommit(t *testing.T) {
	dev, _ := newTestDevice(t)
	defer dev.Close()

	var allocated []Index
	for i := 0; i < 5; i++ {
		idx, err := dev.AllocateBlock()
		require.NoError(t, err)
		require.NoError(t, dev.WriteBlock(idx, []byte("x")))
		allocated = append(allocated, idx)
	}
	require.NoError(t, dev.Commit())

	for _, idx := range allocated {
		dev.FreeBlock(idx)
	}
	require.NoError(t, dev.Commit())

	free, err := dev.FreeBlockCount()
	require.NoError(t, err)
	assert.Equal(t, 5, free)
}
