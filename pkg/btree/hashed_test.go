package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dbconfig"
)

func TestHashedDatabaseArbitraryKeyLengths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashed.btdb")
	hdb, err := OpenHashed(path, "hashed", dbconfig.WithBlockSize(128))
	require.NoError(t, err)
	defer hdb.Close()
	hdb.Underlying().SetAutoCommit(true)

	keys := [][]byte{
		[]byte("short"),
		[]byte("a rather long asset path/like/this/one/goes/on/for/a/while.config"),
		[]byte(""),
	}
	for i, k := range keys {
		overwrote, err := hdb.Insert(k, []byte{byte(i)})
		require.NoError(t, err)
		assert.False(t, overwrote)
	}

	for i, k := range keys {
		v, found, err := hdb.Find(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte{byte(i)}, v)
	}

	removed, err := hdb.Remove(keys[0])
	require.NoError(t, err)
	assert.True(t, removed)
	ok, err := hdb.Contains(keys[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashedDatabaseDifferentKeysDoNotCollide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashed2.btdb")
	hdb, err := OpenHashed(path, "hashed2", dbconfig.WithBlockSize(128))
	require.NoError(t, err)
	defer hdb.Close()
	hdb.Underlying().SetAutoCommit(true)

	_, err = hdb.Insert([]byte("alpha"), []byte("A"))
	require.NoError(t, err)
	_, err = hdb.Insert([]byte("beta"), []byte("B"))
	require.NoError(t, err)

	v, found, err := hdb.Find([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A", string(v))

	v, found, err = hdb.Find([]byte("beta"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "B", string(v))
}
