package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourceFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestBuildOpenRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeSourceFile(t, src, "items/sword.itemdescriptor", `{"name":"sword"}`)
	writeSourceFile(t, src, "items/shield.itemdescriptor", `{"name":"shield"}`)
	writeSourceFile(t, src, "scripts/main.lua", "print('hi')")
	writeSourceFile(t, src, "README.txt", "not an asset")

	out := filepath.Join(t.TempDir(), "assets.pak")
	err := Build(src, out, BuildOptions{
		ExtensionSort: []string{"lua", "itemdescriptor"},
		Metadata:      map[string]any{"name": "test-pack"},
	})
	require.NoError(t, err)

	a, err := Open(out)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "test-pack", a.Metadata()["name"])
	assert.NotEmpty(t, a.Metadata()["buildId"])

	paths := a.AssetPaths()
	require.Len(t, paths, 4)
	// lua sorts before itemdescriptor, both before the unlisted txt file.
	assert.Equal(t, "scripts/main.lua", paths[0])
	assert.ElementsMatch(t, []string{"items/shield.itemdescriptor", "items/sword.itemdescriptor"}, paths[1:3])
	assert.Equal(t, "README.txt", paths[3])

	body, err := a.Read("items/sword.itemdescriptor")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"sword"}`, string(body))
}

func TestReadMissingAsset(t *testing.T) {
	src := t.TempDir()
	writeSourceFile(t, src, "a.txt", "hello")
	out := filepath.Join(t.TempDir(), "assets.pak")
	require.NoError(t, Build(src, out, BuildOptions{}))

	a, err := Open(out)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Read("missing.txt")
	assert.Error(t, err)
}

func TestOpenStreamSharesFileHandleConcurrently(t *testing.T) {
	src := t.TempDir()
	contentA := "the quick brown fox jumps over the lazy dog"
	contentB := "pack streaming must not corrupt concurrent reads"
	writeSourceFile(t, src, "a.txt", contentA)
	writeSourceFile(t, src, "b.txt", contentB)

	out := filepath.Join(t.TempDir(), "assets.pak")
	require.NoError(t, Build(src, out, BuildOptions{}))

	a, err := Open(out)
	require.NoError(t, err)
	defer a.Close()

	sa, err := a.OpenStream("a.txt")
	require.NoError(t, err)
	sb, err := a.OpenStream("b.txt")
	require.NoError(t, err)

	bufA := make([]byte, len(contentA))
	bufB := make([]byte, len(contentB))
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, errA = sa.ReadAt(bufA, 0) }()
	go func() { defer wg.Done(); _, errB = sb.ReadAt(bufB, 0) }()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, contentA, string(bufA))
	assert.Equal(t, contentB, string(bufB))
}

func TestOpenRejectsBadMagic(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bogus.pak")
	require.NoError(t, os.WriteFile(out, []byte("not an archive at all"), 0o644))

	_, err := Open(out)
	assert.Error(t, err)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := []byte("a reasonably compressible payload: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	compressed, err := Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
}

func TestBuildProgressCallback(t *testing.T) {
	src := t.TempDir()
	writeSourceFile(t, src, "a.txt", "1")
	writeSourceFile(t, src, "b.txt", "2")
	writeSourceFile(t, src, "c.txt", "3")

	out := filepath.Join(t.TempDir(), "assets.pak")
	var calls int
	err := Build(src, out, BuildOptions{
		Progress: func(path string, done, total int) {
			calls++
			assert.Equal(t, 3, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
