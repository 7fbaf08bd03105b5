// Package archive implements the read-only packed asset archive of
// §4.5: a one-time build, many-times-open indexed concatenation of
// files sharing the same record-bytes contract as the B+ tree store.
//
// Grounded on StarPackedAssetSource.cpp/.hpp for the on-disk format and
// the extension-priority build sort; the append-then-index idiom and
// shared-file-handle streaming reads are adapted from perkeep's
// pkg/blobserver/diskpacked.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

const (
	formatMagic  = "SBAsset6"
	indexMarker  = "INDEX"
	readConcurrency = 8
)

// Entry records one packed asset's byte range within the archive file.
type Entry struct {
	Path   string
	Offset uint64
	Size   uint64
}

// BuildOptions configures a Build call.
type BuildOptions struct {
	// ExtensionSort lists extensions (without the leading dot, matched
	// case-insensitively) in priority order; files with an extension
	// earlier in this list sort before files with a later one. Files
	// whose extension does not appear sort last, as a single group.
	ExtensionSort []string

	// Metadata is merged into the archive's metadata JSON blob. A
	// "buildId" key is always added (or overwritten) with a fresh UUID.
	Metadata map[string]any

	// Progress, if set, is called after each asset body is written.
	Progress func(path string, done, total int)
}

// Build packs every regular file under sourceDir into outputPath,
// following §4.5's five build steps.
func Build(sourceDir, outputPath string, opts BuildOptions) error {
	paths, err := collectPaths(sourceDir)
	if err != nil {
		return err
	}
	sortPaths(paths, opts.ExtensionSort)

	bodies, err := readBodiesConcurrently(sourceDir, paths)
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return dberr.IO(err, "create archive file")
	}
	defer out.Close()

	if _, err := out.Write([]byte(formatMagic)); err != nil {
		return dberr.IO(err, "write archive magic")
	}
	if _, err := out.Write(make([]byte, 8)); err != nil {
		return dberr.IO(err, "reserve index offset field")
	}

	entries := make([]Entry, 0, len(paths))
	offset := uint64(16)
	for i, p := range paths {
		body := bodies[i]
		if _, err := out.Write(body); err != nil {
			return dberr.IO(err, "write asset body")
		}
		entries = append(entries, Entry{Path: p, Offset: offset, Size: uint64(len(body))})
		offset += uint64(len(body))
		if opts.Progress != nil {
			opts.Progress(p, i+1, len(paths))
		}
	}

	indexOffset := offset
	if _, err := out.Write([]byte(indexMarker)); err != nil {
		return dberr.IO(err, "write index marker")
	}

	meta := map[string]any{}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	meta["buildId"] = uuid.New().String()
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return dberr.Wrap(err, "marshal archive metadata")
	}
	if _, err := out.Write(metaBytes); err != nil {
		return dberr.IO(err, "write archive metadata")
	}

	if err := writeIndex(out, entries); err != nil {
		return err
	}

	offsetBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(offsetBuf, indexOffset)
	if _, err := out.WriteAt(offsetBuf, 8); err != nil {
		return dberr.IO(err, "back-patch index offset")
	}
	return nil
}

func collectPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, dberr.IO(err, "walk source directory")
	}
	return paths, nil
}

// sortPaths implements §4.5 step 2: (extension_priority,
// case_insensitive_path), with listed extensions sorting first in
// declared order and unlisted extensions sorting last as one group.
func sortPaths(paths []string, extensionSort []string) {
	priority := make(map[string]int, len(extensionSort))
	for i, ext := range extensionSort {
		priority[strings.ToLower(ext)] = i
	}
	unlisted := len(extensionSort)

	rank := func(p string) int {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		if pr, ok := priority[ext]; ok {
			return pr
		}
		return unlisted
	}

	sort.SliceStable(paths, func(i, j int) bool {
		ri, rj := rank(paths[i]), rank(paths[j])
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(paths[i]) < strings.ToLower(paths[j])
	})
}

// readBodiesConcurrently reads every source file's full contents,
// fanning out with errgroup. This is read-side fan-out over
// independent files only; the result slice is filled by index so
// output order is deterministic regardless of completion order.
func readBodiesConcurrently(root string, paths []string) ([][]byte, error) {
	bodies := make([][]byte, len(paths))
	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
			if err != nil {
				return dberr.IO(err, "read source asset")
			}
			bodies[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

func writeIndex(w io.Writer, entries []Entry) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))
	if _, err := w.Write(buf); err != nil {
		return dberr.IO(err, "write index count")
	}
	for _, e := range entries {
		pathBytes := []byte(e.Path)
		head := make([]byte, 2+8+8)
		binary.BigEndian.PutUint16(head[0:2], uint16(len(pathBytes)))
		binary.BigEndian.PutUint64(head[2:10], e.Offset)
		binary.BigEndian.PutUint64(head[10:18], e.Size)
		if _, err := w.Write(head); err != nil {
			return dberr.IO(err, "write index entry header")
		}
		if _, err := w.Write(pathBytes); err != nil {
			return dberr.IO(err, "write index entry path")
		}
	}
	return nil
}

// Archive is an opened, read-only packed asset store.
type Archive struct {
	mu       sync.Mutex
	file     *os.File
	metadata map[string]any
	entries  []Entry
	byPath   map[string]int
	order    []string
}

// Open validates the magic and INDEX marker and loads the metadata and
// index map.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dberr.IO(err, "open archive file")
	}

	head := make([]byte, 16)
	if _, err := io.ReadFull(f, head); err != nil {
		f.Close()
		return nil, dberr.IO(err, "read archive header")
	}
	if string(head[0:8]) != formatMagic {
		f.Close()
		return nil, dberr.Format("bad archive magic %q", head[0:8])
	}
	indexOffset := binary.BigEndian.Uint64(head[8:16])

	if _, err := f.Seek(int64(indexOffset), io.SeekStart); err != nil {
		f.Close()
		return nil, dberr.IO(err, "seek to archive index")
	}
	marker := make([]byte, len(indexMarker))
	if _, err := io.ReadFull(f, marker); err != nil {
		f.Close()
		return nil, dberr.IO(err, "read archive index marker")
	}
	if string(marker) != indexMarker {
		f.Close()
		return nil, dberr.Format("missing INDEX marker, got %q", marker)
	}

	tail, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, dberr.IO(err, "read archive index tail")
	}

	dec := json.NewDecoder(bytes.NewReader(tail))
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		f.Close()
		return nil, dberr.Format("invalid archive metadata JSON: %v", err)
	}
	rest := tail[dec.InputOffset():]

	entries, order, byPath, err := readIndex(rest)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Archive{file: f, metadata: meta, entries: entries, byPath: byPath, order: order}, nil
}

func readIndex(buf []byte) (entries []Entry, order []string, byPath map[string]int, err error) {
	if len(buf) < 4 {
		return nil, nil, nil, dberr.Corruption("archive index truncated")
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	off := 4
	entries = make([]Entry, 0, count)
	byPath = make(map[string]int, count)
	order = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+18 > len(buf) {
			return nil, nil, nil, dberr.Corruption("archive index entry header truncated")
		}
		pathLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
		entryOffset := binary.BigEndian.Uint64(buf[off+2 : off+10])
		entrySize := binary.BigEndian.Uint64(buf[off+10 : off+18])
		off += 18
		if off+pathLen > len(buf) {
			return nil, nil, nil, dberr.Corruption("archive index path truncated")
		}
		path := string(buf[off : off+pathLen])
		off += pathLen

		byPath[path] = len(entries)
		order = append(order, path)
		entries = append(entries, Entry{Path: path, Offset: entryOffset, Size: entrySize})
	}
	return entries, order, byPath, nil
}

// Metadata returns the archive's metadata blob.
func (a *Archive) Metadata() map[string]any { return a.metadata }

// AssetPaths returns every packed path, in build (insertion) order.
func (a *Archive) AssetPaths() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

func (a *Archive) lookup(path string) (Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.byPath[path]
	if !ok {
		return Entry{}, dberr.NotFound("asset %q not in archive", path)
	}
	return a.entries[i], nil
}

// Read returns the full, uncompressed bytes of the asset at path.
func (a *Archive) Read(path string) ([]byte, error) {
	e, err := a.lookup(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, e.Size)
	if _, err := a.file.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, dberr.IO(err, "read asset body")
	}
	return buf, nil
}

// OpenStream returns a seekable, read-only stream clamped to path's
// recorded byte range. Multiple streams share the archive's underlying
// file handle and may be read concurrently (os.File.ReadAt is safe for
// concurrent use), matching diskpacked's io.NewSectionReader idiom.
func (a *Archive) OpenStream(path string) (*io.SectionReader, error) {
	e, err := a.lookup(path)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(a.file, int64(e.Offset), int64(e.Size)), nil
}

// Close releases the archive's file handle.
func (a *Archive) Close() error {
	if err := a.file.Close(); err != nil {
		return dberr.IO(err, "close archive file")
	}
	return nil
}
