// Package resume implements the Control Plane's resume index (spec.md
// §4.6, §6): a line-oriented sidecar file at the destination root tracking
// which entries have already been copied successfully, so a second run
// with `resume` can skip hash-matching files.
//
// Content hashing uses BLAKE3 (github.com/zeebo/blake3), per spec.md §4.4's
// explicit requirement — overriding original_source's xxh3 choice in
// preprocess.rs's calculate_checksum.
package resume

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// IndexFileName is the sidecar file's name at the destination root.
const IndexFileName = ".cpx-resume"

// hashChunkSize matches the 128 KiB buffer original_source's
// calculate_checksum streams through, reused here for BLAKE3.
const hashChunkSize = 128 * 1024

// compactThreshold is the serialized index size above which Save writes a
// zstd-compressed frame instead of a plain file, exercising the
// klauspost/compress dependency for a narrow but genuine use: a resume
// index large enough to benefit is one accumulated over a very large tree.
const compactThreshold = 1 << 20 // 1 MiB

// Status is the completion state recorded for a ResumeEntry.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
)

// Entry is a single persisted resume record (spec.md §6): relative path,
// source size, source mtime in nanoseconds, hex content hash, and status.
type Entry struct {
	RelPath  string
	Size     int64
	MtimeNs  int64
	HexHash  string
	Status   Status
}

// Index is the concurrency-safe set of Entry records for one destination
// tree, single-writer per spec.md §5 ("a dedicated serializer task
// receives ResumeEntry messages") modeled here as a mutex around the map.
type Index struct {
	mu      sync.Mutex
	entries map[string]Entry
	path    string
}

// Open loads an existing index from destRoot if present, or returns an
// empty Index ready to be populated.
func Open(destRoot string) (*Index, error) {
	idx := &Index{entries: make(map[string]Entry), path: filepath.Join(destRoot, IndexFileName)}

	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}

	if isZstdFrame(data) {
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("resume: decompress index: %w", err)
		}
		defer dec.Close()
		data, err = io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("resume: decompress index: %w", err)
		}
	}

	if err := idx.parse(data); err != nil {
		return nil, err
	}
	return idx, nil
}

func isZstdFrame(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x28 && b[1] == 0xb5 && b[2] == 0x2f && b[3] == 0xfd
}

func (idx *Index) parse(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue // tolerate a truncated trailing record from a crash
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		mtime, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		e := Entry{RelPath: fields[0], Size: size, MtimeNs: mtime, HexHash: fields[3], Status: Status(fields[4])}
		idx.entries[e.RelPath] = e
	}
	return scanner.Err()
}

// Lookup returns the recorded Entry for relPath, if any.
func (idx *Index) Lookup(relPath string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[relPath]
	return e, ok
}

// Record inserts or replaces the Entry for relPath.
func (idx *Index) Record(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[e.RelPath] = e
}

// Save rewrites the index file compactly. Large indexes are written as a
// zstd frame; small ones stay plain text for easy inspection.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var buf bytes.Buffer
	for _, e := range idx.entries {
		fmt.Fprintf(&buf, "%s\t%d\t%d\t%s\t%s\n", e.RelPath, e.Size, e.MtimeNs, e.HexHash, e.Status)
	}

	out := buf.Bytes()
	if buf.Len() > compactThreshold {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("resume: compress index: %w", err)
		}
		out = enc.EncodeAll(buf.Bytes(), nil)
		enc.Close()
	}

	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("resume: write index: %w", err)
	}
	return os.Rename(tmp, idx.path)
}

// Hash computes the streaming BLAKE3 digest of the file at path.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ShouldSkip decides whether a resume-enabled copy of relPath (src -> dst)
// can be skipped, consulting idx's record of the last successful copy
// rather than re-deriving one from scratch: it short-circuits on a missing
// destination or a missing/stale/size-mismatched index record, then on an
// mtime comparison, falling back to a full hash comparison only when
// necessary — the same short-circuit order original_source's
// should_skip_file uses, substituting BLAKE3 for xxh3 and a persisted
// record for a second stat of the destination.
func ShouldSkip(idx *Index, relPath, src, dst string) (bool, error) {
	if idx == nil {
		return false, nil
	}
	if _, err := os.Stat(dst); err != nil {
		return false, nil // destination absent: nothing to skip
	}
	prev, ok := idx.Lookup(relPath)
	if !ok || prev.Status != StatusOK {
		return false, nil
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if srcInfo.Size() != prev.Size {
		return false, nil
	}
	if srcInfo.ModTime().UnixNano() <= prev.MtimeNs {
		return true, nil
	}

	srcHash, err := Hash(src)
	if err != nil {
		return false, err
	}
	return srcHash == prev.HexHash, nil
}
