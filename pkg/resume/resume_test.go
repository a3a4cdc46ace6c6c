package resume

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIndex_RecordLookupSaveReload(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	idx.Record(Entry{RelPath: "a/b.txt", Size: 10, MtimeNs: 123, HexHash: "deadbeef", Status: StatusOK})
	if err := idx.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	e, ok := reloaded.Lookup("a/b.txt")
	if !ok {
		t.Fatal("expected entry to survive reload")
	}
	if e.Size != 10 || e.HexHash != "deadbeef" || e.Status != StatusOK {
		t.Errorf("reloaded entry mismatch: %+v", e)
	}
}

func TestIndex_LookupMissing(t *testing.T) {
	idx, _ := Open(t.TempDir())
	if _, ok := idx.Lookup("missing"); ok {
		t.Error("expected miss for unrecorded path")
	}
}

func TestHash_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) == 0 || strings.Contains(h1, " ") {
		t.Errorf("unexpected hash format: %q", h1)
	}
}

func TestShouldSkip_SizeMismatchNeverSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("12345"), 0o644)
	os.WriteFile(dst, []byte("123"), 0o644)

	idx, _ := Open(dir)
	idx.Record(Entry{RelPath: "src", Size: 3, MtimeNs: 0, HexHash: "irrelevant", Status: StatusOK})

	skip, err := ShouldSkip(idx, "src", src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("expected size mismatch to force a copy")
	}
}

func TestShouldSkip_MissingDestinationNeverSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	os.WriteFile(src, []byte("x"), 0o644)

	idx, _ := Open(dir)
	idx.Record(Entry{RelPath: "src", Size: 1, MtimeNs: 0, HexHash: "irrelevant", Status: StatusOK})

	skip, err := ShouldSkip(idx, "src", src, filepath.Join(dir, "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("expected missing destination to force a copy")
	}
}

func TestShouldSkip_NilIndexNeverSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("x"), 0o644)
	os.WriteFile(dst, []byte("x"), 0o644)

	skip, err := ShouldSkip(nil, "src", src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("expected a nil index to never skip")
	}
}

func TestShouldSkip_UnrecordedPathNeverSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("x"), 0o644)
	os.WriteFile(dst, []byte("x"), 0o644)

	idx, _ := Open(dir)

	skip, err := ShouldSkip(idx, "src", src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("expected an entry with no prior record to never skip")
	}
}

func TestShouldSkip_StaleMtimeFallsBackToHashMatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	content := []byte("same content")
	os.WriteFile(src, content, 0o644)
	os.WriteFile(dst, content, 0o644)

	hash, err := Hash(src)
	if err != nil {
		t.Fatal(err)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		t.Fatal(err)
	}

	idx, _ := Open(dir)
	idx.Record(Entry{
		RelPath: "src",
		Size:    srcInfo.Size(),
		MtimeNs: srcInfo.ModTime().UnixNano() - 1, // pretend the source was modified after the record was written
		HexHash: hash,
		Status:  StatusOK,
	})

	skip, err := ShouldSkip(idx, "src", src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if !skip {
		t.Error("expected a matching hash to skip even when the mtime check alone is inconclusive")
	}
}
