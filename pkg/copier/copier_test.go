package copier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arvgrant/cpx/pkg/cliopts"
	"github.com/arvgrant/cpx/pkg/entry"
	"github.com/arvgrant/cpx/pkg/hints"
	"github.com/arvgrant/cpx/pkg/limiter"
	"github.com/arvgrant/cpx/pkg/linktracker"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/resume"
	"github.com/arvgrant/cpx/pkg/sink"
)

// declineSink always declines overwrite prompts, used to exercise the
// interactive-decline path without real stdin.
type declineSink struct{ sink.Noop }

func (declineSink) Prompt(existing, incoming string) sink.PromptReply { return sink.PromptNo }

func newTestCopier(opts planner.Options) *Copier {
	return New(opts, linktracker.New(), limiter.NewMemory(8*1024*1024), nil, sink.Noop{})
}

func makeEntry(t *testing.T, path string) entry.Entry {
	t.Helper()
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := entry.FromLstat(path, filepath.Base(path), info)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestCopy_RegularFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.txt")

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever // deterministic in a test tmpfs that may not support FICLONE
	c := newTestCopier(opts)

	e := makeEntry(t, src)
	n, err := c.Copy(context.Background(), e, dst)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("copied %d bytes, want %d", n, len(content))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q want %q", got, content)
	}
}

func TestCopy_ExistingDestinationWithoutForceFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	os.WriteFile(src, []byte("new"), 0o644)
	os.WriteFile(dst, []byte("old"), 0o644)

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever
	c := newTestCopier(opts)

	_, err := c.Copy(context.Background(), makeEntry(t, src), dst)
	if err == nil {
		t.Fatal("expected an error without -force when destination exists")
	}
}

func TestCopy_ForceOverwritesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	os.WriteFile(src, []byte("new"), 0o644)
	os.WriteFile(dst, []byte("old-content-longer"), 0o644)

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever
	opts.Force = true
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, src), dst); err != nil {
		t.Fatalf("Copy with force failed: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestCopy_DirectoryCreatesDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "subdir")
	os.Mkdir(src, 0o755)
	dst := filepath.Join(dir, "out", "subdir")

	opts := planner.DefaultOptions()
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, src), dst); err != nil {
		t.Fatalf("Copy directory failed: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected destination directory to exist: %v", err)
	}
}

func TestCopy_InteractiveDeclineIsHintNotError(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	os.WriteFile(src, []byte("new"), 0o644)
	os.WriteFile(dst, []byte("old"), 0o644)

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever
	opts.Interactive = true
	c := New(opts, linktracker.New(), limiter.NewMemory(8*1024*1024), nil, declineSink{})

	_, err := c.Copy(context.Background(), makeEntry(t, src), dst)
	if err == nil {
		t.Fatal("expected a declined prompt to surface as an error")
	}
	if !hints.IsHint(err) {
		t.Errorf("expected declined prompt to be a hint, got %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "old" {
		t.Errorf("destination should be untouched after decline, got %q", got)
	}
}

func TestCopy_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	os.WriteFile(target, []byte("x"), 0o644)
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "link-copy")

	opts := planner.DefaultOptions()
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, link), dst); err != nil {
		t.Fatalf("Copy symlink failed: %v", err)
	}
	got, err := os.Readlink(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Errorf("symlink target = %q, want %q", got, target)
	}
}

func TestCopy_HardLinkPolicyLinksInsteadOfCopying(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("linked"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.txt")

	opts := planner.DefaultOptions()
	opts.HardLink = true
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, src), dst); err != nil {
		t.Fatalf("Copy with hard-link policy failed: %v", err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		t.Fatal(err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(srcInfo, dstInfo) {
		t.Error("expected destination to be hard-linked to source, got a distinct file")
	}
}

func TestCopy_SymlinkPolicyCreatesLinkInsteadOfCopying(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.txt")

	opts := planner.DefaultOptions()
	opts.Symlink = cliopts.SymlinkAbsolute
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, src), dst); err != nil {
		t.Fatalf("Copy with symlink policy failed: %v", err)
	}

	info, err := os.Lstat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("expected destination to be a symlink")
	}
	target, err := os.Readlink(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(target) {
		t.Errorf("expected an absolute symlink target, got %q", target)
	}
}

func TestCopy_SymlinkPolicyRelativeTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	os.WriteFile(src, []byte("data"), 0o644)
	dstDir := filepath.Join(dir, "out")
	os.Mkdir(dstDir, 0o755)
	dst := filepath.Join(dstDir, "dst.txt")

	opts := planner.DefaultOptions()
	opts.Symlink = cliopts.SymlinkRelative
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, src), dst); err != nil {
		t.Fatalf("Copy with relative symlink policy failed: %v", err)
	}
	target, err := os.Readlink(dst)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.IsAbs(target) {
		t.Errorf("expected a relative symlink target, got %q", target)
	}
	if resolved, _ := filepath.Abs(filepath.Join(dstDir, target)); resolved != src {
		t.Errorf("relative target resolves to %q, want %q", resolved, src)
	}
}

func TestCopy_AttributesOnlySkipsDataCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	os.WriteFile(src, []byte("new content"), 0o644)
	os.WriteFile(dst, []byte("untouched"), 0o644)

	opts := planner.DefaultOptions()
	opts.AttributesOnly = true
	c := newTestCopier(opts)

	n, err := c.Copy(context.Background(), makeEntry(t, src), dst)
	if err != nil {
		t.Fatalf("attributes-only copy failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 bytes reported for an attributes-only copy, got %d", n)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "untouched" {
		t.Errorf("attributes-only copy modified destination content: got %q", got)
	}
}

func TestCopy_ResumeSkipsWhenIndexMatches(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	content := []byte("resumable")
	os.WriteFile(src, content, 0o644)
	os.WriteFile(dst, content, 0o644)

	idx, err := resume.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := resume.Hash(src)
	if err != nil {
		t.Fatal(err)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		t.Fatal(err)
	}
	idx.Record(resume.Entry{
		RelPath: "src.txt",
		Size:    srcInfo.Size(),
		MtimeNs: srcInfo.ModTime().UnixNano(),
		HexHash: hash,
		Status:  resume.StatusOK,
	})

	opts := planner.DefaultOptions()
	opts.Resume = true
	opts.Reflink = cliopts.ReflinkNever
	c := New(opts, linktracker.New(), limiter.NewMemory(8*1024*1024), idx, sink.Noop{})

	e := makeEntry(t, src)
	e.RelPath = "src.txt"

	_, err = c.Copy(context.Background(), e, dst)
	if !hints.IsHint(err) {
		t.Errorf("expected a resume skip to be reported as a hint, got %v", err)
	}
}

func TestCopy_CancelledContextStopsBeforeCopying(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	os.WriteFile(src, []byte("data"), 0o644)
	dst := filepath.Join(dir, "dst.txt")

	opts := planner.DefaultOptions()
	c := newTestCopier(opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Copy(ctx, makeEntry(t, src), dst)
	if err == nil {
		t.Fatal("expected Copy to fail against an already-cancelled context")
	}
	if _, statErr := os.Stat(dst); statErr == nil {
		t.Error("expected no destination to be created when cancelled before copying")
	}
}

func TestCopy_MultiLinkedSourceCopiedIndependentlyWhenLinksNotPreserved(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.txt")
	srcB := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(srcA, []byte("shared"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(srcA, srcB); err != nil {
		t.Fatal(err)
	}
	dstA := filepath.Join(dir, "out-a.txt")
	dstB := filepath.Join(dir, "out-b.txt")

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever
	opts.Preserve.Links = false
	c := newTestCopier(opts)

	if _, err := c.Copy(context.Background(), makeEntry(t, srcA), dstA); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if _, err := c.Copy(context.Background(), makeEntry(t, srcB), dstB); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	aInfo, err := os.Stat(dstA)
	if err != nil {
		t.Fatal(err)
	}
	bInfo, err := os.Stat(dstB)
	if err != nil {
		t.Fatal(err)
	}
	if os.SameFile(aInfo, bInfo) {
		t.Error("expected independent copies when Preserve.Links is false, even though the sources share an inode")
	}
}

func TestCopy_MultiLinkedSourceDedupedWhenLinksPreserved(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.txt")
	srcB := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(srcA, []byte("shared"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(srcA, srcB); err != nil {
		t.Fatal(err)
	}
	dstA := filepath.Join(dir, "out-a.txt")
	dstB := filepath.Join(dir, "out-b.txt")

	opts := planner.DefaultOptions()
	opts.Reflink = cliopts.ReflinkNever
	opts.Preserve.Links = true
	links := linktracker.New()
	c := New(opts, links, limiter.NewMemory(8*1024*1024), nil, sink.Noop{})

	if _, err := c.Copy(context.Background(), makeEntry(t, srcA), dstA); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if _, err := c.Copy(context.Background(), makeEntry(t, srcB), dstB); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	aInfo, err := os.Stat(dstA)
	if err != nil {
		t.Fatal(err)
	}
	bInfo, err := os.Stat(dstB)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(aInfo, bInfo) {
		t.Error("expected a deduped hard link at the destination when Preserve.Links is true")
	}
}
