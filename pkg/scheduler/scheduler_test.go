package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arvgrant/cpx/pkg/copier"
	"github.com/arvgrant/cpx/pkg/exclude"
	"github.com/arvgrant/cpx/pkg/limiter"
	"github.com/arvgrant/cpx/pkg/linktracker"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/sink"
	"github.com/arvgrant/cpx/pkg/task"
	"github.com/arvgrant/cpx/pkg/walker"
)

func buildTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644)
	os.WriteFile(filepath.Join(root, "nested", "inner.txt"), []byte("inner"), 0o644)
}

func TestScheduler_CopiesDirectoryTree(t *testing.T) {
	srcRoot := t.TempDir()
	buildTree(t, srcRoot)
	dstRoot := filepath.Join(t.TempDir(), "dest")

	opts := planner.DefaultOptions()
	opts.Recursive = true

	shared := &task.Shared{
		Options: opts,
		Exclude: exclude.Compile(nil),
		Links:   linktracker.New(),
		Sink:    sink.Noop{},
	}
	w := walker.New(shared)
	c := copier.New(opts, shared.Links, limiter.NewMemory(8*1024*1024), nil, sink.Noop{})
	sched := New(opts, w, c, sink.Noop{})

	roots := []task.Root{{AbsSource: srcRoot, AbsDest: dstRoot, SourceIsDir: true}}
	if err := sched.Run(context.Background(), roots); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, rel := range []string{"top.txt", "nested/inner.txt"} {
		if _, err := os.Stat(filepath.Join(dstRoot, rel)); err != nil {
			t.Errorf("expected %s to exist at destination: %v", rel, err)
		}
	}
	stats := sched.Stats()
	if stats.FilesCopied.Load() != 2 {
		t.Errorf("FilesCopied = %d, want 2", stats.FilesCopied.Load())
	}
}

func TestScheduler_ExclusionPrunesMatchedFiles(t *testing.T) {
	srcRoot := t.TempDir()
	buildTree(t, srcRoot)
	dstRoot := filepath.Join(t.TempDir(), "dest")

	opts := planner.DefaultOptions()
	opts.Recursive = true

	shared := &task.Shared{
		Options: opts,
		Exclude: exclude.Compile([]string{"inner.txt"}),
		Links:   linktracker.New(),
		Sink:    sink.Noop{},
	}
	w := walker.New(shared)
	c := copier.New(opts, shared.Links, limiter.NewMemory(8*1024*1024), nil, sink.Noop{})
	sched := New(opts, w, c, sink.Noop{})

	roots := []task.Root{{AbsSource: srcRoot, AbsDest: dstRoot, SourceIsDir: true}}
	if err := sched.Run(context.Background(), roots); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dstRoot, "nested", "inner.txt")); !os.IsNotExist(err) {
		t.Errorf("expected excluded file to be absent, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstRoot, "top.txt")); err != nil {
		t.Errorf("expected non-excluded file to exist: %v", err)
	}
}
