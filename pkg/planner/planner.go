package planner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/fsid"
)

// Root is a single resolved (source, destination) pair, the Planner's
// output for one command-line source argument (spec.md §4.1). Declared
// here rather than in pkg/task to avoid a planner -> task -> planner
// import cycle; pkg/task re-exports the same shape for downstream stages.
type Root struct {
	AbsSource   string
	AbsDest     string
	SourceIsDir bool
}

// Resolve turns a CopyPlan into one Root per source, applying spec.md
// §4.1's destination-resolution and same-file rules. It performs no I/O
// beyond stat/lstat: the Walker, not the Planner, reads directory contents.
func Resolve(plan CopyPlan) ([]Root, error) {
	if len(plan.Sources) == 0 {
		return nil, cpxerr.New(cpxerr.SourceMissing, "", "plan", nil)
	}

	destIsDir := plan.DestIsDir
	if !destIsDir {
		if info, err := os.Stat(plan.Destination); err == nil && info.IsDir() {
			destIsDir = true
		}
	}
	// -parents replicates each source's own directory prefix under dest,
	// which only makes sense against a directory target.
	if plan.Options.Parents {
		destIsDir = true
	}

	if len(plan.Sources) > 1 && !destIsDir {
		return nil, cpxerr.New(cpxerr.MultipleSourcesNonDirDest, plan.Destination, "plan", nil)
	}

	roots := make([]Root, 0, len(plan.Sources))
	for _, src := range plan.Sources {
		root, err := resolveOne(src, plan.Destination, destIsDir, plan.Options)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, nil
}

func resolveOne(src, dest string, destIsDir bool, opts Options) (Root, error) {
	srcInfo, srcID, err := fsid.Lstat(src)
	if err != nil {
		return Root{}, cpxerr.New(cpxerr.SourceMissing, src, "lstat", err)
	}

	effectiveDest := dest
	if destIsDir {
		if opts.Parents {
			effectiveDest = withParents(dest, src)
		} else {
			effectiveDest = filepath.Join(dest, filepath.Base(filepath.Clean(src)))
		}
	}

	if dstInfo, dstID, err := fsid.Lstat(effectiveDest); err == nil {
		if fsid.SameFile(srcID, dstID) && !opts.Force {
			return Root{}, cpxerr.New(cpxerr.SameFile, effectiveDest, "plan", nil)
		}
		if srcInfo.IsDir() != dstInfo.IsDir() && !opts.Force {
			return Root{}, cpxerr.New(cpxerr.TypeMismatch, effectiveDest, "plan", nil)
		}
	}

	return Root{
		AbsSource:   src,
		AbsDest:     effectiveDest,
		SourceIsDir: srcInfo.IsDir(),
	}, nil
}

// withParents joins src's own directory prefix onto dest instead of just
// its basename (the `parents` option, spec.md §6, grounded on
// original_source/src/utility/helper.rs's with_parents): an absolute src
// has its leading separator stripped first, so "/etc/app.conf" under dest
// "/backup" becomes "/backup/etc/app.conf", not a second root component.
func withParents(dest, src string) string {
	clean := filepath.Clean(src)
	rel := clean
	if filepath.IsAbs(clean) {
		rel = strings.TrimPrefix(clean, string(filepath.Separator))
	}
	return filepath.Join(dest, rel)
}
