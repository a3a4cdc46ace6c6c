// Package cpxengine wires the Planner, Walker, Scheduler, File Copier,
// Link Tracker, and Control Plane together into the single entry point
// spec.md §2 describes: one CopyPlan in, one Result out.
package cpxengine

import (
	"context"
	"time"

	"github.com/arvgrant/cpx/pkg/copier"
	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/exclude"
	"github.com/arvgrant/cpx/pkg/limiter"
	"github.com/arvgrant/cpx/pkg/linktracker"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/plog"
	"github.com/arvgrant/cpx/pkg/resume"
	"github.com/arvgrant/cpx/pkg/scheduler"
	"github.com/arvgrant/cpx/pkg/sink"
	"github.com/arvgrant/cpx/pkg/task"
	"github.com/arvgrant/cpx/pkg/walker"
)

// perWorkerBufferCeiling is the 2 MiB ceiling a single copy buffer can grow
// to; Run multiplies it by the worker count to get the peak memory budget
// for in-flight copy buffers (spec.md §5).
const perWorkerBufferCeiling = 2 * 1024 * 1024

// Result summarizes a completed run for the caller (the exit code mapping
// is ExitCode in this package, driven by the cpxerr.Kind of Run's error).
type Result struct {
	FilesCopied int64
	BytesCopied int64
	Skipped     int64
	Warnings    int64
	Errors      int64
	Elapsed     time.Duration
	FatalErr    error
}

// Run executes plan to completion, emitting events to s as it goes.
func Run(ctx context.Context, plan planner.CopyPlan, s sink.Sink) (Result, error) {
	start := time.Now()
	if s == nil {
		s = sink.Noop{}
	}

	roots, err := planner.Resolve(plan)
	if err != nil {
		return Result{Elapsed: time.Since(start), FatalErr: err}, err
	}

	matcher := exclude.Compile(flattenExcludes(plan.Options.Exclude))

	var resumeIdx *resume.Index
	if plan.Options.Resume {
		resumeIdx, err = resume.Open(plan.Destination)
		if err != nil {
			plog.Warn("resume index unreadable, proceeding without it", "error", err)
			resumeIdx = nil
		}
	}

	links := linktracker.New()
	mem := limiter.NewMemory(int64(parallelism(plan.Options.Parallel)) * perWorkerBufferCeiling)

	shared := &task.Shared{
		Options: plan.Options,
		Exclude: matcher,
		Links:   links,
		Sink:    s,
		Resume:  resumeIdx,
		Cancelled: func() bool {
			_, interrupted := cpxerr.Interrupt()
			return interrupted
		},
	}

	w := walker.New(shared)
	c := copier.New(plan.Options, links, mem, resumeIdx, s)
	sched := scheduler.New(plan.Options, w, c, s)

	runErr := sched.Run(ctx, roots)

	if resumeIdx != nil {
		if err := resumeIdx.Save(); err != nil {
			plog.Warn("failed to persist resume index", "error", err)
		}
	}

	stats := sched.Stats()
	result := Result{
		FilesCopied: stats.FilesCopied.Load(),
		BytesCopied: stats.BytesCopied.Load(),
		Skipped:     stats.Skipped.Load(),
		Warnings:    stats.Warnings.Load(),
		Errors:      stats.Errors.Load(),
		Elapsed:     time.Since(start),
	}
	if runErr != nil {
		result.FatalErr = runErr
	}
	return result, runErr
}

func parallelism(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func flattenExcludes(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		out = append(out, exclude.Split(p)...)
	}
	return out
}

// ExitCode maps a Run error to the process exit code spec.md §6/§7 require:
// 130 for SIGINT-driven cancellation, 143 for SIGTERM, 1 for any other
// engine failure, 0 on success.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if cpxErr, ok := err.(*cpxerr.Error); ok {
		switch cpxErr.Kind {
		case cpxerr.InterruptedByUser:
			return 130
		case cpxerr.Terminated:
			return 143
		}
	}
	return 1
}
