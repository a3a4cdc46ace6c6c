package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arvgrant/cpx/pkg/buildinfo"
	"github.com/arvgrant/cpx/pkg/cliopts"
	"github.com/arvgrant/cpx/pkg/cpxengine"
	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/plog"
	"github.com/arvgrant/cpx/pkg/progress"
	"github.com/arvgrant/cpx/pkg/sink"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "  cpx [options] source... destination\n\n")
		flag.PrintDefaults()
	}
}

// parsedFlags holds the CLI-settable options plus the positional
// source/destination arguments, before they've been validated against
// each other (spec.md §6).
type parsedFlags struct {
	opts        planner.Options
	sources     []string
	destination string
	quiet       bool
	logLevel    string
}

func parseArgs(args []string) (parsedFlags, error) {
	fs := flag.NewFlagSet("cpx", flag.ContinueOnError)

	recursiveFlag := fs.Bool("recursive", false, "Copy directories recursively.")
	rFlag := fs.Bool("r", false, "Shorthand for -recursive.")
	parallelFlag := fs.Int("parallel", 4, "Number of worker goroutines copying files concurrently.")
	resumeFlag := fs.Bool("resume", false, "Skip files that already match at the destination, recorded in a resume index.")
	forceFlag := fs.Bool("force", false, "Overwrite existing destination files without prompting.")
	fFlag := fs.Bool("f", false, "Shorthand for -force.")
	interactiveFlag := fs.Bool("interactive", false, "Prompt before overwriting an existing destination file.")
	iFlag := fs.Bool("i", false, "Shorthand for -interactive.")
	parentsFlag := fs.Bool("parents", false, "Replicate each source's full path under the destination directory.")
	attrOnlyFlag := fs.Bool("attributes-only", false, "Don't copy file contents, only update attributes.")
	removeDestFlag := fs.Bool("remove-destination", false, "Remove each existing destination file before copying, instead of overwriting it in place.")
	symlinkFlag := fs.String("symlink", "off", "Symlink handling: off, auto, absolute, relative.")
	hardLinkFlag := fs.Bool("link", false, "Hard-link files instead of copying when possible.")
	followFlag := fs.String("follow", "never", "Symlink-follow policy during traversal: never, always, command-line.")
	preserveFlag := fs.String("preserve", "", "Comma-separated attributes to preserve: mode, ownership, timestamps, links, context, xattr, all.")
	backupFlag := fs.String("backup", "none", "Backup policy for overwritten files: none, simple, numbered, existing.")
	reflinkFlag := fs.String("reflink", "auto", "Copy-on-write reflink policy: auto, always, never.")
	excludeFlag := fs.String("exclude", "", "Comma-separated gitignore-style exclusion patterns.")
	failFastFlag := fs.Bool("fail-fast", false, "Abort the whole run on the first error instead of continuing.")
	quietFlag := fs.Bool("quiet", false, "Suppress progress and informational output.")
	logLevelFlag := fs.String("log-level", "info", "Logging level: debug, notice, info, warn, error.")
	versionFlag := fs.Bool("version", false, "Print the version and exit.")

	if err := fs.Parse(args); err != nil {
		return parsedFlags{}, err
	}

	if *versionFlag {
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		os.Exit(0)
	}

	positional := fs.Args()
	if len(positional) < 2 {
		return parsedFlags{}, fmt.Errorf("usage: cpx [options] source... destination")
	}

	symlinkMode, err := cliopts.ParseSymlinkMode(*symlinkFlag)
	if err != nil {
		return parsedFlags{}, err
	}
	followMode, err := cliopts.ParseFollowMode(*followFlag)
	if err != nil {
		return parsedFlags{}, err
	}
	preserveAttr, err := cliopts.ParsePreserveAttr(*preserveFlag)
	if err != nil {
		return parsedFlags{}, err
	}
	backupMode, err := cliopts.ParseBackupMode(*backupFlag)
	if err != nil {
		return parsedFlags{}, err
	}
	reflinkMode, err := cliopts.ParseReflinkMode(*reflinkFlag)
	if err != nil {
		return parsedFlags{}, err
	}

	var excludePatterns []string
	if *excludeFlag != "" {
		excludePatterns = append(excludePatterns, *excludeFlag)
	}

	opts := planner.Options{
		Recursive:         *recursiveFlag || *rFlag,
		Parallel:          *parallelFlag,
		Resume:            *resumeFlag,
		Force:             *forceFlag || *fFlag,
		Interactive:       *interactiveFlag || *iFlag,
		Parents:           *parentsFlag,
		AttributesOnly:    *attrOnlyFlag,
		RemoveDestination: *removeDestFlag,
		Symlink:           symlinkMode,
		HardLink:          *hardLinkFlag,
		Follow:            followMode,
		Preserve:          preserveAttr,
		Backup:            backupMode,
		Reflink:           reflinkMode,
		Exclude:           excludePatterns,
		FatalOnFirstError: *failFastFlag,
	}

	return parsedFlags{
		opts:        opts,
		sources:     positional[:len(positional)-1],
		destination: positional[len(positional)-1],
		quiet:       *quietFlag,
		logLevel:    *logLevelFlag,
	}, nil
}

func run(ctx context.Context, args []string) error {
	pf, err := parseArgs(args)
	if err != nil {
		return err
	}

	plog.SetQuiet(pf.quiet)
	plog.SetLevel(plog.LevelFromString(pf.logLevel))

	plan := planner.CopyPlan{
		Sources:     pf.sources,
		Destination: pf.destination,
		Options:     pf.opts,
	}

	var s sink.Sink = sink.Noop{}
	var term *progress.Terminal
	if !pf.quiet {
		term = progress.NewTerminal(os.Stderr, 0)
		s = sink.NewSerialize(term)
	}

	start := time.Now()
	result, runErr := cpxengine.Run(ctx, plan, s)
	elapsed := time.Since(start)

	if !pf.quiet && term != nil {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, term.Summary(elapsed))
	}

	plog.Info(buildinfo.Name+" finished",
		"files", result.FilesCopied, "bytes", result.BytesCopied,
		"warnings", result.Warnings, "errors", result.Errors,
		"duration", elapsed.Round(time.Millisecond))

	return runErr
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		if sig == syscall.SIGTERM {
			cpxerr.SetInterrupt(cpxerr.Terminated)
		} else {
			cpxerr.SetInterrupt(cpxerr.InterruptedByUser)
		}
		cancel()
	}()

	err := run(ctx, os.Args[1:])
	if err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
	}
	os.Exit(cpxengine.ExitCode(err))
}
