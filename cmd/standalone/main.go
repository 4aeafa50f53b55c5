package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/standalone"
	"github.com/strongdm/standalone/internal/trace"
	"github.com/strongdm/standalone/internal/version"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// usageError marks failures caused by how the command was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "standalone %s\n", version.Version)
		return exitOK
	case "help", "--help", "-h":
		usage(stdout)
		return exitOK
	case "run":
		err = runCmd(args[1:], stderr)
	case "attribute":
		err = attributeCmd(args[1:], stdout, stderr)
	default:
		usage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.As(err, new(usageError)):
		fmt.Fprintln(stderr, err)
		return exitUsage
	default:
		fmt.Fprintln(stderr, err)
		return exitFatal
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  standalone --version")
	fmt.Fprintln(w, "  standalone run [--config <file>] [--root <dir>] [--base <dir>] [--output <dir>] [--entry <file>]... [--ignore <glob>]... [--additional <file>]... [--trace-file <file> | --trace-cmd <cmd>] [--concurrency <n>] [--archive <file.tgz>] [--attribution <file.json>] [-- <tracer> [args...]]")
	fmt.Fprintln(w, "    --trace-cmd is split on whitespace without quoting; pass the tracer after -- to keep arguments that contain spaces")
	fmt.Fprintln(w, "  standalone attribute --trace-file <file> [--base <dir>] [--ignore <glob>]... [--entries-only]")
}

// newLogger builds the diagnostics logger from STANDALONE_LOG_LEVEL and
// STANDALONE_LOG_FORMAT.
func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: diag.ParseLevel(os.Getenv("STANDALONE_LOG_LEVEL"))}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("STANDALONE_LOG_FORMAT")), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runCmd(args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (.yaml, .yml or .json)")
	root := fs.String("root", "", "project root")
	base := fs.String("base", "", "directory traced paths are relative to")
	output := fs.String("output", "", "output folder, relative to root")
	entries := fs.StringArray("entry", nil, "entry file to trace (repeatable)")
	ignore := fs.StringArray("ignore", nil, "glob of traced files to leave out (repeatable)")
	additional := fs.StringArray("additional", nil, "file to copy even if ignored (repeatable)")
	traceFile := fs.String("trace-file", "", "read the trace result from this JSON file")
	traceCmd := fs.String("trace-cmd", "", "run this command to produce the trace result (split on whitespace, no quoting)")
	concurrency := fs.Int("concurrency", 0, "maximum file operations in flight")
	archive := fs.String("archive", "", "also pack the output folder into this .tgz")
	attribution := fs.String("attribution", "", "also write a per-parent attribution report here")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usageError{err: err}
	}
	// Arguments after -- are the tracer command, kept verbatim.
	var traceArgv []string
	switch dash := fs.ArgsLenAtDash(); {
	case dash > 0 || (dash < 0 && fs.NArg() > 0):
		return usagef("unexpected arguments: %v", fs.Args())
	case dash == 0:
		traceArgv = fs.Args()
	}
	if len(traceArgv) > 0 && fs.Changed("trace-cmd") {
		return usagef("--trace-cmd and a tracer after -- are mutually exclusive")
	}

	var cfg *standalone.ConfigFile
	if *configPath != "" {
		loaded, err := standalone.LoadConfigFile(*configPath)
		if err != nil {
			return usagef("load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = standalone.DefaultConfig(".")
	}

	if fs.Changed("root") {
		cfg.Root = *root
	}
	if fs.Changed("base") {
		cfg.Base = *base
	}
	if fs.Changed("output") {
		cfg.OutputFolder = *output
	}
	if fs.Changed("entry") {
		cfg.Entries = append(cfg.Entries, (*entries)...)
	}
	if fs.Changed("ignore") {
		cfg.Ignore = append(cfg.Ignore, (*ignore)...)
	}
	if fs.Changed("additional") {
		cfg.AdditionalFiles = append(cfg.AdditionalFiles, (*additional)...)
	}
	if fs.Changed("trace-file") {
		cfg.Trace.File = *traceFile
		cfg.Trace.Command = nil
	}
	if fs.Changed("trace-cmd") {
		cfg.Trace.Command = strings.Fields(*traceCmd)
		if !fs.Changed("trace-file") {
			cfg.Trace.File = ""
		}
	}
	if len(traceArgv) > 0 {
		cfg.Trace.Command = append([]string{}, traceArgv...)
		if !fs.Changed("trace-file") {
			cfg.Trace.File = ""
		}
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = *concurrency
	}
	if fs.Changed("archive") {
		cfg.Archive = *archive
	}
	if fs.Changed("attribution") {
		cfg.AttributionReport = *attribution
	}
	if err := cfg.Finalize(); err != nil {
		return usageError{err: err}
	}

	sink := diag.NewSlogSink(newLogger(stderr))
	opts, err := cfg.RunOptions(sink)
	if err != nil {
		return usageError{err: err}
	}

	ctx, cleanupSignalCtx := signalCancelContext()
	defer cleanupSignalCtx()

	rep, err := standalone.Run(ctx, opts)
	if err != nil {
		return err
	}
	if path := cfg.AttributionReportPath(); path != "" && rep.Trace != nil {
		ignoreFn, err := standalone.IgnoreByPatterns(cfg.Ignore)
		if err != nil {
			return err
		}
		a := standalone.FilesByParent(rep.Trace.AllFiles(), rep.Trace.Reasons, ignoreFn)
		if err := standalone.WriteAttributionReport(path, standalone.BuildAttributionReport(opts.BaseDir, a, rep.Trace.Reasons)); err != nil {
			return fmt.Errorf("write attribution report: %w", err)
		}
		sink.Emit("wrote attribution report", "path", path)
	}
	if path := cfg.ArchivePath(); path != "" && rep.Stats.Total() > 0 {
		if err := standalone.WriteArchive(path, opts.OutputDir); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		sink.Emit("wrote archive", "path", path)
	}
	return nil
}

func attributeCmd(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("attribute", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	traceFile := fs.String("trace-file", "", "trace result JSON file")
	base := fs.String("base", ".", "directory traced paths are relative to")
	ignore := fs.StringArray("ignore", nil, "glob of files to flag as ignored (repeatable)")
	entriesOnly := fs.Bool("entries-only", false, "report entry points only")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usageError{err: err}
	}
	if strings.TrimSpace(*traceFile) == "" {
		return usagef("--trace-file is required")
	}
	ignoreFn, err := standalone.IgnoreByPatterns(*ignore)
	if err != nil {
		return usageError{err: err}
	}

	f, err := os.Open(*traceFile)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	res, err := trace.Decode(f)
	if err != nil {
		return fmt.Errorf("read trace %s: %w", *traceFile, err)
	}

	baseDir, err := filepath.Abs(*base)
	if err != nil {
		return err
	}
	report := standalone.BuildAttributionReport(baseDir, standalone.FilesByParent(res.AllFiles(), res.Reasons, ignoreFn), res.Reasons)
	if *entriesOnly {
		report = report.EntriesOnly()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
