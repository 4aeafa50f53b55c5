package standalone

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/trace"
)

// Options configures one orchestrated run.
type Options struct {
	EntryFiles      []string
	BaseDir         string
	OutputDir       string
	Ignore          []string
	AdditionalFiles []string
	Concurrency     int

	Tracer trace.Tracer
	Sink   diag.Sink
	FS     FS

	// IsolatedResolution makes tracer warnings fatal.
	IsolatedResolution bool
}

// Report summarizes a run.
type Report struct {
	RunID    string           `json:"run_id"`
	// Files lists the relative paths written to the output root. Paths
	// skipped as escaping or duplicate are in Stats.SkippedFiles instead.
	Files    []string         `json:"files,omitempty"`
	Stats    MaterializeStats `json:"stats"`
	Duration time.Duration    `json:"duration"`
	Warnings []string         `json:"warnings,omitempty"`

	// Trace is the tracer output the run was built from. Nil when there were
	// no entries to trace.
	Trace *trace.Result `json:"-"`
}

// Run traces the entry files, filters the result, and materializes it into
// OutputDir. An empty trace leaves OutputDir untouched.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Tracer == nil {
		return nil, fmt.Errorf("tracer is required")
	}
	runID, err := NewRunID()
	if err != nil {
		return nil, err
	}
	sink := diag.With(opts.Sink, "run_id", runID)
	report := &Report{RunID: runID}

	baseDir, err := filepath.Abs(strings.TrimSpace(opts.BaseDir))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sink.Emit("starting trace", "entries", len(opts.EntryFiles), "base", baseDir)

	res, err := opts.Tracer.Trace(ctx, append([]string{}, opts.EntryFiles...), baseDir)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	report.Trace = res
	if res == nil || len(res.FileList) == 0 {
		sink.Emit("no standalone files to copy")
		report.Duration = time.Since(start)
		return report, nil
	}

	files := res.AllFiles()

	report.Warnings = append([]string{}, res.Warnings...)
	for _, w := range res.Warnings {
		sink.Emit("trace warning", "warning", w)
	}
	if len(res.Warnings) > 0 && opts.IsolatedResolution {
		return report, fmt.Errorf("%w: %d trace warning(s)", ErrIsolatedResolution, len(res.Warnings))
	}

	filtered, err := FilterIgnored(files, opts.Ignore, sink)
	if err != nil {
		return report, err
	}
	extra, err := normalizeAdditionalFiles(baseDir, opts.AdditionalFiles)
	if err != nil {
		return report, err
	}
	for _, f := range extra {
		filtered[f] = true
	}

	m := &Materializer{
		BaseDir:     baseDir,
		OutputDir:   opts.OutputDir,
		Concurrency: opts.Concurrency,
		Sink:        sink,
		FS:          opts.FS,
	}
	sink.Emit("copying standalone files", "files", len(filtered), "output", opts.OutputDir)
	stats, err := m.Materialize(ctx, filtered)
	if stats != nil {
		report.Stats = *stats
	}
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}
	for _, f := range report.Stats.SkippedFiles {
		delete(filtered, f)
	}
	report.Files = trace.SortedFiles(filtered)
	sink.Emit("finished copying standalone files",
		"files", report.Stats.Total(),
		"skipped", report.Stats.Skipped,
		"duration", report.Duration.Round(time.Millisecond).String(),
	)
	return report, nil
}

// normalizeAdditionalFiles makes absolute paths relative to baseDir and
// converts every path to POSIX form.
func normalizeAdditionalFiles(baseDir string, files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, raw := range files {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(baseDir, p)
			if err != nil {
				return nil, fmt.Errorf("additional file %q: %w", raw, err)
			}
			p = rel
		}
		out = append(out, trace.ToPosix(filepath.ToSlash(p)))
	}
	return out, nil
}
