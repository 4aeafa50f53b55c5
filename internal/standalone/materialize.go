package standalone

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency caps in-flight file operations when none is configured.
const DefaultConcurrency = 10

// Materializer copies or links a traced file set from BaseDir into OutputDir.
type Materializer struct {
	BaseDir     string
	OutputDir   string
	Concurrency int
	Sink        diag.Sink
	FS          FS
}

// MaterializeStats counts what happened to each file of a run.
type MaterializeStats struct {
	Copied  int `json:"copied"`
	Linked  int `json:"linked"`
	Dirs    int `json:"dirs"`
	Skipped int `json:"skipped"`

	// SkippedFiles lists the skipped relative paths in lexical order.
	SkippedFiles []string `json:"skipped_files,omitempty"`
}

// Total is the number of files written to the output root.
func (s MaterializeStats) Total() int {
	return s.Copied + s.Linked + s.Dirs
}

// PathEscapeError reports a relative file whose output path would land
// outside the output root, either lexically or through a symlink already
// written there. Err is set when the path could not be resolved at all.
type PathEscapeError struct {
	File      string
	Path      string
	OutputDir string
	Err       error
}

func (e *PathEscapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("output path %s for %q cannot be resolved under %s: %v", e.Path, e.File, e.OutputDir, e.Err)
	}
	return fmt.Sprintf("output path %s for %q is not under %s", e.Path, e.File, e.OutputDir)
}

func (e *PathEscapeError) Unwrap() error { return e.Err }

type fileKind int

const (
	fileSkipped fileKind = iota
	fileCopied
	fileLinked
	fileDir
)

// materializationState is the set of output paths claimed during one run.
type materializationState struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// claim reports whether the caller is the first to write path.
func (s *materializationState) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[path] {
		return false
	}
	s.claimed[path] = true
	return true
}

// materializeRun holds what every file of one Materialize call shares.
type materializeRun struct {
	fsys      FS
	sink      diag.Sink
	state     *materializationState
	baseDir   string
	outputDir string
	limit     int

	// realOutputDir is outputDir with every symlink on it followed.
	realOutputDir string

	copied, linked, dirs atomic.Int64

	mu      sync.Mutex
	skipped []string
}

// Materialize resets OutputDir and writes every file in files into it. At
// most Concurrency files are in flight at once. Escaping and duplicate output
// paths are reported and skipped; any other filesystem error aborts the run
// and leaves OutputDir partially populated.
//
// Symlinks are created first, shallowest first, so the containment check for
// a path sees every link that could lie on it.
func (m *Materializer) Materialize(ctx context.Context, files map[string]bool) (*MaterializeStats, error) {
	if m == nil {
		return nil, fmt.Errorf("materializer is nil")
	}
	if strings.TrimSpace(m.OutputDir) == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	fsys := m.FS
	if fsys == nil {
		fsys = OSFS{}
	}

	outputDir, err := filepath.Abs(m.OutputDir)
	if err != nil {
		return nil, err
	}
	baseDir, err := filepath.Abs(m.BaseDir)
	if err != nil {
		return nil, err
	}

	if outputDir == filepath.Dir(outputDir) {
		return nil, fmt.Errorf("refusing to use filesystem root as output dir: %s", outputDir)
	}
	if outputDir == baseDir || isWithin(outputDir, baseDir) {
		return nil, fmt.Errorf("output dir %s contains base dir %s", outputDir, baseDir)
	}
	if _, err := removeTree(fsys, outputDir); err != nil {
		return nil, fmt.Errorf("reset output dir %s: %w", outputDir, err)
	}

	rels := trace.SortedFiles(files)
	if len(rels) == 0 {
		return &MaterializeStats{}, nil
	}
	realOutputDir, err := resolveLinks(fsys, outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir %s: %w", outputDir, err)
	}

	limit := m.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if limit > len(rels) {
		limit = len(rels)
	}
	r := &materializeRun{
		fsys:          fsys,
		sink:          diag.OrDiscard(m.Sink),
		state:         &materializationState{claimed: make(map[string]bool, len(rels))},
		baseDir:       baseDir,
		outputDir:     outputDir,
		realOutputDir: realOutputDir,
		limit:         limit,
	}
	for _, batch := range planBatches(fsys, baseDir, rels) {
		if err = r.runBatch(ctx, batch); err != nil {
			break
		}
	}
	return r.stats(), err
}

// planBatches groups symlink sources by depth, shallowest first, and puts
// every other source in a final batch.
func planBatches(fsys FS, baseDir string, rels []string) [][]string {
	linksByDepth := map[int][]string{}
	var rest []string
	for _, rel := range rels {
		info, err := fsys.Lstat(sourcePath(baseDir, rel))
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			rest = append(rest, rel)
			continue
		}
		depth := strings.Count(path.Clean(trace.ToPosix(rel)), "/")
		linksByDepth[depth] = append(linksByDepth[depth], rel)
	}
	depths := make([]int, 0, len(linksByDepth))
	for d := range linksByDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	batches := make([][]string, 0, len(depths)+1)
	for _, d := range depths {
		batches = append(batches, linksByDepth[d])
	}
	if len(rest) > 0 {
		batches = append(batches, rest)
	}
	return batches
}

func (r *materializeRun) runBatch(ctx context.Context, rels []string) error {
	sem := semaphore.NewWeighted(int64(r.limit))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, rel := range rels {
		rel := rel
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if gctx.Err() != nil {
				return nil
			}
			kind, err := r.materializeOne(rel)
			if err != nil {
				// Cancel before the slot is released so no further file is admitted.
				cancel()
				return err
			}
			r.record(rel, kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *materializeRun) record(rel string, kind fileKind) {
	switch kind {
	case fileCopied:
		r.copied.Add(1)
	case fileLinked:
		r.linked.Add(1)
	case fileDir:
		r.dirs.Add(1)
	default:
		r.mu.Lock()
		r.skipped = append(r.skipped, rel)
		r.mu.Unlock()
	}
}

func (r *materializeRun) stats() *MaterializeStats {
	r.mu.Lock()
	skipped := append([]string{}, r.skipped...)
	r.mu.Unlock()
	sort.Strings(skipped)
	return &MaterializeStats{
		Copied:       int(r.copied.Load()),
		Linked:       int(r.linked.Load()),
		Dirs:         int(r.dirs.Load()),
		Skipped:      len(skipped),
		SkippedFiles: skipped,
	}
}

func (r *materializeRun) materializeOne(rel string) (fileKind, error) {
	fsys, sink := r.fsys, r.sink
	dst, err := resolveOutputPath(r.outputDir, rel)
	if err != nil {
		sink.Emit("skipping file outside output dir", "file", rel, "error", err.Error())
		return fileSkipped, nil
	}
	if !r.state.claim(dst) {
		sink.Emit("skipping already materialized path", "file", rel, "path", dst)
		return fileSkipped, nil
	}
	parent, err := r.containResolved(rel, dst)
	if err != nil {
		sink.Emit("skipping file outside output dir", "file", rel, "error", err.Error())
		return fileSkipped, nil
	}
	src := sourcePath(r.baseDir, rel)
	dst = filepath.Join(parent, filepath.Base(dst))

	if _, err := ensureDir(fsys, parent); err != nil {
		return fileSkipped, fmt.Errorf("create dir for %s: %w", rel, err)
	}
	info, err := fsys.Lstat(src)
	if err != nil {
		return fileSkipped, fmt.Errorf("stat %s: %w", src, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := fsys.Readlink(src)
		if err != nil {
			return fileSkipped, fmt.Errorf("read link %s: %w", src, err)
		}
		outcome, err := linkVerbatim(fsys, target, dst)
		if err != nil {
			return fileSkipped, fmt.Errorf("symlink %s -> %s: %w", dst, target, err)
		}
		if outcome == fsAlreadySatisfied {
			sink.Emit("symlink already exists", "file", rel, "target", target)
		}
		return fileLinked, nil
	case info.IsDir():
		if _, err := ensureDir(fsys, dst); err != nil {
			return fileSkipped, fmt.Errorf("create dir %s: %w", dst, err)
		}
		return fileDir, nil
	default:
		if err := fsys.CopyFile(src, dst); err != nil {
			return fileSkipped, fmt.Errorf("copy %s: %w", rel, err)
		}
		return fileCopied, nil
	}
}

// containResolved follows symlinks already present on the way to dst's
// parent and returns the real parent directory. It rejects dst when those
// links lead outside the output root or cannot be followed.
func (r *materializeRun) containResolved(rel, dst string) (string, error) {
	parent, err := resolveLinks(r.fsys, filepath.Dir(dst))
	if err != nil {
		return "", &PathEscapeError{File: rel, Path: dst, OutputDir: r.outputDir, Err: err}
	}
	if parent != r.realOutputDir && !isWithin(r.realOutputDir, parent) {
		return "", &PathEscapeError{File: rel, Path: parent, OutputDir: r.outputDir}
	}
	return parent, nil
}

func sourcePath(baseDir, rel string) string {
	return filepath.Join(baseDir, filepath.FromSlash(trace.ToPosix(rel)))
}

const maxLinkHops = 255

// resolveLinks returns the path p refers to once every symlink on it is
// followed. Link targets and trailing components need not exist yet.
func resolveLinks(fsys FS, p string) (string, error) {
	sep := string(filepath.Separator)
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	resolved := vol + sep
	rest := strings.Split(p[len(vol):], sep)
	hops := 0
	for len(rest) > 0 {
		name := rest[0]
		rest = rest[1:]
		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, name)
		info, err := fsys.Lstat(next)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}
		if hops++; hops > maxLinkHops {
			return "", fmt.Errorf("too many levels of symbolic links: %s", p)
		}
		target, err := fsys.Readlink(next)
		if err != nil {
			return "", err
		}
		target = filepath.Clean(target)
		if filepath.IsAbs(target) {
			tvol := filepath.VolumeName(target)
			resolved = tvol + sep
			target = target[len(tvol):]
		}
		rest = append(strings.Split(target, sep), rest...)
	}
	return resolved, nil
}

// resolveOutputPath joins rel onto outputDir and rejects results that are not
// strictly inside outputDir.
func resolveOutputPath(outputDir string, rel string) (string, error) {
	dst := filepath.Join(outputDir, filepath.FromSlash(trace.ToPosix(rel)))
	if !isWithin(outputDir, dst) {
		return "", &PathEscapeError{File: rel, Path: dst, OutputDir: outputDir}
	}
	return dst, nil
}

func isWithin(root string, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
