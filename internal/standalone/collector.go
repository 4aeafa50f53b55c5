package standalone

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/strongdm/standalone/internal/diag"
)

// EntryCollector gathers entry points as a build produces them and runs the
// orchestrator once over all of them.
type EntryCollector struct {
	mu      sync.Mutex
	entries []string
	seen    map[string]bool
}

// Add records an entry point. Relative paths are made absolute; repeats are
// ignored.
func (c *EntryCollector) Add(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	if c.seen[abs] {
		return nil
	}
	c.seen[abs] = true
	c.entries = append(c.entries, abs)
	return nil
}

// Entries returns the collected entry points in the order they were added.
func (c *EntryCollector) Entries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.entries...)
}

// Run appends the collected entries to opts.EntryFiles and runs once. With no
// entries at all there is nothing to trace and the output is left alone.
func (c *EntryCollector) Run(ctx context.Context, opts Options) (*Report, error) {
	entries := dedupeEntries(append(append([]string{}, opts.EntryFiles...), c.Entries()...))
	if len(entries) == 0 {
		diag.OrDiscard(opts.Sink).Emit("no entry points collected")
		return &Report{}, nil
	}
	opts.EntryFiles = entries
	return Run(ctx, opts)
}

func dedupeEntries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, e := range in {
		abs, err := filepath.Abs(strings.TrimSpace(e))
		if err != nil || strings.TrimSpace(e) == "" || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}
