package standalone

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/trace"
)

// FilterIgnored returns the files that match none of patterns. Matching is
// against the POSIX form of each path; dot-prefixed segments are matched like
// any other segment.
func FilterIgnored(files map[string]bool, patterns []string, sink diag.Sink) (map[string]bool, error) {
	sink = diag.OrDiscard(sink)
	compiled, err := normalizeIgnorePatterns(patterns)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(files))
	for file, ok := range files {
		if !ok {
			continue
		}
		if pattern, hit := matchAny(compiled, trace.ToPosix(file)); hit {
			sink.Emit("file ignored", "file", file, "pattern", pattern)
			continue
		}
		out[file] = true
	}
	return out, nil
}

func normalizeIgnorePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", raw)
		}
		out = append(out, p)
	}
	return out, nil
}

func matchAny(patterns []string, file string) (string, bool) {
	for _, p := range patterns {
		// Patterns are validated up front, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, file); ok {
			return p, true
		}
	}
	return "", false
}
