package standalone

import (
	"github.com/strongdm/standalone/internal/trace"
)

// FileAttribution describes one traced file under one parent.
type FileAttribution struct {
	Ignored bool `json:"ignored"`
}

// Attribution maps a parent file to every traced file it transitively pulls
// in.
type Attribution map[string]map[string]FileAttribution

// IgnoreFunc reports whether file should be flagged as ignored when
// attributed to parent.
type IgnoreFunc func(file string, parent string) bool

// FilesByParent walks the reason graph once for every traced file and records
// the file under each ancestor reachable through parent edges. This lets a
// caller size every entry point from a single trace instead of tracing each
// entry separately.
//
// Each file keeps its own seen set, so a cycle in the reason graph ends the
// walk and a diamond records the shared ancestor once.
func FilesByParent(fileList map[string]bool, reasons map[string]*trace.Reason, ignore IgnoreFunc) Attribution {
	out := Attribution{}
	for _, file := range trace.SortedFiles(fileList) {
		reason := reasons[file]
		if reason == nil || len(reason.Parents) == 0 || reason.IsEntry() {
			continue
		}
		propagateToParents(out, reasons, file, reason.Parents, ignore)
	}
	return out
}

func propagateToParents(out Attribution, reasons map[string]*trace.Reason, file string, parents map[string]bool, ignore IgnoreFunc) {
	seen := map[string]bool{}
	stack := trace.SortedFiles(parents)
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[parent] {
			continue
		}
		seen[parent] = true

		files := out[parent]
		if files == nil {
			files = map[string]FileAttribution{}
			out[parent] = files
		}
		files[file] = FileAttribution{Ignored: ignore != nil && ignore(file, parent)}

		if pr := reasons[parent]; pr != nil {
			for grand, ok := range pr.Parents {
				if ok && !seen[grand] {
					stack = append(stack, grand)
				}
			}
		}
	}
}

// Parents returns the parents that have at least one attributed file.
func (a Attribution) Parents() []string {
	set := make(map[string]bool, len(a))
	for p := range a {
		set[p] = true
	}
	return trace.SortedFiles(set)
}

// IgnoreByPatterns returns an IgnoreFunc that flags files matching any of the
// ignore patterns, regardless of parent.
func IgnoreByPatterns(patterns []string) (IgnoreFunc, error) {
	compiled, err := normalizeIgnorePatterns(patterns)
	if err != nil {
		return nil, err
	}
	if len(compiled) == 0 {
		return nil, nil
	}
	return func(file string, _ string) bool {
		_, hit := matchAny(compiled, trace.ToPosix(file))
		return hit
	}, nil
}
