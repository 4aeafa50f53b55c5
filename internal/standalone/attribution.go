package standalone

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/strongdm/standalone/internal/trace"
)

// ParentCost is the footprint attributed to one parent file.
type ParentCost struct {
	Parent       string `json:"parent"`
	Entry        bool   `json:"entry,omitempty"`
	Files        int    `json:"files"`
	Bytes        int64  `json:"bytes"`
	IgnoredFiles int    `json:"ignored_files"`
	IgnoredBytes int64  `json:"ignored_bytes"`
}

type AttributionReport struct {
	Parents     []ParentCost `json:"parents"`
	GeneratedAt string       `json:"generated_at"`
}

// BuildAttributionReport sizes every parent in a from the files under
// baseDir. Files that cannot be stat'ed count as zero bytes. Parents are
// ordered by bytes, largest first.
func BuildAttributionReport(baseDir string, a Attribution, reasons map[string]*trace.Reason) *AttributionReport {
	sizes := map[string]int64{}
	sizeOf := func(file string) int64 {
		if n, ok := sizes[file]; ok {
			return n
		}
		var n int64
		if info, err := os.Lstat(filepath.Join(baseDir, filepath.FromSlash(file))); err == nil {
			n = info.Size()
		}
		sizes[file] = n
		return n
	}

	report := &AttributionReport{
		Parents:     make([]ParentCost, 0, len(a)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, parent := range a.Parents() {
		pc := ParentCost{Parent: parent, Entry: reasons[parent].IsEntry()}
		for file, fa := range a[parent] {
			n := sizeOf(file)
			if fa.Ignored {
				pc.IgnoredFiles++
				pc.IgnoredBytes += n
				continue
			}
			pc.Files++
			pc.Bytes += n
		}
		report.Parents = append(report.Parents, pc)
	}
	sort.SliceStable(report.Parents, func(i, j int) bool {
		if report.Parents[i].Bytes != report.Parents[j].Bytes {
			return report.Parents[i].Bytes > report.Parents[j].Bytes
		}
		return report.Parents[i].Parent < report.Parents[j].Parent
	})
	return report
}

// EntriesOnly returns the report restricted to entry-point parents.
func (r *AttributionReport) EntriesOnly() *AttributionReport {
	out := &AttributionReport{GeneratedAt: r.GeneratedAt, Parents: []ParentCost{}}
	for _, pc := range r.Parents {
		if pc.Entry {
			out.Parents = append(out.Parents, pc)
		}
	}
	return out
}

func WriteAttributionReport(path string, r *AttributionReport) error {
	return writeJSON(path, r)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
