package standalone

import (
	"reflect"
	"testing"

	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/trace"
)

func setOf(files ...string) map[string]bool {
	out := map[string]bool{}
	for _, f := range files {
		out[f] = true
	}
	return out
}

func TestFilterIgnored_ExcludesScopedPackage(t *testing.T) {
	got, err := FilterIgnored(setOf("a", "b", "node_modules/@prisma/client"), []string{"**/@prisma/*"}, nil)
	if err != nil {
		t.Fatalf("FilterIgnored: %v", err)
	}
	if want := setOf("a", "b"); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFilterIgnored_EmptyPatternsReturnInput(t *testing.T) {
	in := setOf("a", "node_modules/x/index.js", ".env")
	got, err := FilterIgnored(in, nil, nil)
	if err != nil {
		t.Fatalf("FilterIgnored: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %v want %v", got, in)
	}
	got["extra"] = true
	if in["extra"] {
		t.Fatal("result must not alias the input set")
	}
}

func TestFilterIgnored_AnyPatternExcludes(t *testing.T) {
	in := setOf("src/a.js", "src/a.map", "docs/readme.md", "lib/b.js")
	got, err := FilterIgnored(in, []string{"**/*.map", "docs/**"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := setOf("src/a.js", "lib/b.js"); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFilterIgnored_BraceExpansionAndDotfiles(t *testing.T) {
	in := setOf(
		"node_modules/.bin/tsc",
		"node_modules/pkg/.cache/blob",
		"node_modules/pkg/README.md",
		"node_modules/pkg/LICENSE",
		"node_modules/pkg/index.js",
	)
	got, err := FilterIgnored(in, []string{"**/.{bin,cache}/**", "**/{README.md,LICENSE}"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := setOf("node_modules/pkg/index.js"); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFilterIgnored_NormalizesBackslashes(t *testing.T) {
	got, err := FilterIgnored(setOf(`node_modules\sharp\vendor\lib.so`, "keep.js"), []string{"node_modules/sharp/**"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := setOf("keep.js"); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFilterIgnored_UnmatchedPatternIsNotError(t *testing.T) {
	in := setOf("a.js")
	got, err := FilterIgnored(in, []string{"nothing/**"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %v", got)
	}
}

func TestFilterIgnored_InvalidPattern(t *testing.T) {
	if _, err := FilterIgnored(setOf("a"), []string{"[unclosed"}, nil); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestFilterIgnored_EmitsOneDiagnosticPerExclusion(t *testing.T) {
	rec := &diag.Recorder{}
	_, err := FilterIgnored(setOf("a.map", "b.map", "c.js"), []string{"*.map"}, rec)
	if err != nil {
		t.Fatal(err)
	}
	got := rec.Messages("file ignored")
	if len(got) != 2 {
		t.Fatalf("diagnostics=%d want 2", len(got))
	}
	files := []string{}
	for _, r := range got {
		files = append(files, r.Attrs["file"].(string))
	}
	if sorted := trace.SortedFiles(setOf(files...)); !reflect.DeepEqual(sorted, []string{"a.map", "b.map"}) {
		t.Fatalf("files=%v", sorted)
	}
}
