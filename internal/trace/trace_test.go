package trace

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

const sampleTrace = `{
  "fileList": ["dist/server.js", "node_modules/a/index.js", "node_modules\\b\\index.js"],
  "esmFileList": ["node_modules/c/index.mjs"],
  "reasons": {
    "dist/server.js": {"type": ["initial"], "parents": []},
    "node_modules/a/index.js": {"type": ["dependency"], "parents": ["dist/server.js"]}
  },
  "warnings": ["Cannot find module 'optional-dep'"]
}`

func TestDecode_ConvertsListsToSets(t *testing.T) {
	res, err := Decode(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.FileList) != 3 {
		t.Fatalf("fileList=%v", res.FileList)
	}
	if !res.FileList["node_modules/b/index.js"] {
		t.Fatalf("expected backslash path normalized, got %v", res.FileList)
	}
	if !res.ESMFileList["node_modules/c/index.mjs"] {
		t.Fatalf("esmFileList=%v", res.ESMFileList)
	}
	if !res.Reasons["dist/server.js"].IsEntry() {
		t.Fatal("dist/server.js should be an entry")
	}
	if res.Reasons["node_modules/a/index.js"].IsEntry() {
		t.Fatal("dependency should not be an entry")
	}
	if !res.Reasons["node_modules/a/index.js"].Parents["dist/server.js"] {
		t.Fatalf("parents=%v", res.Reasons["node_modules/a/index.js"].Parents)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings=%v", res.Warnings)
	}
}

func TestDecode_OptionalFieldsAbsent(t *testing.T) {
	res, err := Decode(strings.NewReader(`{"fileList": []}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.FileList) != 0 || len(res.ESMFileList) != 0 || len(res.Reasons) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestDecode_RejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing fileList": `{"warnings": []}`,
		"wrong type":       `{"fileList": "a.js"}`,
		"empty path":       `{"fileList": [""]}`,
		"bad parents":      `{"fileList": ["a"], "reasons": {"a": {"parents": "b"}}}`,
	}
	for name, doc := range cases {
		if _, err := Decode(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	res, err := Decode(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, res); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	if strings.Join(SortedFiles(again.FileList), ",") != strings.Join(SortedFiles(res.FileList), ",") {
		t.Fatalf("fileList changed: %v vs %v", again.FileList, res.FileList)
	}
}

func TestFileTracer_ReadsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	if err := os.WriteFile(path, []byte(sampleTrace), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := FileTracer{Path: path}.Trace(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.FileList) != 3 {
		t.Fatalf("fileList=%v", res.FileList)
	}
}

func TestFileTracer_MissingFileIsError(t *testing.T) {
	_, err := FileTracer{Path: filepath.Join(t.TempDir(), "nope.json")}.Trace(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCommandTracer_PassesEntriesAndParsesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	base := t.TempDir()
	script := `printf '{"fileList": ["%s"], "warnings": ["base=%s"]}' "$1" "$STANDALONE_BASE"`
	tr := CommandTracer{Command: []string{"sh", "-c", script, "tracer"}}
	res, err := tr.Trace(context.Background(), []string{"dist/server.js"}, base)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if !res.FileList["dist/server.js"] {
		t.Fatalf("fileList=%v", res.FileList)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "base="+base {
		t.Fatalf("warnings=%v", res.Warnings)
	}
}

func TestCommandTracer_NonZeroExitIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tr := CommandTracer{Command: []string{"sh", "-c", "echo boom >&2; exit 3"}}
	_, err := tr.Trace(context.Background(), nil, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestResult_AllFilesMergesESMList(t *testing.T) {
	res := &Result{
		FileList:    map[string]bool{"server.js": true, "stale.js": false},
		ESMFileList: map[string]bool{"esm.mjs": true, "server.js": true},
	}
	got := res.AllFiles()
	want := map[string]bool{"server.js": true, "esm.mjs": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	got["extra.js"] = true
	if res.FileList["extra.js"] || res.ESMFileList["extra.js"] {
		t.Fatal("AllFiles must return a new set")
	}
	if n := len((*Result)(nil).AllFiles()); n != 0 {
		t.Fatalf("nil result gave %d files", n)
	}
}
