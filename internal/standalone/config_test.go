package standalone

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/strongdm/standalone/internal/trace"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	mustWriteFile(t, path, body)
	return path
}

func TestLoadConfigFile_YAMLAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "standalone.yaml", `
version: 1
entries:
  - dist/server.js
ignore:
  - "node_modules/@prisma/engines/**"
trace:
  file: trace.json
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.OutputFolder != DefaultOutputFolder || cfg.Concurrency != DefaultConcurrency || cfg.IsolatedResolution != IsolatedAuto {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if got, want := cfg.RootDir(), dir; got != want {
		t.Fatalf("root=%q want %q", got, want)
	}
	if got, want := cfg.OutputDir(), filepath.Join(dir, "standalone"); got != want {
		t.Fatalf("output=%q want %q", got, want)
	}
	if got, want := cfg.EntryPaths(), []string{filepath.Join(dir, "dist", "server.js")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("entries=%v want %v", got, want)
	}
	tr, err := cfg.Tracer()
	if err != nil {
		t.Fatal(err)
	}
	ft, ok := tr.(trace.FileTracer)
	if !ok || ft.Path != filepath.Join(dir, "trace.json") {
		t.Fatalf("tracer=%#v", tr)
	}
}

func TestLoadConfigFile_JSONWithRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "standalone.json", `{
  "version": 1,
  "root": "app",
  "base": "..",
  "output_folder": ".next/standalone",
  "concurrency": 3,
  "trace": {"command": ["node", "trace.js"]}
}`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if got, want := cfg.RootDir(), filepath.Join(dir, "app"); got != want {
		t.Fatalf("root=%q want %q", got, want)
	}
	if got, want := cfg.BaseDir(), dir; got != want {
		t.Fatalf("base=%q want %q", got, want)
	}
	if got, want := cfg.OutputDir(), filepath.Join(dir, "app", ".next", "standalone"); got != want {
		t.Fatalf("output=%q want %q", got, want)
	}
	if cfg.Concurrency != 3 {
		t.Fatalf("concurrency=%d", cfg.Concurrency)
	}
	tr, err := cfg.Tracer()
	if err != nil {
		t.Fatal(err)
	}
	if ct, ok := tr.(trace.CommandTracer); !ok || !reflect.DeepEqual(ct.Command, []string{"node", "trace.js"}) {
		t.Fatalf("tracer=%#v", tr)
	}
}

func TestLoadConfigFile_RejectsInvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"version":          "version: 2\n",
		"absolute output":  "output_folder: /tmp/out\n",
		"dot output":       "output_folder: .\n",
		"parent output":    "output_folder: ../out\n",
		"concurrency":      "concurrency: -1\n",
		"ignore pattern":   "ignore: ['[unclosed']\n",
		"both tracers":     "trace:\n  file: t.json\n  command: [node]\n",
		"isolated setting": "isolated_resolution: sometimes\n",
		"malformed yaml":   "ignore: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "standalone.yaml", body)
			if _, err := LoadConfigFile(path); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestConfig_TracerRequired(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	if _, err := cfg.Tracer(); err == nil || !strings.Contains(err.Error(), "no tracer configured") {
		t.Fatalf("err=%v", err)
	}
	if _, err := cfg.RunOptions(nil); err == nil {
		t.Fatal("expected RunOptions to fail without a tracer")
	}
}

func TestConfig_RunOptionsDetectsIsolatedResolution(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, ".pnp.cjs"), "")
	cfg := DefaultConfig(root)
	cfg.Trace.File = "trace.json"
	cfg.Ignore = []string{"**/*.map"}
	cfg.AdditionalFiles = []string{"public/robots.txt"}
	if err := cfg.Finalize(); err != nil {
		t.Fatal(err)
	}

	opts, err := cfg.RunOptions(nil)
	if err != nil {
		t.Fatalf("RunOptions: %v", err)
	}
	if !opts.IsolatedResolution {
		t.Fatal("expected isolated resolution to be detected")
	}
	if opts.BaseDir != root || opts.OutputDir != filepath.Join(root, DefaultOutputFolder) {
		t.Fatalf("opts=%+v", opts)
	}
	if !reflect.DeepEqual(opts.Ignore, cfg.Ignore) || !reflect.DeepEqual(opts.AdditionalFiles, cfg.AdditionalFiles) {
		t.Fatalf("opts=%+v", opts)
	}

	cfg.IsolatedResolution = IsolatedOff
	opts, err = cfg.RunOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.IsolatedResolution {
		t.Fatal("isolated_resolution=off must win over detection")
	}
}
