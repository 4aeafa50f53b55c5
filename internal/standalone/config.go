package standalone

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/strongdm/standalone/internal/diag"
	"github.com/strongdm/standalone/internal/trace"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOutputFolder = "standalone"

	IsolatedAuto = "auto"
	IsolatedOn   = "on"
	IsolatedOff  = "off"
)

type ConfigFile struct {
	Version int `json:"version" yaml:"version"`

	// Root is the project root. Relative paths elsewhere in the file resolve
	// against it. Defaults to the directory holding the config file.
	Root string `json:"root" yaml:"root"`
	// Base is the directory the tracer reports paths relative to.
	Base string `json:"base" yaml:"base"`

	OutputFolder    string   `json:"output_folder" yaml:"output_folder"`
	Ignore          []string `json:"ignore" yaml:"ignore"`
	AdditionalFiles []string `json:"additional_files" yaml:"additional_files"`
	Concurrency     int      `json:"concurrency" yaml:"concurrency"`
	Entries         []string `json:"entries" yaml:"entries"`

	Trace struct {
		File    string   `json:"file" yaml:"file"`
		Command []string `json:"command" yaml:"command"`
	} `json:"trace" yaml:"trace"`

	IsolatedResolution string `json:"isolated_resolution" yaml:"isolated_resolution"`
	Archive            string `json:"archive" yaml:"archive"`
	AttributionReport  string `json:"attribution_report" yaml:"attribution_report"`
}

func LoadConfigFile(path string) (*ConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ConfigFile
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.Root) == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		cfg.Root = abs
	} else if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config for root with every default applied and no
// trace source set.
func DefaultConfig(root string) *ConfigFile {
	cfg := &ConfigFile{Root: root}
	applyConfigDefaults(cfg)
	return cfg
}

// Finalize applies defaults and validates. Call it after overriding fields.
func (cfg *ConfigFile) Finalize() error {
	applyConfigDefaults(cfg)
	return validateConfig(cfg)
}

func applyConfigDefaults(cfg *ConfigFile) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "."
	}
	if strings.TrimSpace(cfg.OutputFolder) == "" {
		cfg.OutputFolder = DefaultOutputFolder
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if strings.TrimSpace(cfg.IsolatedResolution) == "" {
		cfg.IsolatedResolution = IsolatedAuto
	}
}

func validateConfig(cfg *ConfigFile) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	out := filepath.Clean(filepath.FromSlash(strings.TrimSpace(cfg.OutputFolder)))
	if filepath.IsAbs(out) {
		return fmt.Errorf("output_folder must be relative to root: %q", cfg.OutputFolder)
	}
	if out == "." || out == ".." || strings.HasPrefix(out, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output_folder must name a directory inside root: %q", cfg.OutputFolder)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	for _, p := range cfg.Ignore {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if !doublestar.ValidatePattern(strings.TrimSpace(p)) {
			return fmt.Errorf("invalid ignore pattern: %q", p)
		}
	}
	hasFile := strings.TrimSpace(cfg.Trace.File) != ""
	hasCommand := len(cfg.Trace.Command) > 0
	if hasFile && hasCommand {
		return fmt.Errorf("trace.file and trace.command are mutually exclusive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.IsolatedResolution)) {
	case IsolatedAuto, IsolatedOn, IsolatedOff:
		// ok
	default:
		return fmt.Errorf("invalid isolated_resolution: %q (want auto|on|off)", cfg.IsolatedResolution)
	}
	return nil
}

func (cfg *ConfigFile) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.RootDir(), filepath.FromSlash(p))
}

func (cfg *ConfigFile) RootDir() string {
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return filepath.Clean(cfg.Root)
	}
	return abs
}

func (cfg *ConfigFile) BaseDir() string {
	if strings.TrimSpace(cfg.Base) == "" {
		return cfg.RootDir()
	}
	return cfg.resolve(cfg.Base)
}

func (cfg *ConfigFile) OutputDir() string {
	return cfg.resolve(cfg.OutputFolder)
}

func (cfg *ConfigFile) ArchivePath() string {
	return cfg.resolve(cfg.Archive)
}

func (cfg *ConfigFile) AttributionReportPath() string {
	return cfg.resolve(cfg.AttributionReport)
}

// EntryPaths returns the configured entries as absolute paths.
func (cfg *ConfigFile) EntryPaths() []string {
	out := make([]string, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		if p := cfg.resolve(e); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Tracer builds the tracer the config names.
func (cfg *ConfigFile) Tracer() (trace.Tracer, error) {
	switch {
	case strings.TrimSpace(cfg.Trace.File) != "":
		return trace.FileTracer{Path: cfg.resolve(cfg.Trace.File)}, nil
	case len(cfg.Trace.Command) > 0:
		return trace.CommandTracer{Command: append([]string{}, cfg.Trace.Command...)}, nil
	default:
		return nil, fmt.Errorf("no tracer configured: set trace.file or trace.command")
	}
}

// RunOptions turns the config into orchestrator options.
func (cfg *ConfigFile) RunOptions(sink diag.Sink) (Options, error) {
	tracer, err := cfg.Tracer()
	if err != nil {
		return Options{}, err
	}
	isolated, err := ResolveIsolatedResolution(cfg.IsolatedResolution, cfg.RootDir())
	if err != nil {
		return Options{}, err
	}
	return Options{
		EntryFiles:         cfg.EntryPaths(),
		BaseDir:            cfg.BaseDir(),
		OutputDir:          cfg.OutputDir(),
		Ignore:             append([]string{}, cfg.Ignore...),
		AdditionalFiles:    append([]string{}, cfg.AdditionalFiles...),
		Concurrency:        cfg.Concurrency,
		Tracer:             tracer,
		Sink:               sink,
		IsolatedResolution: isolated,
	}, nil
}
