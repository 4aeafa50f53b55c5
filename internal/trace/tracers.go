package trace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FileTracer serves a trace document written ahead of time by an external
// tracer. Entry files are ignored; the document already reflects them.
type FileTracer struct {
	Path string
}

func (t FileTracer) Trace(ctx context.Context, _ []string, _ string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(t.Path)
	if path == "" {
		return nil, fmt.Errorf("trace file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	res, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// CommandTracer runs an external tracer process. Entry files are appended to
// Command as arguments, the process runs in baseDir with STANDALONE_BASE set,
// and its stdout must be a trace document.
type CommandTracer struct {
	Command []string
	Env     []string
}

func (t CommandTracer) Trace(ctx context.Context, entryFiles []string, baseDir string) (*Result, error) {
	if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
		return nil, fmt.Errorf("trace command is required")
	}
	args := append(append([]string{}, t.Command[1:]...), entryFiles...)
	cmd := exec.CommandContext(ctx, t.Command[0], args...)
	cmd.Dir = baseDir
	cmd.Env = append(append(os.Environ(), t.Env...), "STANDALONE_BASE="+baseDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("trace command %q: %w", t.Command[0], err)
		}
		return nil, fmt.Errorf("trace command %q: %w: %s", t.Command[0], err, msg)
	}
	res, err := Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("trace command %q: %w", t.Command[0], err)
	}
	return res, nil
}
