// Package diag is the diagnostic channel shared by the materialization
// components. Every exclusion, warning, skip, and completion summary is
// emitted through a Sink so callers decide where the output goes.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Sink receives diagnostics. Args are slog-style key/value pairs.
type Sink interface {
	Emit(msg string, args ...any)
}

type discard struct{}

func (discard) Emit(string, ...any) {}

// Discard drops every diagnostic.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// SlogSink writes diagnostics to a slog.Logger at info level, or at warn level
// when the record carries a "warning" or "error" key.
type SlogSink struct {
	Logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger.With("component", "standalone")}
}

func (s *SlogSink) Emit(msg string, args ...any) {
	if s == nil || s.Logger == nil {
		return
	}
	level := slog.LevelInfo
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok && (k == "warning" || k == "error") {
			level = slog.LevelWarn
			break
		}
	}
	s.Logger.Log(context.Background(), level, msg, args...)
}

// With returns a sink that appends args to every record emitted through it.
func With(s Sink, args ...any) Sink {
	s = OrDiscard(s)
	if len(args) == 0 {
		return s
	}
	return &withSink{next: s, args: append([]any{}, args...)}
}

type withSink struct {
	next Sink
	args []any
}

func (w *withSink) Emit(msg string, args ...any) {
	all := make([]any, 0, len(w.args)+len(args))
	all = append(all, args...)
	all = append(all, w.args...)
	w.next.Emit(msg, all...)
}

// Record is one captured diagnostic.
type Record struct {
	Msg   string
	Attrs map[string]any
}

// Recorder captures diagnostics in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Emit(msg string, args ...any) {
	attrs := map[string]any{}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 < len(args) {
			attrs[key] = args[i+1]
		} else {
			attrs[key] = nil
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Msg: msg, Attrs: attrs})
}

// Records returns a copy of everything captured so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record{}, r.records...)
}

// Messages returns the captured records with the given message.
func (r *Recorder) Messages(msg string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Msg == msg {
			out = append(out, rec)
		}
	}
	return out
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
