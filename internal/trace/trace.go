// Package trace is the boundary to the external dependency tracer. A tracer
// turns a set of entry files into the reachable file set, a reason graph, and
// diagnostic warnings; this package defines that shape and decodes it.
package trace

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ReasonInitial marks a file the tracer was asked to start from.
const ReasonInitial = "initial"

// Reason explains why a file is part of the trace.
type Reason struct {
	Type    []string
	Parents map[string]bool
}

// IsEntry reports whether the reason describes an entry point: a single
// "initial" tag and no parents.
func (r *Reason) IsEntry() bool {
	if r == nil {
		return false
	}
	return len(r.Type) == 1 && r.Type[0] == ReasonInitial && len(r.Parents) == 0
}

// Result is what a tracer returns. All paths are POSIX relative paths under
// the base directory the tracer was given.
type Result struct {
	FileList    map[string]bool
	ESMFileList map[string]bool
	Reasons     map[string]*Reason
	Warnings    []string
}

// AllFiles returns FileList and ESMFileList merged into one new set.
func (r *Result) AllFiles() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(r.FileList)+len(r.ESMFileList))
	for _, set := range []map[string]bool{r.FileList, r.ESMFileList} {
		for f, ok := range set {
			if ok {
				out[f] = true
			}
		}
	}
	return out
}

// Tracer computes the dependency closure of entryFiles relative to baseDir.
type Tracer interface {
	Trace(ctx context.Context, entryFiles []string, baseDir string) (*Result, error)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(ctx context.Context, entryFiles []string, baseDir string) (*Result, error)

func (f TracerFunc) Trace(ctx context.Context, entryFiles []string, baseDir string) (*Result, error) {
	return f(ctx, entryFiles, baseDir)
}

// ToPosix converts Windows separators to forward slashes.
func ToPosix(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// SortedFiles returns the members of a file set in lexical order.
func SortedFiles(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for f, ok := range set {
		if ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

type reasonDoc struct {
	Type    []string `json:"type"`
	Parents []string `json:"parents"`
}

type resultDoc struct {
	FileList    []string              `json:"fileList"`
	ESMFileList []string              `json:"esmFileList"`
	Reasons     map[string]*reasonDoc `json:"reasons"`
	Warnings    []string              `json:"warnings"`
}

//go:embed trace.schema.json
var resultSchemaJSON []byte

func compileResultSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("trace.schema.json", bytes.NewReader(resultSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("trace.schema.json")
}

// Decode reads a trace document, validates it against the trace schema, and
// converts it to a Result. Absent optional fields decode as empty.
func Decode(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	schema, err := compileResultSchema()
	if err != nil {
		return nil, fmt.Errorf("compile trace schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}

	var doc resultDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return doc.result(), nil
}

func (d *resultDoc) result() *Result {
	res := &Result{
		FileList:    toSet(d.FileList),
		ESMFileList: toSet(d.ESMFileList),
		Reasons:     make(map[string]*Reason, len(d.Reasons)),
		Warnings:    append([]string{}, d.Warnings...),
	}
	for file, rd := range d.Reasons {
		if rd == nil {
			continue
		}
		res.Reasons[ToPosix(file)] = &Reason{
			Type:    append([]string{}, rd.Type...),
			Parents: toSet(rd.Parents),
		}
	}
	return res
}

// Encode writes r in the document format Decode accepts, with sorted lists.
func Encode(w io.Writer, r *Result) error {
	doc := resultDoc{
		FileList:    SortedFiles(r.FileList),
		ESMFileList: SortedFiles(r.ESMFileList),
		Reasons:     map[string]*reasonDoc{},
		Warnings:    append([]string{}, r.Warnings...),
	}
	for file, reason := range r.Reasons {
		if reason == nil {
			continue
		}
		doc.Reasons[file] = &reasonDoc{
			Type:    append([]string{}, reason.Type...),
			Parents: SortedFiles(reason.Parents),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, p := range in {
		p = ToPosix(strings.TrimSpace(p))
		if p != "" {
			out[p] = true
		}
	}
	return out
}
