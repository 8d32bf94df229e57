// Package rewrite retargets the import namespaces of Python source files
// between numerical backends. Substitution is confined to the module paths
// of import statements, so formatting, comments, docstrings, aliases, and
// license headers pass through byte for byte.
package rewrite

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Policy controls how the rewriter treats guarded import paths that have
// no matching rule.
type Policy int

const (
	// Permissive leaves unmapped paths unchanged.
	Permissive Policy = iota
	// Strict fails the whole file when a guarded path has no rule.
	Strict
)

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "permissive"
}

// ParsePolicy converts a configuration string into a Policy. The empty
// string selects Permissive.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	}
	return Permissive, fmt.Errorf("unknown policy %q (want permissive or strict)", s)
}

// importQuery captures the module path of every absolute import form:
// plain imports, aliased imports, and from-imports. The module_name field
// qualifier keeps from-import name lists out of the capture set, and
// relative imports never put a bare dotted_name in that field.
const importQuery = `
(import_statement (dotted_name) @path)
(import_statement (aliased_import name: (dotted_name) @path))
(import_from_statement module_name: (dotted_name) @path)
`

// Rewriter applies one Table to Python sources. It holds no per-call
// state and is safe for concurrent use.
type Rewriter struct {
	table  *Table
	policy Policy
}

// New returns a Rewriter over table with the given policy.
func New(table *Table, policy Policy) *Rewriter {
	return &Rewriter{table: table, policy: policy}
}

// Table returns the rewriter's compiled table.
func (r *Rewriter) Table() *Table { return r.table }

// Policy returns the rewriter's unmapped-reference policy.
func (r *Rewriter) Policy() Policy { return r.policy }

// importSpan locates one captured module path within the source.
type importSpan struct {
	start uint32
	end   uint32
	line  int // 1-based
	col   int // 1-based
}

// Rewrite returns src with every import module path retargeted through
// the table. The output differs from the input only inside substituted
// paths; a source with no matching imports comes back byte-identical.
// Under Strict, a guarded path with no rule aborts the call with an
// *UnmappedError listing every offender, and no output is produced.
func (r *Rewriter) Rewrite(ctx context.Context, src []byte) ([]byte, error) {
	spans, err := importSpans(ctx, src)
	if err != nil {
		return nil, err
	}

	type edit struct {
		importSpan
		text string
	}
	var edits []edit
	var unmapped []UnmappedSymbol
	for _, sp := range spans {
		path := string(src[sp.start:sp.end])
		mapped, ok := r.table.Lookup(path)
		if !ok {
			if r.policy == Strict && r.table.Guarded(path) {
				unmapped = append(unmapped, UnmappedSymbol{Path: path, Line: sp.line, Col: sp.col})
			}
			continue
		}
		if mapped == path {
			continue
		}
		edits = append(edits, edit{importSpan: sp, text: mapped})
	}
	if len(unmapped) > 0 {
		return nil, &UnmappedError{Symbols: unmapped}
	}

	var buf bytes.Buffer
	buf.Grow(len(src) + 256)
	var last uint32
	for _, e := range edits {
		buf.Write(src[last:e.start])
		buf.WriteString(e.text)
		last = e.end
	}
	buf.Write(src[last:])
	return buf.Bytes(), nil
}

// importSpans parses src and returns the byte spans of all import module
// paths, ascending and non-overlapping.
func importSpans(ctx context.Context, src []byte) ([]importSpan, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing source: %w", err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(importQuery), python.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("compiling import query: %w", err)
	}
	defer q.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, tree.RootNode())

	var spans []importSpan
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, src)
		for _, capture := range match.Captures {
			node := capture.Node
			pt := node.StartPoint()
			spans = append(spans, importSpan{
				start: node.StartByte(),
				end:   node.EndByte(),
				line:  int(pt.Row) + 1,
				col:   int(pt.Column) + 1,
			})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return dedupeSpans(spans), nil
}

// dedupeSpans drops exact duplicate captures from a sorted span list.
func dedupeSpans(spans []importSpan) []importSpan {
	out := spans[:0]
	for _, sp := range spans {
		if n := len(out); n > 0 && out[n-1].start == sp.start && out[n-1].end == sp.end {
			continue
		}
		out = append(out, sp)
	}
	return out
}
