package rewrite

import (
	"fmt"
	"strings"
)

// UnmappedSymbol is a guarded import path the table has no rule for.
// Line and Col are 1-based positions of the path in the source.
type UnmappedSymbol struct {
	Path string
	Line int
	Col  int
}

func (s UnmappedSymbol) String() string {
	return fmt.Sprintf("%d:%d: %s", s.Line, s.Col, s.Path)
}

// UnmappedError reports guarded import paths the table cannot retarget.
// It is returned only under the Strict policy, and only after the whole
// file has been scanned, so Symbols lists every offender at once.
type UnmappedError struct {
	Symbols []UnmappedSymbol
}

func (e *UnmappedError) Error() string {
	if len(e.Symbols) == 1 {
		return fmt.Sprintf("unmapped backend reference at %s", e.Symbols[0])
	}
	locs := make([]string, len(e.Symbols))
	for i, s := range e.Symbols {
		locs[i] = s.String()
	}
	return fmt.Sprintf("%d unmapped backend references: %s",
		len(e.Symbols), strings.Join(locs, ", "))
}
