package rewrite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRewriter builds a rewriter over a literal rule map with no
// guarded prefixes, in insertion-independent form.
func newTestRewriter(t *testing.T, rules map[string]string, policy Policy) *Rewriter {
	t.Helper()
	rs := make([]Rule, 0, len(rules))
	for from, to := range rules {
		rs = append(rs, Rule{From: from, To: to})
	}
	table, err := NewTable(rs, nil)
	require.NoError(t, err)
	return New(table, policy)
}

func rewriteString(t *testing.T, r *Rewriter, src string) string {
	t.Helper()
	out, err := r.Rewrite(context.Background(), []byte(src))
	require.NoError(t, err)
	return string(out)
}

func TestRewrite_FromImport(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "from backend_a import linalg\n")
	assert.Equal(t, "from backend_b import linalg\n", got)
}

func TestRewrite_PlainImport(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "import backend_a.linalg\n")
	assert.Equal(t, "import backend_b.linalg\n", got)
}

func TestRewrite_AliasedImportKeepsAlias(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "import backend_a.linalg as la\n")
	assert.Equal(t, "import backend_b.linalg as la\n", got)
}

func TestRewrite_MultipleImportsOneStatement(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "import backend_a.ops, backend_a.linalg as la, os\n")
	assert.Equal(t, "import backend_b.ops, backend_b.linalg as la, os\n", got)
}

func TestRewrite_WildcardFromImport(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "from backend_a.ops import *\n")
	assert.Equal(t, "from backend_b.ops import *\n", got)
}

func TestRewrite_ImportedNamesNotRewritten(t *testing.T) {
	// Only the module path moves; the names after "import" stay, even when
	// one of them spells a mapped namespace.
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "from pkg import backend_a, other\n")
	assert.Equal(t, "from pkg import backend_a, other\n", got)
}

func TestRewrite_NoMatchesIsByteIdentical(t *testing.T) {
	src := "import os\nimport sys\n\n\ndef main():\n    return 0\n"
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	assert.Equal(t, src, rewriteString(t, r, src))
}

func TestRewrite_CommentsAndStringsUntouched(t *testing.T) {
	src := `# import backend_a stays a comment
"""Docstring mentioning backend_a.linalg."""
import backend_a

X = "from backend_a import linalg"
`
	want := `# import backend_a stays a comment
"""Docstring mentioning backend_a.linalg."""
import backend_b

X = "from backend_a import linalg"
`
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	assert.Equal(t, want, rewriteString(t, r, src))
}

func TestRewrite_ComponentBoundary(t *testing.T) {
	// "backend_a" must not fire inside "backend_ab".
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got := rewriteString(t, r, "import backend_ab\nfrom backend_ab.sub import x\n")
	assert.Equal(t, "import backend_ab\nfrom backend_ab.sub import x\n", got)
}

func TestRewrite_LongestPrefixWins(t *testing.T) {
	r := newTestRewriter(t, map[string]string{
		"tensorflow":           "backend.generic",
		"tensorflow.compat.v2": "backend.compat2",
	}, Permissive)
	got := rewriteString(t, r, "import tensorflow.compat.v2 as tf\nimport tensorflow as raw\n")
	assert.Equal(t, "import backend.compat2 as tf\nimport backend.generic as raw\n", got)
}

func TestRewrite_IdentityPinShieldsSubtree(t *testing.T) {
	r := newTestRewriter(t, map[string]string{
		"lib":          "lib.generated",
		"lib.internal": "lib.internal",
	}, Permissive)
	got := rewriteString(t, r, "from lib.internal.shim import util\nfrom lib.ops import add\n")
	assert.Equal(t, "from lib.internal.shim import util\nfrom lib.generated.ops import add\n", got)
}

func TestRewrite_RelativeImportsUntouched(t *testing.T) {
	src := "from . import sibling\nfrom ..pkg import thing\nfrom .local import x\n"
	r := newTestRewriter(t, map[string]string{"pkg": "mapped", "local": "mapped"}, Permissive)
	assert.Equal(t, src, rewriteString(t, r, src))
}

func TestRewrite_Idempotent(t *testing.T) {
	src := "import backend_a.linalg as la\nfrom backend_a import ops\n"
	r := newTestRewriter(t, map[string]string{
		"backend_a": "backend_b",
		"backend_b": "backend_b",
	}, Permissive)
	once := rewriteString(t, r, src)
	twice := rewriteString(t, r, once)
	assert.Equal(t, once, twice)
}

func TestRewrite_RoundTrip(t *testing.T) {
	src := "from backend_a import linalg\nimport backend_a.ops as ops\n"
	forward := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	back := newTestRewriter(t, map[string]string{"backend_b": "backend_a"}, Permissive)
	assert.Equal(t, src, rewriteString(t, back, rewriteString(t, forward, src)))
}

func TestRewrite_StrictReportsUnmapped(t *testing.T) {
	table, err := NewTable(
		[]Rule{{From: "backend_a.linalg", To: "backend_b.linalg"}},
		[]string{"backend_a"},
	)
	require.NoError(t, err)
	r := New(table, Strict)

	src := "import os\nfrom backend_a import nest\nimport backend_a.ops as ops\n"
	out, err := r.Rewrite(context.Background(), []byte(src))
	require.Error(t, err)
	assert.Nil(t, out)

	var unmapped *UnmappedError
	require.True(t, errors.As(err, &unmapped))
	require.Len(t, unmapped.Symbols, 2)
	assert.Equal(t, UnmappedSymbol{Path: "backend_a", Line: 2, Col: 6}, unmapped.Symbols[0])
	assert.Equal(t, UnmappedSymbol{Path: "backend_a.ops", Line: 3, Col: 8}, unmapped.Symbols[1])
}

func TestRewrite_StrictIgnoresUnguardedNamespaces(t *testing.T) {
	table, err := NewTable(
		[]Rule{{From: "backend_a", To: "backend_b"}},
		[]string{"backend_a"},
	)
	require.NoError(t, err)
	r := New(table, Strict)

	// os and numpy are outside the guarded roots, so Strict lets them by.
	got, err := r.Rewrite(context.Background(), []byte("import os\nimport numpy as np\nimport backend_a\n"))
	require.NoError(t, err)
	assert.Equal(t, "import os\nimport numpy as np\nimport backend_b\n", string(got))
}

func TestRewrite_PermissivePassesUnmapped(t *testing.T) {
	table, err := NewTable(
		[]Rule{{From: "backend_a.linalg", To: "backend_b.linalg"}},
		[]string{"backend_a"},
	)
	require.NoError(t, err)
	r := New(table, Permissive)

	got, err := r.Rewrite(context.Background(), []byte("from backend_a import nest\n"))
	require.NoError(t, err)
	assert.Equal(t, "from backend_a import nest\n", string(got))
}

func TestRewrite_EmptySource(t *testing.T) {
	r := newTestRewriter(t, map[string]string{"backend_a": "backend_b"}, Permissive)
	got, err := r.Rewrite(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Permissive, "permissive": Permissive, "strict": Strict} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
	_, err := ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "permissive", Permissive.String())
	assert.Equal(t, "strict", Strict.String())
}
