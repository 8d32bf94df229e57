package substrate

import (
	"github.com/jcast/substrate/internal/manifest"
	"github.com/jcast/substrate/internal/rewrite"
	"github.com/jcast/substrate/internal/store"
)

// Public type aliases for internal types surfaced by the Engine API.
// These are Go type aliases (=), identical to the internal types at
// compile time, so external consumers need no conversion.

type Store = store.Store
type Artifact = store.Artifact
type Run = store.Run
type BackendSummary = store.BackendSummary

type Manifest = manifest.Manifest
type Target = manifest.Target

type Policy = rewrite.Policy
type UnmappedError = rewrite.UnmappedError
type UnmappedSymbol = rewrite.UnmappedSymbol

// Rewrite policies for unmapped references under guarded namespaces.
const (
	Permissive = rewrite.Permissive
	Strict     = rewrite.Strict
)

// Run kinds recorded in the ledger.
const (
	RunGenerate = store.RunGenerate
	RunCheck    = store.RunCheck
	RunWatch    = store.RunWatch
)

// Target kinds.
const (
	KindModule = manifest.KindModule
	KindTest   = manifest.KindTest
)
