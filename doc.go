// Package substrate rewrites a TensorFlow-targeted Python source tree
// into per-backend variants (NumPy, JAX) by retargeting import
// namespaces, then keeps the generated trees current against a build
// manifest.
//
// # Pipeline
//
// Substrate operates in three phases per run:
//
//  1. Plan: flatten the manifest into (backend, target) pairs, hash each
//     source, and drop pairs whose ledger entry and on-disk output are
//     already current.
//
//  2. Rewrite: parse each source with tree-sitter, substitute import
//     paths by longest-prefix rules, and run the backend's Risor fixup
//     scripts over the result.
//
//  3. Commit: write outputs atomically in deterministic order and record
//     artifacts and the run in the SQLite ledger.
//
// # Usage
//
// Load a manifest, create an Engine, and generate:
//
//	m, err := substrate.LoadManifest("substrate.yaml")
//	if err != nil { ... }
//	e, err := substrate.New("substrate.db", m, projectRoot)
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	res, err := e.Generate(ctx, "")
//
// # Change Detection
//
// Every artifact records the source hash, output hash, and a fingerprint
// of the rule stack (table, policy, fixup scripts) that produced it.
// [Engine.Generate] skips targets whose recorded hashes still match,
// [Engine.Check] reports drift without writing, and [Engine.Watch]
// follows filesystem events and regenerates changed targets. Use
// [WithForce] to regenerate everything.
//
// # Manifest
//
// substrate.yaml names the backends and the package layout: which
// modules exist, which tests pair with them, which tests are disabled
// per backend, and extra dependencies per module. See [Manifest] for the
// schema and [LoadManifest] to read one.
//
// # Fixups
//
// Post-rewrite text transforms live in Risor scripts, embedded by
// default and overridable per Engine via [WithFixupsFS] or
// [WithFixupsDir]. A script receives the rewritten source and target
// metadata as globals and evaluates to the new content as a string, or
// nil to leave the content unchanged.
package substrate
