package substrate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcast/substrate/internal/fixup"
	"github.com/jcast/substrate/internal/manifest"
	"github.com/jcast/substrate/internal/rewrite"
	"github.com/jcast/substrate/internal/store"
)

// Engine orchestrates the substrate pipeline: target planning, change
// detection, namespace rewriting, fixup scripts, and ledger bookkeeping.
type Engine struct {
	store    *store.Store
	manifest *manifest.Manifest
	rootDir  string
	fixups   *fixup.Engine
	logger   *zap.Logger

	fixupsFS  fs.FS
	fixupsDir string

	// states holds one compiled entry per selected backend, in manifest
	// order.
	states []*backendState

	selected       []string
	policyOverride *rewrite.Policy
	force          bool

	// useParallel enables the parallel rewrite pipeline.
	useParallel bool
}

// backendState is one backend's configuration compiled at New time: the
// merged rule table, the effective policy, and the fixup chain, plus a
// fingerprint of all three for change detection.
type backendState struct {
	name      string
	rewriter  *rewrite.Rewriter
	fixups    []string
	stackHash string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackends restricts which backends the Engine generates. Default is
// every backend declared in the manifest.
func WithBackends(names ...string) Option {
	return func(e *Engine) {
		e.selected = names
	}
}

// WithPolicy overrides every backend's unmapped-reference policy.
func WithPolicy(p rewrite.Policy) Option {
	return func(e *Engine) {
		e.policyOverride = &p
	}
}

// WithForce makes Generate rewrite every target even when the ledger
// says it is current.
func WithForce(force bool) Option {
	return func(e *Engine) {
		e.force = force
	}
}

// WithParallel controls parallel generation. When true (default),
// Generate rewrites targets through a worker pool, with a single serial
// phase writing outputs and ledger rows. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithLogger routes engine and fixup-script logging through l. Default
// is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFixupsFS configures the Engine to load fixup scripts from the
// given filesystem instead of the embedded default set. This enables
// shipping custom scripts via go:embed.
func WithFixupsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.fixupsFS = fsys
	}
}

// WithFixupsDir configures the Engine to load fixup scripts from a
// directory on disk instead of the embedded default set.
func WithFixupsDir(dir string) Option {
	return func(e *Engine) {
		e.fixupsDir = dir
	}
}

// New creates an Engine backed by a SQLite ledger at dbPath. The
// manifest must validate; rootDir is the directory its package paths and
// out_dir resolve against. Fixup script loading priority:
//  1. If WithFixupsFS is set, use the provided fs.FS
//  2. If WithFixupsDir is set, use the directory on disk
//  3. Otherwise, use the embedded default scripts
func New(dbPath string, m *manifest.Manifest, rootDir string, opts ...Option) (*Engine, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("substrate: manifest: %w", err)
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("substrate: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("substrate: migrate: %w", err)
	}

	e := &Engine{
		store:       s,
		manifest:    m,
		rootDir:     rootDir,
		logger:      zap.NewNop(),
		useParallel: true, // default to parallel generation
	}
	for _, opt := range opts {
		opt(e)
	}

	// Build the fixup engine with the appropriate script source.
	fixOpts := []fixup.Option{fixup.WithLogger(e.logger)}
	switch {
	case e.fixupsFS != nil:
		fixOpts = append(fixOpts, fixup.WithFS(e.fixupsFS))
	case e.fixupsDir != "":
		fixOpts = append(fixOpts, fixup.WithDir(e.fixupsDir))
	default:
		fixOpts = append(fixOpts, fixup.WithFS(DefaultFixups()))
	}
	e.fixups = fixup.NewEngine(fixOpts...)

	if err := e.compileBackends(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SetMeta("project", m.Project); err != nil {
		s.Close()
		return nil, fmt.Errorf("substrate: store project: %w", err)
	}
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying ledger Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Manifest returns the build description the Engine was created with.
func (e *Engine) Manifest() *manifest.Manifest {
	return e.manifest
}

// Root returns the directory manifest paths resolve against.
func (e *Engine) Root() string {
	return e.rootDir
}

// Backends returns the names of the backends this Engine generates, in
// manifest order.
func (e *Engine) Backends() []string {
	names := make([]string, len(e.states))
	for i, st := range e.states {
		names[i] = st.name
	}
	return names
}

// compileBackends builds one backendState per selected backend. A
// backend named by WithBackends must exist in the manifest, and every
// fixup script a backend references must be loadable.
func (e *Engine) compileBackends() error {
	selected := make(map[string]bool, len(e.selected))
	for _, name := range e.selected {
		if _, ok := e.manifest.Backend(name); !ok {
			return fmt.Errorf("substrate: unknown backend %q", name)
		}
		selected[name] = true
	}
	for i := range e.manifest.Backends {
		b := &e.manifest.Backends[i]
		if len(selected) > 0 && !selected[b.Name] {
			continue
		}
		table, err := b.Table()
		if err != nil {
			return fmt.Errorf("substrate: %w", err)
		}
		policy, err := b.RulePolicy()
		if err != nil {
			return fmt.Errorf("substrate: %w", err)
		}
		if e.policyOverride != nil {
			policy = *e.policyOverride
		}
		for _, name := range b.Fixups {
			if !e.fixups.Has(name) {
				return fmt.Errorf("substrate: backend %s: fixup script %q not found", b.Name, name)
			}
		}
		e.states = append(e.states, &backendState{
			name:      b.Name,
			rewriter:  rewrite.New(table, policy),
			fixups:    b.Fixups,
			stackHash: e.stackHash(table, policy, b.Fixups),
		})
	}
	return nil
}

func (e *Engine) state(name string) (*backendState, error) {
	for _, st := range e.states {
		if st.name == name {
			return st, nil
		}
	}
	return nil, fmt.Errorf("substrate: unknown backend %q", name)
}

// stackHash fingerprints everything besides the source that shapes a
// backend's outputs: the compiled rule table, the policy, and the fixup
// scripts. A change to any of them invalidates prior artifacts.
func (e *Engine) stackHash(table *rewrite.Table, policy rewrite.Policy, fixups []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "table:%s\n", table.Hash())
	fmt.Fprintf(h, "policy:%s\n", policy)
	for _, name := range fixups {
		src, err := e.fixups.Load(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "fixup:%s\n%s\n", name, src)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// absPath resolves a forward-slash path under the manifest root.
func (e *Engine) absPath(rel string) string {
	return filepath.Join(e.rootDir, filepath.FromSlash(rel))
}

// FileResult is the outcome for one (backend, target) pair.
type FileResult struct {
	Backend string `json:"backend"`
	Target  string `json:"target"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result summarizes one Generate call.
type Result struct {
	RunID    string        `json:"run_id"`
	Written  []FileResult  `json:"written,omitempty"`
	Failed   []FileResult  `json:"failed,omitempty"`
	Skipped  int           `json:"skipped"`
	Pruned   []string      `json:"pruned,omitempty"`
	Duration time.Duration `json:"duration"`
}

// genItem is one (backend, target) unit of work, prepared serially and
// rewritten by workers.
type genItem struct {
	state   *backendState
	target  manifest.Target
	source  []byte
	srcHash string
	// outPath is the output location in forward-slash form, relative to
	// the manifest root.
	outPath string
}

// genOut is a rewritten item ready for the commit phase.
type genOut struct {
	item    genItem
	content []byte
	outHash string
	err     error
}

// Generate produces the backend trees for every target matching pattern
// (empty selects all). Targets whose ledger entry and on-disk output
// both match the current source and rule stack are skipped unless
// WithForce is set. Stale ledger rows and their outputs are pruned only
// on unfiltered runs, when the full target set is known.
//
// Errors on individual targets are collected and reported together;
// remaining targets still generate. A target that fails never leaves a
// partial output behind.
func (e *Engine) Generate(ctx context.Context, pattern string) (*Result, error) {
	targets, err := e.manifest.FilterTargets(pattern)
	if err != nil {
		return nil, err
	}
	return e.generate(ctx, store.RunGenerate, targets, pattern == "")
}

func (e *Engine) generate(ctx context.Context, runKind string, targets []manifest.Target, full bool) (*Result, error) {
	started := time.Now()
	run := e.newRun(runKind)
	if err := e.store.InsertRun(run); err != nil {
		return nil, fmt.Errorf("substrate: record run: %w", err)
	}
	res := &Result{RunID: run.ID}

	// Phase A: read sources and drop targets the ledger shows as current.
	items, failed := e.prepareItems(targets, res)

	// Phase B: rewrite and fix up.
	var outs []genOut
	if e.useParallel {
		outs = e.processParallel(ctx, items)
	} else {
		outs = e.processSerial(ctx, items)
	}
	outs = append(outs, failed...)

	// Phase C: write outputs and ledger rows in one deterministic order.
	artifacts, errs := e.commit(run.ID, outs, res)
	if full {
		errs = append(errs, e.prune(targets, res)...)
	}

	if err := e.finishRun(run, res, artifacts); err != nil {
		errs = append(errs, fmt.Errorf("record run: %w", err))
	}
	res.Duration = time.Since(started)

	e.logger.Info("generation finished",
		zap.String("run_id", run.ID),
		zap.Int("written", len(res.Written)),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration))

	if len(errs) > 0 {
		return res, fmt.Errorf("generation had %d error(s): %w", len(errs), errs[0])
	}
	return res, nil
}

// prepareItems does Phase A for each (backend, target) pair: read the
// source, hash it, and consult the ledger. Unreadable sources become
// failed outs so the commit phase reports them alongside rewrite errors.
func (e *Engine) prepareItems(targets []manifest.Target, res *Result) (items []genItem, failed []genOut) {
	for _, st := range e.states {
		for _, t := range targets {
			item := genItem{state: st, target: t, outPath: e.manifest.OutputPath(st.name, t)}
			content, err := os.ReadFile(e.absPath(t.Source))
			if err != nil {
				failed = append(failed, genOut{item: item, err: fmt.Errorf("read source: %w", err)})
				continue
			}
			item.source = content
			item.srcHash = store.ContentHash(content)
			if !e.force && e.isCurrent(st, t, item) {
				res.Skipped++
				continue
			}
			items = append(items, item)
		}
	}
	return items, failed
}

// isCurrent reports whether the ledger row and the on-disk output both
// match the target's current source and rule stack.
func (e *Engine) isCurrent(st *backendState, t manifest.Target, item genItem) bool {
	prior, err := e.store.Artifact(st.name, t.Package, t.Name)
	if err != nil || prior == nil {
		return false
	}
	if prior.SourceHash != item.srcHash || prior.TableHash != st.stackHash || prior.OutputPath != item.outPath {
		return false
	}
	onDisk, err := os.ReadFile(e.absPath(item.outPath))
	if err != nil {
		return false
	}
	return store.ContentHash(onDisk) == prior.OutputHash
}

// processOne rewrites a single item and runs its backend's fixup chain.
func (e *Engine) processOne(ctx context.Context, item genItem) genOut {
	out := genOut{item: item}
	content, err := item.state.rewriter.Rewrite(ctx, item.source)
	if err != nil {
		out.err = err
		return out
	}
	if len(item.state.fixups) > 0 {
		content, err = e.fixups.Apply(ctx, item.state.fixups, fixup.Input{
			Source:  content,
			Path:    item.target.Source,
			Backend: item.state.name,
			Module:  item.target.Name,
			Kind:    string(item.target.Kind),
		})
		if err != nil {
			out.err = err
			return out
		}
	}
	out.content = content
	out.outHash = store.ContentHash(content)
	return out
}

// commit does Phase C: sort outs by (backend, target) so runs over the
// same inputs write in the same order, then land each output atomically
// and build its ledger row.
func (e *Engine) commit(runID string, outs []genOut, res *Result) ([]*store.Artifact, []error) {
	sort.Slice(outs, func(i, j int) bool {
		a, b := outs[i].item, outs[j].item
		if a.state.name != b.state.name {
			return a.state.name < b.state.name
		}
		return a.target.Label() < b.target.Label()
	})

	var artifacts []*store.Artifact
	var errs []error
	now := time.Now()
	for _, out := range outs {
		item := out.item
		fr := FileResult{
			Backend: item.state.name,
			Target:  item.target.Label(),
			Output:  item.outPath,
		}
		err := out.err
		if err == nil {
			err = e.writeOutput(item.outPath, out.content)
		}
		if err != nil {
			fr.Error = err.Error()
			res.Failed = append(res.Failed, fr)
			errs = append(errs, fmt.Errorf("%s for %s: %w", item.target.Label(), item.state.name, err))
			e.logger.Warn("target failed",
				zap.String("backend", item.state.name),
				zap.String("target", item.target.Label()),
				zap.Error(err))
			continue
		}
		res.Written = append(res.Written, fr)
		artifacts = append(artifacts, &store.Artifact{
			Backend:     item.state.name,
			Package:     item.target.Package,
			Name:        item.target.Name,
			Kind:        string(item.target.Kind),
			SourcePath:  item.target.Source,
			OutputPath:  item.outPath,
			SourceHash:  item.srcHash,
			OutputHash:  out.outHash,
			TableHash:   item.state.stackHash,
			RunID:       runID,
			GeneratedAt: now,
		})
	}
	return artifacts, errs
}

// writeOutput lands content atomically: write a temp file in the target
// directory, then rename over the destination. A failed write never
// leaves a partial output at the destination path.
func (e *Engine) writeOutput(outPath string, content []byte) error {
	abs := e.absPath(outPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".substrate-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// prune drops ledger rows for outputs no target produces anymore and
// removes their files. Only called on unfiltered runs; the keep set must
// cover the whole manifest or current outputs would be swept away.
func (e *Engine) prune(targets []manifest.Target, res *Result) []error {
	var errs []error
	for _, st := range e.states {
		keep := make([]string, 0, len(targets))
		for _, t := range targets {
			keep = append(keep, e.manifest.OutputPath(st.name, t))
		}
		removed, err := e.store.PruneBackend(st.name, keep)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", st.name, err))
			continue
		}
		for _, a := range removed {
			if err := os.Remove(e.absPath(a.OutputPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", a.OutputPath, err))
				continue
			}
			res.Pruned = append(res.Pruned, a.OutputPath)
			e.logger.Info("pruned stale output",
				zap.String("backend", st.name),
				zap.String("output", a.OutputPath))
		}
	}
	return errs
}

func (e *Engine) newRun(kind string) *store.Run {
	return &store.Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Backends:  strings.Join(e.Backends(), ","),
		StartedAt: time.Now(),
	}
}

// finishRun closes the run row and persists its artifacts in a single
// transaction, so a crash mid-run never records half a run as finished.
func (e *Engine) finishRun(run *store.Run, res *Result, artifacts []*store.Artifact) error {
	now := time.Now()
	run.FinishedAt = &now
	run.Written = len(res.Written)
	run.Skipped = res.Skipped
	run.Failed = len(res.Failed)
	if len(res.Failed) > 0 {
		run.Error = res.Failed[0].Error
	}
	return e.store.FinishRun(run, artifacts)
}

// RewriteOne runs the namespace rewrite alone for one backend over a
// single source, without fixups and without touching the ledger or the
// output tree.
func (e *Engine) RewriteOne(ctx context.Context, backend string, source []byte) ([]byte, error) {
	st, err := e.state(backend)
	if err != nil {
		return nil, err
	}
	return st.rewriter.Rewrite(ctx, source)
}
