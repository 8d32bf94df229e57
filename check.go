package substrate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcast/substrate/internal/manifest"
	"github.com/jcast/substrate/internal/store"
)

// Drift kinds reported by Check.
const (
	DriftMissing = "missing" // target has no output on disk
	DriftStale   = "stale"   // output no longer matches the source or rule stack
	DriftExtra   = "extra"   // output or ledger row no target produces anymore
)

// Drift is one divergence between the manifest, the ledger, and the
// generated trees.
type Drift struct {
	Backend string `json:"backend"`
	Target  string `json:"target,omitempty"`
	Output  string `json:"output"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
}

// CheckResult is the outcome of one Check call.
type CheckResult struct {
	RunID    string        `json:"run_id"`
	Checked  int           `json:"checked"`
	Drift    []Drift       `json:"drift,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Clean reports whether no drift was found.
func (r *CheckResult) Clean() bool {
	return len(r.Drift) == 0
}

// Check compares the manifest, the ledger, and the generated trees
// without writing anything. One goroutine per backend scans its tree;
// results merge into a single report sorted by backend and output path.
// The check is recorded as a run whose failed count is the drift count.
func (e *Engine) Check(ctx context.Context) (*CheckResult, error) {
	started := time.Now()
	targets := e.manifest.Targets()

	drifts := make([][]Drift, len(e.states))
	g, ctx := errgroup.WithContext(ctx)
	for i, st := range e.states {
		g.Go(func() error {
			ds, err := e.checkBackend(ctx, st, targets)
			if err != nil {
				return fmt.Errorf("substrate: check %s: %w", st.name, err)
			}
			drifts[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Drift
	for _, ds := range drifts {
		all = append(all, ds...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Backend != all[j].Backend {
			return all[i].Backend < all[j].Backend
		}
		return all[i].Output < all[j].Output
	})

	checked := len(targets) * len(e.states)
	run := e.newRun(store.RunCheck)
	if err := e.store.InsertRun(run); err != nil {
		return nil, fmt.Errorf("substrate: record run: %w", err)
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Skipped = checked - len(all)
	run.Failed = len(all)
	if err := e.store.FinishRun(run, nil); err != nil {
		return nil, fmt.Errorf("substrate: record run: %w", err)
	}

	return &CheckResult{
		RunID:    run.ID,
		Checked:  checked,
		Drift:    all,
		Duration: time.Since(started),
	}, nil
}

// checkBackend scans one backend: every target is compared against its
// ledger row and on-disk output, then the ledger and the backend tree
// are swept for leftovers nothing produces anymore.
func (e *Engine) checkBackend(ctx context.Context, st *backendState, targets []manifest.Target) ([]Drift, error) {
	var drift []Drift
	expected := make(map[string]manifest.Target, len(targets))
	for _, t := range targets {
		expected[e.manifest.OutputPath(st.name, t)] = t
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outPath := e.manifest.OutputPath(st.name, t)
		source, err := os.ReadFile(e.absPath(t.Source))
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", t.Source, err)
		}
		prior, err := e.store.Artifact(st.name, t.Package, t.Name)
		if err != nil {
			return nil, err
		}
		onDisk, err := os.ReadFile(e.absPath(outPath))

		d := Drift{Backend: st.name, Target: t.Label(), Output: outPath}
		switch {
		case err != nil:
			d.Kind = DriftMissing
		case prior == nil:
			d.Kind, d.Detail = DriftStale, "output not in ledger"
		case prior.SourceHash != store.ContentHash(source):
			d.Kind, d.Detail = DriftStale, "source changed"
		case prior.TableHash != st.stackHash:
			d.Kind, d.Detail = DriftStale, "rule stack changed"
		case store.ContentHash(onDisk) != prior.OutputHash:
			d.Kind, d.Detail = DriftStale, "output modified"
		default:
			continue
		}
		drift = append(drift, d)
	}

	// Ledger rows whose outputs no target produces anymore.
	rows, err := e.store.ArtifactsByBackend(st.name)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(rows))
	for _, a := range rows {
		known[a.OutputPath] = true
		if _, ok := expected[a.OutputPath]; !ok {
			drift = append(drift, Drift{
				Backend: st.name,
				Target:  a.Package + "/" + a.Name,
				Output:  a.OutputPath,
				Kind:    DriftExtra,
				Detail:  "not in manifest",
			})
		}
	}

	// Files in the backend tree neither the manifest nor the ledger know
	// about. A missing tree is fine; every target is already reported as
	// missing above.
	backendDir := e.absPath(path.Join(e.manifest.OutDir, st.name))
	filepath.WalkDir(backendDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, manifest.SourceExt) {
			return nil
		}
		rel, err := filepath.Rel(e.rootDir, p)
		if err != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if _, ok := expected[relSlash]; ok {
			return nil
		}
		if known[relSlash] {
			return nil
		}
		drift = append(drift, Drift{
			Backend: st.name,
			Output:  relSlash,
			Kind:    DriftExtra,
			Detail:  "untracked file",
		})
		return nil
	})
	return drift, nil
}
