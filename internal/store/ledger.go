package store

import (
	"database/sql"
	"fmt"
)

// --- Artifact operations ---

const artifactCols = `id, backend, package, name, kind, source_path, output_path,
	source_hash, output_hash, table_hash, run_id, generated_at`

// UpsertArtifact inserts the artifact or, when the (backend, package,
// name) triple already exists, replaces the recorded state.
func (s *Store) UpsertArtifact(a *Artifact) (int64, error) {
	return upsertArtifact(s.db, a)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertArtifact(db execer, a *Artifact) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO artifacts (backend, package, name, kind, source_path, output_path,
			source_hash, output_hash, table_hash, run_id, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(backend, package, name) DO UPDATE SET
			kind = excluded.kind,
			source_path = excluded.source_path,
			output_path = excluded.output_path,
			source_hash = excluded.source_hash,
			output_hash = excluded.output_hash,
			table_hash = excluded.table_hash,
			run_id = excluded.run_id,
			generated_at = excluded.generated_at`,
		a.Backend, a.Package, a.Name, a.Kind, a.SourcePath, a.OutputPath,
		a.SourceHash, a.OutputHash, a.TableHash, a.RunID, a.GeneratedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	return id, nil
}

func (s *Store) scanArtifact(scanner interface{ Scan(...any) error }) (*Artifact, error) {
	a := &Artifact{}
	err := scanner.Scan(
		&a.ID, &a.Backend, &a.Package, &a.Name, &a.Kind, &a.SourcePath, &a.OutputPath,
		&a.SourceHash, &a.OutputHash, &a.TableHash, &a.RunID, &a.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Artifact returns the ledger row for one target under one backend, or
// nil when nothing has been recorded.
func (s *Store) Artifact(backend, pkg, name string) (*Artifact, error) {
	a, err := s.scanArtifact(s.db.QueryRow(
		"SELECT "+artifactCols+" FROM artifacts WHERE backend = ? AND package = ? AND name = ?",
		backend, pkg, name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	return a, nil
}

// ArtifactByOutput returns the ledger row owning an output path, or nil.
func (s *Store) ArtifactByOutput(outputPath string) (*Artifact, error) {
	a, err := s.scanArtifact(s.db.QueryRow(
		"SELECT "+artifactCols+" FROM artifacts WHERE output_path = ?", outputPath,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact by output: %w", err)
	}
	return a, nil
}

// ArtifactsByBackend returns every recorded artifact for one backend,
// ordered by package then name.
func (s *Store) ArtifactsByBackend(backend string) ([]*Artifact, error) {
	rows, err := s.db.Query(
		"SELECT "+artifactCols+" FROM artifacts WHERE backend = ? ORDER BY package, name", backend,
	)
	if err != nil {
		return nil, fmt.Errorf("artifacts by backend: %w", err)
	}
	defer rows.Close()
	var artifacts []*Artifact
	for rows.Next() {
		a, err := s.scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// DeleteArtifact removes one ledger row. Missing rows are not an error.
func (s *Store) DeleteArtifact(backend, pkg, name string) error {
	_, err := s.db.Exec(
		"DELETE FROM artifacts WHERE backend = ? AND package = ? AND name = ?",
		backend, pkg, name,
	)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// PruneBackend deletes every artifact row for backend whose output path
// is not in keepOutputs, returning the removed rows so the caller can
// also unlink the files.
func (s *Store) PruneBackend(backend string, keepOutputs []string) ([]*Artifact, error) {
	where := "backend = ?"
	args := []any{backend}
	if len(keepOutputs) > 0 {
		where += " AND output_path NOT IN (" + placeholderList(len(keepOutputs)) + ")"
		args = append(args, stringsToArgs(keepOutputs)...)
	}

	rows, err := s.db.Query("SELECT "+artifactCols+" FROM artifacts WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("prune backend: query: %w", err)
	}
	var stale []*Artifact
	for rows.Next() {
		a, err := s.scanArtifact(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("prune backend: scan: %w", err)
		}
		stale = append(stale, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prune backend: %w", err)
	}

	if len(stale) == 0 {
		return nil, nil
	}
	if _, err := s.db.Exec("DELETE FROM artifacts WHERE "+where, args...); err != nil {
		return nil, fmt.Errorf("prune backend: delete: %w", err)
	}
	return stale, nil
}

// --- Run operations ---

// InsertRun records the start of a generator invocation.
func (s *Store) InsertRun(r *Run) error {
	_, err := s.db.Exec(
		"INSERT INTO runs (id, kind, backends, started_at, written, skipped, failed, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Kind, r.Backends, r.StartedAt, r.Written, r.Skipped, r.Failed, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun closes out a run and writes its artifacts in one
// transaction, so a crash mid-commit never leaves the ledger claiming
// half a run.
func (s *Store) FinishRun(r *Run, artifacts []*Artifact) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("finish run: begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range artifacts {
		if _, err := upsertArtifact(tx, a); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	_, err = tx.Exec(
		"UPDATE runs SET finished_at = ?, written = ?, skipped = ?, failed = ?, error = ? WHERE id = ?",
		r.FinishedAt, r.Written, r.Skipped, r.Failed, r.Error, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: update: %w", err)
	}
	return tx.Commit()
}

func (s *Store) scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	err := scanner.Scan(
		&r.ID, &r.Kind, &r.Backends, &r.StartedAt, &r.FinishedAt,
		&r.Written, &r.Skipped, &r.Failed, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

const runCols = "id, kind, backends, started_at, finished_at, written, skipped, failed, error"

// RunByID returns one run, or nil when the id is unknown.
func (s *Store) RunByID(id string) (*Run, error) {
	r, err := s.scanRun(s.db.QueryRow("SELECT "+runCols+" FROM runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run by id: %w", err)
	}
	return r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query("SELECT "+runCols+" FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Summary and metadata ---

// Summary aggregates artifact counts per backend, ordered by backend.
func (s *Store) Summary() ([]*BackendSummary, error) {
	rows, err := s.db.Query("SELECT backend, COUNT(*) FROM artifacts GROUP BY backend ORDER BY backend")
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()
	var out []*BackendSummary
	for rows.Next() {
		b := &BackendSummary{}
		if err := rows.Scan(&b.Backend, &b.Artifacts); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range out {
		err := s.db.QueryRow(
			"SELECT generated_at FROM artifacts WHERE backend = ? ORDER BY generated_at DESC LIMIT 1",
			b.Backend,
		).Scan(&b.LastGenerated)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("summary last generated: %w", err)
		}
	}
	return out, nil
}

// SetMeta stores one metadata key, replacing any previous value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

// Meta returns a metadata value, or "" when the key is unset.
func (s *Store) Meta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta: %w", err)
	}
	return value, nil
}
