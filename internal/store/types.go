package store

import "time"

// Artifact is one generated output file tracked by the ledger. The
// (backend, package, name) triple identifies it; the hashes record the
// exact input content, output content, and rule table that produced it.
type Artifact struct {
	ID          int64     `json:"-"`
	Backend     string    `json:"backend"`
	Package     string    `json:"package"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	SourcePath  string    `json:"source_path"`
	OutputPath  string    `json:"output_path"`
	SourceHash  string    `json:"source_hash"`
	OutputHash  string    `json:"output_hash"`
	TableHash   string    `json:"table_hash"`
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Run records one generator invocation. FinishedAt stays nil while the
// run is in flight. For check runs the counters reuse Skipped for clean
// targets and Failed for drift.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Backends   string     `json:"backends"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Written    int        `json:"written"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Run kinds.
const (
	RunGenerate = "generate"
	RunCheck    = "check"
	RunWatch    = "watch"
)

// BackendSummary aggregates ledger state for one backend.
type BackendSummary struct {
	Backend       string    `json:"backend"`
	Artifacts     int       `json:"artifacts"`
	LastGenerated time.Time `json:"last_generated"`
}
