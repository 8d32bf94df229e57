package substrate

// Status aggregates the ledger for reporting: the stored project name,
// per-backend artifact counts, and recent runs.
type Status struct {
	Project  string            `json:"project"`
	Backends []*BackendSummary `json:"backends,omitempty"`
	Runs     []*Run            `json:"runs,omitempty"`
}

// Status reads the ledger summary. recentRuns bounds how many runs are
// included, newest first; zero means none.
func (e *Engine) Status(recentRuns int) (*Status, error) {
	project, err := e.store.Meta("project")
	if err != nil {
		return nil, err
	}
	summaries, err := e.store.Summary()
	if err != nil {
		return nil, err
	}
	st := &Status{Project: project, Backends: summaries}
	if recentRuns > 0 {
		st.Runs, err = e.store.RecentRuns(recentRuns)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Artifacts returns the ledger rows for one backend, ordered by package
// and name.
func (e *Engine) Artifacts(backend string) ([]*Artifact, error) {
	return e.store.ArtifactsByBackend(backend)
}

// Runs returns the most recent runs, newest first.
func (e *Engine) Runs(limit int) ([]*Run, error) {
	return e.store.RecentRuns(limit)
}

// Run returns one run by ID, or nil when unknown.
func (e *Engine) Run(id string) (*Run, error) {
	return e.store.RunByID(id)
}
