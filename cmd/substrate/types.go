package main

// CLIResult is the top-level JSON envelope every command emits.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLITarget is one resolved target row.
type CLITarget struct {
	Label  string   `json:"label"`
	Kind   string   `json:"kind"`
	Source string   `json:"source"`
	Deps   []string `json:"deps,omitempty"`
}

// CLIValidation is the validate command's payload.
type CLIValidation struct {
	Manifest   string   `json:"manifest"`
	Violations []string `json:"violations"`
}
