package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [root]",
	Short: "Check every manifest invariant",
	Long:  "Loads the manifest and runs the full invariant sweep: backend tables must compile, tests must pair with modules, disabled-test and dependency references must resolve, and the package graph must be acyclic. Every violation is reported, not just the first.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var (
	flagPackage       string
	flagRunnableUnder string
)

var targetsCmd = &cobra.Command{
	Use:   "targets [root]",
	Short: "List resolved targets",
	Long:  "Flattens the manifest into its target list: one module or test per row with its source path and merged dependencies. --runnable-under keeps only tests enabled for the given backend.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTargets,
}

var (
	flagStatusBackend string
	flagRecent        int
)

var statusCmd = &cobra.Command{
	Use:   "status [root]",
	Short: "Summarize the ledger",
	Long:  "Shows per-backend artifact counts, last generation times, and recent runs. With --backend, lists that backend's artifacts instead.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	targetsCmd.Flags().StringVar(&flagPackage, "package", "", "filter: a package name or a <package>/<name> glob")
	targetsCmd.Flags().StringVar(&flagRunnableUnder, "runnable-under", "", "keep only tests enabled for this backend")

	statusCmd.Flags().StringVar(&flagStatusBackend, "backend", "", "list one backend's artifacts instead of the summary")
	statusCmd.Flags().IntVar(&flagRecent, "runs", 10, "number of recent runs in the summary")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(statusCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := loadProject(rootArg(args))
	if err != nil {
		return err
	}

	vs := p.m.Violations()
	payload := CLIValidation{Manifest: p.manifestPath, Violations: make([]string, len(vs))}
	for i, v := range vs {
		payload.Violations[i] = v.Error()
	}
	if err := outputResult(CLIResult{Command: "validate", Results: payload}); err != nil {
		return err
	}
	if len(vs) > 0 {
		return fmt.Errorf("manifest has %d violation(s)", len(vs))
	}
	return nil
}

func runTargets(cmd *cobra.Command, args []string) error {
	p, err := loadProject(rootArg(args))
	if err != nil {
		return err
	}
	if err := p.m.Validate(); err != nil {
		return fmt.Errorf("manifest %s: %w", p.manifestPath, err)
	}

	targets, err := p.m.FilterTargets(flagPackage)
	if err != nil {
		return err
	}
	if flagRunnableUnder != "" {
		if _, ok := p.m.Backend(flagRunnableUnder); !ok {
			return fmt.Errorf("unknown backend %q", flagRunnableUnder)
		}
		runnable := make(map[string]bool)
		for _, t := range p.m.RunnableTests(flagRunnableUnder) {
			runnable[t.Label()] = true
		}
		kept := targets[:0]
		for _, t := range targets {
			if runnable[t.Label()] {
				kept = append(kept, t)
			}
		}
		targets = kept
	}

	rows := make([]CLITarget, len(targets))
	for i, t := range targets {
		rows[i] = CLITarget{
			Label:  t.Label(),
			Kind:   string(t.Kind),
			Source: t.Source,
			Deps:   t.Deps,
		}
	}
	return outputResult(CLIResult{Command: "targets", Results: rows})
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := loadProject(rootArg(args))
	if err != nil {
		return err
	}
	if err := p.requireLedger(); err != nil {
		return err
	}
	e, err := p.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if flagStatusBackend != "" {
		arts, err := e.Artifacts(flagStatusBackend)
		if err != nil {
			return err
		}
		return outputResult(CLIResult{Command: "status", Results: arts})
	}

	st, err := e.Status(flagRecent)
	if err != nil {
		return err
	}
	return outputResult(CLIResult{Command: "status", Results: st})
}
