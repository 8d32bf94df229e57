package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [root]",
	Short: "Report drift between sources, the ledger, and generated trees",
	Long:  "Compares every target's source and output against the ledger without writing anything. Exits non-zero when any target is missing, stale, or when outputs exist that no target produces.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&flagBackends, "backends", "", "comma-separated backend filter (e.g. numpy,jax)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	p, err := loadProject(rootArg(args))
	if err != nil {
		return err
	}
	e, err := p.openEngine(engineOptions()...)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Check(cmd.Context())
	if err != nil {
		return err
	}
	if err := outputResult(CLIResult{Command: "check", Results: res}); err != nil {
		return err
	}
	if !res.Clean() {
		return fmt.Errorf("%d of %d target(s) drifted", len(res.Drift), res.Checked)
	}
	return nil
}
