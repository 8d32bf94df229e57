package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcast/substrate"
)

var (
	flagBackends string
	flagOnly     string
	flagForce    bool
	flagSerial   bool
	flagWatch    bool
	flagDebounce time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate [root]",
	Short: "Generate backend source trees from the manifest",
	Long:  "Rewrites every selected target for every selected backend and records the results in the ledger. Targets whose source, rule stack, and output are unchanged since the last run are skipped. With --watch the command blocks and regenerates as sources change.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&flagBackends, "backends", "", "comma-separated backend filter (e.g. numpy,jax)")
	generateCmd.Flags().StringVar(&flagOnly, "only", "", "target filter: a package name or a <package>/<name> glob")
	generateCmd.Flags().BoolVar(&flagForce, "force", false, "regenerate every target even when the ledger says it is current")
	generateCmd.Flags().BoolVar(&flagSerial, "serial", false, "rewrite targets one at a time instead of through the worker pool")
	generateCmd.Flags().BoolVar(&flagWatch, "watch", false, "block and regenerate as sources change")
	generateCmd.Flags().DurationVar(&flagDebounce, "debounce", substrate.DefaultDebounce, "settle window for --watch")
	rootCmd.AddCommand(generateCmd)
}

// engineOptions translates the shared generation flags into Options.
func engineOptions() []substrate.Option {
	var opts []substrate.Option
	if flagBackends != "" {
		names := strings.Split(flagBackends, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		opts = append(opts, substrate.WithBackends(names...))
	}
	if flagForce {
		opts = append(opts, substrate.WithForce(true))
	}
	if flagSerial {
		opts = append(opts, substrate.WithParallel(false))
	}
	return opts
}

func runGenerate(cmd *cobra.Command, args []string) error {
	start := time.Now()
	p, err := loadProject(rootArg(args))
	if err != nil {
		return err
	}
	e, err := p.openEngine(engineOptions()...)
	if err != nil {
		return err
	}
	defer e.Close()

	if flagWatch {
		fmt.Fprintf(os.Stderr, "Watching %s (debounce %s, ctrl-c to stop)\n",
			p.rootDir, flagDebounce)
		return e.Watch(cmd.Context(), flagOnly, flagDebounce)
	}

	res, genErr := e.Generate(cmd.Context(), flagOnly)
	if res != nil {
		if err := outputResult(CLIResult{Command: "generate", Results: res}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d, skipped %d, failed %d, pruned %d in %s\n",
			len(res.Written), res.Skipped, len(res.Failed), len(res.Pruned),
			time.Since(start).Round(time.Millisecond))
	}
	if genErr != nil {
		errorHandled = true
		fmt.Fprintf(os.Stderr, "Error: %s\n", genErr)
	}
	return genErr
}
