package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcast/substrate"
	"github.com/jcast/substrate/internal/manifest"
)

var (
	flagManifest string
	flagDB       string
	flagFormat   string
	flagVerbose  bool
)

// logger is built in PersistentPreRunE and shared by every command.
var logger = zap.NewNop()

// errorHandled is set by commands that already printed their error so
// main() doesn't double-print.
var errorHandled bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "substrate",
	Short:         "Generate per-backend Python source trees by rewriting namespaces",
	Long:          "Substrate retargets TensorFlow Probability style Python sources onto numerical backends: it rewrites import namespaces rule by rule, applies per-backend fixup scripts, and tracks generated trees in a SQLite ledger so only changed targets regenerate.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return buildLogger()
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagManifest, "manifest", "", "manifest path (default: substrate.yaml found upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "ledger path (default: .substrate/ledger.db next to the manifest)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log engine activity to stderr")
}

func buildLogger() error {
	if !flagVerbose {
		return nil
	}
	l, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	logger = l
	return nil
}

// project is one resolved invocation context: the manifest, the directory
// its paths resolve against, and the ledger location.
type project struct {
	manifestPath string
	rootDir      string
	dbPath       string
	m            *substrate.Manifest
}

// loadProject locates and loads the manifest for a command. rootArg is
// the optional positional project directory; empty means the working
// directory. The manifest is parsed but not validated here, so validate
// can report violations instead of refusing to start.
func loadProject(rootArg string) (*project, error) {
	mp, err := resolveManifestPath(rootArg)
	if err != nil {
		return nil, err
	}
	m, err := substrate.LoadManifest(mp)
	if err != nil {
		return nil, err
	}
	rootDir := filepath.Dir(mp)
	return &project{
		manifestPath: mp,
		rootDir:      rootDir,
		dbPath:       resolveDBPath(rootDir),
		m:            m,
	}, nil
}

// openEngine opens the ledger-backed engine for this project. The ledger
// directory is created on demand.
func (p *project) openEngine(opts ...substrate.Option) (*substrate.Engine, error) {
	if err := os.MkdirAll(filepath.Dir(p.dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(p.dbPath), err)
	}
	opts = append([]substrate.Option{substrate.WithLogger(logger)}, opts...)
	return substrate.New(p.dbPath, p.m, p.rootDir, opts...)
}

// requireLedger refuses commands that only read the ledger when none
// exists yet.
func (p *project) requireLedger() error {
	if _, err := os.Stat(p.dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no ledger at %s (run 'substrate generate' first)", p.dbPath)
	}
	return nil
}

// rootArg returns the optional positional project directory.
func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// resolveManifestPath returns the manifest location from --manifest, or
// by walking up from rootArg (default: the working directory).
func resolveManifestPath(rootArg string) (string, error) {
	if flagManifest != "" {
		abs, err := filepath.Abs(flagManifest)
		if err != nil {
			return "", fmt.Errorf("resolving manifest path %q: %w", flagManifest, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("manifest not found: %s", abs)
		}
		return abs, nil
	}

	start := rootArg
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting cwd: %w", err)
		}
		start = cwd
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", start, err)
	}
	if p := findManifest(abs); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no %s found in %s or any parent (use --manifest)", manifest.DefaultFile, abs)
}

// findManifest walks up from startDir looking for the manifest file.
// Returns its absolute path, or "" when no ancestor has one.
func findManifest(startDir string) string {
	dir := startDir
	for {
		p := filepath.Join(dir, manifest.DefaultFile)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolveDBPath returns the ledger path from the --db flag or the default
// location next to the manifest.
func resolveDBPath(rootDir string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(rootDir, flagDB)
	}
	return filepath.Join(rootDir, ".substrate", "ledger.db")
}
