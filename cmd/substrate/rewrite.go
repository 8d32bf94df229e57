package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jcast/substrate"
	"github.com/jcast/substrate/internal/rewrite"
)

var (
	flagBackend string
	flagPolicy  string
	flagOut     string
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <file>",
	Short: "Rewrite one source file for a backend",
	Long:  "Reads a Python source file, retargets its import namespaces for the given backend, and writes the result to stdout. Rules come from the manifest when one declares the backend, and from the stock numpy/jax tables otherwise. Fixup scripts never run here; the output differs from the input only in substituted namespaces.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRewrite,
}

func init() {
	rewriteCmd.Flags().StringVar(&flagBackend, "backend", "", "target backend name (required)")
	rewriteCmd.Flags().StringVar(&flagPolicy, "policy", "", "override unmapped-reference policy: permissive|strict")
	rewriteCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write here instead of stdout")
	rewriteCmd.MarkFlagRequired("backend")
	rootCmd.AddCommand(rewriteCmd)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	rw, err := buildRewriter(flagBackend, flagPolicy)
	if err != nil {
		return err
	}

	out, err := rw.Rewrite(cmd.Context(), source)
	if err != nil {
		var unmapped *rewrite.UnmappedError
		if errors.As(err, &unmapped) {
			for _, s := range unmapped.Symbols {
				fmt.Fprintf(os.Stderr, "%s:%d:%d: unmapped backend reference %s\n",
					args[0], s.Line, s.Col, s.Path)
			}
			errorHandled = true
			fmt.Fprintf(os.Stderr, "Error: %d unmapped backend reference(s) in %s\n",
				len(unmapped.Symbols), args[0])
			return err
		}
		return fmt.Errorf("rewriting %s: %w", args[0], err)
	}

	if flagOut == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	return writeFileAtomic(flagOut, out)
}

// buildRewriter compiles the rule stack for backend: from the manifest
// when one is reachable and declares the backend, from the stock tables
// otherwise. policyFlag overrides the declared policy.
func buildRewriter(backend, policyFlag string) (*rewrite.Rewriter, error) {
	var table *rewrite.Table
	policy := rewrite.Permissive

	m, err := loadOptionalManifest()
	if err != nil {
		return nil, err
	}
	if m != nil {
		if b, ok := m.Backend(backend); ok {
			t, err := b.Table()
			if err != nil {
				return nil, err
			}
			p, err := b.RulePolicy()
			if err != nil {
				return nil, err
			}
			table, policy = t, p
		}
	}
	if table == nil {
		if !rewrite.Builtin(backend) {
			return nil, fmt.Errorf("unknown backend %q: not in a manifest and no stock table", backend)
		}
		t, err := rewrite.NewTable(rewrite.BuiltinRules(backend), rewrite.BuiltinGuarded())
		if err != nil {
			return nil, err
		}
		table = t
	}

	if policyFlag != "" {
		p, err := rewrite.ParsePolicy(policyFlag)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	return rewrite.New(table, policy), nil
}

// loadOptionalManifest loads the manifest when --manifest names one or an
// ancestor directory carries one. No manifest at all is fine here; the
// stock tables cover the common case.
func loadOptionalManifest() (*substrate.Manifest, error) {
	if flagManifest == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		if findManifest(cwd) == "" {
			return nil, nil
		}
	}
	p, err := loadProject("")
	if err != nil {
		return nil, err
	}
	if err := p.m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", p.manifestPath, err)
	}
	return p.m, nil
}

// writeFileAtomic lands content through a temp file and rename so a
// failed write never leaves a partial file at path.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".substrate-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
