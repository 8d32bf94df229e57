package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the substrate binary into t.TempDir().
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "substrate"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "substrate")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot walks up from this file's directory to find go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

const fixtureManifest = `project: tensorflow_probability
strip_prefix: tfp/python
backends:
  - name: numpy
    policy: strict
    fixups: [test_main]
  - name: jax
    policy: strict
    fixups: [test_main]
packages:
  - name: internal
    path: tfp/python/internal
    modules: [dtype_util]
    tests: [dtype_util_test]
    disabled_tests:
      jax: [dtype_util_test]
`

// createFixture lays a manifest and a small source tree in a temp dir.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "substrate.yaml"),
		[]byte(fixtureManifest), 0o644))

	pkg := filepath.Join(dir, "tfp", "python", "internal")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "dtype_util.py"), []byte(
		"import tensorflow.compat.v2 as tf\n\ndef as_dtype(d):\n    return tf.as_dtype(d)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "dtype_util_test.py"), []byte(
		"import tensorflow.compat.v2 as tf\nfrom tensorflow_probability.python.internal import dtype_util\n\nif __name__ == \"__main__\":\n    tf.test.main()\n"), 0o644))
	return dir
}

// runCLI executes the binary and returns combined stdout and stderr.
func runCLI(t *testing.T, bin, workDir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = workDir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func TestCLI_GenerateCheckStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	// Generate both backend trees.
	_, stderr, err := runCLI(t, bin, dir, "generate", "--format", "text")
	require.NoError(t, err, "generate failed: %s", stderr)

	out := filepath.Join(dir, "substrates", "numpy", "internal", "dtype_util.py")
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content),
		"import tensorflow_probability.python.internal.backend.numpy.compat.v2 as tf")

	// A clean tree checks clean.
	stdout, stderr, err := runCLI(t, bin, dir, "check", "--format", "text")
	require.NoError(t, err, "check failed: %s", stderr)
	assert.Contains(t, stdout, "clean")

	// Tampering with an output makes check exit non-zero.
	require.NoError(t, os.WriteFile(out, []byte("# tampered\n"), 0o644))
	stdout, _, err = runCLI(t, bin, dir, "check", "--format", "text")
	require.Error(t, err)
	assert.Contains(t, stdout, "output modified")

	// Status sees both backends in the ledger.
	stdout, _, err = runCLI(t, bin, dir, "status", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, stdout, "tensorflow_probability")
	assert.Contains(t, stdout, "numpy")
	assert.Contains(t, stdout, "jax")
}

func TestCLI_RewriteStockBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)

	// No manifest anywhere: the stock numpy table applies.
	dir := t.TempDir()
	src := filepath.Join(dir, "generic.py")
	require.NoError(t, os.WriteFile(src,
		[]byte("from tensorflow_probability.python.internal import dtype_util\n"), 0o644))

	stdout, stderr, err := runCLI(t, bin, dir, "rewrite", src, "--backend", "numpy")
	require.NoError(t, err, "rewrite failed: %s", stderr)
	assert.Equal(t,
		"from tensorflow_probability.substrates.numpy.internal import dtype_util\n", stdout)
}

func TestCLI_RewriteManifestBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "substrate.yaml"), []byte(`project: vendor
backends:
  - name: backend_b
    replacements:
      - from: backend_a
        to: backend_b
`), 0o644))
	src := filepath.Join(dir, "ops.py")
	require.NoError(t, os.WriteFile(src, []byte("from backend_a import linalg\n"), 0o644))

	stdout, stderr, err := runCLI(t, bin, dir, "rewrite", src, "--backend", "backend_b")
	require.NoError(t, err, "rewrite failed: %s", stderr)
	assert.Equal(t, "from backend_b import linalg\n", stdout)
}

func TestCLI_RewriteStrictFailureListsPositions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "bad.py")
	require.NoError(t, os.WriteFile(src,
		[]byte("import tensorflow_probability.google.staging\nfrom tensorflow.contrib import slim\n"), 0o644))

	// The stock table maps both lines, so force a failure with a backend
	// that has no rules for them.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "substrate.yaml"), []byte(`project: vendor
backends:
  - name: shim
    policy: strict
    replacements:
      - from: backend_a
        to: backend_b
`), 0o644))

	stdout, stderr, err := runCLI(t, bin, dir, "rewrite", src, "--backend", "shim")
	require.Error(t, err)
	assert.Empty(t, stdout, "failed rewrite must not emit output")
	assert.Contains(t, stderr, "bad.py:1:8:")
	assert.Contains(t, stderr, "tensorflow_probability.google.staging")
	assert.Contains(t, stderr, "bad.py:2:6:")
}

func TestCLI_ValidateReportsAllViolations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "substrate.yaml"), []byte(`project: p
backends:
  - name: numpy
    policy: lenient
packages:
  - name: a
    path: a
    modules: [m, m]
`), 0o644))

	stdout, _, err := runCLI(t, bin, dir, "validate")
	require.Error(t, err)

	var res struct {
		Command string `json:"command"`
		Results struct {
			Violations []string `json:"violations"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "validate", res.Command)
	require.Len(t, res.Results.Violations, 2)
	assert.Contains(t, res.Results.Violations[0], "unknown policy")
	assert.Contains(t, res.Results.Violations[1], `duplicate module "m"`)
}

func TestCLI_TargetsRunnableUnder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	var res struct {
		Results []struct {
			Label string `json:"label"`
			Kind  string `json:"kind"`
		} `json:"results"`
	}

	stdout, _, err := runCLI(t, bin, dir, "targets")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Len(t, res.Results, 2)

	// dtype_util_test is disabled under jax.
	stdout, _, err = runCLI(t, bin, dir, "targets", "--runnable-under", "jax")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Empty(t, res.Results)

	stdout, _, err = runCLI(t, bin, dir, "targets", "--runnable-under", "numpy")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "internal/dtype_util_test", res.Results[0].Label)
}
