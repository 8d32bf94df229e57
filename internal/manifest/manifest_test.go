package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifestYAML = `
project: tensorflow_probability
root: .
out_dir: substrates
strip_prefix: tensorflow_probability/python

backends:
  - name: numpy
    policy: strict
    fixups: [test_main]
  - name: jax
    policy: strict
    fixups: [test_main]

packages:
  - name: internal
    path: tensorflow_probability/python/internal
    modules: [dtype_util, test_util]
    tests: [dtype_util_test]

  - name: util
    path: tensorflow_probability/python/util
    deps: [internal]
    modules: [seed_stream]

  - name: distributions
    path: tensorflow_probability/python/distributions
    deps: [internal, util]
    modules: [distribution, negative_binomial]
    tests: [negative_binomial_test]
    disabled_tests:
      numpy: [negative_binomial_test]
    extra_deps:
      negative_binomial_test: ["internal:test_util"]
`

// testManifest parses and validates the shared fixture.
func testManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := Parse([]byte(testManifestYAML))
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	return m
}

func TestParse_Defaults(t *testing.T) {
	m, err := Parse([]byte("project: p\nbackends:\n  - name: numpy\n"))
	require.NoError(t, err)
	assert.Equal(t, ".", m.Root)
	assert.Equal(t, "substrates", m.OutDir)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("project: p\nbackendz:\n  - name: numpy\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backendz")
}

func TestLoad_ReadsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(p, []byte(testManifestYAML), 0o644))

	m, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "tensorflow_probability", m.Project)
	assert.Len(t, m.Packages, 3)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate_Fixture(t *testing.T) {
	testManifest(t)
}

func TestValidate_Defects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing project",
			"backends: [{name: numpy}]",
			"project name is required",
		},
		{
			"no backends",
			"project: p",
			"at least one backend",
		},
		{
			"duplicate backend",
			"project: p\nbackends: [{name: numpy}, {name: numpy}]",
			`duplicate backend "numpy"`,
		},
		{
			"bad policy",
			"project: p\nbackends: [{name: numpy, policy: lenient}]",
			"unknown policy",
		},
		{
			"bad replacement",
			"project: p\nbackends: [{name: numpy, replacements: [{from: 'a..b', to: c}]}]",
			"empty dotted component",
		},
		{
			"fixup with path",
			"project: p\nbackends: [{name: numpy, fixups: ['dir/script']}]",
			"bare script name",
		},
		{
			"escaping out_dir",
			"project: p\nout_dir: ../elsewhere\nbackends: [{name: numpy}]",
			"must stay under the manifest root",
		},
		{
			"escaping strip_prefix",
			"project: p\nstrip_prefix: ../python\nbackends: [{name: numpy}]",
			"clean relative path",
		},
		{
			"package outside strip_prefix",
			"project: p\nstrip_prefix: tfp/python\nbackends: [{name: numpy}]\npackages: [{name: a, path: elsewhere/a, modules: [m]}]",
			"outside strip_prefix",
		},
		{
			"package without path",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a}]",
			"path is required",
		},
		{
			"duplicate package",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a}, {name: a, path: b}]",
			`duplicate package "a"`,
		},
		{
			"shared package path",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: shared}, {name: b, path: shared}]",
			`share path "shared"`,
		},
		{
			"duplicate module",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m, m]}]",
			`duplicate module "m"`,
		},
		{
			"test without suffix",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], tests: [m]}]",
			"does not end in _test",
		},
		{
			"test without module",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], tests: [other_test]}]",
			`test "other_test" has no module "other"`,
		},
		{
			"disabled under unknown backend",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], tests: [m_test], disabled_tests: {torch: [m_test]}}]",
			`unknown backend "torch"`,
		},
		{
			"dangling disabled test",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], tests: [m_test], disabled_tests: {numpy: [gone_test]}}]",
			`disabled test "gone_test"`,
		},
		{
			"extra_deps unknown key",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], extra_deps: {ghost: [a]}}]",
			`extra_deps key "ghost"`,
		},
		{
			"dep on unknown package",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], deps: [missing]}]",
			`unknown package "missing"`,
		},
		{
			"dep on unknown module",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], deps: ['a:ghost']}]",
			`unknown module "ghost"`,
		},
		{
			"dependency cycle",
			"project: p\nbackends: [{name: numpy}]\npackages: [{name: a, path: a, modules: [m], deps: [b]}, {name: b, path: b, modules: [n], deps: [a]}]",
			"dependency cycle",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestViolations_CollectsEveryDefect(t *testing.T) {
	m, err := Parse([]byte(`
project: p
backends:
  - name: numpy
    policy: lenient
packages:
  - name: a
    path: a
    modules: [m, m]
    tests: [orphan_test]
`))
	require.NoError(t, err)

	vs := m.Violations()
	require.Len(t, vs, 3)
	assert.Contains(t, vs[0].Error(), "unknown policy")
	assert.Contains(t, vs[1].Error(), `duplicate module "m"`)
	assert.Contains(t, vs[2].Error(), `test "orphan_test" has no module`)
}

func TestViolations_CleanManifestIsEmpty(t *testing.T) {
	assert.Empty(t, testManifest(t).Violations())
}

func TestBackend_TableUsesStockRules(t *testing.T) {
	m := testManifest(t)
	b, ok := m.Backend("numpy")
	require.True(t, ok)

	table, err := b.Table()
	require.NoError(t, err)

	got, matched := table.Lookup("tensorflow.compat.v2")
	assert.True(t, matched)
	assert.Equal(t, "tensorflow_probability.python.internal.backend.numpy.compat.v2", got)
}

func TestBackend_ReplacementsOverrideStockRules(t *testing.T) {
	yaml := `
project: p
backends:
  - name: numpy
    replacements:
      - from: tensorflow
        to: vendor.backend.numpy
      - from: third_party
        to: vendor.third_party
`
	m, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	b, _ := m.Backend("numpy")
	table, err := b.Table()
	require.NoError(t, err)

	got, _ := table.Lookup("tensorflow.nest")
	assert.Equal(t, "vendor.backend.numpy.nest", got)
	got, _ = table.Lookup("third_party.sub")
	assert.Equal(t, "vendor.third_party.sub", got)

	// Stock rules the replacements did not touch still apply.
	got, _ = table.Lookup("tensorflow_probability.python.util")
	assert.Equal(t, "tensorflow_probability.substrates.numpy.util", got)
}

func TestBackend_CustomBackendHasNoStockRules(t *testing.T) {
	yaml := `
project: p
backends:
  - name: torch
    replacements:
      - from: tensorflow
        to: shims.torch
`
	m, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	b, _ := m.Backend("torch")
	table, err := b.Table()
	require.NoError(t, err)

	got, matched := table.Lookup("tensorflow.nest")
	assert.True(t, matched)
	assert.Equal(t, "shims.torch.nest", got)

	_, matched = table.Lookup("tensorflow_probability.python.util")
	assert.False(t, matched)
}

func TestPackage_DepsFor(t *testing.T) {
	m := testManifest(t)
	p, ok := m.Package("distributions")
	require.True(t, ok)

	assert.Equal(t, []string{"internal", "util"}, p.DepsFor("negative_binomial"))
	assert.Equal(t, []string{"internal", "util", "internal:test_util"}, p.DepsFor("negative_binomial_test"))

	// Mutating the result must not leak into the package.
	deps := p.DepsFor("distribution")
	deps[0] = "mutated"
	assert.Equal(t, []string{"internal", "util"}, p.DepsFor("distribution"))
}

func TestPackage_TestEnabled(t *testing.T) {
	m := testManifest(t)
	p, _ := m.Package("distributions")

	assert.False(t, p.TestEnabled("negative_binomial_test", "numpy"))
	assert.True(t, p.TestEnabled("negative_binomial_test", "jax"))
	assert.True(t, p.TestEnabled("unlisted_test", "numpy"))
}

func TestPackage_SourceFile(t *testing.T) {
	m := testManifest(t)
	p, _ := m.Package("internal")
	assert.Equal(t, "tensorflow_probability/python/internal/dtype_util.py", p.SourceFile("dtype_util"))
}

func TestManifest_OutputPath(t *testing.T) {
	m := testManifest(t)
	targets, err := m.FilterTargets("internal/dtype_util")
	require.NoError(t, err)
	require.Len(t, targets, 1)

	assert.Equal(t, "substrates/numpy/internal/dtype_util.py", m.OutputPath("numpy", targets[0]))
	assert.Equal(t, "substrates/jax/internal/dtype_util.py", m.OutputPath("jax", targets[0]))

	// Without a strip prefix the package path is carried through whole.
	m.StripPrefix = ""
	assert.Equal(t,
		"substrates/numpy/tensorflow_probability/python/internal/dtype_util.py",
		m.OutputPath("numpy", targets[0]))
}

func TestTestBase(t *testing.T) {
	base, ok := TestBase("gamma_test")
	assert.True(t, ok)
	assert.Equal(t, "gamma", base)

	_, ok = TestBase("gamma")
	assert.False(t, ok)
	_, ok = TestBase("_test")
	assert.False(t, ok)
}

func TestManifest_Order(t *testing.T) {
	m := testManifest(t)
	order, err := m.Order()
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["internal"], pos["util"])
	assert.Less(t, pos["util"], pos["distributions"])
}
