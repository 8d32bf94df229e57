// Package manifest loads and validates substrate.yaml, the static build
// description naming every package, module, test, and backend the
// generator operates on. A loaded manifest never mutates; everything the
// engine consumes is derived from it at startup.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jcast/substrate/internal/rewrite"
)

// SourceExt is the fixed extension shared by every module source file.
const SourceExt = ".py"

// DefaultFile is the manifest name looked up when none is given.
const DefaultFile = "substrate.yaml"

// Manifest is the root of substrate.yaml.
type Manifest struct {
	// Project is the top-level namespace of the source tree.
	Project string `yaml:"project"`
	// Root is the directory the package paths hang off, relative to the
	// manifest file. Defaults to ".".
	Root string `yaml:"root"`
	// OutDir is where generated backend trees land, relative to Root.
	// Defaults to "substrates".
	OutDir string `yaml:"out_dir"`
	// StripPrefix, when set, is removed from package paths when laying
	// out generated trees, so out_dir/<backend> mirrors the source tree
	// below the prefix instead of repeating it.
	StripPrefix string `yaml:"strip_prefix"`

	Backends []Backend `yaml:"backends"`
	Packages []Package `yaml:"packages"`
}

// Backend declares one rewrite target and its policy.
type Backend struct {
	Name string `yaml:"name"`
	// Policy is "permissive" or "strict"; empty means permissive.
	Policy string `yaml:"policy"`
	// Replacements extend the stock table when Name is a known backend,
	// and form the whole table otherwise. A replacement whose from side
	// collides with a stock rule overrides it.
	Replacements []Replacement `yaml:"replacements"`
	// Guarded adds namespace roots to the strict-mode check set.
	Guarded []string `yaml:"guarded"`
	// Fixups names the scripts applied to rewritten sources, in order.
	Fixups []string `yaml:"fixups"`
}

// Replacement is one namespace rule in manifest form.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Package is one directory of modules sharing a default dependency set.
type Package struct {
	Name string `yaml:"name"`
	// Path locates the package directory under the manifest root, in
	// forward-slash form.
	Path string `yaml:"path"`
	// Deps is the default dependency set every module in the package
	// carries. Entries are "<package>" or "<package>:<module>".
	Deps []string `yaml:"deps"`
	// Modules are the logical base names, one source file each.
	Modules []string `yaml:"modules"`
	// Tests are the paired test names; each must be "<module>_test" for a
	// declared module.
	Tests []string `yaml:"tests"`
	// DisabledTests maps a backend name to test names skipped under it.
	DisabledTests map[string][]string `yaml:"disabled_tests"`
	// ExtraDeps appends dependency references for named modules or tests
	// on top of Deps. Absence of an entry means Deps alone.
	ExtraDeps map[string][]string `yaml:"extra_deps"`
}

// Load reads and parses the manifest at p. The result is not yet
// validated; call Validate before trusting cross references.
func Load(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return m, nil
}

// Parse decodes manifest YAML. Unknown fields are rejected so typos in
// substrate.yaml fail loudly instead of silently dropping configuration.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m.Root == "" {
		m.Root = "."
	}
	if m.OutDir == "" {
		m.OutDir = "substrates"
	}
	return &m, nil
}

// Backend returns the named backend declaration.
func (m *Manifest) Backend(name string) (*Backend, bool) {
	for i := range m.Backends {
		if m.Backends[i].Name == name {
			return &m.Backends[i], true
		}
	}
	return nil, false
}

// BackendNames returns the declared backend names in declaration order.
func (m *Manifest) BackendNames() []string {
	names := make([]string, len(m.Backends))
	for i, b := range m.Backends {
		names[i] = b.Name
	}
	return names
}

// Package returns the named package declaration.
func (m *Manifest) Package(name string) (*Package, bool) {
	for i := range m.Packages {
		if m.Packages[i].Name == name {
			return &m.Packages[i], true
		}
	}
	return nil, false
}

// OutputPath returns where a target's generated copy lands for one
// backend, relative to Root and in forward-slash form. StripPrefix is
// removed from the package path so the generated tree mirrors the
// source layout below it.
func (m *Manifest) OutputPath(backend string, t Target) string {
	dir := path.Dir(t.Source)
	if m.StripPrefix != "" {
		dir = trimPathPrefix(dir, m.StripPrefix)
	}
	return path.Join(m.OutDir, backend, dir, t.Name+SourceExt)
}

// trimPathPrefix removes prefix from p on a path component boundary.
func trimPathPrefix(p, prefix string) string {
	if p == prefix {
		return ""
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:]
	}
	return p
}

// Table compiles the backend's full rule table: the stock rules for known
// backend names overlaid with the manifest replacements, guarded by the
// stock roots plus any extras.
func (b *Backend) Table() (*rewrite.Table, error) {
	extra := make([]rewrite.Rule, len(b.Replacements))
	for i, r := range b.Replacements {
		extra[i] = rewrite.Rule{From: r.From, To: r.To}
	}
	rules := rewrite.MergeRules(rewrite.BuiltinRules(b.Name), extra)
	guarded := append(rewrite.BuiltinGuarded(), b.Guarded...)
	table, err := rewrite.NewTable(rules, guarded)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", b.Name, err)
	}
	return table, nil
}

// RulePolicy parses the backend's policy string.
func (b *Backend) RulePolicy() (rewrite.Policy, error) {
	p, err := rewrite.ParsePolicy(b.Policy)
	if err != nil {
		return p, fmt.Errorf("backend %s: %w", b.Name, err)
	}
	return p, nil
}

// SourceFile returns the path of a module or test source under the
// manifest root, in forward-slash form.
func (p *Package) SourceFile(name string) string {
	return path.Join(p.Path, name+SourceExt)
}

// HasModule reports whether name is a declared module of the package.
func (p *Package) HasModule(name string) bool {
	for _, m := range p.Modules {
		if m == name {
			return true
		}
	}
	return false
}

// HasTest reports whether name is a declared test of the package.
func (p *Package) HasTest(name string) bool {
	for _, t := range p.Tests {
		if t == name {
			return true
		}
	}
	return false
}

// TestEnabled reports whether the named test runs under backend. Unknown
// names are enabled; the exclusion list only ever removes entries.
func (p *Package) TestEnabled(test, backend string) bool {
	for _, disabled := range p.DisabledTests[backend] {
		if disabled == test {
			return false
		}
	}
	return true
}

// DepsFor returns the effective dependency references for a module or
// test: the package default set followed by any extra entries. The result
// is a fresh slice in declaration order.
func (p *Package) DepsFor(name string) []string {
	extra := p.ExtraDeps[name]
	deps := make([]string, 0, len(p.Deps)+len(extra))
	deps = append(deps, p.Deps...)
	deps = append(deps, extra...)
	return deps
}

// TestBase strips the test suffix from a paired test name. The boolean is
// false when name does not carry the suffix.
func TestBase(name string) (string, bool) {
	base, found := strings.CutSuffix(name, "_test")
	if !found || base == "" {
		return "", false
	}
	return base, true
}

// depParts splits a dependency reference into its package and optional
// module component.
func depParts(ref string) (pkg, module string) {
	pkg, module, _ = strings.Cut(ref, ":")
	return pkg, module
}
