package manifest

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	graphlib "github.com/dominikbraun/graph"
)

// Validate checks every cross reference in the manifest: backend tables
// compile, test names pair with modules, exclusions and extra-dep keys
// point at declared names, dependency references resolve, and the package
// graph is acyclic. It returns the first defect found; Violations returns
// them all.
func (m *Manifest) Validate() error {
	if vs := m.Violations(); len(vs) > 0 {
		return vs[0]
	}
	return nil
}

// Violations runs the full invariant sweep and returns every defect. The
// sweep keeps going past individual defects, so one broken package does
// not hide problems in the next. Cycle detection runs only once all
// references resolve.
func (m *Manifest) Violations() []error {
	var vs []error
	add := func(format string, args ...any) {
		vs = append(vs, fmt.Errorf(format, args...))
	}

	if m.Project == "" {
		vs = append(vs, errors.New("project name is required"))
	}
	if len(m.Backends) == 0 {
		vs = append(vs, errors.New("at least one backend is required"))
	}
	if strings.HasPrefix(m.OutDir, "/") || pathEscapes(m.OutDir) {
		add("out_dir %q must stay under the manifest root", m.OutDir)
	}
	if m.StripPrefix != "" {
		if strings.HasPrefix(m.StripPrefix, "/") || path.Clean(m.StripPrefix) != m.StripPrefix || pathEscapes(m.StripPrefix) {
			add("strip_prefix %q must be a clean relative path", m.StripPrefix)
		}
	}

	seenBackend := make(map[string]bool, len(m.Backends))
	for i := range m.Backends {
		b := &m.Backends[i]
		if b.Name == "" {
			add("backend %d: name is required", i)
			continue
		}
		if seenBackend[b.Name] {
			add("duplicate backend %q", b.Name)
		}
		seenBackend[b.Name] = true
		if _, err := b.RulePolicy(); err != nil {
			vs = append(vs, err)
		}
		if _, err := b.Table(); err != nil {
			vs = append(vs, err)
		}
		for _, f := range b.Fixups {
			if f == "" || strings.ContainsAny(f, "/\\.") {
				add("backend %s: fixup name %q must be a bare script name", b.Name, f)
			}
		}
	}

	seenPkg := make(map[string]bool, len(m.Packages))
	seenPath := make(map[string]string, len(m.Packages))
	for i := range m.Packages {
		p := &m.Packages[i]
		if p.Name == "" {
			add("package %d: name is required", i)
			continue
		}
		if seenPkg[p.Name] {
			add("duplicate package %q", p.Name)
		}
		seenPkg[p.Name] = true
		vs = append(vs, m.packageViolations(p)...)
		if p.Path != "" {
			if other, ok := seenPath[p.Path]; ok {
				add("packages %q and %q share path %q", other, p.Name, p.Path)
			}
			seenPath[p.Path] = p.Name
		}
	}

	for i := range m.Packages {
		vs = append(vs, m.depViolations(&m.Packages[i])...)
	}

	if len(vs) == 0 {
		if _, err := m.Order(); err != nil {
			vs = append(vs, err)
		}
	}
	return vs
}

func (m *Manifest) packageViolations(p *Package) []error {
	var vs []error
	add := func(format string, args ...any) {
		vs = append(vs, fmt.Errorf(format, args...))
	}

	if p.Path == "" {
		add("package %s: path is required", p.Name)
	} else {
		if strings.HasPrefix(p.Path, "/") || path.Clean(p.Path) != p.Path || pathEscapes(p.Path) {
			add("package %s: path %q must be a clean relative path", p.Name, p.Path)
		}
		if m.StripPrefix != "" && p.Path != m.StripPrefix && !strings.HasPrefix(p.Path, m.StripPrefix+"/") {
			add("package %s: path %q is outside strip_prefix %q", p.Name, p.Path, m.StripPrefix)
		}
	}

	modules := make(map[string]bool, len(p.Modules))
	for _, name := range p.Modules {
		if name == "" || strings.ContainsAny(name, "/\\.") {
			add("package %s: module name %q must be a bare base name", p.Name, name)
			continue
		}
		if modules[name] {
			add("package %s: duplicate module %q", p.Name, name)
		}
		modules[name] = true
	}

	// Every test pairs with a module by the _test naming convention.
	tests := make(map[string]bool, len(p.Tests))
	for _, name := range p.Tests {
		if tests[name] {
			add("package %s: duplicate test %q", p.Name, name)
		}
		tests[name] = true
		base, ok := TestBase(name)
		if !ok {
			add("package %s: test %q does not end in _test", p.Name, name)
			continue
		}
		if !modules[base] {
			add("package %s: test %q has no module %q", p.Name, name, base)
		}
	}

	for _, backend := range sortedKeys(p.DisabledTests) {
		if _, ok := m.Backend(backend); !ok {
			add("package %s: disabled_tests references unknown backend %q", p.Name, backend)
		}
		for _, name := range p.DisabledTests[backend] {
			if !tests[name] {
				add("package %s: disabled test %q is not a declared test", p.Name, name)
			}
		}
	}

	for _, name := range sortedKeys(p.ExtraDeps) {
		if !modules[name] && !tests[name] {
			add("package %s: extra_deps key %q is not a declared module or test", p.Name, name)
		}
	}
	return vs
}

// depViolations resolves every dependency reference of p against the
// declared packages and modules.
func (m *Manifest) depViolations(p *Package) []error {
	var vs []error
	check := func(owner, ref string) {
		pkgName, module := depParts(ref)
		dep, ok := m.Package(pkgName)
		if !ok {
			vs = append(vs, fmt.Errorf("package %s: %s references unknown package %q", p.Name, owner, pkgName))
			return
		}
		if module != "" && !dep.HasModule(module) && !dep.HasTest(module) {
			vs = append(vs, fmt.Errorf("package %s: %s references unknown module %q in package %q", p.Name, owner, module, pkgName))
		}
	}
	for _, ref := range p.Deps {
		check("deps", ref)
	}
	for _, owner := range sortedKeys(p.ExtraDeps) {
		for _, ref := range p.ExtraDeps[owner] {
			check("extra_deps["+owner+"]", ref)
		}
	}
	return vs
}

// Graph builds the directed package dependency graph with an edge from
// each dependency to its dependent. Cycle-creating edges are rejected by
// the graph itself.
func (m *Manifest) Graph() (graphlib.Graph[string, string], error) {
	g := graphlib.New(graphlib.StringHash, graphlib.Directed(), graphlib.PreventCycles())
	for i := range m.Packages {
		if err := g.AddVertex(m.Packages[i].Name); err != nil {
			return nil, fmt.Errorf("package %s: %w", m.Packages[i].Name, err)
		}
	}
	addEdge := func(from, to string) error {
		err := g.AddEdge(from, to)
		switch {
		case err == nil, errors.Is(err, graphlib.ErrEdgeAlreadyExists):
			return nil
		case errors.Is(err, graphlib.ErrEdgeCreatesCycle):
			return fmt.Errorf("dependency cycle between packages %q and %q", to, from)
		default:
			return err
		}
	}
	for i := range m.Packages {
		p := &m.Packages[i]
		for _, ref := range p.Deps {
			pkgName, _ := depParts(ref)
			if pkgName == p.Name {
				continue
			}
			if err := addEdge(pkgName, p.Name); err != nil {
				return nil, err
			}
		}
		for _, refs := range p.ExtraDeps {
			for _, ref := range refs {
				pkgName, _ := depParts(ref)
				if pkgName == p.Name {
					continue
				}
				if err := addEdge(pkgName, p.Name); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}

// Order returns package names sorted so dependencies come before their
// dependents. Declaration order breaks ties only as far as the underlying
// sort allows; callers needing stable output should sort the result.
func (m *Manifest) Order() ([]string, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, err
	}
	order, err := graphlib.TopologicalSort(g)
	if err != nil {
		return nil, fmt.Errorf("ordering packages: %w", err)
	}
	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pathEscapes reports whether a slash-form relative path climbs out of
// its root through .. components.
func pathEscapes(p string) bool {
	clean := path.Clean(p)
	return clean == ".." || strings.HasPrefix(clean, "../")
}
