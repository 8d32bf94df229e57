package manifest

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Kind distinguishes library modules from their paired tests.
type Kind string

const (
	KindModule Kind = "module"
	KindTest   Kind = "test"
)

// Target is one backend-independent build unit: a single module or test
// source belonging to a package.
type Target struct {
	Package string
	Name    string
	Kind    Kind
	// Source is the input path under the manifest root, forward slashes.
	Source string
	// Deps are the resolved dependency references for this unit.
	Deps []string
}

// Label returns the target's manifest-wide name, "<package>/<name>".
func (t Target) Label() string {
	return t.Package + "/" + t.Name
}

// Targets flattens the manifest into its build units: for each package in
// declaration order, modules first, then tests.
func (m *Manifest) Targets() []Target {
	var out []Target
	for i := range m.Packages {
		p := &m.Packages[i]
		for _, name := range p.Modules {
			out = append(out, Target{
				Package: p.Name,
				Name:    name,
				Kind:    KindModule,
				Source:  p.SourceFile(name),
				Deps:    p.DepsFor(name),
			})
		}
		for _, name := range p.Tests {
			out = append(out, Target{
				Package: p.Name,
				Name:    name,
				Kind:    KindTest,
				Source:  p.SourceFile(name),
				Deps:    p.DepsFor(name),
			})
		}
	}
	return out
}

// FilterTargets returns the targets whose label matches pattern, a glob
// over "<package>/<name>" with / as separator. A bare package name
// selects the whole package. An empty pattern selects everything.
func (m *Manifest) FilterTargets(pattern string) ([]Target, error) {
	all := m.Targets()
	if pattern == "" {
		return all, nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	var out []Target
	for _, t := range all {
		if g.Match(t.Label()) || g.Match(t.Package) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RunnableTests returns the test targets eligible to run under backend,
// honoring each package's exclusion list.
func (m *Manifest) RunnableTests(backend string) []Target {
	var out []Target
	for _, t := range m.Targets() {
		if t.Kind != KindTest {
			continue
		}
		p, ok := m.Package(t.Package)
		if !ok || !p.TestEnabled(t.Name, backend) {
			continue
		}
		out = append(out, t)
	}
	return out
}
