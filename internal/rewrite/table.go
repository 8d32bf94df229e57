package rewrite

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Rule retargets one dotted namespace prefix to another. A rule whose To
// equals its From is an identity pin: it matches like any other rule and
// thereby shields a subtree from shorter, broader rules.
type Rule struct {
	From string
	To   string
}

// Table is a compiled, ordered set of namespace rules plus the guarded
// prefixes consulted under the Strict policy. Tables are immutable after
// NewTable and safe for concurrent use.
type Table struct {
	rules   []Rule   // longest From first, ties broken lexicographically
	guarded []string // namespace roots that must be mapped under Strict
}

// NewTable validates and compiles a rule set. Rule From fields must be
// well-formed dotted names and unique; guarded entries follow the same
// form. The input slices are copied.
func NewTable(rules []Rule, guarded []string) (*Table, error) {
	seen := make(map[string]bool, len(rules))
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := checkDottedName(r.From); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.From, err)
		}
		if err := checkDottedName(r.To); err != nil {
			return nil, fmt.Errorf("rule %q -> %q: %w", r.From, r.To, err)
		}
		if seen[r.From] {
			return nil, fmt.Errorf("duplicate rule for %q", r.From)
		}
		seen[r.From] = true
		compiled = append(compiled, r)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if len(compiled[i].From) != len(compiled[j].From) {
			return len(compiled[i].From) > len(compiled[j].From)
		}
		return compiled[i].From < compiled[j].From
	})

	g := make([]string, 0, len(guarded))
	for _, p := range guarded {
		if err := checkDottedName(p); err != nil {
			return nil, fmt.Errorf("guarded prefix %q: %w", p, err)
		}
		g = append(g, p)
	}
	sort.Strings(g)

	return &Table{rules: compiled, guarded: g}, nil
}

// MergeRules overlays extra onto base: an extra rule replaces a base rule
// with the same From, otherwise it is appended. Order within each slice is
// preserved; neither input is modified.
func MergeRules(base, extra []Rule) []Rule {
	replaced := make(map[string]Rule, len(extra))
	for _, r := range extra {
		replaced[r.From] = r
	}
	merged := make([]Rule, 0, len(base)+len(extra))
	for _, r := range base {
		if override, ok := replaced[r.From]; ok {
			merged = append(merged, override)
			delete(replaced, r.From)
			continue
		}
		merged = append(merged, r)
	}
	for _, r := range extra {
		if _, pending := replaced[r.From]; pending {
			merged = append(merged, r)
		}
	}
	return merged
}

// Lookup retargets path by its longest matching rule. The boolean reports
// whether any rule matched; identity pins report a match with the path
// returned unchanged.
func (t *Table) Lookup(path string) (string, bool) {
	for _, r := range t.rules {
		if matchesPrefix(path, r.From) {
			return r.To + path[len(r.From):], true
		}
	}
	return path, false
}

// Guarded reports whether path is rooted in a guarded namespace.
func (t *Table) Guarded(path string) bool {
	for _, p := range t.guarded {
		if matchesPrefix(path, p) {
			return true
		}
	}
	return false
}

// Rules returns the compiled rules in match order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Hash returns a hex SHA-256 over the table's canonical form. Two tables
// with the same rules and guarded prefixes hash identically regardless of
// the order they were declared in.
func (t *Table) Hash() string {
	h := sha256.New()
	for _, r := range t.rules {
		fmt.Fprintf(h, "rule:%s>%s\n", r.From, r.To)
	}
	for _, p := range t.guarded {
		fmt.Fprintf(h, "guard:%s\n", p)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// matchesPrefix reports whether prefix covers path on dotted-component
// boundaries: "backend_a" covers "backend_a.linalg" but not "backend_ab".
func matchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) &&
		strings.HasPrefix(path, prefix) &&
		path[len(prefix)] == '.'
}

// checkDottedName rejects namespace strings that cannot appear as a Python
// module path: empty, leading/trailing dots, empty components, whitespace.
func checkDottedName(s string) error {
	if s == "" {
		return fmt.Errorf("empty namespace")
	}
	if strings.ContainsAny(s, " \t\n") {
		return fmt.Errorf("namespace contains whitespace")
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return fmt.Errorf("empty dotted component")
		}
	}
	return nil
}
