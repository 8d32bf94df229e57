package rewrite

import "sort"

// Namespace roots of the stock TensorFlow Probability layout. Projects
// with a different layout supply their own rules via the manifest.
const (
	tfRoot        = "tensorflow"
	tfpRoot       = "tensorflow_probability"
	backendRoot   = tfpRoot + ".python.internal.backend"
	substrateRoot = tfpRoot + ".substrates"
)

// builtinRules holds the stock table per backend. Within each table the
// identity pins on the backend and substrate subtrees keep already
// retargeted paths stable, which is what makes a second pass over
// generated output a no-op.
var builtinRules = map[string][]Rule{
	"numpy": {
		{From: tfRoot + ".compat.v1", To: backendRoot + ".numpy.compat.v1"},
		{From: tfRoot + ".compat.v2", To: backendRoot + ".numpy.compat.v2"},
		{From: tfRoot, To: backendRoot + ".numpy"},
		{From: backendRoot, To: backendRoot},
		{From: substrateRoot, To: substrateRoot},
		{From: tfpRoot + ".python", To: substrateRoot + ".numpy"},
		{From: tfpRoot, To: substrateRoot + ".numpy"},
	},
	"jax": {
		{From: tfRoot + ".compat.v1", To: backendRoot + ".jax.compat.v1"},
		{From: tfRoot + ".compat.v2", To: backendRoot + ".jax.compat.v2"},
		{From: tfRoot, To: backendRoot + ".jax"},
		{From: backendRoot + ".numpy", To: backendRoot + ".jax"},
		{From: backendRoot, To: backendRoot},
		{From: substrateRoot + ".numpy", To: substrateRoot + ".jax"},
		{From: substrateRoot, To: substrateRoot},
		{From: tfpRoot + ".python", To: substrateRoot + ".jax"},
		{From: tfpRoot, To: substrateRoot + ".jax"},
	},
}

// Builtin reports whether backend has a stock rule table.
func Builtin(backend string) bool {
	_, ok := builtinRules[backend]
	return ok
}

// BuiltinBackends returns the backend names with stock tables, sorted.
func BuiltinBackends() []string {
	names := make([]string, 0, len(builtinRules))
	for name := range builtinRules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinRules returns a copy of the stock rules for backend, or nil when
// the backend has none.
func BuiltinRules(backend string) []Rule {
	rules, ok := builtinRules[backend]
	if !ok {
		return nil
	}
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// BuiltinGuarded returns the namespace roots checked under Strict for the
// stock layout.
func BuiltinGuarded() []string {
	return []string{tfRoot, tfpRoot}
}
