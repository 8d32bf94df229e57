// Package fixup applies Risor post-processing scripts to rewritten
// sources. Namespace rules handle import paths; fixups cover the textual
// residue a rule table cannot express, such as swapping a test entry
// point or flipping a backend mode flag.
package fixup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"
)

// Ext is the script file extension.
const Ext = ".risor"

// Input carries one rewritten source through its fixup chain. The
// metadata fields are exposed to scripts as globals of the same names.
type Input struct {
	Source  []byte
	Path    string
	Backend string
	Module  string
	Kind    string
}

// Engine evaluates fixup scripts by name. Scripts load from an fs.FS
// (usually the embedded default set) or from a directory on disk. An
// Engine holds no per-call state and is safe for concurrent use.
type Engine struct {
	fsys   fs.FS
	dir    string
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFS loads scripts from fsys. Takes precedence over WithDir.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.fsys = fsys
	}
}

// WithDir loads scripts from a directory on disk.
func WithDir(dir string) Option {
	return func(e *Engine) {
		e.dir = dir
	}
}

// WithLogger routes script log output through l.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a fixup engine. Without WithFS or WithDir every
// Apply with a non-empty script list fails.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load returns the source of one script.
func (e *Engine) Load(name string) (string, error) {
	if e.fsys != nil {
		data, err := fs.ReadFile(e.fsys, name+Ext)
		if err != nil {
			return "", fmt.Errorf("fixup: loading script %s from fs: %w", name, err)
		}
		return string(data), nil
	}
	if e.dir != "" {
		data, err := os.ReadFile(filepath.Join(e.dir, name+Ext))
		if err != nil {
			return "", fmt.Errorf("fixup: loading script %s: %w", name, err)
		}
		return string(data), nil
	}
	return "", errors.New("fixup: no script source configured")
}

// Has reports whether the named script is loadable.
func (e *Engine) Has(name string) bool {
	_, err := e.Load(name)
	return err == nil
}

// Apply runs the named scripts in order, each seeing the previous
// script's output as src. A script evaluates to the new content as a
// string, or to nil to leave the content unchanged.
func (e *Engine) Apply(ctx context.Context, names []string, in Input) ([]byte, error) {
	content := in.Source
	for _, name := range names {
		next, err := e.applyOne(ctx, name, in, content)
		if err != nil {
			return nil, err
		}
		content = next
	}
	return content, nil
}

func (e *Engine) applyOne(ctx context.Context, name string, in Input, content []byte) ([]byte, error) {
	source, err := e.Load(name)
	if err != nil {
		return nil, err
	}

	opts := []risor.Option{
		risor.WithGlobal("src", string(content)),
		risor.WithGlobal("path", in.Path),
		risor.WithGlobal("backend", in.Backend),
		risor.WithGlobal("module", in.Module),
		risor.WithGlobal("kind", in.Kind),
		risor.WithGlobal("replace_all", makeReplaceAllFn()),
		risor.WithGlobal("log", mustProxy(&logObject{logger: e.logger.Sugar().With("fixup", name)})),
	}
	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("fixup %s: %w", name, err)
	}

	switch res := result.(type) {
	case *object.String:
		return []byte(res.Value()), nil
	case *object.NilType:
		return content, nil
	default:
		return nil, fmt.Errorf("fixup %s: script must evaluate to a string or nil, got %s", name, result.Type())
	}
}
