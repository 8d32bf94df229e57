package fixup

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"
)

// makeReplaceAllFn creates the "replace_all" host function.
//
// replace_all(s, old, new) → string
func makeReplaceAllFn() *object.Builtin {
	return object.NewBuiltin("replace_all", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("replace_all", 3, len(args))
		}
		values := make([]string, 3)
		for i, arg := range args {
			s, ok := arg.(*object.String)
			if !ok {
				return object.Errorf("replace_all: argument %d must be a string, got %s", i+1, arg.Type())
			}
			values[i] = s.Value()
		}
		return object.NewString(strings.ReplaceAll(values[0], values[1], values[2]))
	})
}

// logObject provides log.info/warn/error methods for fixup scripts.
type logObject struct {
	logger *zap.SugaredLogger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("fixup: proxy error: %v", err))
	}
	return p
}
