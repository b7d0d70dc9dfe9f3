package debugctx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

type enabledKey struct{}

// DebugLevel is the logr verbosity used for per-step and request tracing.
const DebugLevel = 1

func WithEnabled(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, enabledKey{}, enabled)
}

func Enabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	enabled, _ := ctx.Value(enabledKey{}).(bool)
	return enabled
}

// NewLogger builds a funcr logger writing one line per record to writer.
// Debug records are emitted only when debug is true.
func NewLogger(writer io.Writer, debug bool) logr.Logger {
	if writer == nil {
		return logr.Discard()
	}

	verbosity := 0
	if debug {
		verbosity = DebugLevel
	}

	return funcr.New(func(prefix, args string) {
		line := strings.TrimSpace(args)
		if prefix != "" {
			line = prefix + ": " + line
		}
		_, _ = fmt.Fprintln(writer, line)
	}, funcr.Options{Verbosity: verbosity})
}

func WithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// Logger returns the context logger, or a discarding logger when none is set.
func Logger(ctx context.Context) logr.Logger {
	if ctx == nil {
		return logr.Discard()
	}
	return logr.FromContextOrDiscard(ctx)
}

func Printf(ctx context.Context, format string, args ...any) {
	if !Enabled(ctx) {
		return
	}

	message := strings.TrimSpace(fmt.Sprintf(format, args...))
	if message == "" {
		return
	}

	Logger(ctx).V(DebugLevel).Info(message)
}
