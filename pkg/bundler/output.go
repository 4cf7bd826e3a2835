package bundler

import (
	"context"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type logKey struct{}

// Log returns the logger attached to ctx or the global logger if there is none.
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &zlog.Logger
	}

	return logger.(*zerolog.Logger)
}

func log(ctx context.Context) *zerolog.Logger {
	return Log(ctx)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}
