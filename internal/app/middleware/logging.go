package middleware

import (
	"context"
	"log/slog"
	"time"

	"rentme-deposits/internal/app/commands"
)

// Logging records every dispatched command at debug level, tagged with the
// acting caller when the command is caller-scoped.
func Logging(logger *slog.Logger) CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			attrs := []any{"command", cmd.Key()}
			if scoped, ok := cmd.(CallerScoped); ok {
				attrs = append(attrs, "caller", scoped.Caller())
			}
			start := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			attrs = append(attrs, "duration", time.Since(start))
			if err != nil {
				logger.DebugContext(ctx, "command failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.DebugContext(ctx, "command handled", attrs...)
			return res, nil
		})
	}
}
