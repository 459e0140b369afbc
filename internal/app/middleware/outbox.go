package middleware

import (
	"context"
	"log/slog"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/outbox"
)

// OutboxFlush flushes buffered events once a command returns. Failed
// releases still record deposit.release_failed, so the flush runs on errors
// too; a flush error is then logged rather than masking the handler error.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			flushErr := box.Flush(context.WithoutCancel(ctx))
			switch {
			case flushErr == nil:
				return res, err
			case err != nil:
				logger.Error("outbox flush after failed command", "command", cmd.Key(), "error", flushErr)
				return nil, err
			default:
				return nil, flushErr
			}
		})
	}
}
