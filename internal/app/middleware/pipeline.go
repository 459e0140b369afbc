package middleware

import (
	"context"
	"log/slog"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/outbox"
	"rentme-deposits/internal/app/queries"
)

type CommandMiddleware func(next commands.Bus) commands.Bus

type QueryMiddleware func(next queries.Bus) queries.Bus

// ChainCommands wraps base so that mws[0] runs first.
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

func ChainQueries(base queries.Bus, mws ...QueryMiddleware) queries.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// Pipeline is the standard deposit chain. Commands pass logging, validation,
// authorization, idempotency and outbox flush in that order; queries only
// validation and authorization. Idempotency and the outbox are skipped when
// nil.
type Pipeline struct {
	Logger      *slog.Logger
	Validator   Validator
	Authorizer  Authorizer
	Idempotency IdempotencyStore
	Codec       ResultCodec
	Outbox      outbox.Outbox
}

func (p Pipeline) Commands(base commands.Bus) commands.Bus {
	mws := []CommandMiddleware{
		Logging(p.Logger),
		Validation(p.validator()),
		Authorization(p.authorizer()),
	}
	if p.Idempotency != nil {
		mws = append(mws, Idempotency(p.Idempotency, p.Codec))
	}
	if p.Outbox != nil {
		mws = append(mws, OutboxFlush(p.Outbox, p.Logger))
	}
	return ChainCommands(base, mws...)
}

func (p Pipeline) Queries(base queries.Bus) queries.Bus {
	return ChainQueries(base,
		QueryValidation(p.validator()),
		QueryAuthorization(p.authorizer()),
	)
}

func (p Pipeline) validator() Validator {
	if p.Validator != nil {
		return p.Validator
	}
	return MessageValidator{}
}

func (p Pipeline) authorizer() Authorizer {
	if p.Authorizer != nil {
		return p.Authorizer
	}
	return RequireCaller{}
}

type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

func wrapCommand(next commands.Bus) commandFunc {
	return func(ctx context.Context, cmd commands.Command) (any, error) {
		return next.Dispatch(ctx, cmd)
	}
}

type queryFunc func(ctx context.Context, query queries.Query) (any, error)

func (f queryFunc) Ask(ctx context.Context, q queries.Query) (any, error) {
	return f(ctx, q)
}
