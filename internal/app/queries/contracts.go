package queries

import (
	"context"
	"errors"
	"fmt"
)

type Query interface {
	Key() string
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// Bus serves read-only lookups; nothing routed here may change ledger state.
type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("queries: handler not found")
	ErrInvalidQuery    = errors.New("queries: invalid query for handler")
	ErrResultType      = errors.New("queries: result type mismatch")
	ErrNilBus          = errors.New("queries: nil bus")
)

func Ask[Q Query, R any](ctx context.Context, bus Bus, query Q) (R, error) {
	var want R
	if bus == nil {
		return want, ErrNilBus
	}
	raw, err := bus.Ask(ctx, query)
	if err != nil || raw == nil {
		return want, err
	}
	got, ok := raw.(R)
	if !ok {
		return want, fmt.Errorf("%w: %s returned %T, want %T", ErrResultType, query.Key(), raw, want)
	}
	return got, nil
}
