package commands

import (
	"context"
	"errors"
	"fmt"
)

// Command is a write intent against the deposit ledger. Key names the
// handler and must not depend on field values.
type Command interface {
	Key() string
}

type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("commands: handler not found")
	ErrInvalidCommand  = errors.New("commands: invalid command for handler")
	ErrResultType      = errors.New("commands: result type mismatch")
	ErrNilBus          = errors.New("commands: nil bus")
)

// Dispatch sends cmd through bus and narrows the result to R. Handlers that
// return a nil result produce the zero R.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	var want R
	if bus == nil {
		return want, ErrNilBus
	}
	raw, err := bus.Dispatch(ctx, cmd)
	if err != nil || raw == nil {
		return want, err
	}
	got, ok := raw.(R)
	if !ok {
		return want, fmt.Errorf("%w: %s returned %T, want %T", ErrResultType, cmd.Key(), raw, want)
	}
	return got, nil
}
