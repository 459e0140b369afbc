package middleware

import (
	"context"
	"errors"
	"strings"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/queries"
)

var ErrUnauthenticated = errors.New("middleware: caller identity required")

// Validator and Authorizer both inspect a message before it reaches its
// handler; a non-nil error stops the chain.
type Validator interface {
	Validate(ctx context.Context, message any) error
}

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// SelfValidating messages check their own fields.
type SelfValidating interface {
	Validate() error
}

// CallerScoped messages act on behalf of a booking party.
type CallerScoped interface {
	Caller() string
}

// MessageValidator defers to SelfValidating messages and accepts the rest.
type MessageValidator struct{}

func (MessageValidator) Validate(_ context.Context, message any) error {
	if v, ok := message.(SelfValidating); ok {
		return v.Validate()
	}
	return nil
}

// RequireCaller rejects caller-scoped messages that carry no identity.
// Whether the caller is a party to the booking is decided by the handler,
// which owns the ledger lookup.
type RequireCaller struct{}

func (RequireCaller) Authorize(_ context.Context, message any) error {
	if scoped, ok := message.(CallerScoped); ok && strings.TrimSpace(scoped.Caller()) == "" {
		return ErrUnauthenticated
	}
	return nil
}

type check func(ctx context.Context, message any) error

func guardCommands(c check) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := c(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func guardQueries(c check) QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := c(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func Validation(v Validator) CommandMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return guardCommands(v.Validate)
}

func QueryValidation(v Validator) QueryMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return guardQueries(v.Validate)
}

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return guardCommands(a.Authorize)
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return guardQueries(a.Authorize)
}
