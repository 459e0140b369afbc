package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"rentme-deposits/internal/app/commands"
)

// IdempotentCommand must be implemented by commands that want idempotency guarantees.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any // should match the handler result type
}

// IdempotencyRecord is a stored success. Fingerprint hashes the encoded
// command so a client key reused for a different booking is refused.
type IdempotencyRecord struct {
	Key         string
	Command     string
	Fingerprint string
	Payload     []byte
	OccurredAt  time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var (
	errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")
	ErrKeyReused        = errors.New("middleware: idempotency key reused for a different command")
)

// Idempotency replays stored results for repeated keys. Only successful
// results are stored: a failed release (not eligible yet, gateway outage)
// must stay retryable under the same client key.
func Idempotency(store IdempotencyStore, codec ResultCodec) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	return func(next commands.Bus) commands.Bus {
		guard := idempotencyGuard{store: store, codec: codec, next: wrapCommand(next)}
		return commandFunc(guard.dispatch)
	}
}

type idempotencyGuard struct {
	store IdempotencyStore
	codec ResultCodec
	next  commandFunc
}

func (g idempotencyGuard) dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	idCmd, ok := cmd.(IdempotentCommand)
	if !ok || idCmd.IdempotencyKey() == "" {
		return g.next(ctx, cmd)
	}
	key := idCmd.IdempotencyKey()
	fingerprint, err := g.fingerprint(cmd)
	if err != nil {
		return nil, err
	}

	rec, found, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("middleware: idempotency lookup: %w", err)
	}
	if found {
		return g.replay(idCmd, rec, fingerprint)
	}

	result, err := g.next(ctx, cmd)
	if err != nil {
		return nil, err
	}
	record := IdempotencyRecord{
		Key:         key,
		Command:     cmd.Key(),
		Fingerprint: fingerprint,
		OccurredAt:  time.Now().UTC(),
	}
	if result != nil {
		if record.Payload, err = g.codec.Encode(result); err != nil {
			return nil, err
		}
	}
	if err := g.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("middleware: idempotency save: %w", err)
	}
	return result, nil
}

func (g idempotencyGuard) replay(cmd IdempotentCommand, rec IdempotencyRecord, fingerprint string) (any, error) {
	if rec.Command != "" && rec.Command != cmd.Key() {
		return nil, ErrKeyReused
	}
	if rec.Fingerprint != "" && rec.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) == 0 {
		return nil, nil
	}
	if err := g.codec.Decode(rec.Payload, proto); err != nil {
		return nil, err
	}
	return normalizePrototype(proto), nil
}

func (g idempotencyGuard) fingerprint(cmd commands.Command) (string, error) {
	raw, err := g.codec.Encode(cmd)
	if err != nil {
		return "", fmt.Errorf("middleware: fingerprint %s: %w", cmd.Key(), err)
	}
	sum := sha256.Sum256(append([]byte(cmd.Key()+"\x00"), raw...))
	return hex.EncodeToString(sum[:]), nil
}

func normalizePrototype(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Interface()
	}
	return proto
}
