// Package kv is the board's durable key-value storage: a handful of named
// slots that survive restarts. A local sqlite file is the default; a postgres
// DSN lets several cashier terminals share the same slots.
package kv

import (
	"context"
	"errors"
	"strings"
)

// UpdateFunc receives the current value of a slot and returns the next one.
// Returning a nil slice removes the slot.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("kv dsn is required")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, dsn)
}
