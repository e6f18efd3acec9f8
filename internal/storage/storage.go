// Package storage provides the durable key/value map that holds monitor state.
//
// The store is deliberately dumb: values are opaque bytes written whole, and the
// last writer wins. Callers layer typed access on top (see package registry).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// KV is the interface for all persistence operations.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
