// Package journal provides the shared key-value store behind remediation
// decision records and claims. Backends range from a Valkey cluster for
// multi-replica deployments down to an in-process map for local runs.
package journal

import (
	"context"
	"errors"
	"time"
)

// Store defines the minimal operations the remediation executor needs to
// claim decisions and persist their outcomes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound signals that a journal key was not found.
var ErrNotFound = errors.New("journal key not found")

// NoopStore implements Store but never persists anything. It is used when
// journaling is disabled; decisions then live only in process memory.
type NoopStore struct{}

// Get always reports a missing key.
func (NoopStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrNotFound
}

// Set discards the value and returns nil.
func (NoopStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends the claim succeeded.
func (NoopStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op.
func (NoopStore) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopStore) Close() error { return nil }
