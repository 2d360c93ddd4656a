package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the backing store could not be reached or a
// storage-side operation failed. Callers treat it as transient
// infrastructure failure.
var ErrUnavailable = errors.New("session store unreachable")

// UpdateFunc transforms the current value of a key during an atomic
// read-modify-write. The current slice is nil when the key is absent.
// Returning an error aborts the update without writing.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the persistence contract consumed by the upload session manager.
// All operations are atomic at single-key granularity; Update provides the
// compare-and-swap primitive used for chunk-bitmap unions. Implementations
// must preserve a key's remaining TTL across Update.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
