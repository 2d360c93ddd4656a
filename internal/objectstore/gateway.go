package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable reports a failed call against the backing object store.
	ErrUnavailable = errors.New("object storage unreachable")
	// ErrNotFound reports that a referenced object does not exist.
	ErrNotFound = errors.New("object not found")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Gateway is the object-storage contract consumed by the upload manager and
// the cleanup sweeper. Chunks are written by clients directly against
// presigned URLs; the service itself only stats, assembles, and deletes.
type Gateway interface {
	PresignPut(ctx context.Context, key string, contentLength int64, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Assemble(ctx context.Context, parts []ObjectInfo, finalKey, contentType string) error
	Checksum(ctx context.Context, keys []string) (string, int64, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Keyspace maps sessions and finalized uploads onto object keys. Chunk keys
// embed a zero-padded index so a lexicographic listing is also chunk order.
type Keyspace struct {
	ChunkRoot string
	FinalRoot string
}

// NewKeyspace normalizes the configured root prefixes.
func NewKeyspace(chunkRoot, finalRoot string) Keyspace {
	return Keyspace{
		ChunkRoot: strings.Trim(chunkRoot, "/"),
		FinalRoot: strings.Trim(finalRoot, "/"),
	}
}

// ChunkKey returns the object key for one chunk of a session, namespaced by
// file kind and owner the same way final keys are.
func (k Keyspace) ChunkKey(kind, ownerID, sessionID string, index int) string {
	return fmt.Sprintf("%s/%s/%s/%s/chunk_%05d", k.ChunkRoot, kind, ownerID, sessionID, index)
}

// SessionPrefix returns the key prefix holding every chunk of a session.
func (k Keyspace) SessionPrefix(kind, ownerID, sessionID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/", k.ChunkRoot, kind, ownerID, sessionID)
}

// FinalKey returns the permanent key for a completed upload.
func (k Keyspace) FinalKey(kind, ownerID, sessionID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s", k.FinalRoot, kind, ownerID, sessionID, fileName)
}

// ChunkNamespace recovers the session identifier and its full key prefix
// from a chunk object key, for sweeps that walk the chunk namespace directly.
func (k Keyspace) ChunkNamespace(key string) (sessionID, prefix string, ok bool) {
	rest, ok := strings.CutPrefix(key, k.ChunkRoot+"/")
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[2], k.SessionPrefix(parts[0], parts[1], parts[2]), true
}
