package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryGateway is an in-process Gateway used by tests and by development
// deployments that run without object storage. Presigned URLs use a memory://
// scheme and are not fetchable; tests write chunk bytes directly with Put.
type MemoryGateway struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	modified map[string]time.Time
	clock    func() time.Time
	err      error
}

// NewMemoryGateway constructs an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		objects:  make(map[string][]byte),
		types:    make(map[string]string),
		modified: make(map[string]time.Time),
		clock:    time.Now,
	}
}

// WithClock overrides the time source, for sweep tests that age objects.
func (g *MemoryGateway) WithClock(clock func() time.Time) *MemoryGateway {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// FailWith forces every subsequent call to return err. Passing nil restores
// normal operation.
func (g *MemoryGateway) FailWith(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// Put stores object bytes directly, standing in for a client upload against a
// presigned URL.
func (g *MemoryGateway) Put(key string, data []byte) {
	g.mu.Lock()
	g.objects[key] = append([]byte(nil), data...)
	g.modified[key] = g.clock()
	g.mu.Unlock()
}

// Object returns the stored bytes for key.
func (g *MemoryGateway) Object(key string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type recorded when key was assembled.
func (g *MemoryGateway) ContentType(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.types[key]
}

func (g *MemoryGateway) PresignPut(_ context.Context, key string, contentLength int64, expiry time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("memory://bucket/%s?method=PUT&length=%d&expires=%d", key, contentLength, int64(expiry.Seconds())), nil
}

func (g *MemoryGateway) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("memory://bucket/%s?method=GET&expires=%d", key, int64(expiry.Seconds())), nil
}

func (g *MemoryGateway) Stat(_ context.Context, key string) (ObjectInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return ObjectInfo{}, g.err
	}
	data, ok := g.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), LastModified: g.modified[key]}, nil
}

func (g *MemoryGateway) ListPrefix(_ context.Context, prefix string) ([]ObjectInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	var objects []ObjectInfo
	for key, data := range g.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{Key: key, Size: int64(len(data)), LastModified: g.modified[key]})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (g *MemoryGateway) Assemble(_ context.Context, parts []ObjectInfo, finalKey, contentType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	var merged []byte
	for _, part := range parts {
		data, ok := g.objects[part.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, part.Key)
		}
		merged = append(merged, data...)
	}
	g.objects[finalKey] = merged
	g.types[finalKey] = contentType
	g.modified[finalKey] = g.clock()
	return nil
}

func (g *MemoryGateway) Checksum(_ context.Context, keys []string) (string, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", 0, g.err
	}
	hasher := sha256.New()
	var total int64
	for _, key := range keys {
		data, ok := g.objects[key]
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		hasher.Write(data)
		total += int64(len(data))
	}
	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

func (g *MemoryGateway) DeletePrefix(_ context.Context, prefix string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	deleted := 0
	for key := range g.objects {
		if strings.HasPrefix(key, prefix) {
			delete(g.objects, key)
			delete(g.types, key)
			delete(g.modified, key)
			deleted++
		}
	}
	return deleted, nil
}
