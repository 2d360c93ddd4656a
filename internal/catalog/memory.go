package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wavecrate/internal/upload"
)

// MemoryCatalog is the development and test ledger.
type MemoryCatalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCatalog constructs an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{entries: make(map[string]Entry)}
}

func (c *MemoryCatalog) RecordFinalized(_ context.Context, obj upload.FinalizedObject) error {
	entry := entryFromObject(obj)
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) RecordProcessed(_ context.Context, key, processedKey, thumbnailKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("record processed output for %s: no such entry", key)
	}
	entry.ProcessedKey = processedKey
	entry.ThumbnailKey = thumbnailKey
	c.entries[key] = entry
	return nil
}

func (c *MemoryCatalog) ByOwner(_ context.Context, ownerID string) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var entries []Entry
	for _, entry := range c.entries {
		if entry.OwnerID == ownerID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

func (c *MemoryCatalog) ByKey(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok, nil
}

func (c *MemoryCatalog) Close(context.Context) error {
	return nil
}
