// Package catalog keeps the durable ledger of finalized upload objects. The
// upload subsystem works without it; a nil catalog simply skips recording.
package catalog

import (
	"context"
	"time"

	"wavecrate/internal/upload"
)

// Entry is one ledger row describing a finalized object.
type Entry struct {
	Key          string
	OwnerID      string
	Kind         string
	Size         int64
	ContentType  string
	Checksum     string
	EntityID     string
	FileName     string
	CreatedAt    time.Time
	ProcessedKey string
	ThumbnailKey string
}

// Catalog stores and queries finalized-object entries.
type Catalog interface {
	RecordFinalized(ctx context.Context, obj upload.FinalizedObject) error
	RecordProcessed(ctx context.Context, key, processedKey, thumbnailKey string) error
	ByOwner(ctx context.Context, ownerID string) ([]Entry, error)
	ByKey(ctx context.Context, key string) (Entry, bool, error)
	Close(ctx context.Context) error
}

func entryFromObject(obj upload.FinalizedObject) Entry {
	return Entry{
		Key:         obj.Key,
		OwnerID:     obj.OwnerID,
		Kind:        string(obj.Kind),
		Size:        obj.Size,
		ContentType: obj.ContentType,
		Checksum:    obj.Checksum,
		EntityID:    obj.EntityID,
		FileName:    obj.FileName,
		CreatedAt:   obj.CompletedAt,
	}
}
