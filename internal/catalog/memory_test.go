package catalog

import (
	"context"
	"testing"
	"time"

	"wavecrate/internal/upload"
)

func finalized(key, owner string, at time.Time) upload.FinalizedObject {
	return upload.FinalizedObject{
		Key:         key,
		OwnerID:     owner,
		Kind:        upload.KindAudio,
		Size:        1024,
		ContentType: "audio/wav",
		Checksum:    "abcd",
		FileName:    "track.wav",
		CompletedAt: at,
	}
}

func TestMemoryCatalogRecordAndQuery(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if err := cat.RecordFinalized(ctx, finalized("assets/a", "owner-1", base)); err != nil {
		t.Fatalf("RecordFinalized: %v", err)
	}
	if err := cat.RecordFinalized(ctx, finalized("assets/b", "owner-1", base.Add(time.Hour))); err != nil {
		t.Fatalf("RecordFinalized: %v", err)
	}
	if err := cat.RecordFinalized(ctx, finalized("assets/c", "owner-2", base)); err != nil {
		t.Fatalf("RecordFinalized: %v", err)
	}

	entry, ok, err := cat.ByKey(ctx, "assets/a")
	if err != nil || !ok {
		t.Fatalf("ByKey = (%v, %v)", ok, err)
	}
	if entry.OwnerID != "owner-1" || entry.Kind != "audio" || entry.Checksum != "abcd" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, ok, _ := cat.ByKey(ctx, "assets/zzz"); ok {
		t.Fatal("unknown key must not be found")
	}

	entries, err := cat.ByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ByOwner: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Key != "assets/b" || entries[1].Key != "assets/a" {
		t.Fatalf("order = [%s, %s], want newest first", entries[0].Key, entries[1].Key)
	}
}

func TestMemoryCatalogRecordProcessed(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if err := cat.RecordFinalized(ctx, finalized("assets/a", "owner-1", base)); err != nil {
		t.Fatalf("RecordFinalized: %v", err)
	}
	if err := cat.RecordProcessed(ctx, "assets/a", "processed/a", "thumbs/a"); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}
	entry, _, err := cat.ByKey(ctx, "assets/a")
	if err != nil {
		t.Fatalf("ByKey: %v", err)
	}
	if entry.ProcessedKey != "processed/a" || entry.ThumbnailKey != "thumbs/a" {
		t.Fatalf("entry = %+v", entry)
	}
	if err := cat.RecordProcessed(ctx, "assets/missing", "p", "t"); err == nil {
		t.Fatal("expected error recording output for an unknown entry")
	}
}

func TestMemoryCatalogRecordFinalizedUpserts(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	obj := finalized("assets/a", "owner-1", base)
	if err := cat.RecordFinalized(ctx, obj); err != nil {
		t.Fatalf("RecordFinalized: %v", err)
	}
	obj.Size = 2048
	if err := cat.RecordFinalized(ctx, obj); err != nil {
		t.Fatalf("RecordFinalized(again): %v", err)
	}
	entry, _, _ := cat.ByKey(ctx, "assets/a")
	if entry.Size != 2048 {
		t.Fatalf("size = %d, want the re-recorded value", entry.Size)
	}
	entries, _ := cat.ByOwner(ctx, "owner-1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 after upsert", len(entries))
	}
}
