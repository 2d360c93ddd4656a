package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestKeyspaceKeys(t *testing.T) {
	keys := NewKeyspace("/chunks/", "assets")

	if got := keys.ChunkKey("audio", "owner-1", "sess-1", 0); got != "chunks/audio/owner-1/sess-1/chunk_00000" {
		t.Fatalf("chunk key = %q", got)
	}
	if got := keys.ChunkKey("audio", "owner-1", "sess-1", 42); got != "chunks/audio/owner-1/sess-1/chunk_00042" {
		t.Fatalf("chunk key = %q", got)
	}
	if got := keys.SessionPrefix("audio", "owner-1", "sess-1"); got != "chunks/audio/owner-1/sess-1/" {
		t.Fatalf("session prefix = %q", got)
	}
	if got := keys.FinalKey("audio", "owner-1", "sess-1", "track.wav"); got != "assets/audio/owner-1/sess-1_track.wav" {
		t.Fatalf("final key = %q", got)
	}
}

func TestKeyspaceChunkOrderIsLexicographic(t *testing.T) {
	keys := NewKeyspace("chunks", "assets")
	generated := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		generated = append(generated, keys.ChunkKey("audio", "owner-1", "sess-1", i))
	}
	sorted := append([]string(nil), generated...)
	sort.Strings(sorted)
	for i := range generated {
		if generated[i] != sorted[i] {
			t.Fatalf("index %d: chunk keys do not sort in chunk order (%q vs %q)", i, generated[i], sorted[i])
		}
	}
}

func TestChunkNamespace(t *testing.T) {
	keys := NewKeyspace("chunks", "assets")
	cases := []struct {
		key        string
		wantID     string
		wantPrefix string
		ok         bool
	}{
		{
			key:        "chunks/audio/owner-1/sess-1/chunk_00003",
			wantID:     "sess-1",
			wantPrefix: "chunks/audio/owner-1/sess-1/",
			ok:         true,
		},
		{
			key:        keys.ChunkKey("image", "owner-2", "abc123", 7),
			wantID:     "abc123",
			wantPrefix: "chunks/image/owner-2/abc123/",
			ok:         true,
		},
		{key: "assets/audio/owner/sess_track.wav"},
		{key: "chunks/"},
		{key: "chunks/loose-object"},
		{key: "chunks/audio/sess-1/chunk_00000"},
	}
	for _, tc := range cases {
		id, prefix, ok := keys.ChunkNamespace(tc.key)
		if ok != tc.ok || id != tc.wantID || prefix != tc.wantPrefix {
			t.Fatalf("ChunkNamespace(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.key, id, prefix, ok, tc.wantID, tc.wantPrefix, tc.ok)
		}
	}
}

func TestMemoryGatewayAssembleAndChecksum(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	chunks := [][]byte{
		bytes.Repeat([]byte{'a'}, 1000),
		bytes.Repeat([]byte{'b'}, 1000),
		bytes.Repeat([]byte{'c'}, 500),
	}
	var parts []ObjectInfo
	var keys []string
	var merged []byte
	for i, data := range chunks {
		key := NewKeyspace("chunks", "assets").ChunkKey("audio", "owner-1", "sess-1", i)
		gw.Put(key, data)
		info, err := gw.Stat(ctx, key)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Size != int64(len(data)) {
			t.Fatalf("size = %d, want %d", info.Size, len(data))
		}
		parts = append(parts, info)
		keys = append(keys, key)
		merged = append(merged, data...)
	}

	checksum, total, err := gw.Checksum(ctx, keys)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if total != int64(len(merged)) {
		t.Fatalf("total = %d, want %d", total, len(merged))
	}
	sum := sha256.Sum256(merged)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum = %q, want %q", checksum, hex.EncodeToString(sum[:]))
	}

	if err := gw.Assemble(ctx, parts, "assets/final.bin", "audio/wav"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	data, ok := gw.Object("assets/final.bin")
	if !ok || !bytes.Equal(data, merged) {
		t.Fatal("assembled object does not match concatenated parts")
	}
	if gw.ContentType("assets/final.bin") != "audio/wav" {
		t.Fatalf("content type = %q", gw.ContentType("assets/final.bin"))
	}
}

func TestMemoryGatewayDeletePrefix(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()
	gw.Put("chunks/sess-1/chunk_00000", []byte("a"))
	gw.Put("chunks/sess-1/chunk_00001", []byte("b"))
	gw.Put("chunks/sess-2/chunk_00000", []byte("c"))

	deleted, err := gw.DeletePrefix(ctx, "chunks/sess-1/")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	remaining, err := gw.ListPrefix(ctx, "chunks/")
	if err != nil {
		t.Fatalf("ListPrefix: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Key != "chunks/sess-2/chunk_00000" {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestMemoryGatewayStatMissing(t *testing.T) {
	gw := NewMemoryGateway()
	if _, err := gw.Stat(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGatewayPresignEmbedsKey(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	put, err := gw.PresignPut(ctx, "chunks/sess-1/chunk_00000", 5_000_000, time.Hour)
	if err != nil {
		t.Fatalf("PresignPut: %v", err)
	}
	if !strings.Contains(put, "chunks/sess-1/chunk_00000") || !strings.Contains(put, "length=5000000") {
		t.Fatalf("presigned PUT = %q", put)
	}
	get, err := gw.PresignGet(ctx, "assets/final.bin", 30*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(get, "assets/final.bin") || !strings.Contains(get, "expires=1800") {
		t.Fatalf("presigned GET = %q", get)
	}
}

func TestMemoryGatewayFailureInjection(t *testing.T) {
	gw := NewMemoryGateway()
	boom := errors.New("boom")
	gw.FailWith(boom)
	if _, err := gw.Stat(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	gw.FailWith(nil)
	if _, err := gw.PresignPut(context.Background(), "x", 1, time.Minute); err != nil {
		t.Fatalf("expected recovery after clearing injected error, got %v", err)
	}
}
