package upload

import (
	"errors"
	"testing"
)

func testBounds() Bounds {
	return Bounds{
		DefaultChunkSize: 5_000_000,
		MinChunkSize:     1_000_000,
		MaxChunkSize:     50_000_000,
		MaxFileSize:      2_000_000_000,
	}
}

func TestComputeChunkLayoutDefaults(t *testing.T) {
	cases := []struct {
		name      string
		fileSize  int64
		requested int64
		wantChunk int64
		wantTotal int
		wantErr   error
	}{
		{name: "25MiB audio track", fileSize: 26_214_400, wantChunk: 5_000_000, wantTotal: 6},
		{name: "small file single chunk", fileSize: 1_500_000, wantChunk: 1_500_000, wantTotal: 1},
		{name: "tiny file clamps to min", fileSize: 200_000, wantChunk: 1_000_000, wantTotal: 1},
		{name: "exact multiple", fileSize: 10_000_000, wantChunk: 5_000_000, wantTotal: 2},
		{name: "large file scales chunk up", fileSize: 1_900_000_000, wantChunk: 9_500_000, wantTotal: 200},
		{name: "explicit chunk size honored", fileSize: 26_214_400, requested: 10_000_000, wantChunk: 10_000_000, wantTotal: 3},
		{name: "explicit below min", fileSize: 26_214_400, requested: 500_000, wantErr: ErrInvalidChunkSize},
		{name: "explicit above max", fileSize: 26_214_400, requested: 60_000_000, wantErr: ErrInvalidChunkSize},
		{name: "zero size", fileSize: 0, wantErr: ErrInvalidSize},
		{name: "negative size", fileSize: -1, wantErr: ErrInvalidSize},
		{name: "over max file size", fileSize: 2_000_000_001, wantErr: ErrInvalidSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			layout, err := ComputeChunkLayout(tc.fileSize, tc.requested, testBounds())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if layout.ChunkSize != tc.wantChunk {
				t.Fatalf("chunk size = %d, want %d", layout.ChunkSize, tc.wantChunk)
			}
			if layout.TotalChunks != tc.wantTotal {
				t.Fatalf("total chunks = %d, want %d", layout.TotalChunks, tc.wantTotal)
			}
		})
	}
}

func TestComputeChunkLayoutInvariants(t *testing.T) {
	bounds := testBounds()
	sizes := []int64{1, 999_999, 1_000_000, 5_000_001, 26_214_400, 100_000_000, 1_234_567_890, 2_000_000_000}
	for _, size := range sizes {
		layout, err := ComputeChunkLayout(size, 0, bounds)
		if err != nil {
			t.Fatalf("size %d: unexpected error: %v", size, err)
		}
		if layout.ChunkSize < bounds.MinChunkSize || layout.ChunkSize > bounds.MaxChunkSize {
			t.Fatalf("size %d: chunk size %d outside bounds", size, layout.ChunkSize)
		}
		total := int64(layout.TotalChunks)
		if layout.ChunkSize*(total-1) >= size || size > layout.ChunkSize*total {
			t.Fatalf("size %d: layout %+v does not cover file", size, layout)
		}
	}
}

func TestComputeChunkLayoutDeterministic(t *testing.T) {
	first, err := ComputeChunkLayout(26_214_400, 0, testBounds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ComputeChunkLayout(26_214_400, 0, testBounds())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("layout not deterministic: %+v vs %+v", again, first)
		}
	}
}
