package upload

import "fmt"

// Bounds constrains chunk layout computation. All values are byte counts.
type Bounds struct {
	DefaultChunkSize int64
	MinChunkSize     int64
	MaxChunkSize     int64
	MaxFileSize      int64
}

// Layout describes how a file of a given size is split into chunks.
type Layout struct {
	ChunkSize   int64
	TotalChunks int
}

// targetMaxChunks caps the chunk count for derived layouts so very large
// files scale chunk size up instead of exploding the number of parts.
const targetMaxChunks = 200

// ComputeChunkLayout derives the chunk size and count for a file of fileSize
// bytes. When requestedChunkSize is zero the size is chosen heuristically
// within the configured bounds; an explicit request outside the bounds is an
// error rather than silently clamped. The function is pure so the same layout
// can be recomputed for validation without re-reading session state.
func ComputeChunkLayout(fileSize, requestedChunkSize int64, bounds Bounds) (Layout, error) {
	if fileSize <= 0 {
		return Layout{}, fmt.Errorf("%w: %d bytes", ErrInvalidSize, fileSize)
	}
	if bounds.MaxFileSize > 0 && fileSize > bounds.MaxFileSize {
		return Layout{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidSize, fileSize, bounds.MaxFileSize)
	}

	chunkSize := requestedChunkSize
	if chunkSize > 0 {
		if chunkSize < bounds.MinChunkSize || chunkSize > bounds.MaxChunkSize {
			return Layout{}, fmt.Errorf("%w: %d bytes outside [%d, %d]", ErrInvalidChunkSize, chunkSize, bounds.MinChunkSize, bounds.MaxChunkSize)
		}
	} else {
		chunkSize = bounds.DefaultChunkSize
		if fileSize <= chunkSize {
			// Small files should not carry a single oversized chunk.
			chunkSize = fileSize
		} else if perChunk := ceilDiv(fileSize, targetMaxChunks); perChunk > chunkSize {
			chunkSize = perChunk
		}
		if chunkSize < bounds.MinChunkSize {
			chunkSize = bounds.MinChunkSize
		}
		if chunkSize > bounds.MaxChunkSize {
			chunkSize = bounds.MaxChunkSize
		}
	}

	total := ceilDiv(fileSize, chunkSize)
	return Layout{ChunkSize: chunkSize, TotalChunks: int(total)}, nil
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
