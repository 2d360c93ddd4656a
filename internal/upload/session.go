package upload

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// State tracks where a session sits in its lifecycle. Transitions are
// monotonic along initialize → active → completing → completed; abort and
// expiry are the only other exits.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateCompleting   State = "completing"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
	StateExpired      State = "expired"
)

// FileKind classifies an upload for MIME validation, size ceilings, and
// object key namespacing.
type FileKind string

const (
	KindAudio        FileKind = "audio"
	KindImage        FileKind = "image"
	KindProfileImage FileKind = "profile-image"
	KindArtwork      FileKind = "artwork"
)

// ParseFileKind validates a client-provided kind string.
func ParseFileKind(raw string) (FileKind, error) {
	kind := FileKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindAudio, KindImage, KindProfileImage, KindArtwork:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown file kind %q", ErrInvalidFileType, raw)
	}
}

// Session is the durable record tracking one in-progress chunked upload. It
// is owned exclusively by the Manager and persisted through a single JSON
// (de)serialization boundary.
type Session struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	FileName       string    `json:"fileName"`
	DeclaredSize   int64     `json:"declaredSize"`
	ContentType    string    `json:"contentType"`
	Kind           FileKind  `json:"fileKind"`
	ChunkSize      int64     `json:"chunkSize"`
	TotalChunks    int       `json:"totalChunks"`
	UploadedChunks []int     `json:"uploadedChunks"`
	EntityID       string    `json:"entityId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	State          State     `json:"state"`
}

// Progress summarizes completion for a session.
type Progress struct {
	Uploaded   int `json:"uploaded"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// UploadedCount returns the number of distinct confirmed chunks.
func (s Session) UploadedCount() int {
	return len(s.uploadedSet())
}

// HasChunk reports whether the chunk index has been confirmed uploaded.
func (s Session) HasChunk(index int) bool {
	_, ok := s.uploadedSet()[index]
	return ok
}

// Complete reports whether every chunk has been confirmed uploaded.
func (s Session) Complete() bool {
	return s.UploadedCount() == s.TotalChunks
}

// Progress computes the uploaded/total/percentage triple, rounding the
// percentage to the nearest whole number.
func (s Session) Progress() Progress {
	uploaded := s.UploadedCount()
	progress := Progress{Uploaded: uploaded, Total: s.TotalChunks}
	if s.TotalChunks > 0 {
		progress.Percentage = int((float64(uploaded)/float64(s.TotalChunks))*100 + 0.5)
	}
	return progress
}

// markUploaded inserts the chunk index into the uploaded set, reporting
// whether the set changed. Re-marking is a no-op so client retries after a
// dropped acknowledgment stay idempotent.
func (s *Session) markUploaded(index int) bool {
	set := s.uploadedSet()
	if _, ok := set[index]; ok {
		return false
	}
	set[index] = struct{}{}
	chunks := make([]int, 0, len(set))
	for idx := range set {
		chunks = append(chunks, idx)
	}
	sort.Ints(chunks)
	s.UploadedChunks = chunks
	return true
}

func (s Session) uploadedSet() map[int]struct{} {
	set := make(map[int]struct{}, len(s.UploadedChunks))
	for _, idx := range s.UploadedChunks {
		if idx >= 0 && idx < s.TotalChunks {
			set[idx] = struct{}{}
		}
	}
	return set
}

// ExpiredAt reports whether the session has passed its expiry at the given
// instant.
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// EncodeSession serializes a session for the session store.
func EncodeSession(s Session) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return payload, nil
}

// DecodeSession deserializes a session record read from the session store.
func DecodeSession(payload []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

// FinalizedObject is the durable result of a completed session. Ownership
// passes to the delivery layer and the media pipeline once produced.
type FinalizedObject struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Checksum    string    `json:"checksum"`
	OwnerID     string    `json:"ownerId"`
	Kind        FileKind  `json:"fileKind"`
	EntityID    string    `json:"entityId,omitempty"`
	FileName    string    `json:"fileName"`
	CompletedAt time.Time `json:"completedAt"`
}

// SanitizeFileName normalizes a client-provided file name to NFC, strips path
// separators and control characters, and collapses the result so it is safe
// to embed in an object key.
func SanitizeFileName(name string) string {
	normalized := norm.NFC.String(strings.TrimSpace(name))
	var builder strings.Builder
	for _, r := range normalized {
		switch {
		case r == '/' || r == '\\':
			builder.WriteRune('_')
		case unicode.IsControl(r):
			// skip
		default:
			builder.WriteRune(r)
		}
	}
	cleaned := strings.Trim(builder.String(), ". ")
	if cleaned == "" {
		return "upload.bin"
	}
	return cleaned
}
