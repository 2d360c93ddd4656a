package upload

import (
	"errors"
	"testing"
	"time"
)

func TestParseFileKind(t *testing.T) {
	cases := []struct {
		raw  string
		want FileKind
		ok   bool
	}{
		{raw: "audio", want: KindAudio, ok: true},
		{raw: "Audio", want: KindAudio, ok: true},
		{raw: " image ", want: KindImage, ok: true},
		{raw: "profile-image", want: KindProfileImage, ok: true},
		{raw: "artwork", want: KindArtwork, ok: true},
		{raw: "video"},
		{raw: ""},
	}
	for _, tc := range cases {
		kind, err := ParseFileKind(tc.raw)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseFileKind(%q): unexpected error: %v", tc.raw, err)
			}
			if kind != tc.want {
				t.Fatalf("ParseFileKind(%q) = %q, want %q", tc.raw, kind, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidFileType) {
			t.Fatalf("ParseFileKind(%q): expected ErrInvalidFileType, got %v", tc.raw, err)
		}
	}
}

func TestSessionProgressRounding(t *testing.T) {
	cases := []struct {
		uploaded int
		total    int
		want     int
	}{
		{uploaded: 0, total: 6, want: 0},
		{uploaded: 1, total: 6, want: 17},
		{uploaded: 3, total: 6, want: 50},
		{uploaded: 5, total: 6, want: 83},
		{uploaded: 6, total: 6, want: 100},
		{uploaded: 1, total: 3, want: 33},
		{uploaded: 2, total: 3, want: 67},
	}
	for _, tc := range cases {
		session := Session{TotalChunks: tc.total}
		for i := 0; i < tc.uploaded; i++ {
			session.markUploaded(i)
		}
		progress := session.Progress()
		if progress.Uploaded != tc.uploaded || progress.Total != tc.total {
			t.Fatalf("progress %d/%d reported as %d/%d", tc.uploaded, tc.total, progress.Uploaded, progress.Total)
		}
		if progress.Percentage != tc.want {
			t.Fatalf("%d/%d: percentage = %d, want %d", tc.uploaded, tc.total, progress.Percentage, tc.want)
		}
	}
}

func TestSessionMarkUploaded(t *testing.T) {
	session := Session{TotalChunks: 4}
	if !session.markUploaded(2) {
		t.Fatal("first mark should report a change")
	}
	if session.markUploaded(2) {
		t.Fatal("re-marking the same chunk should be a no-op")
	}
	session.markUploaded(0)
	session.markUploaded(3)
	want := []int{0, 2, 3}
	if len(session.UploadedChunks) != len(want) {
		t.Fatalf("uploaded chunks = %v, want %v", session.UploadedChunks, want)
	}
	for i, idx := range want {
		if session.UploadedChunks[i] != idx {
			t.Fatalf("uploaded chunks = %v, want %v", session.UploadedChunks, want)
		}
	}
	if session.Complete() {
		t.Fatal("session with 3 of 4 chunks must not be complete")
	}
	session.markUploaded(1)
	if !session.Complete() {
		t.Fatal("session with all chunks must be complete")
	}
}

func TestSessionIgnoresOutOfRangeChunks(t *testing.T) {
	// A stale or tampered record must not count indexes outside the layout.
	session := Session{TotalChunks: 3, UploadedChunks: []int{0, 99, -1}}
	if got := session.UploadedCount(); got != 1 {
		t.Fatalf("uploaded count = %d, want 1", got)
	}
	if session.HasChunk(99) {
		t.Fatal("out-of-range chunk must not be reported as uploaded")
	}
}

func TestSessionExpiredAt(t *testing.T) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	session := Session{ExpiresAt: base}
	if session.ExpiredAt(base) {
		t.Fatal("session must not be expired exactly at its deadline")
	}
	if !session.ExpiredAt(base.Add(time.Second)) {
		t.Fatal("session must be expired after its deadline")
	}
	if (Session{}).ExpiredAt(base) {
		t.Fatal("zero expiry must never expire")
	}
}

func TestEncodeDecodeSessionRoundTrip(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	original := Session{
		ID:             "abc123",
		OwnerID:        "owner-1",
		FileName:       "track.wav",
		DeclaredSize:   26_214_400,
		ContentType:    "audio/wav",
		Kind:           KindAudio,
		ChunkSize:      5_000_000,
		TotalChunks:    6,
		UploadedChunks: []int{0, 1, 4},
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		State:          StateActive,
	}
	payload, err := EncodeSession(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSession(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != original.ID || decoded.State != original.State || decoded.TotalChunks != original.TotalChunks {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
	if decoded.UploadedCount() != 3 {
		t.Fatalf("uploaded count = %d, want 3", decoded.UploadedCount())
	}
	if _, err := DecodeSession([]byte("{not json")); err == nil {
		t.Fatal("expected error decoding corrupt payload")
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "track.wav", want: "track.wav"},
		{in: "  track.wav  ", want: "track.wav"},
		{in: "my song/final.wav", want: "my song_final.wav"},
		{in: "a\\b.png", want: "a_b.png"},
		{in: "bad\x00name.wav", want: "badname.wav"},
		{in: "...", want: "upload.bin"},
		{in: "", want: "upload.bin"},
		{in: "../../etc/passwd", want: "_.._etc_passwd"},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
