package upload

import "errors"

// Error taxonomy for the chunked upload subsystem. Validation errors are
// caller mistakes and are never retried internally; the unavailability errors
// are transient-infrastructure failures whose retry policy belongs to the
// caller.
var (
	ErrInvalidFileType      = errors.New("file type not allowed")
	ErrFileTooLarge         = errors.New("file exceeds maximum size")
	ErrInvalidChunkSize     = errors.New("chunk size out of bounds")
	ErrInvalidSize          = errors.New("file size is invalid")
	ErrSessionNotFound      = errors.New("upload session not found")
	ErrNotOwner             = errors.New("session belongs to a different owner")
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	ErrIncompleteUpload     = errors.New("upload is missing chunks")
	ErrChecksumMismatch     = errors.New("checksum does not match assembled object")
	ErrStorageUnavailable   = errors.New("object storage unavailable")

	// ErrSessionStoreUnavailable reports a failed read or write against the
	// session store; no partial state change is left behind when it surfaces.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
)
