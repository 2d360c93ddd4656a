// Package api exposes the upload subsystem's operations as JSON endpoints.
// Authentication lives upstream; the owner identity arrives in the
// X-Owner-Id header set by the gateway.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wavecrate/internal/delivery"
	"wavecrate/internal/upload"
)

const ownerHeader = "X-Owner-Id"

// Handler carries the collaborators behind the HTTP boundary.
type Handler struct {
	Manager  *upload.Manager
	Delivery *delivery.Generator
	Logger   *slog.Logger
}

type sessionResponse struct {
	ID             string `json:"id"`
	OwnerID        string `json:"ownerId"`
	FileName       string `json:"fileName"`
	DeclaredSize   int64  `json:"declaredSize"`
	ContentType    string `json:"contentType"`
	FileKind       string `json:"fileKind"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedChunks []int  `json:"uploadedChunks"`
	EntityID       string `json:"entityId,omitempty"`
	CreatedAt      string `json:"createdAt"`
	ExpiresAt      string `json:"expiresAt"`
	State          string `json:"state"`
}

func newSessionResponse(s upload.Session) sessionResponse {
	uploaded := s.UploadedChunks
	if uploaded == nil {
		uploaded = []int{}
	}
	return sessionResponse{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		FileName:       s.FileName,
		DeclaredSize:   s.DeclaredSize,
		ContentType:    s.ContentType,
		FileKind:       string(s.Kind),
		ChunkSize:      s.ChunkSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: uploaded,
		EntityID:       s.EntityID,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:      s.ExpiresAt.Format(time.RFC3339Nano),
		State:          string(s.State),
	}
}

type createSessionRequest struct {
	FileName     string `json:"fileName"`
	DeclaredSize int64  `json:"declaredSize"`
	ContentType  string `json:"contentType"`
	FileKind     string `json:"fileKind"`
	ChunkSize    int64  `json:"chunkSize,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
}

// Uploads handles the collection route: session initialization.
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	session, err := h.Manager.Initialize(r.Context(), upload.InitRequest{
		OwnerID:      owner,
		FileName:     req.FileName,
		DeclaredSize: req.DeclaredSize,
		ContentType:  req.ContentType,
		FileKind:     req.FileKind,
		ChunkSize:    req.ChunkSize,
		EntityID:     req.EntityID,
	})
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(session))
}

// UploadByID routes the per-session operations: chunk-url, chunk
// acknowledgment, progress, complete, abort.
func (h *Handler) UploadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) < 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown upload route"))
		return
	}
	sessionID := segments[0]
	switch {
	case len(segments) == 2 && segments[1] == "chunk-url" && r.Method == http.MethodGet:
		h.chunkURL(w, r, sessionID)
	case len(segments) == 3 && segments[1] == "chunks" && r.Method == http.MethodPost:
		h.markChunk(w, r, sessionID, segments[2])
	case len(segments) == 2 && segments[1] == "progress" && r.Method == http.MethodGet:
		h.progress(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "complete" && r.Method == http.MethodPost:
		h.complete(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "abort" && r.Method == http.MethodPost:
		h.abort(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown upload route"))
	}
}

type chunkURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	ChunkKey  string `json:"chunkKey"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (h *Handler) chunkURL(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("index")))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("index query parameter is required"))
		return
	}
	chunk, err := h.Manager.RequestChunkURL(r.Context(), sessionID, owner, index)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunkURLResponse{
		UploadURL: chunk.UploadURL,
		ChunkKey:  chunk.ChunkKey,
		ExpiresIn: chunk.ExpiresIn,
	})
}

func (h *Handler) markChunk(w http.ResponseWriter, r *http.Request, sessionID, rawIndex string) {
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chunk index %q", rawIndex))
		return
	}
	if err := h.Manager.MarkChunkUploaded(r.Context(), sessionID, index); err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request, sessionID string) {
	progress, err := h.Manager.Progress(r.Context(), sessionID)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type completeRequest struct {
	Checksum string `json:"checksum"`
}

type completeResponse struct {
	FinalKey    string            `json:"finalKey"`
	DownloadURL string            `json:"downloadUrl,omitempty"`
	AssetURL    string            `json:"assetUrl,omitempty"`
	Size        int64             `json:"size"`
	Checksum    string            `json:"checksum"`
	CacheHeader map[string]string `json:"cacheHeaders,omitempty"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Checksum) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("checksum is required"))
		return
	}
	result, err := h.Manager.Complete(r.Context(), sessionID, owner, req.Checksum)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	resp := completeResponse{
		FinalKey:    result.Object.Key,
		DownloadURL: result.DownloadURL,
		Size:        result.Object.Size,
		Checksum:    result.Object.Checksum,
	}
	if h.Delivery != nil {
		resp.AssetURL = h.Delivery.BuildAssetURL(result.Object.Key, delivery.AssetOptions{})
		resp.CacheHeader = h.Delivery.CacheHeadersFor(string(result.Object.Kind))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.Manager.Abort(r.Context(), sessionID, owner); err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("%s header is required", ownerHeader))
		return "", false
	}
	return owner, true
}

// writeUploadError maps the subsystem's error taxonomy onto HTTP statuses.
func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, upload.ErrInvalidFileType),
		errors.Is(err, upload.ErrInvalidChunkSize),
		errors.Is(err, upload.ErrInvalidSize),
		errors.Is(err, upload.ErrChunkIndexOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upload.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, upload.ErrIncompleteUpload):
		status = http.StatusConflict
	case errors.Is(err, upload.ErrChecksumMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrStorageUnavailable),
		errors.Is(err, upload.ErrSessionStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("unhandled upload error", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}
