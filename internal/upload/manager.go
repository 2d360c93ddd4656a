package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wavecrate/internal/objectstore"
	"wavecrate/internal/observability/metrics"
	"wavecrate/internal/sessionstore"
)

// sessionKeyPrefix namespaces session records inside the session store so the
// cleanup sweep can enumerate them by prefix.
const sessionKeyPrefix = "sessions/"

// KindRule constrains one file kind at initialize time.
type KindRule struct {
	MIMETypes []string
	MaxSize   int64
}

// CatalogRecorder persists finalized objects into the marketplace ledger.
// A nil recorder disables the ledger without affecting uploads.
type CatalogRecorder interface {
	RecordFinalized(ctx context.Context, obj FinalizedObject) error
}

// Dispatcher hands finalized objects to the media pipeline. Enqueue must not
// block; it reports whether the object was accepted.
type Dispatcher interface {
	Enqueue(obj FinalizedObject) bool
}

// ManagerConfig wires the session manager's collaborators. Store, Gateway,
// and Keys are required; Catalog and Dispatcher are optional.
type ManagerConfig struct {
	Store         sessionstore.Store
	Gateway       objectstore.Gateway
	Keys          objectstore.Keyspace
	Catalog       CatalogRecorder
	Dispatcher    Dispatcher
	Bounds        Bounds
	Kinds         map[FileKind]KindRule
	SessionTTL    time.Duration
	PresignExpiry time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Clock         func() time.Time
	NewID         func() string
}

// Manager owns the upload session state machine. It is the single writer of
// session records: every operation re-reads the stored session before
// deciding, and mutations go through the store's atomic update primitive so
// concurrent requests across processes never lose writes.
type Manager struct {
	store         sessionstore.Store
	gateway       objectstore.Gateway
	keys          objectstore.Keyspace
	catalog       CatalogRecorder
	dispatcher    Dispatcher
	bounds        Bounds
	kinds         map[FileKind]KindRule
	sessionTTL    time.Duration
	presignExpiry time.Duration
	logger        *slog.Logger
	metrics       *metrics.Recorder
	clock         func() time.Time
	newID         func() string
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("upload manager requires a session store")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("upload manager requires an object storage gateway")
	}
	m := &Manager{
		store:         cfg.Store,
		gateway:       cfg.Gateway,
		keys:          cfg.Keys,
		catalog:       cfg.Catalog,
		dispatcher:    cfg.Dispatcher,
		bounds:        cfg.Bounds,
		kinds:         cfg.Kinds,
		sessionTTL:    cfg.SessionTTL,
		presignExpiry: cfg.PresignExpiry,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		newID:         cfg.NewID,
	}
	if m.sessionTTL <= 0 {
		m.sessionTTL = 24 * time.Hour
	}
	if m.presignExpiry <= 0 {
		m.presignExpiry = time.Hour
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = newSessionID
	}
	return m, nil
}

// InitRequest carries the inputs of a session initialization.
type InitRequest struct {
	OwnerID      string
	FileName     string
	DeclaredSize int64
	ContentType  string
	FileKind     string
	ChunkSize    int64
	EntityID     string
}

// Initialize validates the declared upload, computes its chunk layout, and
// persists a new Active session under the configured TTL. Nothing is written
// when validation fails.
func (m *Manager) Initialize(ctx context.Context, req InitRequest) (Session, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return Session{}, fmt.Errorf("%w: owner id is required", ErrNotOwner)
	}
	kind, err := ParseFileKind(req.FileKind)
	if err != nil {
		return Session{}, err
	}
	rule, ok := m.kinds[kind]
	if !ok {
		return Session{}, fmt.Errorf("%w: kind %q has no upload rule", ErrInvalidFileType, kind)
	}
	if !mimeAllowed(rule.MIMETypes, req.ContentType) {
		return Session{}, fmt.Errorf("%w: %q not allowed for %s uploads", ErrInvalidFileType, req.ContentType, kind)
	}
	if req.DeclaredSize <= 0 {
		return Session{}, fmt.Errorf("%w: %d bytes", ErrInvalidSize, req.DeclaredSize)
	}
	ceiling := m.bounds.MaxFileSize
	if rule.MaxSize > 0 && (ceiling <= 0 || rule.MaxSize < ceiling) {
		ceiling = rule.MaxSize
	}
	if ceiling > 0 && req.DeclaredSize > ceiling {
		return Session{}, fmt.Errorf("%w: %d bytes exceeds %s limit of %d", ErrFileTooLarge, req.DeclaredSize, kind, ceiling)
	}
	layout, err := ComputeChunkLayout(req.DeclaredSize, req.ChunkSize, m.bounds)
	if err != nil {
		return Session{}, err
	}

	now := m.clock().UTC()
	session := Session{
		ID:           m.newID(),
		OwnerID:      owner,
		FileName:     SanitizeFileName(req.FileName),
		DeclaredSize: req.DeclaredSize,
		ContentType:  req.ContentType,
		Kind:         kind,
		ChunkSize:    layout.ChunkSize,
		TotalChunks:  layout.TotalChunks,
		EntityID:     strings.TrimSpace(req.EntityID),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.sessionTTL),
		State:        StateActive,
	}
	payload, err := EncodeSession(session)
	if err != nil {
		return Session{}, err
	}
	if err := m.store.Put(ctx, sessionKey(session.ID), payload, m.sessionTTL); err != nil {
		return Session{}, m.storeFailure("persist session", session.ID, err)
	}
	m.metrics.SessionInitialized()
	m.logger.InfoContext(ctx, "upload session initialized",
		"session_id", session.ID,
		"owner_id", session.OwnerID,
		"file_kind", string(kind),
		"declared_size", session.DeclaredSize,
		"chunk_size", session.ChunkSize,
		"total_chunks", session.TotalChunks,
	)
	return session, nil
}

// ChunkURL is the response of a chunk URL request. ExpiresIn is seconds.
type ChunkURL struct {
	UploadURL string
	ChunkKey  string
	ExpiresIn int64
}

// RequestChunkURL re-reads the session, validates ownership and chunk index,
// and asks the gateway for a presigned PUT. The chunk is not marked uploaded;
// that happens only on explicit acknowledgment. Re-requesting a URL for an
// already-uploaded chunk is permitted so a corrupted chunk can be re-uploaded.
func (m *Manager) RequestChunkURL(ctx context.Context, sessionID, ownerID string, index int) (ChunkURL, error) {
	session, err := m.loadActive(ctx, sessionID)
	if err != nil {
		return ChunkURL{}, err
	}
	if session.OwnerID != ownerID {
		return ChunkURL{}, ErrNotOwner
	}
	if index < 0 || index >= session.TotalChunks {
		return ChunkURL{}, fmt.Errorf("%w: %d not in [0, %d)", ErrChunkIndexOutOfRange, index, session.TotalChunks)
	}
	key := m.chunkKey(session, index)
	url, err := m.gateway.PresignPut(ctx, key, chunkLength(session, index), m.presignExpiry)
	if err != nil {
		return ChunkURL{}, m.gatewayFailure("presign chunk", session.ID, err)
	}
	m.metrics.ObserveChunkEvent("url_issued")
	return ChunkURL{UploadURL: url, ChunkKey: key, ExpiresIn: int64(m.presignExpiry.Seconds())}, nil
}

// MarkChunkUploaded records a client's acknowledgment that a chunk landed in
// storage. The insertion is an atomic set-union against the stored session so
// concurrent acknowledgments for different chunks never lose updates.
// Re-marking an uploaded chunk is a no-op.
func (m *Manager) MarkChunkUploaded(ctx context.Context, sessionID string, index int) error {
	duplicate := false
	err := m.store.Update(ctx, sessionKey(sessionID), func(current []byte) ([]byte, error) {
		session, err := m.decodeLive(sessionID, current)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= session.TotalChunks {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrChunkIndexOutOfRange, index, session.TotalChunks)
		}
		duplicate = !session.markUploaded(index)
		return EncodeSession(session)
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return m.storeFailure("mark chunk", sessionID, err)
	}
	if duplicate {
		m.metrics.ObserveChunkEvent("duplicate_ack")
	} else {
		m.metrics.ObserveChunkEvent("acknowledged")
	}
	return nil
}

// Progress reports completion for a session in any non-terminal state.
func (m *Manager) Progress(ctx context.Context, sessionID string) (Progress, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	return session.Progress(), nil
}

// CompleteResult is the outcome of a successful completion.
type CompleteResult struct {
	Object      FinalizedObject
	DownloadURL string
}

// Complete finalizes a fully uploaded session. Completeness is re-checked
// inside the same atomic update that moves the session to Completing, so a
// complete racing a chunk acknowledgment can never finalize a partial object.
// A checksum mismatch reverts the session to Active for client retry; only
// after the final object exists and its checksum matched does the session
// reach Completed and get deleted along with its chunk objects.
func (m *Manager) Complete(ctx context.Context, sessionID, ownerID, checksum string) (CompleteResult, error) {
	var session Session
	err := m.store.Update(ctx, sessionKey(sessionID), func(current []byte) ([]byte, error) {
		s, err := m.decodeLive(sessionID, current)
		if err != nil {
			return nil, err
		}
		if s.OwnerID != ownerID {
			return nil, ErrNotOwner
		}
		if !s.Complete() {
			return nil, fmt.Errorf("%w: %d of %d chunks uploaded", ErrIncompleteUpload, s.UploadedCount(), s.TotalChunks)
		}
		s.State = StateCompleting
		session = s
		return EncodeSession(s)
	})
	if err != nil {
		if isDomainError(err) {
			return CompleteResult{}, err
		}
		return CompleteResult{}, m.storeFailure("begin completion", sessionID, err)
	}
	m.logTransition(ctx, session.ID, StateActive, StateCompleting)

	result, err := m.finalize(ctx, session, checksum)
	if err != nil {
		if revertErr := m.revertToActive(ctx, session.ID); revertErr != nil {
			m.logger.ErrorContext(ctx, "revert to active failed", "session_id", session.ID, "error", revertErr)
		} else {
			m.logTransition(ctx, session.ID, StateCompleting, StateActive)
		}
		return CompleteResult{}, err
	}
	m.logTransition(ctx, session.ID, StateCompleting, StateCompleted)
	return result, nil
}

// finalize verifies the stored chunks against the declared checksum,
// assembles the final object, and tears down the session's working state.
func (m *Manager) finalize(ctx context.Context, session Session, checksum string) (CompleteResult, error) {
	parts := make([]objectstore.ObjectInfo, 0, session.TotalChunks)
	keys := make([]string, 0, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		key := m.chunkKey(session, i)
		info, err := m.gateway.Stat(ctx, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				m.metrics.ObserveFinalizeFailure("chunk_missing")
				return CompleteResult{}, fmt.Errorf("%w: chunk %d acknowledged but absent from storage", ErrIncompleteUpload, i)
			}
			return CompleteResult{}, m.gatewayFailure("stat chunk", session.ID, err)
		}
		parts = append(parts, info)
		keys = append(keys, key)
	}

	computed, totalSize, err := m.gateway.Checksum(ctx, keys)
	if err != nil {
		return CompleteResult{}, m.gatewayFailure("checksum chunks", session.ID, err)
	}
	if !strings.EqualFold(computed, strings.TrimSpace(checksum)) {
		m.metrics.ObserveFinalizeFailure("checksum_mismatch")
		m.logger.WarnContext(ctx, "completion checksum mismatch",
			"session_id", session.ID, "declared", checksum, "computed", computed)
		return CompleteResult{}, ErrChecksumMismatch
	}

	finalKey := m.keys.FinalKey(string(session.Kind), session.OwnerID, session.ID, session.FileName)
	if err := m.gateway.Assemble(ctx, parts, finalKey, session.ContentType); err != nil {
		m.metrics.ObserveFinalizeFailure("assemble")
		return CompleteResult{}, m.gatewayFailure("assemble final object", session.ID, err)
	}
	if _, err := m.gateway.Stat(ctx, finalKey); err != nil {
		m.metrics.ObserveFinalizeFailure("verify")
		return CompleteResult{}, m.gatewayFailure("verify final object", session.ID, err)
	}

	// The session record goes first: once the final object exists, losing
	// chunk objects is a storage leak, not a correctness problem.
	if err := m.store.Delete(ctx, sessionKey(session.ID)); err != nil {
		m.logger.ErrorContext(ctx, "delete completed session failed", "session_id", session.ID, "error", err)
	}
	if _, err := m.gateway.DeletePrefix(ctx, m.chunkPrefix(session)); err != nil {
		m.logger.WarnContext(ctx, "delete chunk objects failed", "session_id", session.ID, "error", err)
	}

	object := FinalizedObject{
		Key:         finalKey,
		Size:        totalSize,
		ContentType: session.ContentType,
		Checksum:    computed,
		OwnerID:     session.OwnerID,
		Kind:        session.Kind,
		EntityID:    session.EntityID,
		FileName:    session.FileName,
		CompletedAt: m.clock().UTC(),
	}
	if m.catalog != nil {
		if err := m.catalog.RecordFinalized(ctx, object); err != nil {
			m.logger.ErrorContext(ctx, "catalog record failed", "session_id", session.ID, "key", finalKey, "error", err)
		}
	}
	if m.dispatcher != nil && !m.dispatcher.Enqueue(object) {
		m.logger.WarnContext(ctx, "media pipeline queue full, skipping dispatch", "key", finalKey)
	}

	downloadURL, err := m.gateway.PresignGet(ctx, finalKey, m.presignExpiry)
	if err != nil {
		m.logger.WarnContext(ctx, "presign download failed", "key", finalKey, "error", err)
		downloadURL = ""
	}
	m.metrics.SessionCompleted()
	m.logger.InfoContext(ctx, "upload session completed",
		"session_id", session.ID, "key", finalKey, "size", totalSize)
	return CompleteResult{Object: object, DownloadURL: downloadURL}, nil
}

// revertToActive undoes the Active to Completing transition after a failed
// finalization so the client can retry. The session is Completing here, so
// the decode must not apply the Active-state gate.
func (m *Manager) revertToActive(ctx context.Context, sessionID string) error {
	return m.store.Update(ctx, sessionKey(sessionID), func(current []byte) ([]byte, error) {
		session, err := m.decodeStored(sessionID, current)
		if err != nil {
			return nil, err
		}
		session.State = StateActive
		return EncodeSession(session)
	})
}

// Abort deletes the session's chunk objects and its record. Aborting a
// session that is already gone succeeds as a no-op so retries are safe.
func (m *Manager) Abort(ctx context.Context, sessionID, ownerID string) error {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session.OwnerID != ownerID {
		return ErrNotOwner
	}
	if _, err := m.gateway.DeletePrefix(ctx, m.chunkPrefix(session)); err != nil {
		m.logger.WarnContext(ctx, "delete chunk objects failed during abort", "session_id", session.ID, "error", err)
	}
	if err := m.store.Delete(ctx, sessionKey(session.ID)); err != nil {
		return m.storeFailure("delete aborted session", session.ID, err)
	}
	m.metrics.SessionAborted()
	m.logTransition(ctx, session.ID, session.State, StateAborted)
	return nil
}

// SessionExists reports whether a live session record exists, for the orphan
// chunk sweep.
func (m *Manager) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	_, ok, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return false, m.storeFailure("probe session", sessionID, err)
	}
	return ok, nil
}

// SessionKeys enumerates every stored session key, for the cleanup sweep.
func (m *Manager) SessionKeys(ctx context.Context) ([]string, error) {
	keys, err := m.store.ScanPrefix(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, m.storeFailure("scan sessions", "", err)
	}
	return keys, nil
}

// ReapResult reports what one reap attempt removed.
type ReapResult struct {
	Reaped       bool
	ChunkObjects int
}

// Reap removes the session behind key if it is past its expiry, deleting its
// chunk objects and record. Keys whose record the store reports absent are
// deleted anyway to reclaim index entries. Live sessions are left untouched.
func (m *Manager) Reap(ctx context.Context, key string) (ReapResult, error) {
	sessionID := strings.TrimPrefix(key, sessionKeyPrefix)
	payload, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return ReapResult{}, m.storeFailure("read session for reap", sessionID, err)
	}
	if !ok {
		// TTL already evicted the record; clear any index remnant.
		if err := m.store.Delete(ctx, key); err != nil {
			return ReapResult{}, m.storeFailure("delete evicted session", sessionID, err)
		}
		return ReapResult{}, nil
	}
	session, err := DecodeSession(payload)
	if err != nil {
		m.logger.ErrorContext(ctx, "undecodable session record, deleting", "key", key, "error", err)
		if delErr := m.store.Delete(ctx, key); delErr != nil {
			return ReapResult{}, m.storeFailure("delete corrupt session", sessionID, delErr)
		}
		return ReapResult{Reaped: true}, nil
	}
	if !session.ExpiredAt(m.clock()) {
		return ReapResult{}, nil
	}

	chunks, err := m.gateway.DeletePrefix(ctx, m.chunkPrefix(session))
	if err != nil {
		m.logger.WarnContext(ctx, "delete chunk objects failed during reap", "session_id", session.ID, "error", err)
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return ReapResult{}, m.storeFailure("delete expired session", session.ID, err)
	}
	m.metrics.SessionExpired()
	m.logTransition(ctx, session.ID, session.State, StateExpired)
	return ReapResult{Reaped: true, ChunkObjects: chunks}, nil
}

// load fetches and decodes a session, treating absence and expiry alike as
// SessionNotFound.
func (m *Manager) load(ctx context.Context, sessionID string) (Session, error) {
	payload, ok, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return Session{}, m.storeFailure("read session", sessionID, err)
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session, err := DecodeSession(payload)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.ExpiredAt(m.clock()) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// loadActive is load plus a state gate for operations that only make sense
// against an Active session.
func (m *Manager) loadActive(ctx context.Context, sessionID string) (Session, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if session.State != StateActive {
		return Session{}, fmt.Errorf("%w: %s is %s", ErrSessionNotFound, sessionID, session.State)
	}
	return session, nil
}

// decodeStored decodes a session payload inside an atomic update, enforcing
// presence and liveness but not state.
func (m *Manager) decodeStored(sessionID string, payload []byte) (Session, error) {
	if payload == nil {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session, err := DecodeSession(payload)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.ExpiredAt(m.clock()) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// decodeLive is decodeStored plus the Active-state gate applied on every
// client-facing mutation.
func (m *Manager) decodeLive(sessionID string, payload []byte) (Session, error) {
	session, err := m.decodeStored(sessionID, payload)
	if err != nil {
		return Session{}, err
	}
	if session.State != StateActive {
		return Session{}, fmt.Errorf("%w: %s is %s", ErrSessionNotFound, sessionID, session.State)
	}
	return session, nil
}

func (m *Manager) logTransition(ctx context.Context, sessionID string, from, to State) {
	m.logger.InfoContext(ctx, "session state changed",
		"session_id", sessionID, "from", string(from), "to", string(to))
}

func (m *Manager) storeFailure(op, sessionID string, err error) error {
	m.logger.Error("session store operation failed", "op", op, "session_id", sessionID, "error", err)
	return fmt.Errorf("%w: %s", ErrSessionStoreUnavailable, op)
}

func (m *Manager) gatewayFailure(op, sessionID string, err error) error {
	m.logger.Error("object storage operation failed", "op", op, "session_id", sessionID, "error", err)
	return fmt.Errorf("%w: %s", ErrStorageUnavailable, op)
}

// chunkKey derives the object key for one chunk, namespaced by kind, owner,
// and session so one session's chunks can never collide with another's.
func (m *Manager) chunkKey(session Session, index int) string {
	return m.keys.ChunkKey(string(session.Kind), session.OwnerID, session.ID, index)
}

// chunkPrefix is the key prefix holding every chunk object of a session.
func (m *Manager) chunkPrefix(session Session) string {
	return m.keys.SessionPrefix(string(session.Kind), session.OwnerID, session.ID)
}

// chunkLength returns the byte length of chunk index; the final chunk covers
// the remainder.
func chunkLength(session Session, index int) int64 {
	if index == session.TotalChunks-1 {
		return session.DeclaredSize - session.ChunkSize*int64(session.TotalChunks-1)
	}
	return session.ChunkSize
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// isDomainError reports whether err belongs to the subsystem's validation
// taxonomy rather than infrastructure failure.
func isDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidFileType, ErrFileTooLarge, ErrInvalidChunkSize, ErrInvalidSize,
		ErrSessionNotFound, ErrNotOwner, ErrChunkIndexOutOfRange,
		ErrIncompleteUpload, ErrChecksumMismatch,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func mimeAllowed(allowed []string, contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if normalized == "" {
		return false
	}
	for _, candidate := range allowed {
		if normalized == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

// newSessionID returns a 128-bit random hex identifier.
func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
