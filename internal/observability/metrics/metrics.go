package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, upload session lifecycle events, chunk activity, finalize
// outcomes, and cleanup sweeps. It coordinates concurrent writers via a
// RWMutex while exposing an atomic gauge for active session tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	sessionEvents    map[string]uint64
	chunkEvents      map[string]uint64
	finalizeFailures map[string]uint64
	sweptSessions    uint64
	sweptChunks      uint64
	activeSessions   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		sessionEvents:    make(map[string]uint64),
		chunkEvents:      make(map[string]uint64),
		finalizeFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(strings.TrimSpace(method)),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionInitialized records a new upload session and increments the active
// session gauge.
func (r *Recorder) SessionInitialized() {
	r.incrementSessionEvent("initialized")
	r.activeSessions.Add(1)
}

// SessionCompleted records a finalized upload session and decrements the
// active session gauge.
func (r *Recorder) SessionCompleted() {
	r.incrementSessionEvent("completed")
	r.decrementGauge(&r.activeSessions)
}

// SessionAborted records an aborted upload session and decrements the active
// session gauge.
func (r *Recorder) SessionAborted() {
	r.incrementSessionEvent("aborted")
	r.decrementGauge(&r.activeSessions)
}

// SessionExpired records a session reaped by the cleanup sweep and decrements
// the active session gauge.
func (r *Recorder) SessionExpired() {
	r.incrementSessionEvent("expired")
	r.decrementGauge(&r.activeSessions)
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveChunkEvent records a chunk-level event keyed by type
// (e.g., "url_issued", "acknowledged").
func (r *Recorder) ObserveChunkEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.chunkEvents[normalized]++
	r.mu.Unlock()
}

// ObserveFinalizeFailure records a failed completion attempt keyed by reason
// (e.g., "incomplete", "checksum_mismatch", "storage").
func (r *Recorder) ObserveFinalizeFailure(reason string) {
	normalized := normalizeName(reason)
	r.mu.Lock()
	r.finalizeFailures[normalized]++
	r.mu.Unlock()
}

// ObserveSweep accumulates totals for a completed cleanup sweep.
func (r *Recorder) ObserveSweep(sessions, chunkObjects int) {
	if sessions < 0 {
		sessions = 0
	}
	if chunkObjects < 0 {
		chunkObjects = 0
	}
	r.mu.Lock()
	r.sweptSessions += uint64(sessions)
	r.sweptChunks += uint64(chunkObjects)
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of concurrently active upload
// sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SessionEventCounts returns a copy of the session lifecycle counters for
// testing and reporting purposes.
func (r *Recorder) SessionEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.sessionEvents))
	for k, v := range r.sessionEvents {
		events[k] = v
	}
	return events
}

// SweepTotals returns the cumulative counts of reaped sessions and chunk
// objects.
func (r *Recorder) SweepTotals() (sessions, chunkObjects uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sweptSessions, r.sweptChunks
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.chunkEvents = make(map[string]uint64)
	r.finalizeFailures = make(map[string]uint64)
	r.sweptSessions = 0
	r.sweptChunks = 0
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionEvents := sortedKeys(r.sessionEvents)
	chunkEvents := sortedKeys(r.chunkEvents)
	finalizeReasons := sortedKeys(r.finalizeFailures)

	fmt.Fprintln(w, "# HELP wavecrate_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE wavecrate_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "wavecrate_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP wavecrate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE wavecrate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "wavecrate_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP wavecrate_upload_sessions_total Upload session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE wavecrate_upload_sessions_total counter")
	for _, event := range sessionEvents {
		fmt.Fprintf(w, "wavecrate_upload_sessions_total{event=\"%s\"} %d\n", event, r.sessionEvents[event])
	}

	fmt.Fprintln(w, "# HELP wavecrate_active_upload_sessions Current number of sessions accepting chunks")
	fmt.Fprintln(w, "# TYPE wavecrate_active_upload_sessions gauge")
	fmt.Fprintf(w, "wavecrate_active_upload_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP wavecrate_upload_chunks_total Chunk events by type")
	fmt.Fprintln(w, "# TYPE wavecrate_upload_chunks_total counter")
	for _, event := range chunkEvents {
		fmt.Fprintf(w, "wavecrate_upload_chunks_total{event=\"%s\"} %d\n", event, r.chunkEvents[event])
	}

	fmt.Fprintln(w, "# HELP wavecrate_finalize_failures_total Failed completion attempts by reason")
	fmt.Fprintln(w, "# TYPE wavecrate_finalize_failures_total counter")
	for _, reason := range finalizeReasons {
		fmt.Fprintf(w, "wavecrate_finalize_failures_total{reason=\"%s\"} %d\n", reason, r.finalizeFailures[reason])
	}

	fmt.Fprintln(w, "# HELP wavecrate_swept_sessions_total Sessions reaped by the cleanup scheduler")
	fmt.Fprintln(w, "# TYPE wavecrate_swept_sessions_total counter")
	fmt.Fprintf(w, "wavecrate_swept_sessions_total %d\n", r.sweptSessions)

	fmt.Fprintln(w, "# HELP wavecrate_swept_chunk_objects_total Orphaned chunk objects reaped by the cleanup scheduler")
	fmt.Fprintln(w, "# TYPE wavecrate_swept_chunk_objects_total counter")
	fmt.Fprintf(w, "wavecrate_swept_chunk_objects_total %d\n", r.sweptChunks)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return strings.ReplaceAll(normalized, " ", "_")
}
