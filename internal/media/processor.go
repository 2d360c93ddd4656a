package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wavecrate/internal/upload"
)

// ProcessedRecorder receives pipeline output for the ledger. A nil recorder
// drops the output after logging it.
type ProcessedRecorder interface {
	RecordProcessed(ctx context.Context, key, processedKey, thumbnailKey string) error
}

// ProcessorConfig wires the dispatch worker pool.
type ProcessorConfig struct {
	Pipeline  Pipeline
	Recorder  ProcessedRecorder
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Processor runs a bounded worker pool that submits finalized objects to the
// media pipeline. Enqueue never blocks the completing request; a full queue
// drops the dispatch. Objects already being processed are not re-queued.
type Processor struct {
	pipeline Pipeline
	recorder ProcessedRecorder
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan upload.FinalizedObject
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultTimeout   = 30 * time.Minute
)

// NewProcessor constructs a Processor; call Start to launch the workers.
func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = StubPipeline{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		pipeline: pipeline,
		recorder: cfg.Recorder,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan upload.FinalizedObject, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines. Starting twice is a no-op.
func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Shutdown stops the workers, honoring the context deadline.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a finalized object for processing. It reports false when
// the queue is full or the processor is shut down.
func (p *Processor) Enqueue(obj upload.FinalizedObject) bool {
	if p == nil || obj.Key == "" {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.queue <- obj:
		return true
	default:
		return false
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case obj := <-p.queue:
			if !p.beginWork(obj.Key) {
				continue
			}
			p.process(obj)
			p.finishWork(obj.Key)
		}
	}
}

func (p *Processor) beginWork(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[key]; exists {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *Processor) finishWork(key string) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}

func (p *Processor) process(obj upload.FinalizedObject) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	result, err := p.pipeline.Process(ctx, Request{
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Options: map[string]string{
			"fileKind": string(obj.Kind),
			"ownerId":  obj.OwnerID,
		},
	})
	if err != nil {
		p.logger.Error("media pipeline dispatch failed", "key", obj.Key, "error", err)
		return
	}
	p.logger.Info("media pipeline processed object",
		"key", obj.Key, "processed_key", result.ProcessedKey, "thumbnail_key", result.ThumbnailKey)
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordProcessed(ctx, obj.Key, result.ProcessedKey, result.ThumbnailKey); err != nil {
		p.logger.Error("record pipeline output failed", "key", obj.Key, "error", err)
	}
}
