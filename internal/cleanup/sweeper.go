// Package cleanup reaps expired upload sessions and orphaned chunk objects
// on a schedule. All session mutation goes through the upload manager so the
// single-writer discipline holds.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"wavecrate/internal/objectstore"
	"wavecrate/internal/observability/metrics"
	"wavecrate/internal/upload"
)

// SessionReaper is the slice of the upload manager the sweeper drives.
type SessionReaper interface {
	SessionKeys(ctx context.Context) ([]string, error)
	Reap(ctx context.Context, key string) (upload.ReapResult, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

// SweeperConfig wires one sweeper.
type SweeperConfig struct {
	Reaper       SessionReaper
	Gateway      objectstore.Gateway
	Keys         objectstore.Keyspace
	ChunkMaxAge  time.Duration
	SweepOrphans bool
	DeleteRate   rate.Limit
	Concurrency  int
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Clock        func() time.Time
}

// Sweeper reaps expired sessions and, optionally, aged chunk objects whose
// session record no longer exists. Deletions are rate-limited so a large
// backlog cannot starve live traffic against the stores.
type Sweeper struct {
	reaper       SessionReaper
	gateway      objectstore.Gateway
	keys         objectstore.Keyspace
	chunkMaxAge  time.Duration
	sweepOrphans bool
	limiter      *rate.Limiter
	concurrency  int
	logger       *slog.Logger
	metrics      *metrics.Recorder
	clock        func() time.Time
}

// Stats summarizes one sweep run.
type Stats struct {
	SessionsReaped int
	ChunkObjects   int
	Failures       int
}

// NewSweeper constructs a Sweeper with defaulted pacing.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	s := &Sweeper{
		reaper:       cfg.Reaper,
		gateway:      cfg.Gateway,
		keys:         cfg.Keys,
		chunkMaxAge:  cfg.ChunkMaxAge,
		sweepOrphans: cfg.SweepOrphans,
		concurrency:  cfg.Concurrency,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
	}
	deleteRate := cfg.DeleteRate
	if deleteRate <= 0 {
		deleteRate = 50
	}
	s.limiter = rate.NewLimiter(deleteRate, 1)
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.chunkMaxAge <= 0 {
		s.chunkMaxAge = 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Sweep runs one pass. Individual reap failures are logged and counted; only
// a failure to enumerate sessions aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	keys, err := s.reaper.SessionKeys(ctx)
	if err != nil {
		return Stats{}, err
	}
	var sessions, chunks, failures atomic.Int64
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(s.concurrency)
	for _, key := range keys {
		key := key
		grp.Go(func() error {
			if err := s.limiter.Wait(grpCtx); err != nil {
				return err
			}
			result, err := s.reaper.Reap(grpCtx, key)
			if err != nil {
				failures.Add(1)
				s.logger.Warn("session reap failed", "key", key, "error", err)
				return nil
			}
			if result.Reaped {
				sessions.Add(1)
				chunks.Add(int64(result.ChunkObjects))
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return Stats{}, err
	}

	if s.sweepOrphans {
		orphaned, err := s.sweepOrphanChunks(ctx)
		if err != nil {
			failures.Add(1)
			s.logger.Warn("orphan chunk sweep failed", "error", err)
		}
		chunks.Add(int64(orphaned))
	}

	stats := Stats{
		SessionsReaped: int(sessions.Load()),
		ChunkObjects:   int(chunks.Load()),
		Failures:       int(failures.Load()),
	}
	s.metrics.ObserveSweep(stats.SessionsReaped, stats.ChunkObjects)
	s.logger.Info("cleanup sweep finished",
		"sessions_reaped", stats.SessionsReaped,
		"chunk_objects", stats.ChunkObjects,
		"failures", stats.Failures,
	)
	return stats, nil
}

// sweepOrphanChunks deletes chunk namespaces whose every object is older
// than the chunk max age and whose session record is gone. Young objects are
// skipped: their session may still be mid-flight.
func (s *Sweeper) sweepOrphanChunks(ctx context.Context) (int, error) {
	objects, err := s.gateway.ListPrefix(ctx, s.keys.ChunkRoot+"/")
	if err != nil {
		return 0, err
	}
	cutoff := s.clock().Add(-s.chunkMaxAge)
	sessions := make(map[string]string)
	eligible := make(map[string]bool)
	for _, obj := range objects {
		id, prefix, ok := s.keys.ChunkNamespace(obj.Key)
		if !ok {
			continue
		}
		sessions[prefix] = id
		old := !obj.LastModified.IsZero() && obj.LastModified.Before(cutoff)
		if aged, seen := eligible[prefix]; seen {
			eligible[prefix] = aged && old
		} else {
			eligible[prefix] = old
		}
	}

	deleted := 0
	for prefix, aged := range eligible {
		if !aged {
			continue
		}
		id := sessions[prefix]
		exists, err := s.reaper.SessionExists(ctx, id)
		if err != nil || exists {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return deleted, err
		}
		n, err := s.gateway.DeletePrefix(ctx, prefix)
		if err != nil {
			s.logger.Warn("orphan chunk delete failed", "session_id", id, "error", err)
			continue
		}
		deleted += n
		s.logger.Info("orphan chunks deleted", "session_id", id, "objects", n)
	}
	return deleted, nil
}
