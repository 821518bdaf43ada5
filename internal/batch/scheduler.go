// Package batch drains the capture queue and pushes each capture through
// analysis into the store.
package batch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/focus/internal/capture"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
	"github.com/hpungsan/focus/internal/metrics"
)

// Analyzer turns a capture file into an annotation.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, c focus.Capture) (*focus.Annotation, error)
}

// SnapshotWriter persists an annotation.
type SnapshotWriter interface {
	StoreSnapshot(ctx context.Context, ann *focus.Annotation) (int64, error)
}

// Stored is one capture that made it into the store.
type Stored struct {
	SnapshotID int64
	Capture    focus.Capture
	Annotation *focus.Annotation
}

// Config controls batch triggers and fan-out.
type Config struct {
	BatchSize   int
	Interval    time.Duration
	Concurrency int
	// Grace is how long drained items may keep running after cancellation.
	Grace time.Duration
}

// Scheduler runs at most one batch at a time.
type Scheduler struct {
	queue    *capture.Queue
	analyzer Analyzer
	store    SnapshotWriter
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records batch and item outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler over q.
func New(q *capture.Queue, analyzer Analyzer, store SnapshotWriter, cfg Config, opts ...Option) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 12
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}
	s := &Scheduler{
		queue:    q,
		analyzer: analyzer,
		store:    store,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "scheduler")
	return s
}

// MaybeProcessBatch runs one batch if the queue is ready and returns the
// snapshots it stored. A cancelled ctx starts nothing.
//
// The returned error is a loop-level failure: a non-empty batch in which no
// item was stored. Individual item failures are only logged.
func (s *Scheduler) MaybeProcessBatch(ctx context.Context) ([]Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.queue.IsReady(s.cfg.BatchSize, s.cfg.Interval) {
		return nil, nil
	}
	return s.ProcessNow(ctx)
}

// ProcessNow drains up to one batch regardless of readiness.
func (s *Scheduler) ProcessNow(ctx context.Context) ([]Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := s.queue.Drain(s.cfg.BatchSize)
	return s.process(ctx, items)
}

// Recover queues captures left in dir by an earlier run and drains them
// straight away, batch by batch.
func (s *Scheduler) Recover(ctx context.Context, dir string) ([]Stored, error) {
	n, err := capture.Recover(s.queue, dir, s.logger)
	if err != nil {
		return nil, errors.NewCapture(dir, err)
	}
	for i := 0; i < n; i++ {
		s.metrics.CaptureResult(metrics.CaptureRecovered)
	}

	var (
		all     []Stored
		lastErr error
	)
	for s.queue.Len() > 0 {
		stored, err := s.ProcessNow(ctx)
		all = append(all, stored...)
		if err != nil {
			if ctx.Err() != nil {
				return all, err
			}
			lastErr = err
		}
	}
	return all, lastErr
}

func (s *Scheduler) process(ctx context.Context, items []focus.Capture) ([]Stored, error) {
	s.metrics.Batch(len(items))
	if len(items) == 0 {
		s.logger.Debug("batch trigger with empty queue")
		return nil, nil
	}

	batchID := focus.NewID(time.Now())
	log := s.logger.With("batch_id", batchID)
	log.Info("processing batch", "items", len(items))

	workCtx, stop := s.detach(ctx)
	defer stop()

	results := make([]*Stored, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i], errs[i] = s.processItem(workCtx, log, batchID, item)
			return nil
		})
	}
	_ = g.Wait()

	stored := make([]Stored, 0, len(items))
	var lastErr error
	for i, r := range results {
		if r != nil {
			stored = append(stored, *r)
		} else if errs[i] != nil {
			lastErr = errs[i]
		}
	}

	log.Info("batch finished", "stored", len(stored), "failed", len(items)-len(stored))
	if len(stored) == 0 && lastErr != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("batch %s: all %d items failed: %w", batchID, len(items), lastErr)
	}
	return stored, nil
}

// processItem analyzes and stores one capture. The file is removed once an
// outcome is known; an item cut off by shutdown keeps its file for recovery.
func (s *Scheduler) processItem(ctx context.Context, log *slog.Logger, batchID string, c focus.Capture) (*Stored, error) {
	ann, err := s.analyzer.AnalyzeFile(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("discarding unfinished capture, file kept for recovery", "path", c.Path)
			return nil, err
		}
		log.Warn("analysis failed, dropping capture", "path", c.Path, "error", err)
		s.metrics.ItemFailed(errorCode(err))
		s.removeFile(log, c.Path)
		return nil, err
	}

	ann.BatchID = batchID
	id, err := s.store.StoreSnapshot(ctx, ann)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("discarding unfinished capture, file kept for recovery", "path", c.Path)
			return nil, err
		}
		log.Warn("store snapshot failed, dropping capture", "path", c.Path, "error", err)
		s.metrics.ItemFailed(errorCode(err))
		s.removeFile(log, c.Path)
		return nil, err
	}

	s.metrics.Stored()
	s.removeFile(log, c.Path)
	log.Debug("snapshot stored", "snapshot_id", id, "path", c.Path)
	return &Stored{SnapshotID: id, Capture: c, Annotation: ann}, nil
}

func (s *Scheduler) removeFile(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		log.Warn("remove capture file", "path", path, "error", err)
	}
}

// detach returns a context that outlives parent by the grace period, so
// drained items can finish after shutdown starts.
func (s *Scheduler) detach(parent context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(s.cfg.Grace)
			defer timer.Stop()
			select {
			case <-timer.C:
				s.logger.Warn("shutdown grace period expired, abandoning in-flight items")
				cancel()
			case <-work.Done():
			}
		case <-work.Done():
		}
	}()
	return work, cancel
}

func errorCode(err error) string {
	var fe *errors.FocusError
	if stderrors.As(err, &fe) {
		return string(fe.Code)
	}
	return string(errors.ErrInternal)
}
