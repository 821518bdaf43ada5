// Package runner drives the capture loop, the maintenance schedule and the
// metrics endpoint for a long-running focus service.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hpungsan/focus/internal/batch"
	"github.com/hpungsan/focus/internal/capture"
	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/db"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
	"github.com/hpungsan/focus/internal/metrics"
)

// ErrTooManyErrors is returned by Run once the loop error ceiling is reached.
var ErrTooManyErrors = stderrors.New("too many loop errors")

// Config controls the service loop.
type Config struct {
	CaptureDir      string
	CaptureInterval time.Duration
	// Watch enqueues files written into CaptureDir instead of running a capturer.
	Watch bool

	MaxLoopErrors    int
	ErrorResetWindow time.Duration

	// MaintenanceSchedule is a six-field cron spec. Empty disables maintenance.
	MaintenanceSchedule string
	RetentionDays       int
	CaptureMaxAge       time.Duration

	// MetricsAddr serves /metrics while running. Empty disables it.
	MetricsAddr string
}

// FromConfig maps the file configuration onto a runner Config.
func FromConfig(cfg *config.Config, captureDir string) Config {
	return Config{
		CaptureDir:          captureDir,
		CaptureInterval:     cfg.CaptureInterval(),
		Watch:               cfg.CaptureMode == config.CaptureModeWatch,
		MaxLoopErrors:       cfg.MaxLoopErrors,
		ErrorResetWindow:    cfg.ErrorResetWindow(),
		MaintenanceSchedule: cfg.MaintenanceSchedule,
		RetentionDays:       cfg.RetentionDays,
		CaptureMaxAge:       cfg.CaptureMaxAge(),
		MetricsAddr:         cfg.MetricsAddr,
	}
}

// Maintainer is the store maintenance surface used by the schedule.
type Maintainer interface {
	CleanupOldData(ctx context.Context, retentionDays int) (*db.CleanupResult, error)
	Optimize(ctx context.Context) error
}

// Runner owns the capture loop. It is not safe for concurrent Run calls.
type Runner struct {
	cfg       Config
	queue     *capture.Queue
	scheduler *batch.Scheduler
	capturer  capture.Capturer
	store     Maintainer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	errCount  int
	lastError time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithCapturer sets the capturer used on every tick in command mode.
func WithCapturer(c capture.Capturer) Option {
	return func(r *Runner) { r.capturer = c }
}

// WithMetrics records captures and loop errors and serves them on MetricsAddr.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides time.Now for the error window and image retention.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New wires a runner over an existing queue and scheduler.
func New(cfg Config, q *capture.Queue, s *batch.Scheduler, store Maintainer, opts ...Option) *Runner {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = 10 * time.Second
	}
	if cfg.MaxLoopErrors <= 0 {
		cfg.MaxLoopErrors = 3
	}
	if cfg.ErrorResetWindow <= 0 {
		cfg.ErrorResetWindow = 5 * time.Minute
	}
	r := &Runner{
		cfg:       cfg,
		queue:     q,
		scheduler: s,
		store:     store,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "runner")
	return r
}

// Run processes captures left over from an earlier run, then ticks until
// ctx is cancelled or the loop error ceiling is reached. Cancellation is a
// clean stop and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if !r.cfg.Watch && r.capturer == nil {
		return errors.NewInvalidRequest("command mode needs a capturer")
	}

	stored, err := r.scheduler.Recover(ctx, r.cfg.CaptureDir)
	switch {
	case ctx.Err() != nil:
		return nil
	case err != nil:
		r.logger.Warn("recovery incomplete", "error", err)
	case len(stored) > 0:
		r.logger.Info("recovered captures", "stored", len(stored))
	}

	c, err := r.startMaintenance(ctx)
	if err != nil {
		return err
	}
	if c != nil {
		defer func() { <-c.Stop().Done() }()
	}

	if r.cfg.MetricsAddr != "" && r.metrics != nil {
		srv := NewMetricsServer(r.cfg.MetricsAddr, r.metrics)
		go func() {
			if err := Serve(ctx, srv, r.logger); err != nil {
				r.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	watchErr := make(chan error, 1)
	if r.cfg.Watch {
		w := capture.NewWatcher(r.cfg.CaptureDir, r.queue, capture.DefaultDebounce, r.logger)
		w.OnEnqueue = func(focus.Capture) { r.metrics.CaptureResult(metrics.CaptureOK) }
		go func() { watchErr <- w.Run(ctx) }()
	}

	r.logger.Info("service started",
		"capture_dir", r.cfg.CaptureDir,
		"interval", r.cfg.CaptureInterval,
		"watch", r.cfg.Watch,
	)

	ticker := time.NewTicker(r.cfg.CaptureInterval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			r.logger.Info("service stopping", "queued", r.queue.Len())
			return nil
		case err := <-watchErr:
			if err != nil {
				return errors.NewCapture(r.cfg.CaptureDir, err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one capture, enqueue and maybe-batch cycle. It returns an error
// only when the loop error ceiling is reached.
func (r *Runner) Tick(ctx context.Context) error {
	var loopErr error

	if r.capturer != nil && !r.cfg.Watch {
		if err := r.captureOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			loopErr = err
		}
	}

	if _, err := r.scheduler.MaybeProcessBatch(ctx); err != nil && ctx.Err() == nil && loopErr == nil {
		loopErr = err
	}

	return r.recordError(loopErr)
}

func (r *Runner) captureOnce(ctx context.Context) error {
	c, err := r.capturer.Capture(ctx)
	if err == nil {
		err = r.queue.Enqueue(c)
	}
	if err != nil {
		r.metrics.CaptureResult(metrics.CaptureFailed)
		return err
	}
	r.metrics.CaptureResult(metrics.CaptureOK)
	return nil
}

// recordError counts err against the ceiling. The count restarts once the
// previous error is older than ErrorResetWindow.
func (r *Runner) recordError(err error) error {
	if err == nil {
		return nil
	}
	now := r.now()
	if !r.lastError.IsZero() && now.Sub(r.lastError) > r.cfg.ErrorResetWindow {
		r.errCount = 0
	}
	r.errCount++
	r.lastError = now
	r.metrics.LoopError()

	if r.errCount >= r.cfg.MaxLoopErrors {
		r.logger.Error("too many loop errors, shutting down",
			"errors", r.errCount,
			"window", r.cfg.ErrorResetWindow,
			"error", err,
		)
		return fmt.Errorf("%w (%d within %s): %w", ErrTooManyErrors, r.errCount, r.cfg.ErrorResetWindow, err)
	}
	r.logger.Warn("loop error", "errors", r.errCount, "max", r.cfg.MaxLoopErrors, "error", err)
	return nil
}

// Maintain runs retention, capture cleanup and optimize in order. Every step
// runs even if an earlier one failed.
func (r *Runner) Maintain(ctx context.Context) error {
	log := logging.Component(r.logger, "maintenance")
	var errs []error

	if r.cfg.RetentionDays > 0 {
		res, err := r.store.CleanupOldData(ctx, r.cfg.RetentionDays)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Info(res.Message)
		}
	}

	if r.cfg.CaptureMaxAge > 0 {
		n, err := capture.CleanupOldImages(r.cfg.CaptureDir, r.cfg.CaptureMaxAge, r.now())
		if err != nil {
			errs = append(errs, errors.NewMaintenance("cleanup capture images", err))
		} else if n > 0 {
			log.Info("removed stale capture images", "count", n)
		}
	}

	if err := r.store.Optimize(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := stderrors.Join(errs...); err != nil {
		log.Warn("maintenance finished with errors", "error", err)
		return err
	}
	return nil
}

func (r *Runner) startMaintenance(ctx context.Context) (*cron.Cron, error) {
	if r.cfg.MaintenanceSchedule == "" {
		return nil, nil
	}
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(r.cfg.MaintenanceSchedule, func() {
		_ = r.Maintain(ctx)
	})
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid maintenance schedule %q: %v", r.cfg.MaintenanceSchedule, err))
	}
	c.Start()
	return c, nil
}
