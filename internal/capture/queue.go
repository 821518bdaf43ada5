package capture

import (
	stderrors "errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

// Queue holds captures waiting for analysis, ordered oldest first.
// A path is queued at most once.
type Queue struct {
	mu        sync.Mutex
	items     []focus.Capture
	paths     map[string]struct{}
	lastDrain time.Time

	now    func() time.Time
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides time.Now, for readiness tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates an empty queue. The interval trigger counts from creation.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		paths: make(map[string]struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.Component(nil, "queue")
	}
	q.lastDrain = q.now()
	return q
}

// Enqueue adds a capture keyed by its timestamp. The file must exist.
func (q *Queue) Enqueue(c focus.Capture) error {
	if _, err := os.Stat(c.Path); err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return errors.NewCaptureNotFound(c.Path, err)
		}
		return errors.NewCapture(c.Path, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.paths[c.Path]; ok {
		return nil
	}
	// Insert after any capture with the same timestamp so equal keys keep arrival order
	i, _ := slices.BinarySearchFunc(q.items, c.Timestamp, func(item focus.Capture, ts time.Time) int {
		if item.Timestamp.After(ts) {
			return 1
		}
		return -1
	})
	q.items = slices.Insert(q.items, i, c)
	q.paths[c.Path] = struct{}{}

	q.logger.Debug("capture queued", "path", c.Path, "timestamp", c.Timestamp, "depth", len(q.items))
	return nil
}

// IsReady reports whether a batch should run: batchSize items are waiting, or
// interval has passed since the last drain.
func (q *Queue) IsReady(batchSize int, interval time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if batchSize > 0 && len(q.items) >= batchSize {
		return true
	}
	return q.now().Sub(q.lastDrain) >= interval
}

// Drain removes and returns up to max captures, oldest first. max <= 0 drains
// everything. Every call counts as a drain for the interval trigger, even when
// nothing was queued.
func (q *Queue) Drain(max int) []focus.Capture {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastDrain = q.now()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]focus.Capture, n)
	copy(out, q.items[:n])
	q.items = slices.Clone(q.items[n:])
	for _, c := range out {
		delete(q.paths, c.Path)
	}
	return out
}

// Len returns the number of queued captures.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// LastDrain returns when Drain last ran.
func (q *Queue) LastDrain() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastDrain
}
