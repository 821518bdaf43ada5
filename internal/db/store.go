package db

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

// Rand is the random source behind the focus-score base component.
type Rand interface {
	Float64() float64
}

// Store is the transactional write path and analytics read path over the focus database.
type Store struct {
	db   *sql.DB
	path string // empty for in-memory databases

	// writeMu serializes multi-statement writes and maintenance.
	// Readers go straight to the pool.
	writeMu sync.Mutex

	rngMu sync.Mutex
	rng   Rand

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRand pins the random source, mainly for deterministic tests.
func WithRand(r Rand) Option {
	return func(s *Store) { s.rng = r }
}

// WithClock overrides time.Now for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore wraps an initialized database. path is the database file (empty
// for in-memory) and is only used to measure reclaimed bytes.
func NewStore(database *sql.DB, path string, opts ...Option) *Store {
	s := &Store{
		db:   database,
		path: path,
		rng:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component(nil, "store")
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) float64() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// StoreSnapshot writes a snapshot with its activities, focus state, environment
// and task-segment transition in one transaction. Nothing is visible unless
// every row is written.
func (s *Store) StoreSnapshot(ctx context.Context, ann *focus.Annotation) (int64, error) {
	if ann == nil {
		return 0, errors.NewInvalidRequest("annotation is required")
	}

	activities := make([]focus.Activity, len(ann.Activities))
	for i, a := range ann.Activities {
		activities[i] = focus.NormalizeActivity(a)
	}
	state := focus.NormalizeState(ann.Context.AttentionState)
	primary := strings.TrimSpace(ann.Context.PrimaryTask)
	if primary == "" {
		primary = focus.StateUnknown
	}
	category := focus.StateUnknown
	if len(activities) > 0 && activities[0].Category != "" {
		category = activities[0].Category
	}
	ts := ann.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewStorage("begin snapshot transaction", err)
	}
	defer tx.Rollback()

	// Scored inside the transaction so the stored score always matches the stored rows
	score := FocusScore(state, activities, s.float64())

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (timestamp, summary, focus_score, primary_task, batch_id)
		VALUES (?, ?, ?, ?, ?)
	`, ts.UnixMilli(), ann.Summary, score, primary, toNullString(ann.BatchID))
	if err != nil {
		return 0, errors.NewStorage("insert snapshot", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewStorage("insert snapshot", err)
	}

	segmentID, err := transitionSegment(ctx, tx, ts, primary, category)
	if err != nil {
		return 0, err
	}

	if len(activities) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO activities (
				snapshot_id, task_segment_id, name, category, purpose,
				attention_level, context_switches, workspace_organization
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, errors.NewStorage("prepare activity insert", err)
		}
		defer stmt.Close()

		for _, a := range activities {
			_, err := stmt.ExecContext(ctx,
				snapshotID, segmentID, a.Name, a.Category, a.Purpose,
				a.FocusIndicators.AttentionLevel, a.FocusIndicators.ContextSwitches,
				a.FocusIndicators.WorkspaceOrganization,
			)
			if err != nil {
				return 0, errors.NewStorage("insert activity", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO focus_states (snapshot_id, state_type, confidence) VALUES (?, ?, ?)
	`, snapshotID, state, focus.ClampUnit(ann.Context.Confidence))
	if err != nil {
		return 0, errors.NewStorage("insert focus state", err)
	}

	if env := strings.TrimSpace(ann.Context.Environment); env != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO environments (snapshot_id, description) VALUES (?, ?)
		`, snapshotID, env)
		if err != nil {
			return 0, errors.NewStorage("insert environment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewStorage("commit snapshot", err)
	}

	s.logger.Debug("snapshot stored",
		"snapshot_id", snapshotID,
		"timestamp", ts,
		"focus_score", score,
		"activities", len(activities),
	)
	return snapshotID, nil
}

// transitionSegment keeps the open segment when the task is unchanged, otherwise
// closes it at ts and opens a new one. Returns the segment the snapshot belongs to.
func transitionSegment(ctx context.Context, tx *sql.Tx, ts time.Time, task, category string) (int64, error) {
	var (
		openID    int64
		openTask  string
		openStart int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, task_name, start_time FROM task_segments
		WHERE end_time IS NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`).Scan(&openID, &openTask, &openStart)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return 0, errors.NewStorage("load open task segment", err)
	case openTask == task:
		return openID, nil
	default:
		// A late snapshot must not close a segment before it started
		end := ts.UnixMilli()
		if end < openStart {
			end = openStart
		}
		// Close every open row so at most one remains open after the insert
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_segments SET end_time = MAX(start_time, ?) WHERE end_time IS NULL
		`, end); err != nil {
			return 0, errors.NewStorage("close task segment", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO task_segments (start_time, end_time, task_name, category) VALUES (?, NULL, ?, ?)
	`, ts.UnixMilli(), task, category)
	if err != nil {
		return 0, errors.NewStorage("open task segment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewStorage("open task segment", err)
	}
	return id, nil
}
