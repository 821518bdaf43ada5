package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

// GetSnapshotsBetween returns snapshots in [start, end], newest first, with their
// activities attached. Missing focus states or environments come back as nil.
func (s *Store) GetSnapshotsBetween(ctx context.Context, start, end time.Time) ([]focus.Snapshot, error) {
	snapshots, err := s.querySnapshots(ctx, `
		SELECT s.id, s.timestamp, s.summary, s.focus_score, s.primary_task, s.batch_id,
			fs.state_type, fs.confidence, e.description
		FROM snapshots s
		LEFT JOIN focus_states fs ON fs.snapshot_id = s.id
		LEFT JOIN environments e ON e.snapshot_id = s.id
		WHERE s.timestamp >= ? AND s.timestamp <= ?
		ORDER BY s.timestamp DESC, s.id DESC
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return snapshots, nil
	}

	index := make(map[int64]int, len(snapshots))
	for i := range snapshots {
		index[snapshots[i].ID] = i
	}

	activities, err := s.GetActivitiesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	// Activities arrive newest snapshot first; insertion order within a snapshot is kept
	for _, a := range activities {
		if i, ok := index[a.SnapshotID]; ok {
			snapshots[i].Activities = append(snapshots[i].Activities, a.Activity)
		}
	}

	return snapshots, nil
}

// GetRecentSnapshots returns up to limit snapshots, newest first, without activities.
func (s *Store) GetRecentSnapshots(ctx context.Context, limit int) ([]focus.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.querySnapshots(ctx, `
		SELECT s.id, s.timestamp, s.summary, s.focus_score, s.primary_task, s.batch_id,
			fs.state_type, fs.confidence, e.description
		FROM snapshots s
		LEFT JOIN focus_states fs ON fs.snapshot_id = s.id
		LEFT JOIN environments e ON e.snapshot_id = s.id
		ORDER BY s.timestamp DESC, s.id DESC
		LIMIT ?
	`, limit)
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]focus.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage("query snapshots", err)
	}
	defer rows.Close()

	snapshots := make([]focus.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.NewStorage("scan snapshot", err)
		}
		snapshots = append(snapshots, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("query snapshots", err)
	}
	return snapshots, nil
}

// GetActivitiesBetween returns activities whose snapshot falls in [start, end], newest first.
func (s *Store) GetActivitiesBetween(ctx context.Context, start, end time.Time) ([]focus.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.snapshot_id, s.timestamp, a.name, a.category, a.purpose,
			a.attention_level, a.context_switches, a.workspace_organization
		FROM activities a
		JOIN snapshots s ON s.id = a.snapshot_id
		WHERE s.timestamp >= ? AND s.timestamp <= ?
		ORDER BY s.timestamp DESC, s.id DESC, a.id ASC
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.NewStorage("query activities", err)
	}
	defer rows.Close()

	records := make([]focus.ActivityRecord, 0)
	for rows.Next() {
		var (
			rec focus.ActivityRecord
			ts  int64
		)
		err := rows.Scan(
			&rec.SnapshotID, &ts, &rec.Name, &rec.Category, &rec.Purpose,
			&rec.FocusIndicators.AttentionLevel, &rec.FocusIndicators.ContextSwitches,
			&rec.FocusIndicators.WorkspaceOrganization,
		)
		if err != nil {
			return nil, errors.NewStorage("scan activity", err)
		}
		rec.Timestamp = fromMillis(ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("query activities", err)
	}
	return records, nil
}

// GetFocusStatesBetween returns one focus state per snapshot in [start, end], newest
// first. A snapshot without a stored state is reported as unknown with zero confidence.
func (s *Store) GetFocusStatesBetween(ctx context.Context, start, end time.Time) ([]focus.FocusStateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.timestamp, fs.state_type, fs.confidence
		FROM snapshots s
		LEFT JOIN focus_states fs ON fs.snapshot_id = s.id
		WHERE s.timestamp >= ? AND s.timestamp <= ?
		ORDER BY s.timestamp DESC, s.id DESC
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.NewStorage("query focus states", err)
	}
	defer rows.Close()

	records := make([]focus.FocusStateRecord, 0)
	for rows.Next() {
		var (
			rec        focus.FocusStateRecord
			ts         int64
			stateType  sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&rec.SnapshotID, &ts, &stateType, &confidence); err != nil {
			return nil, errors.NewStorage("scan focus state", err)
		}
		rec.Timestamp = fromMillis(ts)
		rec.StateType = focus.StateUnknown
		if stateType.Valid {
			rec.StateType = stateType.String
		}
		if confidence.Valid {
			rec.Confidence = confidence.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("query focus states", err)
	}
	return records, nil
}

// GetTaskSegments returns segments overlapping [start, end], oldest first.
// Open segments overlap any window that ends after they started.
func (s *Store) GetTaskSegments(ctx context.Context, start, end time.Time) ([]focus.TaskSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, task_name, category
		FROM task_segments
		WHERE start_time <= ? AND (end_time IS NULL OR end_time >= ?)
		ORDER BY start_time ASC, id ASC
	`, end.UnixMilli(), start.UnixMilli())
	if err != nil {
		return nil, errors.NewStorage("query task segments", err)
	}
	defer rows.Close()

	segments := make([]focus.TaskSegment, 0)
	for rows.Next() {
		var (
			seg     focus.TaskSegment
			startMs int64
			endMs   sql.NullInt64
		)
		if err := rows.Scan(&seg.ID, &startMs, &endMs, &seg.TaskName, &seg.Category); err != nil {
			return nil, errors.NewStorage("scan task segment", err)
		}
		seg.StartTime = fromMillis(startMs)
		seg.EndTime = fromNullMillis(endMs)
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("query task segments", err)
	}
	return segments, nil
}

// CountSnapshots returns the total number of stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, errors.NewStorage("count snapshots", err)
	}
	return n, nil
}

// scanSnapshot scans a snapshot row joined with its optional focus state and environment.
func scanSnapshot(rows *sql.Rows) (*focus.Snapshot, error) {
	var (
		snap        focus.Snapshot
		ts          int64
		primaryTask sql.NullString
		batchID     sql.NullString
		stateType   sql.NullString
		confidence  sql.NullFloat64
		environment sql.NullString
	)
	err := rows.Scan(
		&snap.ID, &ts, &snap.Summary, &snap.FocusScore, &primaryTask, &batchID,
		&stateType, &confidence, &environment,
	)
	if err != nil {
		return nil, err
	}

	snap.Timestamp = fromMillis(ts)
	snap.PrimaryTask = fromNullString(primaryTask)
	snap.BatchID = fromNullString(batchID)
	snap.StateType = fromNullString(stateType)
	snap.Environment = fromNullString(environment)
	if confidence.Valid {
		c := confidence.Float64
		snap.Confidence = &c
	}
	snap.Activities = []focus.Activity{}

	return &snap, nil
}

// toNullString converts an empty string to a NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString converts a sql.NullString to a *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
