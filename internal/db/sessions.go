package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

// SaveFocusSessions replaces the persisted sessions starting in [start, end] with
// sessions, atomically. Assigned IDs are written back into the slice.
func (s *Store) SaveFocusSessions(ctx context.Context, start, end time.Time, sessions []focus.FocusSession) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage("begin session transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM focus_sessions WHERE start_time >= ? AND start_time <= ?",
		start.UnixMilli(), end.UnixMilli()); err != nil {
		return errors.NewStorage("delete focus sessions", err)
	}

	sessionStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO focus_sessions (
			start_time, end_time, activity_type, duration_minutes, context_switches, attention_score
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewStorage("prepare session insert", err)
	}
	defer sessionStmt.Close()

	triggerStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO focus_triggers (session_id, timestamp, trigger_type, source, recovery_seconds)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewStorage("prepare trigger insert", err)
	}
	defer triggerStmt.Close()

	for i := range sessions {
		sess := &sessions[i]
		res, err := sessionStmt.ExecContext(ctx,
			sess.StartTime.UnixMilli(), toNullMillis(sess.EndTime), sess.ActivityType,
			sess.DurationMinutes, sess.ContextSwitches, sess.AttentionScore,
		)
		if err != nil {
			return errors.NewStorage("insert focus session", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errors.NewStorage("insert focus session", err)
		}

		for _, trig := range sess.Triggers {
			var recovery sql.NullInt64
			if trig.RecoverySeconds != nil {
				recovery = sql.NullInt64{Int64: int64(*trig.RecoverySeconds), Valid: true}
			}
			if _, err := triggerStmt.ExecContext(ctx,
				id, trig.Timestamp.UnixMilli(), trig.Type, trig.Source, recovery); err != nil {
				return errors.NewStorage("insert focus trigger", err)
			}
		}
		sess.ID = id
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorage("commit focus sessions", err)
	}
	return nil
}

// GetFocusSessions returns sessions that started at or after since, oldest first,
// with their triggers.
func (s *Store) GetFocusSessions(ctx context.Context, since time.Time) ([]focus.FocusSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, activity_type, duration_minutes, context_switches, attention_score
		FROM focus_sessions
		WHERE start_time >= ?
		ORDER BY start_time ASC, id ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, errors.NewStorage("query focus sessions", err)
	}

	sessions := make([]focus.FocusSession, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			sess    focus.FocusSession
			startMs int64
			endMs   sql.NullInt64
		)
		err := rows.Scan(&sess.ID, &startMs, &endMs, &sess.ActivityType,
			&sess.DurationMinutes, &sess.ContextSwitches, &sess.AttentionScore)
		if err != nil {
			rows.Close()
			return nil, errors.NewStorage("scan focus session", err)
		}
		sess.StartTime = fromMillis(startMs)
		sess.EndTime = fromNullMillis(endMs)
		sess.Triggers = []focus.FocusTrigger{}
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewStorage("query focus sessions", err)
	}
	rows.Close()

	if len(sessions) == 0 {
		return sessions, nil
	}

	trigRows, err := s.db.QueryContext(ctx, `
		SELECT t.session_id, t.timestamp, t.trigger_type, t.source, t.recovery_seconds
		FROM focus_triggers t
		JOIN focus_sessions fs ON fs.id = t.session_id
		WHERE fs.start_time >= ?
		ORDER BY t.timestamp ASC, t.id ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, errors.NewStorage("query focus triggers", err)
	}
	defer trigRows.Close()

	for trigRows.Next() {
		var (
			sessionID int64
			tsMs      int64
			trig      focus.FocusTrigger
			recovery  sql.NullInt64
		)
		if err := trigRows.Scan(&sessionID, &tsMs, &trig.Type, &trig.Source, &recovery); err != nil {
			return nil, errors.NewStorage("scan focus trigger", err)
		}
		trig.Timestamp = fromMillis(tsMs)
		if recovery.Valid {
			r := int(recovery.Int64)
			trig.RecoverySeconds = &r
		}
		if i, ok := index[sessionID]; ok {
			sessions[i].Triggers = append(sessions[i].Triggers, trig)
		}
	}
	if err := trigRows.Err(); err != nil {
		return nil, errors.NewStorage("query focus triggers", err)
	}

	return sessions, nil
}
