package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hpungsan/focus/internal/errors"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	RowsDeleted    int64  `json:"rows_deleted"`
	BytesReclaimed int64  `json:"bytes_reclaimed"`
	Message        string `json:"message"`
}

// IntegrityReport lists what the structural and referential checks found.
type IntegrityReport struct {
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

// CleanupOldData deletes snapshots older than now - retentionDays (details cascade),
// along with task segments and focus sessions that ended before the cutoff.
// BytesReclaimed is the file-size delta and is always 0 for in-memory stores.
func (s *Store) CleanupOldData(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		return nil, errors.NewInvalidRequest("retention days must be positive")
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sizeBefore := s.fileSize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewMaintenance("begin cleanup", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE timestamp < ?", cutoff)
	if err != nil {
		return nil, errors.NewMaintenance("delete snapshots", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, errors.NewMaintenance("delete snapshots", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM task_segments WHERE end_time IS NOT NULL AND end_time < ?", cutoff); err != nil {
		return nil, errors.NewMaintenance("delete task segments", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM focus_sessions WHERE COALESCE(end_time, start_time) < ?", cutoff); err != nil {
		return nil, errors.NewMaintenance("delete focus sessions", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewMaintenance("commit cleanup", err)
	}

	var reclaimed int64
	if s.path != "" && deleted > 0 {
		if err := s.compact(ctx); err != nil {
			return nil, err
		}
		if delta := sizeBefore - s.fileSize(); delta > 0 {
			reclaimed = delta
		}
	}

	result := &CleanupResult{
		RowsDeleted:    deleted,
		BytesReclaimed: reclaimed,
		Message:        formatCleanupMessage(deleted, reclaimed, retentionDays),
	}
	s.logger.Info("retention cleanup finished",
		"retention_days", retentionDays,
		"rows_deleted", deleted,
		"bytes_reclaimed", reclaimed,
	)
	return result, nil
}

// formatCleanupMessage creates a human-readable message for the cleanup result.
func formatCleanupMessage(rows, bytes int64, days int) string {
	if rows == 0 {
		return fmt.Sprintf("No snapshots older than %d days", days)
	}
	word := "snapshot"
	if rows > 1 {
		word = "snapshots"
	}
	return fmt.Sprintf("Deleted %d %s older than %d days (%d bytes reclaimed)", rows, word, days, bytes)
}

// Optimize refreshes planner statistics and reclaims free pages.
// It holds the write lock, so it never overlaps a snapshot transaction.
func (s *Store) Optimize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return errors.NewMaintenance("analyze", err)
	}
	if err := s.compact(ctx); err != nil {
		return err
	}
	s.logger.Info("database optimized")
	return nil
}

// compact runs VACUUM and truncates the WAL. Callers hold writeMu.
func (s *Store) compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return errors.NewMaintenance("vacuum", err)
	}
	if s.path != "" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return errors.NewMaintenance("wal checkpoint", err)
		}
	}
	return nil
}

// fileSize is the database plus its WAL, or 0 when there is no file.
func (s *Store) fileSize() int64 {
	if s.path == "" {
		return 0
	}
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// CheckIntegrity runs integrity_check and foreign_key_check and collects every problem.
func (s *Store) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{OK: true}

	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, errors.NewStorage("integrity check", err)
	}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return nil, errors.NewStorage("integrity check", err)
		}
		if line != "ok" {
			report.OK = false
			report.Problems = append(report.Problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewStorage("integrity check", err)
	}
	rows.Close()

	fkRows, err := s.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, errors.NewStorage("foreign key check", err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var (
			table  string
			rowID  *int64
			parent string
			fkid   int64
		)
		if err := fkRows.Scan(&table, &rowID, &parent, &fkid); err != nil {
			return nil, errors.NewStorage("foreign key check", err)
		}
		report.OK = false
		row := "?"
		if rowID != nil {
			row = fmt.Sprintf("%d", *rowID)
		}
		report.Problems = append(report.Problems,
			fmt.Sprintf("%s row %s references missing %s", table, row, parent))
	}
	if err := fkRows.Err(); err != nil {
		return nil, errors.NewStorage("foreign key check", err)
	}

	return report, nil
}

// VerifyIntegrity reports false on detected corruption instead of returning an error.
// An error means the checks themselves could not run.
func (s *Store) VerifyIntegrity(ctx context.Context) (bool, error) {
	report, err := s.CheckIntegrity(ctx)
	if err != nil {
		return false, err
	}
	if !report.OK {
		s.logger.Warn("integrity check failed", "problems", report.Problems)
	}
	return report.OK, nil
}
