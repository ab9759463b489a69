package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workplace-monitor/internal/models"
)

// ListUnsyncedSessions returns finalized sessions not yet delivered, oldest first.
func (s *LocalStore) ListUnsyncedSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_synced = 0 AND is_checkpoint = 0
		ORDER BY id LIMIT ?`, limit)
}

func (s *LocalStore) ListUnsyncedClientVisits(ctx context.Context, limit int) ([]models.ClientVisit, error) {
	return s.queryClientVisits(ctx, `
		SELECT `+clientVisitColumns+` FROM client_visits
		WHERE is_synced = 0 AND is_checkpoint = 0
		ORDER BY id LIMIT ?`, limit)
}

// ListCheckpointSessions returns in-progress sessions for remote mirroring.
func (s *LocalStore) ListCheckpointSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_checkpoint = 1
		ORDER BY id LIMIT ?`, limit)
}

func (s *LocalStore) ListCheckpointClientVisits(ctx context.Context, limit int) ([]models.ClientVisit, error) {
	return s.queryClientVisits(ctx, `
		SELECT `+clientVisitColumns+` FROM client_visits
		WHERE is_checkpoint = 1
		ORDER BY id LIMIT ?`, limit)
}

// MarkSessionsSynced flags finalized rows as delivered. Checkpoint rows are
// never marked, so a row finalized after it was listed stays in the queue.
func (s *LocalStore) MarkSessionsSynced(ctx context.Context, ids []int64) error {
	return s.markSynced(ctx, "sessions", ids)
}

func (s *LocalStore) MarkClientVisitsSynced(ctx context.Context, ids []int64) error {
	return s.markSynced(ctx, "client_visits", ids)
}

func (s *LocalStore) markSynced(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := placeholders(ids)
	query := fmt.Sprintf(`UPDATE %s SET is_synced = 1 WHERE is_checkpoint = 0 AND id IN (%s)`, table, in)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", table, err)
	}
	return nil
}

// CountPending counts finalized rows of both kinds still waiting for upload.
func (s *LocalStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE is_synced = 0 AND is_checkpoint = 0) +
			(SELECT COUNT(*) FROM client_visits WHERE is_synced = 0 AND is_checkpoint = 0)`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}

// Daily sums cover finalized rows only; an open session is represented by its
// live tracker, so counting its checkpoint row as well would double it.

func (s *LocalStore) SumSessionDurationByZone(ctx context.Context, zoneID int64, day string) (float64, error) {
	return s.sum(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM sessions
		WHERE zone_id = ? AND session_date = ? AND is_checkpoint = 0`, zoneID, day)
}

func (s *LocalStore) SumClientVisitDurationByZone(ctx context.Context, zoneID int64, day string) (float64, error) {
	return s.sum(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM client_visits
		WHERE zone_id = ? AND visit_date = ? AND is_checkpoint = 0`, zoneID, day)
}

func (s *LocalStore) SumSessionDurationByEmployee(ctx context.Context, employeeID int64, day string) (float64, error) {
	return s.sum(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM sessions
		WHERE employee_id = ? AND session_date = ? AND is_checkpoint = 0`, employeeID, day)
}

func (s *LocalStore) SumClientVisitDurationByEmployee(ctx context.Context, employeeID int64, day string) (float64, error) {
	return s.sum(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM client_visits
		WHERE employee_id = ? AND visit_date = ? AND is_checkpoint = 0`, employeeID, day)
}

func (s *LocalStore) CountClientVisitsByEmployee(ctx context.Context, employeeID int64, day string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM client_visits
		WHERE employee_id = ? AND visit_date = ? AND is_checkpoint = 0`, employeeID, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count client visits: %w", err)
	}
	return n, nil
}

func (s *LocalStore) sum(ctx context.Context, query string, args ...any) (float64, error) {
	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum durations: %w", err)
	}
	return total, nil
}

// CloseOpenCheckpoints flips every row left in checkpoint state by an unclean
// stop to finalized, keeping its last saved duration. Rows without an end time
// get start + duration. Returns the number of rows closed.
func (s *LocalStore) CloseOpenCheckpoints(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessions, err := closeCheckpoints(ctx, tx, "sessions", "start_time", "end_time")
	if err != nil {
		return 0, err
	}
	visits, err := closeCheckpoints(ctx, tx, "client_visits", "enter_time", "exit_time")
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint recovery: %w", err)
	}
	return sessions + visits, nil
}

func closeCheckpoints(ctx context.Context, tx *sql.Tx, table, startCol, endCol string) (int64, error) {
	type open struct {
		id       int64
		start    time.Time
		end      sql.NullTime
		duration float64
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, %s, %s, duration_seconds FROM %s WHERE is_checkpoint = 1`, startCol, endCol, table))
	if err != nil {
		return 0, fmt.Errorf("failed to list open %s checkpoints: %w", table, err)
	}
	var pending []open
	for rows.Next() {
		var o open
		if err := rows.Scan(&o.id, &o.start, &o.end, &o.duration); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan %s checkpoint: %w", table, err)
		}
		pending = append(pending, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = ?, is_checkpoint = 0, is_synced = 0 WHERE id = ?`, table, endCol)
	for _, o := range pending {
		end := o.end.Time
		if !o.end.Valid {
			end = o.start.Add(time.Duration(o.duration * float64(time.Second)))
		}
		if _, err := tx.ExecContext(ctx, update, end, o.id); err != nil {
			return 0, fmt.Errorf("failed to close %s checkpoint %d: %w", table, o.id, err)
		}
	}
	return int64(len(pending)), nil
}
