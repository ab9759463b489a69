package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workplace-monitor/internal/models"
)

const sessionColumns = `id, zone_id, employee_id, start_time, end_time, duration_seconds,
	session_date, is_checkpoint, is_synced, created_at`

const clientVisitColumns = `id, zone_id, employee_id, track_id, enter_time, exit_time, duration_seconds,
	visit_date, is_checkpoint, is_synced, created_at`

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s          models.Session
		zoneID     sql.NullInt64
		employeeID sql.NullInt64
		endTime    sql.NullTime
		createdAt  sql.NullTime
	)
	if err := row.Scan(&s.ID, &zoneID, &employeeID, &s.StartTime, &endTime, &s.DurationSeconds,
		&s.SessionDate, &s.IsCheckpoint, &s.IsSynced, &createdAt); err != nil {
		return nil, err
	}
	s.ZoneID = zoneID.Int64
	s.EmployeeID = int64Ptr(employeeID)
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	s.CreatedAt = createdAt.Time
	return &s, nil
}

func scanClientVisit(row rowScanner) (*models.ClientVisit, error) {
	var (
		v         models.ClientVisit
		zoneID    sql.NullInt64
		exitTime  sql.NullTime
		createdAt sql.NullTime
	)
	if err := row.Scan(&v.ID, &zoneID, &v.EmployeeID, &v.TrackID, &v.EnterTime, &exitTime, &v.DurationSeconds,
		&v.VisitDate, &v.IsCheckpoint, &v.IsSynced, &createdAt); err != nil {
		return nil, err
	}
	v.ZoneID = zoneID.Int64
	if exitTime.Valid {
		v.ExitTime = &exitTime.Time
	}
	v.CreatedAt = createdAt.Time
	return &v, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateSession inserts a finalized or checkpoint session and sets s.ID.
func (s *LocalStore) CreateSession(ctx context.Context, rec *models.Session) error {
	if rec.SessionDate == "" {
		rec.SessionDate = models.DateKey(rec.StartTime)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (zone_id, employee_id, start_time, end_time, duration_seconds,
			session_date, is_checkpoint, is_synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.ZoneID, nullInt64(rec.EmployeeID), rec.StartTime, nullTime(rec.EndTime), rec.DurationSeconds,
		rec.SessionDate, boolInt(rec.IsCheckpoint), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	rec.IsSynced = false
	return nil
}

// UpdateSessionCheckpoint moves an in-progress row forward in place.
func (s *LocalStore) UpdateSessionCheckpoint(ctx context.Context, id int64, end time.Time, duration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET end_time = ?, duration_seconds = ?
		WHERE id = ? AND is_checkpoint = 1`,
		end, duration, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session checkpoint %d: %w", id, err)
	}
	return expectOneRow(res, "session", id)
}

// FinalizeSession writes the final end time and duration and flips the row
// out of checkpoint state; it becomes eligible for sync.
func (s *LocalStore) FinalizeSession(ctx context.Context, id int64, end time.Time, duration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET end_time = ?, duration_seconds = ?, is_checkpoint = 0, is_synced = 0
		WHERE id = ?`,
		end, duration, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize session %d: %w", id, err)
	}
	return expectOneRow(res, "session", id)
}

// CreateClientVisit inserts a finalized or checkpoint visit and sets v.ID.
func (s *LocalStore) CreateClientVisit(ctx context.Context, rec *models.ClientVisit) error {
	if rec.VisitDate == "" {
		rec.VisitDate = models.DateKey(rec.EnterTime)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO client_visits (zone_id, employee_id, track_id, enter_time, exit_time, duration_seconds,
			visit_date, is_checkpoint, is_synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.ZoneID, rec.EmployeeID, rec.TrackID, rec.EnterTime, nullTime(rec.ExitTime), rec.DurationSeconds,
		rec.VisitDate, boolInt(rec.IsCheckpoint), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client visit: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read client visit id: %w", err)
	}
	rec.IsSynced = false
	return nil
}

func (s *LocalStore) UpdateClientVisitCheckpoint(ctx context.Context, id int64, exit time.Time, duration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_visits SET exit_time = ?, duration_seconds = ?
		WHERE id = ? AND is_checkpoint = 1`,
		exit, duration, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update client visit checkpoint %d: %w", id, err)
	}
	return expectOneRow(res, "client visit", id)
}

func (s *LocalStore) FinalizeClientVisit(ctx context.Context, id int64, exit time.Time, duration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_visits SET exit_time = ?, duration_seconds = ?, is_checkpoint = 0, is_synced = 0
		WHERE id = ?`,
		exit, duration, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize client visit %d: %w", id, err)
	}
	return expectOneRow(res, "client visit", id)
}

func expectOneRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *LocalStore) querySessions(ctx context.Context, query string, args ...any) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *LocalStore) queryClientVisits(ctx context.Context, query string, args ...any) ([]models.ClientVisit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query client visits: %w", err)
	}
	defer rows.Close()

	var out []models.ClientVisit
	for rows.Next() {
		rec, err := scanClientVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client visit: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *LocalStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	list, err := s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *LocalStore) GetClientVisit(ctx context.Context, id int64) (*models.ClientVisit, error) {
	list, err := s.queryClientVisits(ctx, `SELECT `+clientVisitColumns+` FROM client_visits WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListSessionsForDay returns the finalized sessions of one day, oldest first.
func (s *LocalStore) ListSessionsForDay(ctx context.Context, day string) ([]models.Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE session_date = ? AND is_checkpoint = 0
		ORDER BY start_time, id`, day)
}

func (s *LocalStore) ListClientVisitsForDay(ctx context.Context, day string) ([]models.ClientVisit, error) {
	return s.queryClientVisits(ctx, `
		SELECT `+clientVisitColumns+` FROM client_visits
		WHERE visit_date = ? AND is_checkpoint = 0
		ORDER BY enter_time, id`, day)
}
