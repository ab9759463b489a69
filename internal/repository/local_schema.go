package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// LocalStore the on-device durable store (SQLite).
// Every write the occupancy engine makes lands here first; the cloud copy is
// produced later by the sync service.
type LocalStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLocalStore creates the store; call Migrate before use.
func NewLocalStore(db *sql.DB, logger *zap.Logger) *LocalStore {
	return &LocalStore{
		db:     db,
		logger: logger,
	}
}

var localTables = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL,
		position   TEXT    NOT NULL DEFAULT '',
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS zones (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id          INTEGER NOT NULL,
		name               TEXT    NOT NULL DEFAULT '',
		zone_type          TEXT    NOT NULL DEFAULT 'employee',
		employee_id        INTEGER,
		linked_employee_id INTEGER,
		polygon            TEXT    NOT NULL DEFAULT '[]',
		updated_at         DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		zone_id          INTEGER,
		employee_id      INTEGER,
		start_time       DATETIME NOT NULL,
		end_time         DATETIME,
		duration_seconds REAL    NOT NULL DEFAULT 0,
		session_date     TEXT    NOT NULL,
		created_at       DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS client_visits (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		zone_id          INTEGER,
		employee_id      INTEGER NOT NULL,
		track_id         INTEGER NOT NULL DEFAULT 0,
		enter_time       DATETIME NOT NULL,
		exit_time        DATETIME,
		duration_seconds REAL    NOT NULL DEFAULT 0,
		visit_date       TEXT    NOT NULL,
		created_at       DATETIME
	)`,
}

// columns added after the first release; older databases get them via ALTER TABLE
var localAddedColumns = map[string][]struct{ name, ddl string }{
	"sessions": {
		{"is_checkpoint", "INTEGER NOT NULL DEFAULT 0"},
		{"is_synced", "INTEGER NOT NULL DEFAULT 0"},
	},
	"client_visits": {
		{"is_checkpoint", "INTEGER NOT NULL DEFAULT 0"},
		{"is_synced", "INTEGER NOT NULL DEFAULT 0"},
	},
}

var localIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_sync ON sessions (is_synced, is_checkpoint, id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_zone_date ON sessions (session_date, zone_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_employee_date ON sessions (session_date, employee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_client_visits_sync ON client_visits (is_synced, is_checkpoint, id)`,
	`CREATE INDEX IF NOT EXISTS idx_client_visits_employee_date ON client_visits (visit_date, employee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_zones_camera ON zones (camera_id)`,
}

// Migrate creates missing tables, columns and indexes. Safe to run on every start.
func (s *LocalStore) Migrate(ctx context.Context) error {
	for _, ddl := range localTables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for table, cols := range localAddedColumns {
		existing, err := s.columnNames(ctx, table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
			}
			s.logger.Info("Added missing column",
				zap.String("table", table),
				zap.String("column", col.name),
			)
		}
	}

	for _, ddl := range localIndexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *LocalStore) columnNames(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// placeholders returns "?,?,?" and the ids as []any.
func placeholders(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	buf := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
		args[i] = id
	}
	return string(buf), args
}
