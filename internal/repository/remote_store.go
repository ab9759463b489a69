package repository

import (
	"context"
	"database/sql"
	"fmt"

	"workplace-monitor/internal/models"

	"go.uber.org/zap"
)

// RemoteStore the central PostgreSQL store. Rows are keyed by
// (branch_id, local_id) so every write is an idempotent upsert.
type RemoteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRemoteStore(db *sql.DB, logger *zap.Logger) *RemoteStore {
	return &RemoteStore{
		db:     db,
		logger: logger,
	}
}

var remoteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id               BIGSERIAL PRIMARY KEY,
		branch_id        BIGINT NOT NULL,
		local_id         BIGINT NOT NULL,
		zone_id          BIGINT,
		employee_id      BIGINT,
		start_time       TIMESTAMPTZ NOT NULL,
		end_time         TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		session_date     DATE NOT NULL,
		is_checkpoint    SMALLINT NOT NULL DEFAULT 0,
		is_synced        SMALLINT NOT NULL DEFAULT 0,
		synced_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (branch_id, local_id)
	)`,
	`CREATE TABLE IF NOT EXISTS client_visits (
		id               BIGSERIAL PRIMARY KEY,
		branch_id        BIGINT NOT NULL,
		local_id         BIGINT NOT NULL,
		zone_id          BIGINT,
		employee_id      BIGINT NOT NULL,
		track_id         BIGINT NOT NULL DEFAULT 0,
		enter_time       TIMESTAMPTZ NOT NULL,
		exit_time        TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		visit_date       DATE NOT NULL,
		is_checkpoint    SMALLINT NOT NULL DEFAULT 0,
		is_synced        SMALLINT NOT NULL DEFAULT 0,
		synced_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (branch_id, local_id)
	)`,
	`CREATE TABLE IF NOT EXISTS branch_status (
		branch_id                      BIGINT PRIMARY KEY,
		status                         TEXT NOT NULL,
		healthy                        BOOLEAN NOT NULL,
		consecutive_failures           INTEGER NOT NULL DEFAULT 0,
		unsynced_count                 BIGINT NOT NULL DEFAULT 0,
		last_successful_sync_timestamp TIMESTAMPTZ,
		last_heartbeat                 TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remote_sessions_open ON sessions (branch_id) WHERE is_checkpoint = 1`,
	`CREATE INDEX IF NOT EXISTS idx_remote_client_visits_open ON client_visits (branch_id) WHERE is_checkpoint = 1`,
}

// EnsureSchema creates the remote tables when missing.
func (r *RemoteStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range remoteSchema {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to ensure remote schema: %w", err)
		}
	}
	return nil
}

const upsertSessionSQL = `
	INSERT INTO sessions (branch_id, local_id, zone_id, employee_id, start_time, end_time,
		duration_seconds, session_date, is_checkpoint, is_synced, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, NOW())
	ON CONFLICT (branch_id, local_id) DO UPDATE SET
		zone_id          = EXCLUDED.zone_id,
		employee_id      = EXCLUDED.employee_id,
		start_time       = EXCLUDED.start_time,
		end_time         = EXCLUDED.end_time,
		duration_seconds = EXCLUDED.duration_seconds,
		session_date     = EXCLUDED.session_date,
		is_checkpoint    = EXCLUDED.is_checkpoint,
		is_synced        = 1,
		synced_at        = NOW()`

// mirror rows never overwrite a row that has already been finalized remotely
const mirrorSessionSQL = `
	INSERT INTO sessions (branch_id, local_id, zone_id, employee_id, start_time, end_time,
		duration_seconds, session_date, is_checkpoint, is_synced, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, 0, NOW())
	ON CONFLICT (branch_id, local_id) DO UPDATE SET
		end_time         = EXCLUDED.end_time,
		duration_seconds = EXCLUDED.duration_seconds,
		synced_at        = NOW()
	WHERE sessions.is_checkpoint = 1`

const upsertClientVisitSQL = `
	INSERT INTO client_visits (branch_id, local_id, zone_id, employee_id, track_id, enter_time, exit_time,
		duration_seconds, visit_date, is_checkpoint, is_synced, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 1, NOW())
	ON CONFLICT (branch_id, local_id) DO UPDATE SET
		zone_id          = EXCLUDED.zone_id,
		employee_id      = EXCLUDED.employee_id,
		track_id         = EXCLUDED.track_id,
		enter_time       = EXCLUDED.enter_time,
		exit_time        = EXCLUDED.exit_time,
		duration_seconds = EXCLUDED.duration_seconds,
		visit_date       = EXCLUDED.visit_date,
		is_checkpoint    = EXCLUDED.is_checkpoint,
		is_synced        = 1,
		synced_at        = NOW()`

const mirrorClientVisitSQL = `
	INSERT INTO client_visits (branch_id, local_id, zone_id, employee_id, track_id, enter_time, exit_time,
		duration_seconds, visit_date, is_checkpoint, is_synced, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, 0, NOW())
	ON CONFLICT (branch_id, local_id) DO UPDATE SET
		exit_time        = EXCLUDED.exit_time,
		duration_seconds = EXCLUDED.duration_seconds,
		synced_at        = NOW()
	WHERE client_visits.is_checkpoint = 1`

// UpsertSessions delivers finalized sessions in one transaction. A nil error
// means the whole batch is committed remotely.
func (r *RemoteStore) UpsertSessions(ctx context.Context, branchID int64, sessions []models.Session) error {
	return r.execBatch(ctx, "sessions", upsertSessionSQL, len(sessions), func(stmt *sql.Stmt, i int) error {
		return execSession(ctx, stmt, branchID, &sessions[i])
	})
}

// MirrorSessions pushes in-progress sessions so the remote side sees live occupancy.
func (r *RemoteStore) MirrorSessions(ctx context.Context, branchID int64, sessions []models.Session) error {
	return r.execBatch(ctx, "session mirrors", mirrorSessionSQL, len(sessions), func(stmt *sql.Stmt, i int) error {
		return execSession(ctx, stmt, branchID, &sessions[i])
	})
}

func (r *RemoteStore) UpsertClientVisits(ctx context.Context, branchID int64, visits []models.ClientVisit) error {
	return r.execBatch(ctx, "client visits", upsertClientVisitSQL, len(visits), func(stmt *sql.Stmt, i int) error {
		return execClientVisit(ctx, stmt, branchID, &visits[i])
	})
}

func (r *RemoteStore) MirrorClientVisits(ctx context.Context, branchID int64, visits []models.ClientVisit) error {
	return r.execBatch(ctx, "client visit mirrors", mirrorClientVisitSQL, len(visits), func(stmt *sql.Stmt, i int) error {
		return execClientVisit(ctx, stmt, branchID, &visits[i])
	})
}

func execSession(ctx context.Context, stmt *sql.Stmt, branchID int64, s *models.Session) error {
	_, err := stmt.ExecContext(ctx,
		branchID, s.ID, s.ZoneID, nullInt64(s.EmployeeID), s.StartTime, nullTime(s.EndTime),
		s.DurationSeconds, s.SessionDate,
	)
	if err != nil {
		return fmt.Errorf("session %d: %w", s.ID, err)
	}
	return nil
}

func execClientVisit(ctx context.Context, stmt *sql.Stmt, branchID int64, v *models.ClientVisit) error {
	_, err := stmt.ExecContext(ctx,
		branchID, v.ID, v.ZoneID, v.EmployeeID, v.TrackID, v.EnterTime, nullTime(v.ExitTime),
		v.DurationSeconds, v.VisitDate,
	)
	if err != nil {
		return fmt.Errorf("client visit %d: %w", v.ID, err)
	}
	return nil
}

func (r *RemoteStore) execBatch(ctx context.Context, kind, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s batch: %w", kind, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare %s upsert: %w", kind, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", kind, err)
	}
	return nil
}

// ReportStatus upserts this branch's heartbeat row.
func (r *RemoteStore) ReportStatus(ctx context.Context, status models.BranchStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO branch_status (branch_id, status, healthy, consecutive_failures, unsynced_count,
			last_successful_sync_timestamp, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (branch_id) DO UPDATE SET
			status                         = EXCLUDED.status,
			healthy                        = EXCLUDED.healthy,
			consecutive_failures           = EXCLUDED.consecutive_failures,
			unsynced_count                 = EXCLUDED.unsynced_count,
			last_successful_sync_timestamp = COALESCE(EXCLUDED.last_successful_sync_timestamp, branch_status.last_successful_sync_timestamp),
			last_heartbeat                 = EXCLUDED.last_heartbeat`,
		status.BranchID, status.Status, status.Healthy, status.ConsecutiveFailures, status.PendingCount,
		nullTime(status.LastSuccessfulUpload), status.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to report branch status: %w", err)
	}
	return nil
}

// CloseBranchCheckpoints finalizes any mirror rows still open for the branch.
// Returns the number of rows closed.
func (r *RemoteStore) CloseBranchCheckpoints(ctx context.Context, branchID int64) (int64, error) {
	var total int64
	for _, table := range []string{"sessions", "client_visits"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_checkpoint = 0, is_synced = 1, synced_at = NOW()
				WHERE branch_id = $1 AND is_checkpoint = 1`, table),
			branchID,
		)
		if err != nil {
			return total, fmt.Errorf("failed to close remote %s checkpoints: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *RemoteStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the connection pool.
func (r *RemoteStore) Close() error {
	return r.db.Close()
}
