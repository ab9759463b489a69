package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workplace-monitor/internal/models"
)

const zoneColumns = `id, camera_id, name, zone_type, employee_id, linked_employee_id, polygon`

func scanZone(row rowScanner) (*models.Zone, error) {
	var (
		z          models.Zone
		zoneType   string
		employeeID sql.NullInt64
		linkedID   sql.NullInt64
		polygon    string
	)
	if err := row.Scan(&z.ID, &z.CameraID, &z.Name, &zoneType, &employeeID, &linkedID, &polygon); err != nil {
		return nil, err
	}
	zt, err := models.ParseZoneType(zoneType)
	if err != nil {
		return nil, fmt.Errorf("zone %d: %w", z.ID, err)
	}
	z.ZoneType = zt
	z.EmployeeID = int64Ptr(employeeID)
	z.LinkedEmployeeID = int64Ptr(linkedID)
	if polygon != "" {
		if err := json.Unmarshal([]byte(polygon), &z.Polygon); err != nil {
			return nil, fmt.Errorf("zone %d: invalid polygon: %w", z.ID, err)
		}
	}
	return &z, nil
}

func (s *LocalStore) queryZones(ctx context.Context, query string, args ...any) ([]models.Zone, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, *z)
	}
	return zones, rows.Err()
}

// GetZone returns nil, nil when the zone does not exist.
func (s *LocalStore) GetZone(ctx context.Context, zoneID int64) (*models.Zone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = ?`, zoneID)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone %d: %w", zoneID, err)
	}
	return z, nil
}

func (s *LocalStore) ListZones(ctx context.Context) ([]models.Zone, error) {
	return s.queryZones(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY camera_id, id`)
}

func (s *LocalStore) ListZonesByCamera(ctx context.Context, cameraID int64) ([]models.Zone, error) {
	return s.queryZones(ctx, `SELECT `+zoneColumns+` FROM zones WHERE camera_id = ? ORDER BY id`, cameraID)
}

// ListZonesByEmployee returns every zone that credits the employee: the
// employee zones assigned to them and the client zones linked to one of those.
func (s *LocalStore) ListZonesByEmployee(ctx context.Context, employeeID int64) ([]models.Zone, error) {
	return s.queryZones(ctx, `
		SELECT `+zoneColumns+` FROM zones
		WHERE employee_id = ?
		   OR linked_employee_id IN (SELECT id FROM zones WHERE employee_id = ?)
		ORDER BY id`, employeeID, employeeID)
}

// UpsertZone inserts the zone, or replaces it when z.ID is already present.
// A zero ID lets SQLite assign one, which is written back into z.
func (s *LocalStore) UpsertZone(ctx context.Context, z *models.Zone) error {
	polygon, err := json.Marshal(z.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}
	if z.Polygon == nil {
		polygon = []byte("[]")
	}

	var id any
	if z.ID != 0 {
		id = z.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO zones (id, camera_id, name, zone_type, employee_id, linked_employee_id, polygon, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			camera_id          = excluded.camera_id,
			name               = excluded.name,
			zone_type          = excluded.zone_type,
			employee_id        = excluded.employee_id,
			linked_employee_id = excluded.linked_employee_id,
			polygon            = excluded.polygon,
			updated_at         = excluded.updated_at`,
		id, z.CameraID, z.Name, z.ZoneType.String(),
		nullInt64(z.EmployeeID), nullInt64(z.LinkedEmployeeID),
		string(polygon), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone: %w", err)
	}
	if z.ID == 0 {
		if z.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read zone id: %w", err)
		}
	}
	return nil
}

// GetEmployee returns nil, nil when the employee does not exist.
func (s *LocalStore) GetEmployee(ctx context.Context, employeeID int64) (*models.Employee, error) {
	var e models.Employee
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, position, is_active FROM employees WHERE id = ?`, employeeID,
	).Scan(&e.ID, &e.Name, &e.Position, &e.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee %d: %w", employeeID, err)
	}
	return &e, nil
}

// GetEmployeeByZone resolves the employee assigned to a zone; nil, nil when
// the zone is missing or unassigned.
func (s *LocalStore) GetEmployeeByZone(ctx context.Context, zoneID int64) (*models.Employee, error) {
	var e models.Employee
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.name, e.position, e.is_active
		FROM zones z
		JOIN employees e ON e.id = z.employee_id
		WHERE z.id = ?`, zoneID,
	).Scan(&e.ID, &e.Name, &e.Position, &e.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee for zone %d: %w", zoneID, err)
	}
	return &e, nil
}

func (s *LocalStore) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, position, is_active FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []models.Employee
	for rows.Next() {
		var e models.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Position, &e.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// UpsertEmployee inserts or replaces an employee; a zero ID is assigned by SQLite.
func (s *LocalStore) UpsertEmployee(ctx context.Context, e *models.Employee) error {
	var id any
	if e.ID != 0 {
		id = e.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, position, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name      = excluded.name,
			position  = excluded.position,
			is_active = excluded.is_active`,
		id, e.Name, e.Position, boolInt(e.IsActive), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert employee: %w", err)
	}
	if e.ID == 0 {
		if e.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read employee id: %w", err)
		}
	}
	return nil
}
