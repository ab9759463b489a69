package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"workplace-monitor/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Store the finalized records a daily report is built from.
type Store interface {
	ListEmployees(ctx context.Context) ([]models.Employee, error)
	ListZones(ctx context.Context) ([]models.Zone, error)
	ListSessionsForDay(ctx context.Context, day string) ([]models.Session, error)
	ListClientVisitsForDay(ctx context.Context, day string) ([]models.ClientVisit, error)
	SumSessionDurationByEmployee(ctx context.Context, employeeID int64, day string) (float64, error)
	SumClientVisitDurationByEmployee(ctx context.Context, employeeID int64, day string) (float64, error)
	CountClientVisitsByEmployee(ctx context.Context, employeeID int64, day string) (int64, error)
}

const (
	SheetEmployees = "Employees"
	SheetSessions  = "Sessions"
)

var EmployeesHeader = []string{
	"Employee ID",
	"Name",
	"Position",
	"Work Seconds",
	"Work Time",
	"Clients Served",
	"Service Seconds",
}

var SessionsHeader = []string{
	"Type",
	"Record ID",
	"Zone ID",
	"Zone",
	"Employee ID",
	"Start",
	"End",
	"Duration Seconds",
	"Synced",
}

type Generator struct {
	store  Store
	logger *zap.Logger
}

func NewGenerator(store Store, logger *zap.Logger) *Generator {
	return &Generator{store: store, logger: logger}
}

// DailyReport builds the XLSX workbook for day (YYYY-MM-DD). Only finalized
// records are included.
func (g *Generator) DailyReport(ctx context.Context, day string) ([]byte, error) {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, fmt.Errorf("invalid report date %q: %w", day, err)
	}

	employees, err := g.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	zones, err := g.store.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	sessions, err := g.store.ListSessionsForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	visits, err := g.store.ListClientVisitsForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list client visits: %w", err)
	}

	zoneNames := make(map[int64]string, len(zones))
	for _, z := range zones {
		zoneNames[z.ID] = z.Name
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SheetEmployees)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSessions); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, SheetEmployees, EmployeesHeader, headerStyle); err != nil {
		return nil, err
	}
	if err := writeHeader(f, SheetSessions, SessionsHeader, headerStyle); err != nil {
		return nil, err
	}

	for i, e := range employees {
		work, err := g.store.SumSessionDurationByEmployee(ctx, e.ID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to sum sessions for employee %d: %w", e.ID, err)
		}
		served, err := g.store.CountClientVisitsByEmployee(ctx, e.ID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to count visits for employee %d: %w", e.ID, err)
		}
		service, err := g.store.SumClientVisitDurationByEmployee(ctx, e.ID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to sum visits for employee %d: %w", e.ID, err)
		}
		row := []interface{}{e.ID, e.Name, e.Position, work, formatDuration(work), served, service}
		if err := writeRow(f, SheetEmployees, i+2, row); err != nil {
			return nil, err
		}
	}

	r := 2
	for _, s := range sessions {
		row := []interface{}{"session", s.ID, s.ZoneID, zoneNames[s.ZoneID], optionalID(s.EmployeeID),
			formatTime(&s.StartTime), formatTime(s.EndTime), s.DurationSeconds, yesNo(s.IsSynced)}
		if err := writeRow(f, SheetSessions, r, row); err != nil {
			return nil, err
		}
		r++
	}
	for _, v := range visits {
		row := []interface{}{"client_visit", v.ID, v.ZoneID, zoneNames[v.ZoneID], v.EmployeeID,
			formatTime(&v.EnterTime), formatTime(v.ExitTime), v.DurationSeconds, yesNo(v.IsSynced)}
		if err := writeRow(f, SheetSessions, r, row); err != nil {
			return nil, err
		}
		r++
	}

	for _, sheet := range []string{SheetEmployees, SheetSessions} {
		if err := f.SetColWidth(sheet, "A", "I", 18); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	g.logger.Info("Daily report generated",
		zap.String("day", day),
		zap.Int("employees", len(employees)),
		zap.Int("sessions", len(sessions)),
		zap.Int("client_visits", len(visits)),
	)
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

// formatDuration seconds as H:MM:SS
func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func optionalID(id *int64) interface{} {
	if id == nil {
		return ""
	}
	return *id
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
