package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"workplace-monitor/common/config"
	"workplace-monitor/common/database"
	"workplace-monitor/internal/models"
	"workplace-monitor/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func seededStore(t *testing.T) *repository.LocalStore {
	t.Helper()
	db, err := database.NewSQLiteDB(&config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := repository.NewLocalStore(db, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.UpsertEmployee(ctx, &models.Employee{ID: 1, Name: "Alice", Position: "Teller", IsActive: true}))
	require.NoError(t, store.UpsertEmployee(ctx, &models.Employee{ID: 2, Name: "Bob", Position: "Advisor", IsActive: true}))
	require.NoError(t, store.UpsertZone(ctx, &models.Zone{ID: 1, CameraID: 1, Name: "desk-1", EmployeeID: int64p(1)}))
	require.NoError(t, store.UpsertZone(ctx, &models.Zone{ID: 3, CameraID: 1, Name: "counter", ZoneType: models.ZoneTypeClient, LinkedEmployeeID: int64p(1)}))

	end := day0.Add(300 * time.Second)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ZoneID: 1, EmployeeID: int64p(1), StartTime: day0, EndTime: &end, DurationSeconds: 300,
	}))
	end2 := day0.Add(2*time.Hour + 65*time.Second)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ZoneID: 1, EmployeeID: int64p(1), StartTime: day0.Add(2 * time.Hour), EndTime: &end2, DurationSeconds: 65,
	}))
	// still in progress, not reported
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ZoneID: 1, EmployeeID: int64p(1), StartTime: day0.Add(3 * time.Hour), DurationSeconds: 60, IsCheckpoint: true,
	}))
	exit := day0.Add(time.Hour + 90*time.Second)
	require.NoError(t, store.CreateClientVisit(ctx, &models.ClientVisit{
		ZoneID: 3, EmployeeID: 1, EnterTime: day0.Add(time.Hour), ExitTime: &exit, DurationSeconds: 90,
	}))
	// another day
	other := day0.AddDate(0, 0, 1)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ZoneID: 1, EmployeeID: int64p(1), StartTime: other, EndTime: &other, DurationSeconds: 10,
	}))
	return store
}

func TestDailyReport_Sheets(t *testing.T) {
	store := seededStore(t)
	g := NewGenerator(store, zap.NewNop())

	data, err := g.DailyReport(context.Background(), "2026-03-02")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetEmployees, SheetSessions}, f.GetSheetList())

	rows, err := f.GetRows(SheetEmployees)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, EmployeesHeader, rows[0])
	assert.Equal(t, []string{"1", "Alice", "Teller", "365", "0:06:05", "1", "90"}, rows[1])
	assert.Equal(t, []string{"2", "Bob", "Advisor", "0", "0:00:00", "0", "0"}, rows[2])

	rows, err = f.GetRows(SheetSessions)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SessionsHeader, rows[0])
	assert.Equal(t, []string{"session", "1", "1", "desk-1", "1", "2026-03-02 09:00:00", "2026-03-02 09:05:00", "300", "No"}, rows[1])
	assert.Equal(t, "session", rows[2][0])
	assert.Equal(t, "65", rows[2][7])
	assert.Equal(t, []string{"client_visit", "1", "3", "counter", "1", "2026-03-02 10:00:00", "2026-03-02 10:01:30", "90", "No"}, rows[3])
}

func TestDailyReport_RejectsBadDate(t *testing.T) {
	g := NewGenerator(seededStore(t), zap.NewNop())
	_, err := g.DailyReport(context.Background(), "02/03/2026")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", formatDuration(0))
	assert.Equal(t, "0:01:05", formatDuration(64.6))
	assert.Equal(t, "27:46:40", formatDuration(100000))
}
