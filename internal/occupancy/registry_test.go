package occupancy

import (
	"context"
	"testing"
	"time"

	"workplace-monitor/common/config"
	"workplace-monitor/common/database"
	"workplace-monitor/internal/models"
	"workplace-monitor/internal/repository"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteStore(t *testing.T) *repository.LocalStore {
	t.Helper()
	db, err := database.NewSQLiteDB(&config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := repository.NewLocalStore(db, zap.NewNop())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// seed: employee 1 works desks 1 (camera 1) and 2 (camera 2); counter 3 is
// linked to desk 1; desk 4 is unassigned.
func seedZones(t *testing.T, store *repository.LocalStore) []models.Zone {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertEmployee(ctx, &models.Employee{ID: 1, Name: "Alice", IsActive: true}))
	zones := []models.Zone{
		{ID: 1, CameraID: 1, Name: "desk-1", ZoneType: models.ZoneTypeEmployee, EmployeeID: int64p(1)},
		{ID: 2, CameraID: 2, Name: "desk-2", ZoneType: models.ZoneTypeEmployee, EmployeeID: int64p(1)},
		{ID: 3, CameraID: 1, Name: "counter", ZoneType: models.ZoneTypeClient, LinkedEmployeeID: int64p(1)},
		{ID: 4, CameraID: 2, Name: "desk-4", ZoneType: models.ZoneTypeEmployee},
	}
	for i := range zones {
		require.NoError(t, store.UpsertZone(ctx, &zones[i]))
	}
	return zones
}

type registryHarness struct {
	t        *testing.T
	ctx      context.Context
	clock    *quartz.Mock
	registry *Registry
}

func newRegistryHarness(t *testing.T, store *repository.LocalStore) *registryHarness {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(base)
	r := NewRegistry(store, DefaultSettings(), clock, zap.NewNop(), nil)
	return &registryHarness{t: t, ctx: context.Background(), clock: clock, registry: r}
}

func (h *registryHarness) feed(z models.Zone, present bool, from, to int) {
	h.t.Helper()
	for s := from; s < to; s++ {
		h.clock.Set(base.Add(time.Duration(s) * time.Second))
		err := h.registry.Engine(z.CameraID).Update(h.ctx, z.ID, present, z.ZoneType, z.LinkedEmployeeID)
		require.NoError(h.t, err)
	}
}

func TestRegistry_EmployeeDailyTotalAcrossCameras(t *testing.T) {
	store := newSQLiteStore(t)
	zones := seedZones(t, store)
	h := newRegistryHarness(t, store)
	h.registry.BindZones(zones)

	// finished 20s session on desk 1 (camera 1)
	h.feed(zones[0], true, 0, 20)
	h.feed(zones[0], false, 20, 31)
	// live session on desk 2 (camera 2)
	h.feed(zones[1], true, 31, 42)

	total, err := h.registry.EmployeeDailyTotal(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, total)

	// the desk view shows the employee's combined total
	shown, err := h.registry.DisplayDailyTotal(h.ctx, zones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, shown)

	zoneTotal, err := h.registry.ZoneDailyTotal(h.ctx, zones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, zoneTotal)

	assert.Equal(t, models.DisplayOccupied, h.registry.ZoneStatus(zones[1].ID))
	assert.Equal(t, models.DisplayVacant, h.registry.ZoneStatus(zones[0].ID))
	assert.Len(t, h.registry.Engines(), 2)
}

func TestRegistry_DisplayTotalFallsBackToZone(t *testing.T) {
	store := newSQLiteStore(t)
	zones := seedZones(t, store)
	h := newRegistryHarness(t, store)
	h.registry.BindZones(zones)

	h.feed(zones[3], true, 0, 12)

	shown, err := h.registry.DisplayDailyTotal(h.ctx, zones[3].ID)
	require.NoError(t, err)
	assert.Equal(t, 11*time.Second, shown)
}

func TestRegistry_ClientsServed(t *testing.T) {
	store := newSQLiteStore(t)
	zones := seedZones(t, store)
	h := newRegistryHarness(t, store)
	h.registry.BindZones(zones)

	counter := zones[2]
	h.feed(counter, true, 0, 45)
	h.feed(counter, false, 45, 76)
	h.feed(counter, true, 76, 140)
	h.feed(counter, false, 140, 171)

	n, err := h.registry.ClientsServed(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	visitTime, err := h.registry.ZoneDailyTotal(h.ctx, counter.ID)
	require.NoError(t, err)
	assert.Equal(t, (45+64)*time.Second, visitTime)
	assert.Equal(t, 15*time.Second, h.registry.NetServiceTime(45*time.Second))
}

func TestRegistry_CrashRecovery(t *testing.T) {
	store := newSQLiteStore(t)
	zones := seedZones(t, store)
	ctx := context.Background()

	// first run: session reaches a checkpoint, then the process dies
	first := newRegistryHarness(t, store)
	first.registry.BindZones(zones)
	first.feed(zones[0], true, 0, 64)

	open, err := store.ListCheckpointSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	id := open[0].ID

	// second run
	second := newRegistryHarness(t, store)
	n, err := second.registry.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.IsCheckpoint)
	assert.InDelta(t, 63.0, rec.DurationSeconds, 0.001, "last saved duration, nothing reconstructed")

	n, err = second.registry.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	open, err = store.ListCheckpointSessions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	pending, err := store.ListUnsyncedSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestRegistry_Shutdown(t *testing.T) {
	store := newSQLiteStore(t)
	zones := seedZones(t, store)
	h := newRegistryHarness(t, store)
	h.registry.BindZones(zones)

	h.feed(zones[0], true, 0, 10)
	h.feed(zones[1], true, 10, 30)
	h.clock.Set(base.Add(30 * time.Second))
	require.NoError(t, h.registry.Shutdown(h.ctx))

	sessions, err := store.ListSessionsForDay(h.ctx, models.DateKey(base))
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	total, err := store.SumSessionDurationByEmployee(h.ctx, 1, models.DateKey(base))
	require.NoError(t, err)
	assert.InDelta(t, 30.0+20.0, total, 0.001)
}
