package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"workplace-monitor/internal/models"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

func int64p(v int64) *int64 { return &v }

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *quartz.Mock
	store  *fakeStore
	engine *Engine
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, settings Settings, opts ...Option) *harness {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(base)
	core, logs := observer.New(zap.DebugLevel)
	store := newFakeStore(
		models.Zone{ID: 1, CameraID: 1, ZoneType: models.ZoneTypeEmployee, EmployeeID: int64p(7)},
		models.Zone{ID: 2, CameraID: 1, ZoneType: models.ZoneTypeEmployee},
		models.Zone{ID: 3, CameraID: 1, ZoneType: models.ZoneTypeClient, LinkedEmployeeID: int64p(1)},
		models.Zone{ID: 4, CameraID: 1, ZoneType: models.ZoneTypeClient},
	)
	opts = append([]Option{WithClock(clock)}, opts...)
	return &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		store:  store,
		engine: NewEngine(1, store, settings, zap.New(core), opts...),
		logs:   logs,
	}
}

// at moves the clock to base+d.
func (h *harness) at(d time.Duration) {
	h.clock.Set(base.Add(d))
}

// feed sends one sample per second for seconds [from, to).
func (h *harness) feed(zoneID int64, zt models.ZoneType, linked *int64, present bool, from, to int) {
	h.t.Helper()
	for s := from; s < to; s++ {
		h.at(time.Duration(s) * time.Second)
		require.NoError(h.t, h.engine.Update(h.ctx, zoneID, present, zt, linked))
	}
}

func (h *harness) state(zoneID int64) State {
	snap, ok := h.engine.Tracker(zoneID)
	if !ok {
		return StateVacant
	}
	switch snap.State {
	case "CHECKING_ENTRY":
		return StateCheckingEntry
	case "OCCUPIED":
		return StateOccupied
	case "CHECKING_EXIT":
		return StateCheckingExit
	}
	return StateVacant
}

func TestEngine_MinimalSession(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 3)
	assert.Equal(t, StateCheckingEntry, h.state(1))
	assert.Equal(t, models.DisplayVacant, h.engine.ZoneStatus(1))

	h.feed(1, models.ZoneTypeEmployee, nil, true, 3, 4)
	assert.Equal(t, StateOccupied, h.state(1), "confirmed at t=3s")
	assert.Equal(t, 3*time.Second, h.engine.ZoneElapsed(1), "timer backdated to first detection")

	h.feed(1, models.ZoneTypeEmployee, nil, false, 4, 14)
	assert.Equal(t, StateCheckingExit, h.state(1))
	assert.Equal(t, models.DisplayOccupied, h.engine.ZoneStatus(1))
	assert.Empty(t, h.store.allSessions())

	h.feed(1, models.ZoneTypeEmployee, nil, false, 14, 15)
	assert.Equal(t, StateVacant, h.state(1))

	sessions := h.store.allSessions()
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.InDelta(t, 4.0, s.DurationSeconds, 0.001)
	assert.False(t, s.IsCheckpoint)
	assert.Equal(t, int64(7), *s.EmployeeID)
	assert.True(t, s.StartTime.Equal(base), "start = confirmation - entry threshold")
	require.NotNil(t, s.EndTime)
	assert.True(t, s.EndTime.Equal(base.Add(14*time.Second)))
	assert.Equal(t, time.Duration(0), h.engine.ZoneElapsed(1))
}

func TestEngine_FlickerTolerated(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 5)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 5, 8)
	assert.Equal(t, StateCheckingExit, h.state(1))
	assert.Equal(t, 5*time.Second, h.engine.ZoneElapsed(1), "timer paused during the gap")

	h.feed(1, models.ZoneTypeEmployee, nil, true, 8, 20)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 20, 31)

	sessions := h.store.allSessions()
	require.Len(t, sessions, 1)
	assert.InDelta(t, 17.0, sessions[0].DurationSeconds, 0.001)
}

func TestEngine_DebounceDiscardsShortPresence(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 2)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 2, 3)
	assert.Equal(t, StateVacant, h.state(1))

	// a gap restarts confirmation from scratch
	h.feed(1, models.ZoneTypeEmployee, nil, true, 3, 5)
	assert.Equal(t, StateCheckingEntry, h.state(1))
	h.feed(1, models.ZoneTypeEmployee, nil, false, 5, 30)

	assert.Empty(t, h.store.allSessions())
	assert.Zero(t, h.store.writes)
}

func TestEngine_GracePeriod(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 10)
	// 9s absence is inside the 10s grace window
	h.feed(1, models.ZoneTypeEmployee, nil, false, 10, 19)
	h.feed(1, models.ZoneTypeEmployee, nil, true, 19, 25)
	assert.Equal(t, StateOccupied, h.state(1))
	assert.Empty(t, h.store.allSessions())

	h.feed(1, models.ZoneTypeEmployee, nil, false, 25, 34)
	assert.Empty(t, h.store.allSessions())
	h.feed(1, models.ZoneTypeEmployee, nil, false, 34, 36)
	sessions := h.store.allSessions()
	require.Len(t, sessions, 1, "an absence >= exit threshold finalizes exactly one record")
	assert.InDelta(t, 16.0, sessions[0].DurationSeconds, 0.001)
}

func TestEngine_CheckpointAndFinalizeEquivalence(t *testing.T) {
	run := func(checkpointInterval time.Duration) (*fakeStore, []models.Session) {
		settings := DefaultSettings()
		settings.CheckpointInterval = checkpointInterval
		h := newHarness(t, settings)
		h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 200)
		h.feed(1, models.ZoneTypeEmployee, nil, false, 200, 211)
		return h.store, h.store.allSessions()
	}

	longStore, withCheckpoints := run(60 * time.Second)
	_, without := run(24 * time.Hour)

	require.Len(t, withCheckpoints, 1, "checkpoint row is updated in place, never duplicated")
	require.Len(t, without, 1)
	assert.False(t, withCheckpoints[0].IsCheckpoint)
	assert.InDelta(t, 200.0, withCheckpoints[0].DurationSeconds, 0.001)
	assert.Equal(t, without[0].DurationSeconds, withCheckpoints[0].DurationSeconds)
	// insert at t=63, updates at 123 and 183, finalize
	assert.Equal(t, 4, longStore.writes)
}

func TestEngine_CheckpointTracksLiveDuration(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 64)
	sessions := h.store.allSessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsCheckpoint)
	assert.InDelta(t, 63.0, sessions[0].DurationSeconds, 0.001)

	// no checkpoint while paused
	h.feed(1, models.ZoneTypeEmployee, nil, false, 64, 72)
	h.feed(1, models.ZoneTypeEmployee, nil, true, 72, 124)
	sessions = h.store.allSessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsCheckpoint)
	assert.InDelta(t, 64.0+(123-72), sessions[0].DurationSeconds, 0.001)
}

func TestEngine_ClientZoneWithoutLink(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(4, models.ZoneTypeClient, nil, true, 0, 90)
	assert.Equal(t, StateOccupied, h.state(4))
	h.feed(4, models.ZoneTypeClient, nil, false, 90, 121)
	assert.Equal(t, StateVacant, h.state(4))

	assert.Empty(t, h.store.allVisits())
	assert.Empty(t, h.store.allSessions())
	warnings := h.logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "no linked employee")
}

func TestEngine_ClientVisitCreditsLinkedEmployee(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	link := int64p(1) // employee zone 1, assigned to employee 7

	h.feed(3, models.ZoneTypeClient, link, true, 0, 90)
	h.feed(3, models.ZoneTypeClient, link, false, 90, 121)

	visits := h.store.allVisits()
	require.Len(t, visits, 1)
	assert.Equal(t, int64(7), visits[0].EmployeeID)
	assert.Equal(t, int64(3), visits[0].ZoneID)
	assert.Zero(t, visits[0].TrackID)
	// stored duration keeps the entry window
	assert.InDelta(t, 90.0, visits[0].DurationSeconds, 0.001)
	assert.Equal(t, 60*time.Second, DefaultSettings().NetServiceTime(90*time.Second))
}

func TestEngine_ClientThresholdsFilterPassersBy(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(3, models.ZoneTypeClient, int64p(1), true, 0, 20)
	h.feed(3, models.ZoneTypeClient, int64p(1), false, 20, 60)
	assert.Empty(t, h.store.allVisits())
}

func TestEngine_UnassignedEmployeeZoneKeepsNullCredit(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(2, models.ZoneTypeEmployee, nil, true, 0, 10)
	h.feed(2, models.ZoneTypeEmployee, nil, false, 10, 21)

	sessions := h.store.allSessions()
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].EmployeeID)
}

func TestEngine_ShutdownFinalizesActiveSessions(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	for s := 0; s < 22; s++ {
		h.at(time.Duration(s) * time.Second)
		require.NoError(t, h.engine.Update(h.ctx, 1, true, models.ZoneTypeEmployee, nil))
		require.NoError(t, h.engine.Update(h.ctx, 2, s >= 10 && s < 20, models.ZoneTypeEmployee, nil))
		// still confirming at shutdown
		require.NoError(t, h.engine.Update(h.ctx, 3, s >= 15, models.ZoneTypeClient, int64p(1)))
	}
	require.Equal(t, StateCheckingExit, h.state(2))
	require.Equal(t, StateCheckingEntry, h.state(3))

	h.at(25 * time.Second)
	require.NoError(t, h.engine.Shutdown(h.ctx))

	sessions := h.store.allSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(1), sessions[0].ZoneID)
	assert.InDelta(t, 25.0, sessions[0].DurationSeconds, 0.001, "running timer flushed up to shutdown")
	assert.Equal(t, int64(2), sessions[1].ZoneID)
	assert.InDelta(t, 10.0, sessions[1].DurationSeconds, 0.001)
	assert.Empty(t, h.store.allVisits())

	// updates after shutdown are ignored
	require.NoError(t, h.engine.Update(h.ctx, 1, true, models.ZoneTypeEmployee, nil))
	_, ok := h.engine.Tracker(1)
	assert.True(t, ok)
	assert.Equal(t, models.DisplayVacant, h.engine.ZoneStatus(1))
	require.NoError(t, h.engine.Shutdown(h.ctx))
}

func TestEngine_ShutdownNoiseFloor(t *testing.T) {
	settings := DefaultSettings()
	settings.Employee.Entry = 200 * time.Millisecond
	h := newHarness(t, settings)

	h.at(0)
	require.NoError(t, h.engine.Update(h.ctx, 1, true, models.ZoneTypeEmployee, nil))
	h.at(200 * time.Millisecond)
	require.NoError(t, h.engine.Update(h.ctx, 1, true, models.ZoneTypeEmployee, nil))
	require.Equal(t, StateOccupied, h.state(1))

	h.at(700 * time.Millisecond)
	require.NoError(t, h.engine.Shutdown(h.ctx))
	assert.Empty(t, h.store.allSessions(), "sub-second shutdown artifacts are not persisted")
}

func TestEngine_ShutdownKeepsCheckpointedSession(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 64)
	h.at(64 * time.Second)
	require.NoError(t, h.engine.Shutdown(h.ctx))

	sessions := h.store.allSessions()
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsCheckpoint)
	assert.InDelta(t, 64.0, sessions[0].DurationSeconds, 0.001)
}

func TestEngine_Remove(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 10)
	require.NoError(t, h.engine.Remove(h.ctx, 1))
	_, ok := h.engine.Tracker(1)
	assert.False(t, ok)
	require.Len(t, h.store.allSessions(), 1)

	require.NoError(t, h.engine.Remove(h.ctx, 99))
}

func TestEngine_StoreFailureIsLocalStoreError(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.store.failWith = errors.New("disk I/O error")

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 5)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 5, 14)
	h.at(15 * time.Second)
	err := h.engine.Update(h.ctx, 1, false, models.ZoneTypeEmployee, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocalStore))
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestEngine_AsyncWrites(t *testing.T) {
	fatal := make(chan error, 1)
	h := newHarness(t, DefaultSettings(), WithAsyncWrites(8, func(err error) { fatal <- err }))

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 130)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 130, 141)
	h.feed(2, models.ZoneTypeEmployee, nil, true, 141, 150)

	h.at(150 * time.Second)
	require.NoError(t, h.engine.Shutdown(h.ctx))

	sessions := h.store.allSessions()
	require.Len(t, sessions, 2)
	assert.InDelta(t, 130.0, sessions[0].DurationSeconds, 0.001)
	assert.False(t, sessions[0].IsCheckpoint)
	assert.InDelta(t, 9.0, sessions[1].DurationSeconds, 0.001)
	select {
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestEngine_AsyncWriteFailureReported(t *testing.T) {
	fatal := make(chan error, 1)
	h := newHarness(t, DefaultSettings(), WithAsyncWrites(8, func(err error) { fatal <- err }))
	h.store.failWith = errors.New("database disk image is malformed")

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 10)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 10, 21)

	select {
	case err := <-fatal:
		assert.True(t, errors.Is(err, ErrLocalStore))
	case <-time.After(5 * time.Second):
		t.Fatal("store failure was not reported")
	}
	require.NoError(t, h.engine.Shutdown(h.ctx))
}

func TestEngine_Listener(t *testing.T) {
	rec := &recordingListener{}
	h := newHarness(t, DefaultSettings(), WithListener(rec))

	h.feed(1, models.ZoneTypeEmployee, nil, true, 0, 64)
	h.feed(1, models.ZoneTypeEmployee, nil, false, 64, 75)

	require.Len(t, rec.checkpoints, 1)
	require.Len(t, rec.finalized, 1)
	assert.Equal(t, rec.checkpoints[0].RecordID, rec.finalized[0].RecordID)
	assert.Equal(t, int64(7), *rec.finalized[0].EmployeeID)
	assert.False(t, rec.finalized[0].Checkpoint)
}

type recordingListener struct {
	checkpoints []SessionEvent
	finalized   []SessionEvent
}

func (r *recordingListener) OnCheckpoint(ev SessionEvent) {
	r.checkpoints = append(r.checkpoints, ev)
}

func (r *recordingListener) OnSessionFinalized(ev SessionEvent) {
	r.finalized = append(r.finalized, ev)
}

func TestStateDisplay(t *testing.T) {
	assert.Equal(t, models.DisplayVacant, StateVacant.Display())
	assert.Equal(t, models.DisplayVacant, StateCheckingEntry.Display())
	assert.Equal(t, models.DisplayOccupied, StateOccupied.Display())
	assert.Equal(t, models.DisplayOccupied, StateCheckingExit.Display())
}

func TestSettingsFor(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 3*time.Second, s.For(models.ZoneTypeEmployee).Entry)
	assert.Equal(t, 30*time.Second, s.For(models.ZoneTypeClient).Entry)
	assert.Equal(t, time.Duration(0), s.NetServiceTime(10*time.Second))
}
