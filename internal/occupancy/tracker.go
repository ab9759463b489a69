package occupancy

import (
	"time"

	"workplace-monitor/internal/models"
)

// checkpointRef points at the persisted in-progress row of a session.
// The id is filled by whoever performs the insert; with async writes that is
// the writer goroutine, which is also the only reader.
type checkpointRef struct {
	id int64
}

// Tracker in-memory state of one zone. Created on the first update for the
// zone and reset to its zero value after every finalize.
type Tracker struct {
	ZoneID   int64
	ZoneType models.ZoneType
	// for client zones: the employee zone credited with visits
	LinkedZoneID *int64

	State          State
	EntryStartTime time.Time
	ExitStartTime  time.Time
	// zero while paused
	TimerStartTime     time.Time
	AccumulatedTime    time.Duration
	SessionStart       time.Time
	LastCheckpointTime time.Time

	checkpoint *checkpointRef
}

func newTracker(zoneID int64) *Tracker {
	return &Tracker{ZoneID: zoneID}
}

func (t *Tracker) timerRunning() bool {
	return !t.TimerStartTime.IsZero()
}

// Elapsed the session time so far: accumulated plus the running timer.
func (t *Tracker) Elapsed(now time.Time) time.Duration {
	if !t.timerRunning() {
		return t.AccumulatedTime
	}
	return t.AccumulatedTime + now.Sub(t.TimerStartTime)
}

// pause folds the running timer into AccumulatedTime.
func (t *Tracker) pause(now time.Time) {
	if t.timerRunning() {
		t.AccumulatedTime += now.Sub(t.TimerStartTime)
		t.TimerStartTime = time.Time{}
	}
}

func (t *Tracker) DisplayStatus() models.DisplayStatus {
	return t.State.Display()
}

// active reports whether the tracker holds a confirmed session.
func (t *Tracker) active() bool {
	return t.State == StateOccupied || t.State == StateCheckingExit
}

func (t *Tracker) reset() {
	zoneType, linked := t.ZoneType, t.LinkedZoneID
	*t = Tracker{ZoneID: t.ZoneID, ZoneType: zoneType, LinkedZoneID: linked}
}

// TrackerSnapshot read-only view for display and metrics.
type TrackerSnapshot struct {
	ZoneID   int64                `json:"zone_id"`
	ZoneType string               `json:"zone_type"`
	State    string               `json:"state"`
	Status   models.DisplayStatus `json:"status"`
	Elapsed  time.Duration        `json:"-"`
}

func (t *Tracker) snapshot(now time.Time) TrackerSnapshot {
	return TrackerSnapshot{
		ZoneID:   t.ZoneID,
		ZoneType: t.ZoneType.String(),
		State:    t.State.String(),
		Status:   t.DisplayStatus(),
		Elapsed:  t.Elapsed(now),
	}
}
