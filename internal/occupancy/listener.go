package occupancy

import (
	"time"

	"workplace-monitor/internal/models"
)

// SessionEvent describes a record the engine has just written.
type SessionEvent struct {
	CameraID        int64           `json:"camera_id"`
	ZoneID          int64           `json:"zone_id"`
	ZoneType        models.ZoneType `json:"-"`
	RecordID        int64           `json:"record_id"`
	EmployeeID      *int64          `json:"employee_id,omitempty"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	DurationSeconds float64         `json:"duration_seconds"`
	Checkpoint      bool            `json:"checkpoint"`
}

// Listener is called after a write has been committed to the local store.
// Calls happen on the write path and must not block.
type Listener interface {
	OnCheckpoint(ev SessionEvent)
	OnSessionFinalized(ev SessionEvent)
}

type listeners []Listener

func (ls listeners) checkpoint(ev SessionEvent) {
	for _, l := range ls {
		l.OnCheckpoint(ev)
	}
}

func (ls listeners) finalized(ev SessionEvent) {
	for _, l := range ls {
		l.OnSessionFinalized(ev)
	}
}
