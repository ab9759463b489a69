package models

import "time"

// Session a work session on an employee zone.
// IsCheckpoint=true marks an in-progress mirror that is updated in place.
type Session struct {
	ID              int64
	ZoneID          int64
	EmployeeID      *int64
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds float64
	SessionDate     string // YYYY-MM-DD, local date of StartTime
	IsCheckpoint    bool
	IsSynced        bool
	CreatedAt       time.Time
}

// ClientVisit a served-client visit on a client zone; EmployeeID is the credited employee.
type ClientVisit struct {
	ID              int64
	ZoneID          int64
	EmployeeID      int64
	TrackID         int64
	EnterTime       time.Time
	ExitTime        *time.Time
	DurationSeconds float64
	VisitDate       string
	IsCheckpoint    bool
	IsSynced        bool
	CreatedAt       time.Time
}

// BranchStatus heartbeat payload
type BranchStatus struct {
	BranchID             int64      `json:"branch_id"`
	Status               string     `json:"status"`
	Healthy              bool       `json:"healthy"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	PendingCount         int64      `json:"unsynced_count"`
	LastSuccessfulUpload *time.Time `json:"last_successful_sync_timestamp,omitempty"`
	Timestamp            time.Time  `json:"timestamp"`
}

// DateKey formats t as the local calendar day used for daily totals.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
