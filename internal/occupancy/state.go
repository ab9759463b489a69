package occupancy

import (
	"time"

	"workplace-monitor/internal/models"
)

// State tracker state of one zone
type State int

const (
	StateVacant State = iota
	StateCheckingEntry
	StateOccupied
	StateCheckingExit
)

func (s State) String() string {
	switch s {
	case StateCheckingEntry:
		return "CHECKING_ENTRY"
	case StateOccupied:
		return "OCCUPIED"
	case StateCheckingExit:
		return "CHECKING_EXIT"
	default:
		return "VACANT"
	}
}

// Display collapses the four internal states into the two shown to operators.
// A zone waiting out its exit grace period still shows as occupied; one still
// confirming an entry does not.
func (s State) Display() models.DisplayStatus {
	if s == StateOccupied || s == StateCheckingExit {
		return models.DisplayOccupied
	}
	return models.DisplayVacant
}

// Thresholds debounce windows for one zone type
type Thresholds struct {
	Entry time.Duration
	Exit  time.Duration
}

// Settings engine configuration.
// Employee zones debounce detector flicker; client zones use longer windows
// to filter passers-by who never receive service.
type Settings struct {
	Employee           Thresholds
	Client             Thresholds
	CheckpointInterval time.Duration
	// finalizes shorter than this are dropped on shutdown
	MinSessionDuration time.Duration
}

// DefaultSettings the values the service ships with.
func DefaultSettings() Settings {
	return Settings{
		Employee:           Thresholds{Entry: 3 * time.Second, Exit: 10 * time.Second},
		Client:             Thresholds{Entry: 30 * time.Second, Exit: 30 * time.Second},
		CheckpointInterval: 60 * time.Second,
		MinSessionDuration: time.Second,
	}
}

// For returns the thresholds of a zone type.
func (s Settings) For(zt models.ZoneType) Thresholds {
	if zt == models.ZoneTypeClient {
		return s.Client
	}
	return s.Employee
}

// NetServiceTime is the display-only service time of a client visit: the
// stored duration minus the client entry window, floored at zero. Stored
// durations always keep the full window.
func (s Settings) NetServiceTime(d time.Duration) time.Duration {
	net := d - s.Client.Entry
	if net < 0 {
		return 0
	}
	return net
}
