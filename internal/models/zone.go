package models

import (
	"fmt"
	"strings"
)

// ZoneType closed set of zone kinds; thresholds are looked up by it.
type ZoneType int

const (
	ZoneTypeEmployee ZoneType = iota
	ZoneTypeClient
)

func (t ZoneType) String() string {
	switch t {
	case ZoneTypeClient:
		return "client"
	default:
		return "employee"
	}
}

// ParseZoneType accepts the stored string form ("employee"/"client").
func ParseZoneType(s string) (ZoneType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "employee":
		return ZoneTypeEmployee, nil
	case "client":
		return ZoneTypeClient, nil
	default:
		return ZoneTypeEmployee, fmt.Errorf("unknown zone type %q", s)
	}
}

// Point pixel coordinate in the camera frame
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone a monitored polygon on one camera.
// For client zones LinkedEmployeeID holds the id of an employee *zone*,
// resolved to that zone's EmployeeID when a visit is credited.
type Zone struct {
	ID               int64
	CameraID         int64
	Name             string
	ZoneType         ZoneType
	EmployeeID       *int64
	LinkedEmployeeID *int64
	Polygon          []Point
}

// Employee read-only from the tracking side
type Employee struct {
	ID       int64
	Name     string
	Position string
	IsActive bool
}

// DisplayStatus the two externally visible zone states
type DisplayStatus string

const (
	DisplayVacant   DisplayStatus = "VACANT"
	DisplayOccupied DisplayStatus = "OCCUPIED"
)
