package session

import (
	"fmt"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

// Status is the lifecycle state of a session instance.
// Transitions are strictly forward: SCHEDULED -> ACTIVE -> CLOSED, with
// SCHEDULED -> CLOSED permitted for sessions that were never activated.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
)

func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusActive || next == StatusClosed
	case StatusActive:
		return next == StatusClosed
	default: // CLOSED is terminal
		return false
	}
}

// Session is a concrete, dated occurrence of a template slot.
type Session struct {
	ID        string         `json:"session_id"`
	Date      string         `json:"date"` // YYYY-MM-DD
	Room      string         `json:"room"`
	Start     core.TimeOfDay `json:"start"`
	End       core.TimeOfDay `json:"end"`
	Group     string         `json:"group"`
	Subject   string         `json:"subject"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
	Stats     *Stats         `json:"stats,omitempty"`
}

// Stats is the sealed attendance summary attached to a session at closure.
// It is computed exactly once and never recomputed by the automatic path.
type Stats struct {
	Date      string            `json:"date"`
	Room      string            `json:"room"`
	Group     string            `json:"group"`
	Total     int               `json:"total"`
	Present   int               `json:"present"`
	Absent    int               `json:"absent"`
	Rate      float64           `json:"attendance_rate"` // percent, 0 when Total == 0
	SealedAt  time.Time         `json:"sealed_at"`
	Breakdown map[string]string `json:"students"` // student id -> PRESENT|ABSENT
}

// NewID derives the deterministic session identifier from the fields that
// uniquely place a slot occurrence: date, room, start time and group.
// Re-materializing the same day always lands on the same id.
func NewID(date time.Time, roomID string, start core.TimeOfDay, groupID string) string {
	return fmt.Sprintf("%s_%s_%s_%s", date.Format("20060102"), roomID, start.Compact(), groupID)
}

// Path returns the store path of a session document.
func Path(date, roomID, id string) string {
	return core.DocPath(basePath, date, roomID, id)
}
