package attendance

import (
	"time"

	"github.com/trezcool/mahudhurio/core"
)

type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusAbsent  Status = "ABSENT"
)

type Method string

const (
	MethodFingerprint Method = "FINGERPRINT"
	MethodManual      Method = "MANUAL"
)

// Record is a single student's attendance outcome for a session, keyed by
// (session id, student id). At most one record exists per key; the first
// successful write wins. PRESENT records carry the scan time and FINGERPRINT
// method; ABSENT records are filled in at reconciliation with no observation
// time and the MANUAL method.
type Record struct {
	ID          string          `json:"id"` // audit id, not the record key
	SessionID   string          `json:"session_id"`
	StudentID   string          `json:"student_id"`
	StudentName string          `json:"student_name,omitempty"`
	Status      Status          `json:"status"`
	Time        *core.TimeOfDay `json:"time,omitempty"`
	Method      Method          `json:"method,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// Path returns the store path of an attendance record document.
func Path(sessionID, studentID string) string {
	return core.DocPath(basePath, sessionID, studentID)
}
