package identity

import "time"

// Room is a physical classroom, owned by a fixed biometric device.
type Room struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	DeviceID string     `json:"device_id"`
	Active   bool       `json:"active"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Student belongs to exactly one group and is identified on devices by a
// fingerprint slot number.
type Student struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Group         string `json:"group"`
	FingerprintID int    `json:"fingerprint_id"`
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Subject struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Teacher string `json:"teacher,omitempty"`
}
