package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DateFormat is the calendar date layout used in store paths and documents.
const DateFormat = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date in local time.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateFormat, s, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing date")
	}
	return d, nil
}

// FormatDate renders t as a YYYY-MM-DD calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// `HH:MM` strings are parsed once at the boundary; all window arithmetic
// happens on integers.
type TimeOfDay int

var errBadTimeOfDay = errors.New("time of day must be HH:MM")

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	tm, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errBadTimeOfDay
	}
	return TimeOfDay(tm.Hour()*60 + tm.Minute()), nil
}

// TimeOfDayAt truncates t to its minutes-since-midnight component.
func TimeOfDayAt(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Compact returns the HHMM form used in deterministic identifiers.
func (t TimeOfDay) Compact() string {
	return fmt.Sprintf("%02d%02d", int(t)/60, int(t)%60)
}

// Add offsets the time of day by d, truncated to whole minutes.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = tod
	return nil
}

// Clock abstracts time.Now so the lifecycle engine can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func NewClock() Clock { return systemClock{} }
