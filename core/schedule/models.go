package schedule

import (
	"errors"
	"strings"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

var (
	// errors
	ErrSlotInvalid = errors.New("invalid schedule slot")
)

// Slot is a recurring weekly time-block for a room assigning a group and subject.
type Slot struct {
	Start   core.TimeOfDay `json:"start"`
	End     core.TimeOfDay `json:"end"`
	Group   string         `json:"group"`
	Subject string         `json:"subject"`
}

func (s Slot) Validate() error {
	var flds []core.FieldError
	if s.Start >= s.End {
		flds = append(flds, core.FieldError{Field: "start", Error: "start must be before end"})
	}
	if s.Group == "" {
		flds = append(flds, core.FieldError{Field: "group", Error: "this field is required"})
	}
	if s.Subject == "" {
		flds = append(flds, core.FieldError{Field: "subject", Error: "this field is required"})
	}
	if flds != nil {
		return core.NewValidationError(ErrSlotInvalid, flds...)
	}
	return nil
}

// Weekday returns the lowercase weekday key used in the template tree
// ("monday" .. "sunday").
func Weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}
