package schedule

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

const basePath = "schedule"

// Service reads the weekly template. The template itself is edited elsewhere;
// this core only consumes it, so the service is read-only.
type Service struct {
	store core.DocumentStore
}

func NewService(store core.DocumentStore) *Service {
	return &Service{store: store}
}

// ForWeekday returns the template slots of every room for the given weekday,
// keyed by room id. Rooms with no slots that day are omitted.
func (svc *Service) ForWeekday(ctx context.Context, weekday string) (map[string][]Slot, error) {
	rooms, err := svc.store.List(ctx, basePath)
	if err != nil {
		if errors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing schedule template")
	}

	slots := make(map[string][]Slot, len(rooms))
	for roomID, raw := range rooms {
		var days map[string][]Slot
		if err := json.Unmarshal(raw, &days); err != nil {
			return nil, errors.Wrapf(err, "decoding schedule for room %s", roomID)
		}
		if daySlots := days[weekday]; len(daySlots) > 0 {
			slots[roomID] = daySlots
		}
	}
	return slots, nil
}

// RoomDay returns a single room's template slots for the given weekday.
func (svc *Service) RoomDay(ctx context.Context, roomID, weekday string) ([]Slot, error) {
	var slots []Slot
	err := svc.store.Get(ctx, core.DocPath(basePath, roomID, weekday), &slots)
	if err != nil {
		if errors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "getting schedule for room %s", roomID)
	}
	return slots, nil
}
