package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

var (
	// errors
	ErrRoomNotFound    = errors.New("no room registered for this device")
	ErrRoomInactive    = errors.New("room is inactive")
	ErrStudentNotFound = errors.New("student not found")
	ErrGroupNotFound   = errors.New("group not found")
)

const (
	roomsPath    = "rooms"
	studentsPath = "students"
	groupsPath   = "groups"
	subjectsPath = "subjects"
)

// Resolver maps device identifiers to rooms and biometric identifiers to
// students. Entity CRUD lives elsewhere; only lookups happen here.
type Resolver struct {
	store core.DocumentStore
}

func NewResolver(store core.DocumentStore) *Resolver {
	return &Resolver{store: store}
}

// RoomByDevice finds the room owning the given device identifier.
// An inactive room resolves with ErrRoomInactive so callers can tell
// "unknown device" and "known but disabled" apart.
func (svc *Resolver) RoomByDevice(ctx context.Context, deviceID string) (Room, error) {
	rooms, err := svc.store.List(ctx, roomsPath)
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, pkgerrors.Wrap(err, "listing rooms")
	}
	for id, raw := range rooms {
		var room Room
		if err := json.Unmarshal(raw, &room); err != nil {
			continue
		}
		if room.DeviceID == deviceID {
			room.ID = id
			if !room.Active {
				return room, ErrRoomInactive
			}
			return room, nil
		}
	}
	return Room{}, ErrRoomNotFound
}

// StudentByBiometric finds the student enrolled under the given fingerprint slot.
func (svc *Resolver) StudentByBiometric(ctx context.Context, fingerprintID int) (Student, error) {
	students, err := svc.store.List(ctx, studentsPath)
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, pkgerrors.Wrap(err, "listing students")
	}
	for id, raw := range students {
		var stud Student
		if err := json.Unmarshal(raw, &stud); err != nil {
			continue
		}
		if stud.FingerprintID == fingerprintID {
			stud.ID = id
			return stud, nil
		}
	}
	return Student{}, ErrStudentNotFound
}

// Roster returns the students whose group equals groupID, reflecting
// membership at the moment of the call.
func (svc *Resolver) Roster(ctx context.Context, groupID string) ([]Student, error) {
	students, err := svc.store.List(ctx, studentsPath)
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "listing students")
	}
	roster := make([]Student, 0, len(students))
	for id, raw := range students {
		var stud Student
		if err := json.Unmarshal(raw, &stud); err != nil {
			continue
		}
		if stud.Group == groupID {
			stud.ID = id
			roster = append(roster, stud)
		}
	}
	return roster, nil
}

// Rooms lists all registered rooms sorted by id.
func (svc *Resolver) Rooms(ctx context.Context) ([]Room, error) {
	children, err := svc.store.List(ctx, roomsPath)
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "listing rooms")
	}
	rooms := make([]Room, 0, len(children))
	for id, raw := range children {
		var room Room
		if err := json.Unmarshal(raw, &room); err != nil {
			continue
		}
		room.ID = id
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// TouchDevice records a device heartbeat on its room.
func (svc *Resolver) TouchDevice(ctx context.Context, roomID string, now time.Time) error {
	err := svc.store.Update(ctx, core.DocPath(roomsPath, roomID), map[string]interface{}{
		"last_seen": now.Format(time.RFC3339),
	})
	return pkgerrors.Wrap(err, "updating device last_seen")
}

// RoomName resolves a room id to its display name, falling back to the id.
func (svc *Resolver) RoomName(ctx context.Context, roomID string) string {
	var room Room
	if err := svc.store.Get(ctx, core.DocPath(roomsPath, roomID), &room); err != nil {
		return roomID
	}
	if room.Name == "" {
		return roomID
	}
	return room.Name
}

// GroupName resolves a group id to its display name, falling back to the id.
func (svc *Resolver) GroupName(ctx context.Context, groupID string) string {
	var grp Group
	if err := svc.store.Get(ctx, core.DocPath(groupsPath, groupID), &grp); err != nil {
		return groupID
	}
	if grp.Name == "" {
		return groupID
	}
	return grp.Name
}

// SubjectName resolves a subject code to its display name, falling back to the code.
func (svc *Resolver) SubjectName(ctx context.Context, code string) string {
	var subj Subject
	if err := svc.store.Get(ctx, core.DocPath(subjectsPath, code), &subj); err != nil {
		return code
	}
	if subj.Name == "" {
		return code
	}
	return subj.Name
}
