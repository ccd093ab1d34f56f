package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/identity"
	testutil "github.com/trezcool/mahudhurio/tests"
)

func TestResolver_RoomByDevice(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)
	testutil.SeedRoom(t, store, "R9", "Storage", "esp-009", false)

	room, err := svc.RoomByDevice(ctx, "esp-001")
	require.NoError(t, err)
	assert.Equal(t, "R1", room.ID)
	assert.Equal(t, "Lab 1", room.Name)

	// known but disabled
	room, err = svc.RoomByDevice(ctx, "esp-009")
	assert.Equal(t, identity.ErrRoomInactive, err)
	assert.Equal(t, "R9", room.ID)

	_, err = svc.RoomByDevice(ctx, "esp-777")
	assert.Equal(t, identity.ErrRoomNotFound, err)

	// empty store
	_, err = identity.NewResolver(testutil.NewStore(t)).RoomByDevice(ctx, "esp-001")
	assert.Equal(t, identity.ErrRoomNotFound, err)
}

func TestResolver_StudentByBiometric(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	testutil.SeedStudent(t, store, "s1", "Student s1", "G1", 41)
	testutil.SeedStudent(t, store, "s2", "Student s2", "G1", 42)

	stud, err := svc.StudentByBiometric(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "s2", stud.ID)
	assert.Equal(t, "G1", stud.Group)

	_, err = svc.StudentByBiometric(ctx, 77)
	assert.Equal(t, identity.ErrStudentNotFound, err)
}

func TestResolver_Roster(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	testutil.SeedStudent(t, store, "s1", "Student s1", "G1", 41)
	testutil.SeedStudent(t, store, "s2", "Student s2", "G1", 42)
	testutil.SeedStudent(t, store, "x1", "Stranger", "G2", 99)

	roster, err := svc.Roster(ctx, "G1")
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	roster, err = svc.Roster(ctx, "G3")
	require.NoError(t, err)
	assert.Empty(t, roster)

	// membership is read at call time
	testutil.SeedStudent(t, store, "s3", "Student s3", "G1", 43)
	roster, err = svc.Roster(ctx, "G1")
	require.NoError(t, err)
	assert.Len(t, roster, 3)
}

func TestResolver_TouchDevice(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)

	now := testutil.At(t, "2026-03-02 09:00")
	require.NoError(t, svc.TouchDevice(ctx, "R1", now))

	rooms, err := svc.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].LastSeen)
	assert.Equal(t, now.Unix(), rooms[0].LastSeen.Unix())

	// the heartbeat must not clobber the rest of the room document
	assert.Equal(t, "esp-001", rooms[0].DeviceID)
	assert.True(t, rooms[0].Active)
}

func TestResolver_Rooms(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	rooms, err := svc.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	testutil.SeedRoom(t, store, "R2", "Lab 2", "esp-002", true)
	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)

	rooms, err = svc.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "R1", rooms[0].ID)
	assert.Equal(t, "R2", rooms[1].ID)
}

func TestResolver_Names(t *testing.T) {
	store := testutil.NewStore(t)
	svc := identity.NewResolver(store)
	ctx := context.Background()

	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)
	testutil.SeedGroup(t, store, "G1", "Group One")
	testutil.SeedSubject(t, store, "MATH101", "Mathematics")

	assert.Equal(t, "Lab 1", svc.RoomName(ctx, "R1"))
	assert.Equal(t, "Group One", svc.GroupName(ctx, "G1"))
	assert.Equal(t, "Mathematics", svc.SubjectName(ctx, "MATH101"))

	// unknown ids fall back to themselves
	assert.Equal(t, "R7", svc.RoomName(ctx, "R7"))
	assert.Equal(t, "G7", svc.GroupName(ctx, "G7"))
	assert.Equal(t, "ART1", svc.SubjectName(ctx, "ART1"))
}
