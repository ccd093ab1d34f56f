package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/schedule"
	testutil "github.com/trezcool/mahudhurio/tests"
)

func TestService_ForWeekday(t *testing.T) {
	store := testutil.NewStore(t)
	svc := schedule.NewService(store)
	ctx := context.Background()

	// empty template
	slots, err := svc.ForWeekday(ctx, "monday")
	require.NoError(t, err)
	assert.Empty(t, slots)

	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start: testutil.MustTime(t, "09:00"), End: testutil.MustTime(t, "10:30"), Group: "G1", Subject: "MATH101",
	})
	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start: testutil.MustTime(t, "11:00"), End: testutil.MustTime(t, "12:30"), Group: "G2", Subject: "PHY201",
	})
	testutil.SeedSlot(t, store, "R2", "friday", schedule.Slot{
		Start: testutil.MustTime(t, "14:00"), End: testutil.MustTime(t, "15:00"), Group: "G1", Subject: "CHEM110",
	})

	slots, err = svc.ForWeekday(ctx, "monday")
	require.NoError(t, err)
	require.Len(t, slots, 1) // only R1 teaches on Monday
	require.Len(t, slots["R1"], 2)
	assert.Equal(t, "MATH101", slots["R1"][0].Subject)

	slots, err = svc.ForWeekday(ctx, "friday")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "CHEM110", slots["R2"][0].Subject)

	slots, err = svc.ForWeekday(ctx, "sunday")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestService_RoomDay(t *testing.T) {
	store := testutil.NewStore(t)
	svc := schedule.NewService(store)
	ctx := context.Background()

	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start: testutil.MustTime(t, "09:00"), End: testutil.MustTime(t, "10:30"), Group: "G1", Subject: "MATH101",
	})

	slots, err := svc.RoomDay(ctx, "R1", "monday")
	require.NoError(t, err)
	require.Len(t, slots, 1)

	slots, err = svc.RoomDay(ctx, "R1", "tuesday")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestSlot_Validate(t *testing.T) {
	valid := schedule.Slot{
		Start: testutil.MustTime(t, "09:00"), End: testutil.MustTime(t, "10:30"), Group: "G1", Subject: "MATH101",
	}
	assert.NoError(t, valid.Validate())

	inverted := valid
	inverted.End = testutil.MustTime(t, "08:00")
	err := inverted.Validate()
	require.Error(t, err)
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, "start", vErr.Fields[0].Field)

	blank := schedule.Slot{Start: valid.Start, End: valid.End}
	err = blank.Validate()
	require.Error(t, err)
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Fields, 2) // group and subject
}

func TestWeekday(t *testing.T) {
	assert.Equal(t, "monday", schedule.Weekday(time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, "sunday", schedule.Weekday(time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)))
}
