package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/schedule"
	"github.com/trezcool/mahudhurio/core/scheduler"
	"github.com/trezcool/mahudhurio/core/session"
	testutil "github.com/trezcool/mahudhurio/tests"
)

// flakyTemplate fails its first reads, then delegates.
type flakyTemplate struct {
	inner    session.TemplateSource
	failures int
}

func (f *flakyTemplate) ForWeekday(ctx context.Context, weekday string) (map[string][]schedule.Slot, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("store timeout")
	}
	return f.inner.ForWeekday(ctx, weekday)
}

const monday = "2026-03-02"

func setup(t *testing.T) (*scheduler.Scheduler, *session.Registry, *testutil.Clock) {
	t.Helper()
	store := testutil.NewStore(t)
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(t)
	clock := testutil.NewClock(testutil.At(t, monday+" 06:00"))

	reg := session.NewRegistry(
		store,
		schedule.NewService(store),
		identity.NewResolver(store),
		attendance.NewLedger(store, logger),
		nil,
		logger,
		conf,
	)

	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)
	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start:   testutil.MustTime(t, "09:00"),
		End:     testutil.MustTime(t, "10:30"),
		Group:   "G1",
		Subject: "MATH101",
	})

	sched, err := scheduler.New(reg, conf, clock, logger)
	require.NoError(t, err)
	return sched, reg, clock
}

func TestScheduler_New_badMaterializeAt(t *testing.T) {
	conf := testutil.NewConfig()
	conf.Scheduler.MaterializeAt = "25:99"

	_, err := scheduler.New(nil, conf, testutil.NewClock(testutil.At(t, monday+" 06:00")), testutil.NewLogger(t))
	assert.Error(t, err)
}

func TestScheduler_TriggerNow(t *testing.T) {
	sched, reg, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, sched.TriggerNow(ctx, "materialize-daily"))

	sessions, err := reg.Filter(ctx, session.QueryFilter{Date: monday})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.StatusScheduled, sessions[0].Status)
}

func TestScheduler_TriggerNow_retriesFailedDay(t *testing.T) {
	store := testutil.NewStore(t)
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(t)
	clock := testutil.NewClock(testutil.At(t, monday+" 06:30"))
	ctx := context.Background()

	tmpl := &flakyTemplate{inner: schedule.NewService(store), failures: 1}
	reg := session.NewRegistry(
		store, tmpl, identity.NewResolver(store), attendance.NewLedger(store, logger), nil, logger, conf,
	)

	testutil.SeedRoom(t, store, "R1", "Lab 1", "esp-001", true)
	testutil.SeedSlot(t, store, "R1", "monday", schedule.Slot{
		Start: testutil.MustTime(t, "09:00"), End: testutil.MustTime(t, "10:30"), Group: "G1", Subject: "MATH101",
	})

	sched, err := scheduler.New(reg, conf, clock, logger)
	require.NoError(t, err)

	// the first run hits the transient failure
	require.Error(t, sched.TriggerNow(ctx, "materialize-daily"))
	sessions, err := reg.Filter(ctx, session.QueryFilter{Date: monday})
	require.NoError(t, err)
	require.Empty(t, sessions)

	// the store recovered: the same day must still be materializable
	require.NoError(t, sched.TriggerNow(ctx, "materialize-daily"))
	sessions, err = reg.Filter(ctx, session.QueryFilter{Date: monday})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	for _, st := range sched.Status() {
		if st.Name == "materialize-daily" {
			assert.Equal(t, 2, st.Runs)
			assert.Empty(t, st.LastError)
		}
	}
}

func TestScheduler_TriggerNow_unknownJob(t *testing.T) {
	sched, _, _ := setup(t)
	assert.Equal(t, scheduler.ErrJobNotFound, sched.TriggerNow(context.Background(), "no-such-job"))
}

func TestScheduler_sweepsDriveLifecycle(t *testing.T) {
	sched, reg, clock := setup(t)
	ctx := context.Background()

	require.NoError(t, sched.TriggerNow(ctx, "materialize-daily"))

	statusAt := func(at string) session.Status {
		t.Helper()
		clock.Set(testutil.At(t, monday+" "+at))
		require.NoError(t, sched.TriggerNow(ctx, "activate-sweep"))
		require.NoError(t, sched.TriggerNow(ctx, "close-sweep"))
		sessions, err := reg.Filter(ctx, session.QueryFilter{Date: monday})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		return sessions[0].Status
	}

	assert.Equal(t, session.StatusScheduled, statusAt("08:54"))
	assert.Equal(t, session.StatusActive, statusAt("09:00"))
	assert.Equal(t, session.StatusActive, statusAt("10:34"))
	assert.Equal(t, session.StatusClosed, statusAt("10:36"))
}

func TestScheduler_Status(t *testing.T) {
	sched, _, _ := setup(t)
	ctx := context.Background()

	statuses := sched.Status()
	require.Len(t, statuses, 3)

	byName := make(map[string]scheduler.JobStatus, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}
	assert.Equal(t, "06:00", byName["materialize-daily"].At)
	assert.Equal(t, "2m0s", byName["activate-sweep"].Every)
	assert.Equal(t, "2m0s", byName["close-sweep"].Every)
	assert.Equal(t, 0, byName["materialize-daily"].Runs)

	require.NoError(t, sched.TriggerNow(ctx, "materialize-daily"))
	require.NoError(t, sched.TriggerNow(ctx, "materialize-daily"))

	for _, st := range sched.Status() {
		if st.Name == "materialize-daily" {
			assert.Equal(t, 2, st.Runs)
			assert.False(t, st.LastRun.IsZero())
			assert.Empty(t, st.LastError)
		}
	}
}

func TestScheduler_StartStop(t *testing.T) {
	sched, _, _ := setup(t)

	sched.Start()
	sched.Start() // idempotent
	sched.Stop()
	sched.Stop() // idempotent

	// restartable
	sched.Start()
	sched.Stop()
}
