package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	testutil "github.com/trezcool/mahudhurio/tests"
)

// A failed daily run must leave the day open so the ticker loop retries it;
// only a successful run marks the day done.
func TestJob_dueAfterFailedDailyRun(t *testing.T) {
	at, err := core.ParseTimeOfDay("06:00")
	require.NoError(t, err)

	fail := true
	j := &job{
		name: "materialize-daily",
		at:   at,
		run: func(ctx context.Context, now time.Time) error {
			if fail {
				return errors.New("store timeout")
			}
			return nil
		},
	}
	s := &Scheduler{log: testutil.NewLogger(t), jobs: []*job{j}}

	now := testutil.At(t, "2026-03-02 06:30")
	require.True(t, j.due(now))

	require.Error(t, s.exec(context.Background(), j, now))
	assert.True(t, j.due(now), "failed run must not burn the day")

	fail = false
	later := testutil.At(t, "2026-03-02 06:31")
	require.NoError(t, s.exec(context.Background(), j, later))
	assert.False(t, j.due(later), "successful run marks the day done")

	// a new day reopens the job
	assert.True(t, j.due(testutil.At(t, "2026-03-03 06:30")))
}

func TestJob_dueIntervalEveryTick(t *testing.T) {
	j := &job{name: "activate-sweep", every: 2 * time.Minute}
	assert.True(t, j.due(testutil.At(t, "2026-03-02 06:30")))
	assert.True(t, j.due(testutil.At(t, "2026-03-02 06:30"))) // no daily latch
}
