// Package scheduler drives the session lifecycle on the clock: daily
// materialization plus the activate/close sweeps. It is an explicit service
// instance owned by the composition root, not a process-global; tests run its
// jobs synchronously through TriggerNow.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/session"
)

var ErrJobNotFound = errors.New("unknown job")

// how often daily jobs check whether their time of day has come
const dailyPollInterval = time.Minute

type (
	// JobFunc is a single sweep iteration. It must be idempotent: every run
	// reconciles "now" against all eligible sessions, so a missed tick is
	// fully caught up by the next one.
	JobFunc func(ctx context.Context, now time.Time) error

	JobStatus struct {
		Name      string    `json:"name"`
		Every     string    `json:"every,omitempty"` // interval jobs
		At        string    `json:"at,omitempty"`    // daily jobs
		Runs      int       `json:"runs"`
		LastRun   time.Time `json:"last_run"`
		LastError string    `json:"last_error,omitempty"`
	}

	job struct {
		name  string
		every time.Duration  // interval job when > 0
		at    core.TimeOfDay // daily job otherwise
		run   JobFunc

		mu      sync.Mutex
		runs    int
		lastRun time.Time
		lastDay string
		lastErr error
	}

	Scheduler struct {
		clock core.Clock
		log   core.Logger
		jobs  []*job

		mu      sync.Mutex
		started bool
		stopCh  chan struct{}
		wg      sync.WaitGroup
	}
)

// New wires the three standard jobs against the registry. All of them are
// safe to overlap with device-triggered calls to the same operations.
func New(reg *session.Registry, conf *core.Config, clock core.Clock, logger core.Logger) (*Scheduler, error) {
	materializeAt, err := core.ParseTimeOfDay(conf.Scheduler.MaterializeAt)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schedulerMaterializeAt")
	}

	return &Scheduler{
		clock: clock,
		log:   logger,
		jobs: []*job{
			{
				name: "materialize-daily",
				at:   materializeAt,
				run: func(ctx context.Context, now time.Time) error {
					_, err := reg.MaterializeDaily(ctx, now)
					return err
				},
			},
			{
				name:  "activate-sweep",
				every: conf.Scheduler.SweepEvery,
				run:   reg.SweepActivate,
			},
			{
				name:  "close-sweep",
				every: conf.Scheduler.SweepEvery,
				run:   reg.SweepClose,
			},
		},
	}, nil
}

// Start launches one goroutine per job. Calling Start on a started scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(j)
	}
	s.log.Info(fmt.Sprintf("scheduler started with %d jobs", len(s.jobs)))
}

// Stop halts all jobs and waits for in-flight iterations to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// TriggerNow runs the named job synchronously, regardless of its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.exec(ctx, j, s.clock.Now())
		}
	}
	return ErrJobNotFound
}

// Status reports every job's schedule and last outcome.
func (s *Scheduler) Status() []JobStatus {
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := JobStatus{
			Name:    j.name,
			Runs:    j.runs,
			LastRun: j.lastRun,
		}
		if j.every > 0 {
			st.Every = j.every.String()
		} else {
			st.At = j.at.String()
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		statuses = append(statuses, st)
	}
	return statuses
}

func (s *Scheduler) loop(j *job) {
	defer s.wg.Done()

	interval := j.every
	if interval <= 0 {
		interval = dailyPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := s.clock.Now()
			if !j.due(now) {
				continue
			}
			// a failing iteration is logged and retried on the next tick
			_ = s.exec(context.Background(), j, now)
		}
	}
}

// due reports whether a tick at now should run the job. Interval jobs run on
// every tick; daily jobs run on the first tick at or past their time of day.
func (j *job) due(now time.Time) bool {
	if j.every > 0 {
		return true
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return core.TimeOfDayAt(now) >= j.at && j.lastDay != core.FormatDate(now)
}

func (s *Scheduler) exec(ctx context.Context, j *job, now time.Time) error {
	err := j.run(ctx, now)

	j.mu.Lock()
	j.runs++
	j.lastRun = now
	j.lastErr = err
	// a daily job marks its day done only on success, so a failed run is
	// retried on the next tick instead of burning the whole day
	if err == nil {
		j.lastDay = core.FormatDate(now)
	}
	j.mu.Unlock()

	if err != nil {
		s.log.Error(fmt.Sprintf("job %s failed: %v", j.name, err), err)
	}
	return err
}
