package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/schedule"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
)

// Clock is a settable core.Clock so tests can drive the lifecycle engine
// deterministically.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

var _ core.Clock = (*Clock)(nil)

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// At parses a "YYYY-MM-DD HH:MM" local timestamp.
func At(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		t.Fatalf("At(%q) failed: %v", s, err)
	}
	return tm
}

// Logger is a core.Logger that writes to the test log.
type Logger struct {
	t *testing.T
}

var _ core.Logger = (*Logger)(nil)

func NewLogger(t *testing.T) *Logger {
	return &Logger{t: t}
}

func (l *Logger) Enable(bool) {}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.t.Helper()
	if len(args) > 0 {
		l.t.Logf("%s: %s %v", level, msg, args)
	} else {
		l.t.Logf("%s: %s", level, msg)
	}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

// NewConfig returns a config with the standard lifecycle windows and TEST mode set.
func NewConfig() *core.Config {
	return &core.Config{
		Debug:              true,
		TestMode:           true,
		Env:                "TEST",
		AppName:            "Mahudhurio",
		Build:              "test",
		SecretKey:          []byte("test-secret-key"),
		JWTExpirationDelta: time.Hour,
		Server: core.ServerConfig{
			Host:            "localhost",
			Address:         ":0",
			ShutdownTimeout: time.Second,
		},
		Session: core.SessionConfig{
			ActivateEarly: 5 * time.Minute,
			ActivateLate:  15 * time.Minute,
			CloseGrace:    5 * time.Minute,
			CheckAhead:    15 * time.Minute,
		},
		Scheduler: core.SchedulerConfig{
			MaterializeAt: "06:00",
			SweepEvery:    2 * time.Minute,
		},
	}
}

// NewStore returns a fresh in-memory document store.
func NewStore(t *testing.T) *inmemdb.Store {
	t.Helper()
	store, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	return store
}

// Seeders

func SeedRoom(t *testing.T, store core.DocumentStore, id, name, deviceID string, active bool) identity.Room {
	t.Helper()
	room := identity.Room{Name: name, DeviceID: deviceID, Active: active}
	if err := store.Set(context.Background(), core.DocPath("rooms", id), room); err != nil {
		t.Fatalf("seeding room %s: %v", id, err)
	}
	room.ID = id
	return room
}

func SeedStudent(t *testing.T, store core.DocumentStore, id, name, group string, fingerprintID int) identity.Student {
	t.Helper()
	stud := identity.Student{Name: name, Group: group, FingerprintID: fingerprintID}
	if err := store.Set(context.Background(), core.DocPath("students", id), stud); err != nil {
		t.Fatalf("seeding student %s: %v", id, err)
	}
	stud.ID = id
	return stud
}

func SeedGroup(t *testing.T, store core.DocumentStore, id, name string) identity.Group {
	t.Helper()
	grp := identity.Group{Name: name}
	if err := store.Set(context.Background(), core.DocPath("groups", id), grp); err != nil {
		t.Fatalf("seeding group %s: %v", id, err)
	}
	grp.ID = id
	return grp
}

func SeedSubject(t *testing.T, store core.DocumentStore, code, name string) identity.Subject {
	t.Helper()
	subj := identity.Subject{Name: name}
	if err := store.Set(context.Background(), core.DocPath("subjects", code), subj); err != nil {
		t.Fatalf("seeding subject %s: %v", code, err)
	}
	subj.Code = code
	return subj
}

// SeedSlot appends a slot to a room's weekly template for the given weekday.
func SeedSlot(t *testing.T, store core.DocumentStore, roomID, weekday string, slot schedule.Slot) {
	t.Helper()
	ctx := context.Background()
	path := core.DocPath("schedule", roomID, weekday)

	var slots []schedule.Slot
	_ = store.Get(ctx, path, &slots) // absent template is fine
	slots = append(slots, slot)
	if err := store.Set(ctx, path, slots); err != nil {
		t.Fatalf("seeding slot %s/%s: %v", roomID, weekday, err)
	}
}

// MustTime parses an HH:MM time of day.
func MustTime(t *testing.T, s string) core.TimeOfDay {
	t.Helper()
	tod, err := core.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("MustTime(%q) failed: %v", s, err)
	}
	return tod
}
