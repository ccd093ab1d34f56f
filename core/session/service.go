package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/schedule"
)

var (
	// errors
	ErrNotFound          = errors.New("session not found")
	ErrNoEligibleSession = errors.New("no scheduled session for this room right now")
	ErrNoActiveSession   = errors.New("no active session for this room")
	ErrAlreadyClosed     = errors.New("session already closed")
)

const basePath = "sessions"

type (
	// TemplateSource provides the recurring weekly template.
	TemplateSource interface {
		ForWeekday(ctx context.Context, weekday string) (map[string][]schedule.Slot, error)
	}

	// RosterSource resolves group membership, lazily at closure time.
	RosterSource interface {
		Roster(ctx context.Context, groupID string) ([]identity.Student, error)
	}

	// Reconciler fills in absences and computes the sealed stats of a closing
	// session. It must be safe to call repeatedly for the same session and
	// always converge on the same snapshot.
	Reconciler interface {
		Reconcile(ctx context.Context, sess Session, roster []identity.Student, now time.Time) (Stats, error)
	}

	// Registry owns session instances: it materializes them from the weekly
	// template and drives them through the SCHEDULED -> ACTIVE -> CLOSED
	// state machine. It is the only writer of a session's status and
	// timestamps; the sealed stats payload is produced by the Reconciler and
	// attached here, atomically with the CLOSED status.
	Registry struct {
		store  core.DocumentStore
		tmpl   TemplateSource
		roster RosterSource
		rec    Reconciler
		mail   core.EmailService
		log    core.Logger
		conf   *core.Config
		locks  *keyedMutex
	}
)

func NewRegistry(
	store core.DocumentStore,
	tmpl TemplateSource,
	roster RosterSource,
	rec Reconciler,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Registry {
	return &Registry{
		store:  store,
		tmpl:   tmpl,
		roster: roster,
		rec:    rec,
		mail:   mailSvc,
		log:    logger,
		conf:   conf,
		locks:  newKeyedMutex(),
	}
}

// MaterializeDaily instantiates the template slots matching date's weekday as
// SCHEDULED sessions. It is idempotent: a session id that already exists is
// left untouched, except for the carryover repair of a CLOSED session whose
// stored date went stale. One slot's failure never aborts the others.
// Returns the number of sessions created (or repaired).
func (svc *Registry) MaterializeDaily(ctx context.Context, date time.Time) (int, error) {
	weekday := schedule.Weekday(date)
	rooms, err := svc.tmpl.ForWeekday(ctx, weekday)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "loading weekly template")
	}

	dateStr := core.FormatDate(date)
	var created int
	for roomID, slots := range rooms {
		for _, slot := range slots {
			if err := slot.Validate(); err != nil {
				svc.log.Warn(fmt.Sprintf("skipping invalid slot %s/%s %s: %v", roomID, weekday, slot.Start, err), err)
				continue
			}

			id := NewID(date, roomID, slot.Start, slot.Group)
			sess := Session{
				ID:        id,
				Date:      dateStr,
				Room:      roomID,
				Start:     slot.Start,
				End:       slot.End,
				Group:     slot.Group,
				Subject:   slot.Subject,
				Status:    StatusScheduled,
				CreatedAt: time.Now().UTC(),
			}

			err := svc.store.Create(ctx, Path(dateStr, roomID, id), sess)
			switch pkgerrors.Cause(err) {
			case nil:
				created++
			case core.ErrDocExists:
				repaired, rerr := svc.repairCarryover(ctx, dateStr, roomID, id)
				if rerr != nil {
					svc.log.Error(fmt.Sprintf("repairing session %s: %v", id, rerr), rerr)
					continue
				}
				if repaired {
					created++
				}
			default:
				svc.log.Error(fmt.Sprintf("materializing session %s: %v", id, err), err)
			}
		}
	}
	return created, nil
}

// repairCarryover resets a CLOSED session whose stored date disagrees with its
// path date back to SCHEDULED. Sessions with a current date, or that have
// progressed past SCHEDULED today, are never overwritten.
func (svc *Registry) repairCarryover(ctx context.Context, dateStr, roomID, id string) (bool, error) {
	unlock := svc.locks.lock(id)
	defer unlock()

	sess, err := svc.get(ctx, dateStr, roomID, id)
	if err != nil {
		return false, err
	}
	if sess.Date == dateStr || sess.Status != StatusClosed {
		return false, nil
	}

	sess.Date = dateStr
	sess.Status = StatusScheduled
	sess.CreatedAt = time.Now().UTC()
	sess.StartedAt = nil
	sess.ClosedAt = nil
	sess.Stats = nil
	if err := svc.store.Set(ctx, Path(dateStr, roomID, id), sess); err != nil {
		return false, pkgerrors.Wrap(err, "resetting stale session")
	}
	svc.log.Info(fmt.Sprintf("reset stale session %s to %s", id, StatusScheduled))
	return true, nil
}

// ApplyClock runs both clock rules against all of today's open sessions.
// Each rule is independently re-entrant and idempotent; a missed invocation
// is fully caught up by the next one.
func (svc *Registry) ApplyClock(ctx context.Context, now time.Time) error {
	if err := svc.SweepActivate(ctx, now); err != nil {
		return err
	}
	return svc.SweepClose(ctx, now)
}

// SweepActivate transitions today's SCHEDULED sessions whose activation
// window covers now to ACTIVE. Per-session failures are logged and skipped.
func (svc *Registry) SweepActivate(ctx context.Context, now time.Time) error {
	sessions, err := svc.forDate(ctx, core.FormatDate(now))
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.Status != StatusScheduled || !svc.inActivationWindow(sess, now) {
			continue
		}
		if _, err := svc.activate(ctx, sess, now); err != nil {
			svc.log.Error(fmt.Sprintf("auto-activating session %s: %v", sess.ID, err), err)
		}
	}
	return nil
}

// SweepClose closes today's sessions past their end-of-slot grace period.
// A session that was never activated closes too; full absence is a valid
// outcome. Per-session failures are logged and skipped so one session never
// blocks the rest of the sweep.
func (svc *Registry) SweepClose(ctx context.Context, now time.Time) error {
	sessions, err := svc.forDate(ctx, core.FormatDate(now))
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.Status == StatusClosed || !svc.pastCloseGrace(sess, now) {
			continue
		}
		if _, err := svc.close(ctx, sess, now); err != nil {
			svc.log.Error(fmt.Sprintf("auto-closing session %s: %v", sess.ID, err), err)
		}
	}
	return nil
}

// Check returns the room's session a device should bind to: its ACTIVE
// session, or a SCHEDULED one starting within the look-ahead window.
func (svc *Registry) Check(ctx context.Context, roomID string, now time.Time) (Session, error) {
	sessions, err := svc.forRoom(ctx, core.FormatDate(now), roomID)
	if err != nil {
		return Session{}, err
	}
	tod := core.TimeOfDayAt(now)
	for _, sess := range sessions {
		switch sess.Status {
		case StatusActive:
			if tod <= sess.End.Add(svc.conf.Session.CloseGrace) {
				return sess, nil
			}
		case StatusScheduled:
			if tod >= sess.Start.Add(-svc.conf.Session.CheckAhead) && tod <= sess.End {
				return sess, nil
			}
		}
	}
	return Session{}, ErrNoEligibleSession
}

// Start is the device-initiated activation. An ACTIVE session is not an
// error: the device is told "already started" by getting the session back.
func (svc *Registry) Start(ctx context.Context, roomID string, now time.Time) (Session, error) {
	sessions, err := svc.forRoom(ctx, core.FormatDate(now), roomID)
	if err != nil {
		return Session{}, err
	}

	for _, sess := range sessions {
		if sess.Status == StatusActive {
			return sess, nil
		}
	}

	var closedInWindow *Session
	for i, sess := range sessions {
		if !svc.inActivationWindow(sess, now) {
			continue
		}
		switch sess.Status {
		case StatusScheduled:
			return svc.activate(ctx, sess, now)
		case StatusClosed:
			closedInWindow = &sessions[i]
		}
	}
	if closedInWindow != nil {
		return *closedInWindow, ErrAlreadyClosed
	}
	return Session{}, ErrNotFound
}

// Stop is the device-initiated closure. Stopping a room whose session is
// already CLOSED returns the sealed session without recomputation.
func (svc *Registry) Stop(ctx context.Context, roomID string, now time.Time) (Session, error) {
	sessions, err := svc.forRoom(ctx, core.FormatDate(now), roomID)
	if err != nil {
		return Session{}, err
	}

	for _, sess := range sessions {
		if sess.Status == StatusActive {
			return svc.close(ctx, sess, now)
		}
	}

	// idempotent stop: hand back the latest sealed session
	var latest *Session
	for i, sess := range sessions {
		if sess.Status != StatusClosed {
			continue
		}
		if latest == nil || sess.Start > latest.Start {
			latest = &sessions[i]
		}
	}
	if latest != nil {
		return *latest, nil
	}
	return Session{}, ErrNoActiveSession
}

// CloseAll is the operator's manual closure of a room's sessions on a given
// date. Open sessions are reconciled and sealed; already-closed ones are
// returned as-is.
func (svc *Registry) CloseAll(ctx context.Context, dateStr, roomID string, now time.Time) ([]Session, error) {
	sessions, err := svc.forRoom(ctx, dateStr, roomID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}

	closed := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Status == StatusClosed {
			closed = append(closed, sess)
			continue
		}
		sealed, err := svc.close(ctx, sess, now)
		if err != nil {
			svc.log.Error(fmt.Sprintf("closing session %s: %v", sess.ID, err), err)
			continue
		}
		closed = append(closed, sealed)
	}
	return closed, nil
}

// Filter lists sessions for a date, optionally narrowed by room, status,
// group and subject.
func (svc *Registry) Filter(ctx context.Context, f QueryFilter) ([]Session, error) {
	var sessions []Session
	var err error
	if f.Room != "" {
		sessions, err = svc.forRoom(ctx, f.Date, f.Room)
	} else {
		sessions, err = svc.forDate(ctx, f.Date)
	}
	if err != nil {
		return nil, err
	}

	filtered := sessions[:0]
	for _, sess := range sessions {
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if f.Group != "" && sess.Group != f.Group {
			continue
		}
		if f.Subject != "" && sess.Subject != f.Subject {
			continue
		}
		filtered = append(filtered, sess)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Room != filtered[j].Room {
			return filtered[i].Room < filtered[j].Room
		}
		return filtered[i].Start < filtered[j].Start
	})
	return filtered, nil
}

// QueryFilter narrows session listings. Date is required; the rest is optional.
type QueryFilter struct {
	Date    string
	Room    string
	Status  Status
	Group   string
	Subject string
}

// internals

func (svc *Registry) inActivationWindow(sess Session, now time.Time) bool {
	tod := core.TimeOfDayAt(now)
	return tod >= sess.Start.Add(-svc.conf.Session.ActivateEarly) &&
		tod <= sess.Start.Add(svc.conf.Session.ActivateLate)
}

func (svc *Registry) pastCloseGrace(sess Session, now time.Time) bool {
	return core.TimeOfDayAt(now) > sess.End.Add(svc.conf.Session.CloseGrace)
}

// activate transitions a SCHEDULED session to ACTIVE under the session lock.
// Racing activations converge: the loser observes ACTIVE and returns it.
func (svc *Registry) activate(ctx context.Context, sess Session, now time.Time) (Session, error) {
	unlock := svc.locks.lock(sess.ID)
	defer unlock()

	fresh, err := svc.get(ctx, sess.Date, sess.Room, sess.ID)
	if err != nil {
		return Session{}, err
	}
	switch fresh.Status {
	case StatusActive:
		return fresh, nil
	case StatusClosed:
		return fresh, ErrAlreadyClosed
	}

	startedAt := now
	fresh.Status = StatusActive
	fresh.StartedAt = &startedAt
	if err := svc.store.Set(ctx, Path(fresh.Date, fresh.Room, fresh.ID), fresh); err != nil {
		return Session{}, pkgerrors.Wrap(err, "activating session")
	}
	svc.log.Info(fmt.Sprintf("session %s %s", fresh.ID, StatusActive))
	return fresh, nil
}

// close reconciles and seals a session under the session lock. Exactly one
// caller performs the reconciliation; concurrent closers observe the sealed
// result. The stats payload and the CLOSED status land in one write.
func (svc *Registry) close(ctx context.Context, sess Session, now time.Time) (Session, error) {
	unlock := svc.locks.lock(sess.ID)
	defer unlock()

	fresh, err := svc.get(ctx, sess.Date, sess.Room, sess.ID)
	if err != nil {
		return Session{}, err
	}
	if fresh.Status == StatusClosed {
		return fresh, nil
	}

	// roster reflects group membership at the moment of closure
	roster, err := svc.roster.Roster(ctx, fresh.Group)
	if err != nil {
		return Session{}, pkgerrors.Wrap(err, "resolving roster")
	}
	stats, err := svc.rec.Reconcile(ctx, fresh, roster, now)
	if err != nil {
		return Session{}, pkgerrors.Wrap(err, "reconciling attendance")
	}

	closedAt := now
	fresh.Status = StatusClosed
	fresh.ClosedAt = &closedAt
	fresh.Stats = &stats
	if err := svc.store.Set(ctx, Path(fresh.Date, fresh.Room, fresh.ID), fresh); err != nil {
		return Session{}, pkgerrors.Wrap(err, "closing session")
	}
	svc.log.Info(fmt.Sprintf("session %s %s: %d/%d present", fresh.ID, StatusClosed, stats.Present, stats.Total))

	svc.alertLowAttendance(fresh)
	return fresh, nil
}

func (svc *Registry) alertLowAttendance(sess Session) {
	threshold := svc.conf.LowAttendanceThreshold
	if threshold <= 0 || svc.mail == nil || svc.conf.AlertsEmail == "" || sess.Stats == nil {
		return
	}
	if sess.Stats.Rate >= threshold || sess.Stats.Total == 0 {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: svc.conf.AlertsEmail}},
		Subject: fmt.Sprintf("Low attendance: %s %s (%s)", sess.Date, sess.Subject, sess.Group),
		BodyStr: fmt.Sprintf(
			"Session %s in room %s closed with %d of %d students present (%.1f%%).",
			sess.ID, sess.Room, sess.Stats.Present, sess.Stats.Total, sess.Stats.Rate,
		),
	})
}

func (svc *Registry) get(ctx context.Context, dateStr, roomID, id string) (Session, error) {
	var sess Session
	if err := svc.store.Get(ctx, Path(dateStr, roomID, id), &sess); err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return Session{}, ErrNotFound
		}
		return Session{}, pkgerrors.Wrap(err, "getting session")
	}
	return sess, nil
}

func (svc *Registry) forRoom(ctx context.Context, dateStr, roomID string) ([]Session, error) {
	children, err := svc.store.List(ctx, core.DocPath(basePath, dateStr, roomID))
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "listing room sessions")
	}
	sessions := make([]Session, 0, len(children))
	for _, raw := range children {
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			svc.log.Warn(fmt.Sprintf("skipping undecodable session under %s/%s: %v", dateStr, roomID, err), err)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (svc *Registry) forDate(ctx context.Context, dateStr string) ([]Session, error) {
	rooms, err := svc.store.List(ctx, core.DocPath(basePath, dateStr))
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "listing sessions")
	}
	var sessions []Session
	for roomID, raw := range rooms {
		var byID map[string]Session
		if err := json.Unmarshal(raw, &byID); err != nil {
			svc.log.Warn(fmt.Sprintf("skipping undecodable sessions under %s/%s: %v", dateStr, roomID, err), err)
			continue
		}
		for _, sess := range byID {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}
