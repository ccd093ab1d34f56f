package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/session"
)

var (
	// errors
	ErrNoActiveSession = errors.New("session is not active")
	ErrOutOfWindow     = errors.New("attendance can only be recorded during the session slot")
	ErrGroupMismatch   = errors.New("student does not belong to this session's group")
)

const basePath = "attendance"

// Ledger owns the attendance records under a session and produces the sealed
// stats snapshot at closure. It never touches a session's status; that is the
// Registry's job.
type Ledger struct {
	store core.DocumentStore
	log   core.Logger
}

var _ session.Reconciler = (*Ledger)(nil)

func NewLedger(store core.DocumentStore, logger core.Logger) *Ledger {
	return &Ledger{store: store, log: logger}
}

// Record writes a PRESENT record for the student against an ACTIVE session.
// A duplicate is not an error: the existing record comes back with
// already=true, so devices can retry on network uncertainty without side
// effects.
func (svc *Ledger) Record(
	ctx context.Context,
	sess session.Session,
	stud identity.Student,
	method Method,
	now time.Time,
) (rec Record, already bool, err error) {
	if sess.Status != session.StatusActive {
		return Record{}, false, ErrNoActiveSession
	}
	tod := core.TimeOfDayAt(now)
	if tod < sess.Start || tod > sess.End {
		return Record{}, false, ErrOutOfWindow
	}
	if stud.Group != sess.Group {
		return Record{}, false, ErrGroupMismatch
	}

	rec = Record{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		StudentID:   stud.ID,
		StudentName: stud.Name,
		Status:      StatusPresent,
		Time:        &tod,
		Method:      method,
		RecordedAt:  now.UTC(),
	}
	err = svc.store.Create(ctx, Path(sess.ID, stud.ID), rec)
	if pkgerrors.Cause(err) == core.ErrDocExists {
		existing, gerr := svc.get(ctx, sess.ID, stud.ID)
		if gerr != nil {
			return Record{}, false, gerr
		}
		return existing, true, nil
	}
	if err != nil {
		return Record{}, false, pkgerrors.Wrap(err, "recording attendance")
	}
	svc.log.Info(fmt.Sprintf("attendance %s: student %s %s via %s", sess.ID, stud.ID, rec.Status, method))
	return rec, false, nil
}

// Reconcile completes the session's ledger against the roster: every roster
// member without a PRESENT record gets a system-generated ABSENT record, then
// the summary is computed. A session already carrying sealed stats returns
// them unchanged. Absence insertion is create-if-absent, so concurrent
// reconciliations converge on the same snapshot without double-inserting.
func (svc *Ledger) Reconcile(
	ctx context.Context,
	sess session.Session,
	roster []identity.Student,
	now time.Time,
) (session.Stats, error) {
	if sess.Stats != nil {
		return *sess.Stats, nil
	}

	records, err := svc.BySession(ctx, sess.ID)
	if err != nil {
		return session.Stats{}, err
	}

	var present int
	breakdown := make(map[string]string, len(roster))
	for _, stud := range roster {
		rec, ok := records[stud.ID]
		if ok && rec.Status == StatusPresent {
			present++
			breakdown[stud.ID] = string(StatusPresent)
			continue
		}
		breakdown[stud.ID] = string(StatusAbsent)
		if ok {
			continue
		}

		absent := Record{
			ID:          uuid.New().String(),
			SessionID:   sess.ID,
			StudentID:   stud.ID,
			StudentName: stud.Name,
			Status:      StatusAbsent,
			Method:      MethodManual,
			RecordedAt:  now.UTC(),
		}
		if err := svc.store.Create(ctx, Path(sess.ID, stud.ID), absent); err != nil {
			if pkgerrors.Cause(err) == core.ErrDocExists {
				continue // lost the race to a concurrent reconciliation
			}
			return session.Stats{}, pkgerrors.Wrap(err, "inserting absence")
		}
	}

	total := len(roster)
	stats := session.Stats{
		Date:      sess.Date,
		Room:      sess.Room,
		Group:     sess.Group,
		Total:     total,
		Present:   present,
		Absent:    total - present,
		SealedAt:  now.UTC(),
		Breakdown: breakdown,
	}
	if total > 0 {
		stats.Rate = math.Round(float64(present)/float64(total)*100*100) / 100
	}
	return stats, nil
}

// BySession returns the session's records keyed by student id.
func (svc *Ledger) BySession(ctx context.Context, sessionID string) (map[string]Record, error) {
	children, err := svc.store.List(ctx, core.DocPath(basePath, sessionID))
	if err != nil {
		if pkgerrors.Cause(err) == core.ErrDocNotFound {
			return map[string]Record{}, nil
		}
		return nil, pkgerrors.Wrap(err, "listing attendance records")
	}
	records := make(map[string]Record, len(children))
	for studentID, raw := range children {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			svc.log.Warn(fmt.Sprintf("skipping undecodable attendance record %s/%s: %v", sessionID, studentID, err), err)
			continue
		}
		records[studentID] = rec
	}
	return records, nil
}

func (svc *Ledger) get(ctx context.Context, sessionID, studentID string) (Record, error) {
	var rec Record
	if err := svc.store.Get(ctx, Path(sessionID, studentID), &rec); err != nil {
		return Record{}, pkgerrors.Wrap(err, "getting attendance record")
	}
	return rec, nil
}
