/*
Package lifecycle implements the meeting state machine and the financial
effects of every status change.

PURPOSE:
  Each operation moves one meeting between statuses, settles or clears its
  financials, and keeps the parent cycle's progress counters correct. All of
  it happens inside one store transaction; notifications go out only after
  the transaction commits.

STATE MACHINE:

	scheduled ──complete──▶ completed
	scheduled ──cancel────▶ cancelled
	scheduled ──postpone──▶ postponed (+ new scheduled successor)
	scheduled ──request───▶ pending_cancellation | pending_postponement
	pending_* ──approve───▶ cancelled | postponed (+ successor)
	pending_* ──reject────▶ scheduled
	completed ──reverse───▶ scheduled | cancelled | postponed

	Everything else is an InvalidTransitionError.

COUNTER RULE:
  Entering completed is +1 on the cycle, leaving it is -1. No other move
  touches the counters. See Reconciler.

SEE ALSO:
  - request.go:    instructor request / admin approval workflow
  - reschedule.go: postponement and reschedule chains
  - bulk.go:       applying one operation to many meetings
*/
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/settlement"
)

// Engine runs meeting transitions against a TxStore.
type Engine struct {
	store      TxStore
	notifier   Notifier
	clock      Clock
	log        logrus.FieldLogger
	reconciler *Reconciler
	newID      func() settlement.MeetingID
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

// WithIDGenerator overrides how successor meeting ids are minted.
func WithIDGenerator(f func() settlement.MeetingID) Option {
	return func(e *Engine) { e.newID = f }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: NopNotifier{},
		clock:    SystemClock{},
		log:      logrus.StandardLogger(),
		newID:    func() settlement.MeetingID { return settlement.MeetingID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reconciler = NewReconciler(e.log)
	return e
}

// =============================================================================
// TRANSACTION PLUMBING
// =============================================================================

type pendingNote struct {
	kind    NotificationKind
	payload Notification
}

// txn is a store view that also collects notifications to send on commit.
type txn struct {
	Store
	notes []pendingNote
}

func (t *txn) notify(kind NotificationKind, payload Notification) {
	t.notes = append(t.notes, pendingNote{kind: kind, payload: payload})
}

// transact runs fn in one store transaction. Notifications queued by fn are
// delivered only if the transaction commits.
func (e *Engine) transact(ctx context.Context, fn func(t *txn) error) error {
	var t *txn
	err := e.store.WithTx(ctx, func(s Store) error {
		t = &txn{Store: s}
		return fn(t)
	})
	if err != nil {
		return err
	}
	for _, n := range t.notes {
		e.deliver(ctx, n)
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, n pendingNote) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"kind":       n.kind,
				"meeting_id": n.payload.MeetingID,
				"panic":      r,
			}).Error("notifier panicked")
		}
	}()
	e.notifier.Notify(ctx, n.kind, n.payload)
}

func (e *Engine) stamp(m *settlement.Meeting, actor string) {
	m.StatusUpdatedAt = e.clock.Now()
	m.StatusUpdatedBy = actor
}

func (e *Engine) payload(m *settlement.Meeting, actor string) Notification {
	return Notification{
		MeetingID:    m.ID,
		CycleID:      m.CycleID,
		InstructorID: m.InstructorID,
		Actor:        actor,
		At:           e.clock.Now(),
	}
}

// =============================================================================
// READS
// =============================================================================

// Get returns a meeting by id.
func (e *Engine) Get(ctx context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	return e.store.GetMeeting(ctx, id)
}

// Preview computes the settlement a meeting would get if completed now,
// without writing anything.
func (e *Engine) Preview(ctx context.Context, id settlement.MeetingID) (settlement.Settlement, error) {
	m, err := e.store.GetMeeting(ctx, id)
	if err != nil {
		return settlement.Settlement{}, err
	}
	return e.settle(ctx, e.store, *m)
}

// settle loads the calculator inputs for m and runs it.
func (e *Engine) settle(ctx context.Context, s Store, m settlement.Meeting) (settlement.Settlement, error) {
	cycle, err := s.GetCycle(ctx, m.CycleID)
	if err != nil {
		return settlement.Settlement{}, err
	}
	regs, err := s.ListRegistrations(ctx, m.CycleID)
	if err != nil {
		return settlement.Settlement{}, fmt.Errorf("list registrations of cycle %s: %w", m.CycleID, err)
	}

	var instructor *settlement.Instructor
	instructorID := m.InstructorID
	if instructorID == "" {
		instructorID = cycle.InstructorID
	}
	if instructorID != "" {
		instructor, err = s.GetInstructor(ctx, instructorID)
		if err != nil {
			return settlement.Settlement{}, err
		}
	}

	result := settlement.Settle(m, *cycle, regs, instructor)
	if len(result.Flags) > 0 {
		e.log.WithFields(logrus.Fields{
			"meeting_id": m.ID,
			"cycle_id":   m.CycleID,
			"flags":      result.Flags,
		}).Warn("settlement computed with missing data")
	}
	return result, nil
}

// =============================================================================
// COMPLETE / CANCEL
// =============================================================================

// Complete settles a scheduled meeting and counts it toward its cycle.
// A negative profit triggers a negative_profit notification after commit.
func (e *Engine) Complete(ctx context.Context, id settlement.MeetingID, actor string) (*settlement.Meeting, error) {
	var out settlement.Meeting
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != settlement.StatusScheduled {
			return invalidTransition(m, string(settlement.StatusCompleted))
		}
		if err := e.complete(ctx, t, m, actor); err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) complete(ctx context.Context, t *txn, m *settlement.Meeting, actor string) error {
	s, err := e.settle(ctx, t, *m)
	if err != nil {
		return err
	}
	m.ApplySettlement(s)
	m.Status = settlement.StatusCompleted
	m.Request = nil
	e.stamp(m, actor)
	if err := t.UpdateMeeting(ctx, *m); err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	if _, err := e.reconciler.Reconcile(ctx, t, m.CycleID, +1); err != nil {
		return err
	}

	if s.IsLoss() {
		p := e.payload(m, actor)
		p.Settlement = &s
		t.notify(NotifyNegativeProfit, p)
	}
	return nil
}

// Cancel cancels a scheduled meeting and records the reason. The cycle's
// totals are not changed.
func (e *Engine) Cancel(ctx context.Context, id settlement.MeetingID, reason, actor string) (*settlement.Meeting, error) {
	var out settlement.Meeting
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != settlement.StatusScheduled {
			return invalidTransition(m, string(settlement.StatusCancelled))
		}
		if err := e.cancel(ctx, t, m, reason, actor); err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) cancel(ctx context.Context, t *txn, m *settlement.Meeting, reason, actor string) error {
	m.Status = settlement.StatusCancelled
	m.ClearFinancials()
	m.Request = nil
	if reason != "" {
		m.Notes = reason
	}
	e.stamp(m, actor)
	if err := t.UpdateMeeting(ctx, *m); err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	return nil
}

// =============================================================================
// GENERIC STATUS UPDATE
// =============================================================================

// UpdateOptions carries the optional inputs of UpdateStatus.
type UpdateOptions struct {
	Reason string
	Actor  string
}

// UpdateStatus moves a meeting to target through the same paths as the
// dedicated operations. It is also how a completed meeting is reversed:
// completed → scheduled, cancelled or postponed zeroes the financials and
// gives the completion back to the cycle.
//
// Setting the current status again is a no-op. scheduled → postponed needs
// a new date and must go through Postpone.
func (e *Engine) UpdateStatus(ctx context.Context, id settlement.MeetingID, target settlement.MeetingStatus, opts UpdateOptions) (*settlement.Meeting, error) {
	if !target.Valid() {
		return nil, invalidInput("unknown status %q", target)
	}

	var out settlement.Meeting
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status == target {
			out = *m
			return nil
		}

		switch m.Status {
		case settlement.StatusScheduled:
			switch target {
			case settlement.StatusCompleted:
				err = e.complete(ctx, t, m, opts.Actor)
			case settlement.StatusCancelled:
				err = e.cancel(ctx, t, m, opts.Reason, opts.Actor)
			case settlement.StatusPostponed:
				err = invalidInput("postponing meeting %s needs a new date", m.ID)
			default:
				err = invalidTransition(m, string(target))
			}

		case settlement.StatusCompleted:
			switch target {
			case settlement.StatusScheduled, settlement.StatusCancelled, settlement.StatusPostponed:
				err = e.reverse(ctx, t, m, target, opts)
			default:
				err = invalidTransition(m, string(target))
			}

		default:
			err = invalidTransition(m, string(target))
		}
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// reverse takes a completed meeting back out of completed.
func (e *Engine) reverse(ctx context.Context, t *txn, m *settlement.Meeting, target settlement.MeetingStatus, opts UpdateOptions) error {
	m.Status = target
	m.ClearFinancials()
	if opts.Reason != "" {
		m.Notes = opts.Reason
	}
	e.stamp(m, opts.Actor)
	if err := t.UpdateMeeting(ctx, *m); err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	_, err := e.reconciler.Reconcile(ctx, t, m.CycleID, -1)
	return err
}

// =============================================================================
// RECALCULATE
// =============================================================================

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
)

// RecalcResult reports what Recalculate did.
type RecalcResult struct {
	Meeting  settlement.Meeting
	Previous settlement.Settlement
	Current  settlement.Settlement
	Outcome  Outcome
}

// Err returns ErrCalculationSkipped for a skipped result and nil otherwise.
func (r *RecalcResult) Err() error {
	if r.Outcome == OutcomeSkipped {
		return ErrCalculationSkipped
	}
	return nil
}

// Recalculate re-runs the calculator on a completed meeting. Without force a
// meeting that already has positive revenue is left alone and the result
// reports OutcomeSkipped. Counters never change here.
func (e *Engine) Recalculate(ctx context.Context, id settlement.MeetingID, force bool, actor string) (*RecalcResult, error) {
	var res RecalcResult
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != settlement.StatusCompleted {
			return invalidTransition(m, "recalculate")
		}

		res.Previous = m.Settlement()
		if !force && m.Revenue.IsPositive() {
			res.Meeting = *m
			res.Current = res.Previous
			res.Outcome = OutcomeSkipped
			return nil
		}

		s, err := e.settle(ctx, t, *m)
		if err != nil {
			return err
		}
		m.ApplySettlement(s)
		e.stamp(m, actor)
		if err := t.UpdateMeeting(ctx, *m); err != nil {
			return fmt.Errorf("update meeting %s: %w", m.ID, err)
		}
		res.Meeting = *m
		res.Current = s
		res.Outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes a meeting. A completed meeting gives its completion
// back to the cycle first. Meetings in a reschedule chain cannot be deleted,
// so Chain never meets a hidden link.
func (e *Engine) Delete(ctx context.Context, id settlement.MeetingID, actor string) error {
	return e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.RescheduledToID != nil || m.RescheduledFromID != nil {
			return invalidTransition(m, "delete")
		}
		if m.Status == settlement.StatusCompleted {
			if _, err := e.reconciler.Reconcile(ctx, t, m.CycleID, -1); err != nil {
				return err
			}
			m.ClearFinancials()
		}
		now := e.clock.Now()
		m.DeletedAt = &now
		e.stamp(m, actor)
		if err := t.UpdateMeeting(ctx, *m); err != nil {
			return fmt.Errorf("delete meeting %s: %w", m.ID, err)
		}
		e.log.WithFields(logrus.Fields{"meeting_id": m.ID, "actor": actor}).Info("meeting deleted")
		return nil
	})
}
