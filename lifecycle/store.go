/*
store.go - Collaborator interfaces of the engine

PURPOSE:
  The engine owns no storage, clock or message delivery. It consumes:
  - Store / TxStore: transactional access to cycles, meetings,
    registrations and instructors
  - Notifier:        fire-and-forget notifications
  - Clock:           "now", so tests do not depend on the wall clock

ATOMICITY:
  Every single-meeting transition runs inside TxStore.WithTx. The meeting
  write and the cycle counter write commit together or not at all.

COUNTERS:
  LockProgress and AddProgress exist for the Reconciler only. LockProgress
  must lock the cycle row until the transaction ends (SELECT ... FOR UPDATE
  or a serialized writer); AddProgress must be an atomic increment, never a
  write of a value computed elsewhere.

IMPLEMENTATIONS:
  - lifecycle/store/memory.go: in-memory, for tests and development
  - store/sqlstore:           SQLite / PostgreSQL
*/
package lifecycle

import (
	"context"
	"time"

	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the read/write surface the engine needs. Get* methods return a
// *NotFoundError (wrapping ErrNotFound) when the record is absent; deleted
// meetings count as absent.
type Store interface {
	GetMeeting(ctx context.Context, id settlement.MeetingID) (*settlement.Meeting, error)
	GetCycle(ctx context.Context, id settlement.CycleID) (*settlement.Cycle, error)
	GetInstructor(ctx context.Context, id settlement.InstructorID) (*settlement.Instructor, error)
	ListRegistrations(ctx context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error)

	InsertMeeting(ctx context.Context, m settlement.Meeting) error
	UpdateMeeting(ctx context.Context, m settlement.Meeting) error

	// LockProgress reads the cycle counters and holds the row until the
	// surrounding transaction ends.
	LockProgress(ctx context.Context, cycleID settlement.CycleID) (settlement.Progress, error)

	// AddProgress atomically adds the deltas to the cycle counters.
	AddProgress(ctx context.Context, cycleID settlement.CycleID, completedDelta, remainingDelta int) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// NOTIFIER
// =============================================================================

type NotificationKind string

const (
	NotifyNegativeProfit  NotificationKind = "negative_profit"
	NotifyRequestCreated  NotificationKind = "request_created"
	NotifyRequestApproved NotificationKind = "request_approved"
	NotifyRequestRejected NotificationKind = "request_rejected"
)

// Notification is the payload handed to a Notifier.
type Notification struct {
	MeetingID    settlement.MeetingID
	CycleID      settlement.CycleID
	InstructorID settlement.InstructorID
	ChangeType   settlement.ChangeType
	Reason       string
	Actor        string
	Settlement   *settlement.Settlement
	At           time.Time
}

// Notifier delivers notifications. Implementations must not block on
// delivery and have no way to fail the caller: delivery errors are theirs
// to log.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, payload Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, NotificationKind, Notification) {}

// =============================================================================
// CLOCK
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
