/*
errors.go - Error taxonomy of the meeting engine

ERROR CATEGORIES:
  1. NotFound          - meeting, cycle or instructor absent
  2. InvalidTransition - illegal status change (names current and requested)
  3. DuplicateRequest  - a pending change request of the same type exists
  4. CalculationSkipped - recalculation no-op under the idempotence guard;
                         a signaled outcome, not a failure
  5. InvalidInput      - malformed call (empty id list, unknown status, ...)
  6. OperationPanicked - a bulk item's operation panicked (server fault)

USAGE:
  Callers match with errors.Is against the sentinels, or errors.As against
  the structured types for details:

    var itErr *lifecycle.InvalidTransitionError
    if errors.As(err, &itErr) {
        log.Printf("meeting is %s", itErr.Current)
    }
*/
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist
	// (or was soft-deleted).
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for a status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateRequest is returned when the meeting already waits on a
	// request of the same type.
	ErrDuplicateRequest = errors.New("duplicate change request")

	// ErrCalculationSkipped signals that Recalculate left a settled meeting
	// untouched. Only RecalcResult.Err returns it.
	ErrCalculationSkipped = errors.New("calculation skipped")

	// ErrInvalidInput is returned for malformed calls.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyRescheduled is returned when postponing a meeting that
	// already has a successor.
	ErrAlreadyRescheduled = errors.New("meeting already rescheduled")

	// ErrBrokenChain is returned when reschedule links do not form a
	// one-way list (a loop, or a successor not pointing back).
	ErrBrokenChain = errors.New("broken reschedule chain")

	// ErrOperationPanicked marks a bulk item whose operation panicked.
	// It is a server fault, never a client error.
	ErrOperationPanicked = errors.New("operation panicked")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "meeting", "cycle", "instructor"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError. Stores use it so the engine sees one
// error shape regardless of backend.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidTransitionError names the current status and what was requested.
// Requested is a status for direct transitions and an action name
// ("approve", "reject", "recalculate") otherwise.
type InvalidTransitionError struct {
	MeetingID settlement.MeetingID
	Current   settlement.MeetingStatus
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for meeting %s: %s -> %s", e.MeetingID, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(m *settlement.Meeting, requested string) error {
	return &InvalidTransitionError{MeetingID: m.ID, Current: m.Status, Requested: requested}
}

// DuplicateRequestError names the meeting and the request type.
type DuplicateRequestError struct {
	MeetingID settlement.MeetingID
	Type      settlement.ChangeType
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("meeting %s already has a pending %s request", e.MeetingID, e.Type)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is caused by the request rather
// than by the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAlreadyRescheduled)
}
