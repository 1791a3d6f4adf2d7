/*
Package settlement provides the domain records and the pure settlement rules
of the meeting engine.

PURPOSE:
  A cycle is a recurring class series; a meeting is one occurrence of it.
  When a meeting is completed, its settlement (revenue, instructor payment,
  profit) is computed from the cycle's billing model, the cycle's
  registrations, and the instructor's rate card. This package holds those
  records and the calculator. It performs no I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cycle:        billing model, progress counters, defaults for meetings
  - Meeting:      one occurrence, its status and stored financials
  - Registration: a student's enrollment (input to revenue)
  - Instructor:   hourly rate card (input to payment)
  - CycleExpense: recurring or ad-hoc cost (input to forecasting only)

MONEY:
  All amounts are decimal.Decimal in a single currency. Nullable amounts
  use decimal.NullDecimal; an invalid NullDecimal means "not set".

SEE ALSO:
  - calculator.go: Settle and the individual rules
  - schedule.go:   time-of-day parsing and duration resolution
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CycleID string
type MeetingID string
type InstructorID string
type RegistrationID string
type ExpenseID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

// CycleType is the billing model of a cycle.
type CycleType string

const (
	CyclePrivate               CycleType = "private"
	CycleInstitutionalPerChild CycleType = "institutional_per_child"
	CycleInstitutionalFixed    CycleType = "institutional_fixed"
)

func (t CycleType) Valid() bool {
	switch t {
	case CyclePrivate, CycleInstitutionalPerChild, CycleInstitutionalFixed:
		return true
	}
	return false
}

// ActivityType decides which instructor rate applies. The empty value means
// "not set" and defers to the next level of precedence.
type ActivityType string

const (
	ActivityOnline        ActivityType = "online"
	ActivityFrontal       ActivityType = "frontal"
	ActivityPrivateLesson ActivityType = "private_lesson"
)

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityOnline, ActivityFrontal, ActivityPrivateLesson:
		return true
	}
	return false
}

type MeetingStatus string

const (
	StatusScheduled           MeetingStatus = "scheduled"
	StatusCompleted           MeetingStatus = "completed"
	StatusCancelled           MeetingStatus = "cancelled"
	StatusPostponed           MeetingStatus = "postponed"
	StatusPendingCancellation MeetingStatus = "pending_cancellation"
	StatusPendingPostponement MeetingStatus = "pending_postponement"
)

// AllStatuses lists every meeting status.
var AllStatuses = []MeetingStatus{
	StatusScheduled,
	StatusCompleted,
	StatusCancelled,
	StatusPostponed,
	StatusPendingCancellation,
	StatusPendingPostponement,
}

func (s MeetingStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsPending reports whether the meeting waits for an admin decision.
func (s MeetingStatus) IsPending() bool {
	return s == StatusPendingCancellation || s == StatusPendingPostponement
}

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationActive     RegistrationStatus = "active"
	RegistrationCompleted  RegistrationStatus = "completed"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationTrial      RegistrationStatus = "trial"
)

// ExpenseKind classifies a cycle expense.
type ExpenseKind string

const (
	ExpenseMaterials            ExpenseKind = "materials"
	ExpenseWraparoundHours      ExpenseKind = "wraparound_hours"
	ExpenseEquipment            ExpenseKind = "equipment"
	ExpenseAdditionalInstructor ExpenseKind = "additional_instructor"
	ExpenseOther                ExpenseKind = "other"
)

func (k ExpenseKind) Valid() bool {
	switch k {
	case ExpenseMaterials, ExpenseWraparoundHours, ExpenseEquipment, ExpenseAdditionalInstructor, ExpenseOther:
		return true
	}
	return false
}

// ChangeType is what an instructor asks an admin to approve.
type ChangeType string

const (
	ChangeCancellation ChangeType = "cancellation"
	ChangePostponement ChangeType = "postponement"
)

// PendingStatus returns the meeting status that represents an open request
// of this type.
func (c ChangeType) PendingStatus() MeetingStatus {
	if c == ChangePostponement {
		return StatusPendingPostponement
	}
	return StatusPendingCancellation
}

func (c ChangeType) Valid() bool {
	return c == ChangeCancellation || c == ChangePostponement
}

// =============================================================================
// CYCLE
// =============================================================================

// Cycle is a recurring class series.
//
// INVARIANT:
//
//	CompletedMeetings + RemainingMeetings == TotalMeetings
//
// whenever no meeting was cancelled without replacement. The counters are
// written only by the lifecycle reconciler.
type Cycle struct {
	ID           CycleID
	Name         string
	Type         CycleType
	InstructorID InstructorID

	TotalMeetings     int
	CompletedMeetings int
	RemainingMeetings int

	// Meaning depends on Type: PricePerStudent for institutional_per_child,
	// MeetingRevenue for institutional_fixed.
	PricePerStudent decimal.NullDecimal
	MeetingRevenue  decimal.NullDecimal

	// StudentCount, when positive, overrides the count of active registrations.
	StudentCount *int

	DurationMinutes int
	ActivityType    ActivityType
	IsOnline        bool // legacy fallback when ActivityType is empty

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Progress is the counter triple of a cycle.
type Progress struct {
	Total     int
	Completed int
	Remaining int
}

func (c Cycle) Progress() Progress {
	return Progress{Total: c.TotalMeetings, Completed: c.CompletedMeetings, Remaining: c.RemainingMeetings}
}

// Consistent reports whether completed + remaining == total.
func (p Progress) Consistent() bool {
	return p.Completed+p.Remaining == p.Total
}

// =============================================================================
// MEETING
// =============================================================================

// Meeting is one scheduled occurrence of a cycle.
type Meeting struct {
	ID           MeetingID
	CycleID      CycleID
	InstructorID InstructorID

	ScheduledDate time.Time
	StartTime     TimeOfDay
	EndTime       TimeOfDay

	Status       MeetingStatus
	ActivityType ActivityType

	// Financials are meaningful only while Status == completed.
	Revenue           decimal.Decimal
	InstructorPayment decimal.Decimal
	Profit            decimal.Decimal

	RescheduledToID   *MeetingID
	RescheduledFromID *MeetingID

	Notes   string
	Request *ChangeRequest

	StatusUpdatedAt time.Time
	StatusUpdatedBy string

	CreatedAt time.Time
	DeletedAt *time.Time
}

// ChangeRequest is an instructor-initiated request waiting for an admin.
type ChangeRequest struct {
	Type        ChangeType
	Reason      string
	NewDate     *time.Time
	NewStart    TimeOfDay
	NewEnd      TimeOfDay
	RequestedBy string
	RequestedAt time.Time
}

// Settlement returns the stored financial triple.
func (m Meeting) Settlement() Settlement {
	return Settlement{Revenue: m.Revenue, InstructorPayment: m.InstructorPayment, Profit: m.Profit}
}

// ApplySettlement writes s onto the meeting.
func (m *Meeting) ApplySettlement(s Settlement) {
	m.Revenue = s.Revenue
	m.InstructorPayment = s.InstructorPayment
	m.Profit = s.Profit
}

// ClearFinancials zeroes revenue, payment and profit.
func (m *Meeting) ClearFinancials() {
	m.ApplySettlement(Settlement{Revenue: decimal.Zero, InstructorPayment: decimal.Zero, Profit: decimal.Zero})
}

func (m Meeting) IsDeleted() bool { return m.DeletedAt != nil }

// =============================================================================
// REGISTRATION / INSTRUCTOR
// =============================================================================

type Registration struct {
	ID        RegistrationID
	CycleID   CycleID
	StudentID string
	Status    RegistrationStatus
	Amount    decimal.NullDecimal // private cycles only
}

type Instructor struct {
	ID          InstructorID
	Name        string
	RateFrontal decimal.NullDecimal
	RateOnline  decimal.NullDecimal
	RatePrivate decimal.NullDecimal
}

// =============================================================================
// CYCLE EXPENSE
// =============================================================================

// CycleExpense is a cost attached to a cycle. Exactly one pricing form is
// expected: a fixed Amount, Hours × Rate, or a Percentage of revenue.
// MeetingID is set for ad-hoc expenses recorded against a single meeting.
type CycleExpense struct {
	ID          ExpenseID
	CycleID     CycleID
	MeetingID   *MeetingID
	Kind        ExpenseKind
	Description string

	Amount     decimal.NullDecimal
	Hours      decimal.NullDecimal
	Rate       decimal.NullDecimal
	Percentage decimal.NullDecimal

	IncurredOn time.Time
}

// Cost resolves the expense amount. revenue is the base for percentage
// expenses.
func (e CycleExpense) Cost(revenue decimal.Decimal) decimal.Decimal {
	switch {
	case e.Amount.Valid:
		return e.Amount.Decimal
	case e.Hours.Valid && e.Rate.Valid:
		return e.Hours.Decimal.Mul(e.Rate.Decimal)
	case e.Percentage.Valid:
		return revenue.Mul(e.Percentage.Decimal).Div(decimal.NewFromInt(100))
	}
	return decimal.Zero
}

// =============================================================================
// QUERY FILTERS
// =============================================================================

// MeetingFilter selects meetings for read-only queries. Zero fields match
// everything. Deleted meetings are never returned.
type MeetingFilter struct {
	CycleID  CycleID
	Statuses []MeetingStatus
	From     time.Time // inclusive
	To       time.Time // inclusive
}

// Matches reports whether m passes the filter.
func (f MeetingFilter) Matches(m Meeting) bool {
	if m.IsDeleted() {
		return false
	}
	if f.CycleID != "" && m.CycleID != f.CycleID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if m.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && m.ScheduledDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.ScheduledDate.After(f.To) {
		return false
	}
	return true
}

// ExpenseFilter selects expenses by cycle and incurred date.
type ExpenseFilter struct {
	CycleID CycleID
	From    time.Time
	To      time.Time
}

func (f ExpenseFilter) Matches(e CycleExpense) bool {
	if f.CycleID != "" && e.CycleID != f.CycleID {
		return false
	}
	if !f.From.IsZero() && e.IncurredOn.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.IncurredOn.After(f.To) {
		return false
	}
	return true
}
