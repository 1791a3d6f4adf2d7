/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in settlement/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients (cycles, instructors and the
    other ingested records use the same shape in both directions)
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

MONEY AND DATES:
  Money is decimal.Decimal, encoded as a JSON string ("150.5"); requests
  accept either a string or a number. Calendar dates are "2006-01-02",
  times of day "15:04".

VALIDATION:
  Struct tags are checked with go-playground/validator before a request
  reaches the engine. "timeofday" is a custom tag registered in
  newValidator.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

const dateLayout = "2006-01-02"

// =============================================================================
// RECORDS
// =============================================================================

// CycleDTO is a course or program.
type CycleDTO struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Type              string           `json:"type" validate:"required,oneof=private institutional_per_child institutional_fixed"`
	InstructorID      string           `json:"instructor_id,omitempty"`
	TotalMeetings     int              `json:"total_meetings" validate:"min=0"`
	CompletedMeetings int              `json:"completed_meetings" validate:"min=0"`
	RemainingMeetings int              `json:"remaining_meetings" validate:"min=0"`
	PricePerStudent   *decimal.Decimal `json:"price_per_student,omitempty"`
	MeetingRevenue    *decimal.Decimal `json:"meeting_revenue,omitempty"`
	StudentCount      *int             `json:"student_count,omitempty" validate:"omitempty,min=0"`
	DurationMinutes   int              `json:"duration_minutes" validate:"min=0"`
	ActivityType      string           `json:"activity_type,omitempty" validate:"omitempty,oneof=online frontal private_lesson"`
	IsOnline          bool             `json:"is_online"`
	Consistent        *bool            `json:"counters_consistent,omitempty"`
}

type InstructorDTO struct {
	ID          string           `json:"id"`
	Name        string           `json:"name" validate:"required"`
	RateFrontal *decimal.Decimal `json:"rate_frontal,omitempty"`
	RateOnline  *decimal.Decimal `json:"rate_online,omitempty"`
	RatePrivate *decimal.Decimal `json:"rate_private,omitempty"`
}

type RegistrationDTO struct {
	ID        string           `json:"id"`
	CycleID   string           `json:"cycle_id" validate:"required"`
	StudentID string           `json:"student_id"`
	Status    string           `json:"status" validate:"required,oneof=registered active completed cancelled trial"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

type ExpenseDTO struct {
	ID          string           `json:"id"`
	CycleID     string           `json:"cycle_id" validate:"required"`
	MeetingID   string           `json:"meeting_id,omitempty"`
	Kind        string           `json:"kind" validate:"required,oneof=materials wraparound_hours equipment additional_instructor other"`
	Description string           `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Hours       *decimal.Decimal `json:"hours,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	IncurredOn  string           `json:"incurred_on,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// MEETINGS
// =============================================================================

// CreateMeetingRequest schedules a new meeting.
type CreateMeetingRequest struct {
	ID           string `json:"id"`
	CycleID      string `json:"cycle_id" validate:"required"`
	InstructorID string `json:"instructor_id"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string `json:"start_time" validate:"omitempty,timeofday"`
	EndTime      string `json:"end_time" validate:"omitempty,timeofday"`
	ActivityType string `json:"activity_type" validate:"omitempty,oneof=online frontal private_lesson"`
}

type ChangeRequestDTO struct {
	Type        string     `json:"type"`
	Reason      string     `json:"reason,omitempty"`
	NewDate     string     `json:"new_date,omitempty"`
	NewStart    string     `json:"new_start,omitempty"`
	NewEnd      string     `json:"new_end,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
}

// MeetingDTO represents a meeting in API responses.
type MeetingDTO struct {
	ID                string            `json:"id"`
	CycleID           string            `json:"cycle_id"`
	InstructorID      string            `json:"instructor_id,omitempty"`
	Date              string            `json:"date"`
	StartTime         string            `json:"start_time,omitempty"`
	EndTime           string            `json:"end_time,omitempty"`
	Status            string            `json:"status"`
	ActivityType      string            `json:"activity_type,omitempty"`
	Revenue           decimal.Decimal   `json:"revenue"`
	InstructorPayment decimal.Decimal   `json:"instructor_payment"`
	Profit            decimal.Decimal   `json:"profit"`
	RescheduledToID   string            `json:"rescheduled_to_id,omitempty"`
	RescheduledFromID string            `json:"rescheduled_from_id,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Request           *ChangeRequestDTO `json:"request,omitempty"`
	StatusUpdatedAt   *time.Time        `json:"status_updated_at,omitempty"`
	StatusUpdatedBy   string            `json:"status_updated_by,omitempty"`
}

// ActorRequest carries only who performs the action.
type ActorRequest struct {
	Actor string `json:"actor"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type PostponeRequest struct {
	NewDate   string `json:"new_date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"omitempty,timeofday"`
	EndTime   string `json:"end_time" validate:"omitempty,timeofday"`
	Actor     string `json:"actor"`
}

// StatusUpdateRequest is the generic status patch used by admin screens and
// calendar webhooks.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled completed cancelled postponed"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// SubmitChangeRequest is an instructor's cancellation or postponement request.
type SubmitChangeRequest struct {
	Type     string `json:"type" validate:"required,oneof=cancellation postponement"`
	Reason   string `json:"reason"`
	NewDate  string `json:"new_date" validate:"omitempty,datetime=2006-01-02"`
	NewStart string `json:"new_start" validate:"omitempty,timeofday"`
	NewEnd   string `json:"new_end" validate:"omitempty,timeofday"`
	Actor    string `json:"actor"`
}

// ApproveRequest may override the date and times the instructor proposed.
type ApproveRequest struct {
	NewDate  string `json:"new_date" validate:"omitempty,datetime=2006-01-02"`
	NewStart string `json:"new_start" validate:"omitempty,timeofday"`
	NewEnd   string `json:"new_end" validate:"omitempty,timeofday"`
	Actor    string `json:"actor"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type RecalculateRequest struct {
	Force bool   `json:"force"`
	Actor string `json:"actor"`
}

// BulkRequest applies one operation to many meetings. Status is used by the
// status endpoint, Force by recalculation.
type BulkRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1,dive,required"`
	Status string   `json:"status" validate:"omitempty,oneof=scheduled completed cancelled postponed"`
	Force  bool     `json:"force"`
	Reason string   `json:"reason"`
	Actor  string   `json:"actor"`
}

// =============================================================================
// RESULTS
// =============================================================================

type SettlementDTO struct {
	Revenue           decimal.Decimal `json:"revenue"`
	InstructorPayment decimal.Decimal `json:"instructor_payment"`
	Profit            decimal.Decimal `json:"profit"`
	ActivityType      string          `json:"activity_type,omitempty"`
	HourlyRate        decimal.Decimal `json:"hourly_rate"`
	DurationMinutes   int             `json:"duration_minutes"`
	Flags             []string        `json:"flags,omitempty"`
}

type RecalculateResponse struct {
	Meeting  MeetingDTO    `json:"meeting"`
	Previous SettlementDTO `json:"previous"`
	Current  SettlementDTO `json:"current"`
	Outcome  string        `json:"outcome"`
}

type PostponeResponse struct {
	Original  MeetingDTO `json:"original"`
	Successor MeetingDTO `json:"successor"`
}

type ApproveResponse struct {
	Meeting   MeetingDTO  `json:"meeting"`
	Successor *MeetingDTO `json:"successor,omitempty"`
}

type BulkFailureDTO struct {
	ID     string `json:"id"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type BulkResponse struct {
	Requested int              `json:"requested"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    []BulkFailureDTO `json:"failed"`
}

// =============================================================================
// FORECAST
// =============================================================================

type MeetingEstimateDTO struct {
	MeetingID     string          `json:"meeting_id"`
	CycleID       string          `json:"cycle_id"`
	Date          string          `json:"date"`
	Revenue       decimal.Decimal `json:"revenue"`
	Payment       decimal.Decimal `json:"instructor_payment"`
	RevenueSource string          `json:"revenue_source"`
	PaymentSource string          `json:"payment_source"`
}

type MonthDTO struct {
	Month          string          `json:"month"`
	Meetings       int             `json:"meetings"`
	Revenue        decimal.Decimal `json:"revenue"`
	InstructorCost decimal.Decimal `json:"instructor_cost"`
	Expenses       decimal.Decimal `json:"expenses"`
	Profit         decimal.Decimal `json:"profit"`
}

type ExpensePatternDTO struct {
	CycleID       string          `json:"cycle_id"`
	Kind          string          `json:"kind"`
	AvgAmount     decimal.Decimal `json:"avg_amount"`
	Count         int             `json:"count"`
	MonthsSeen    int             `json:"months_seen"`
	Frequency     float64         `json:"frequency"`
	Projected     bool            `json:"projected"`
	MonthlyAmount decimal.Decimal `json:"monthly_amount"`
}

type ForecastDTO struct {
	From                string               `json:"from"`
	To                  string               `json:"to"`
	GeneratedAt         time.Time            `json:"generated_at"`
	Meetings            []MeetingEstimateDTO `json:"meetings"`
	Months              []MonthDTO           `json:"months"`
	Patterns            []ExpensePatternDTO  `json:"patterns"`
	TotalRevenue        decimal.Decimal      `json:"total_revenue"`
	TotalInstructorCost decimal.Decimal      `json:"total_instructor_cost"`
	TotalExpenses       decimal.Decimal      `json:"total_expenses"`
	TotalProfit         decimal.Decimal      `json:"total_profit"`
	Confidence          float64              `json:"confidence"`
	HistoryMonths       int                  `json:"history_months"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toMeetingDTO(m settlement.Meeting) MeetingDTO {
	dto := MeetingDTO{
		ID:                string(m.ID),
		CycleID:           string(m.CycleID),
		InstructorID:      string(m.InstructorID),
		Date:              m.ScheduledDate.Format(dateLayout),
		StartTime:         string(m.StartTime),
		EndTime:           string(m.EndTime),
		Status:            string(m.Status),
		ActivityType:      string(m.ActivityType),
		Revenue:           m.Revenue,
		InstructorPayment: m.InstructorPayment,
		Profit:            m.Profit,
		Notes:             m.Notes,
		StatusUpdatedBy:   m.StatusUpdatedBy,
	}
	if m.RescheduledToID != nil {
		dto.RescheduledToID = string(*m.RescheduledToID)
	}
	if m.RescheduledFromID != nil {
		dto.RescheduledFromID = string(*m.RescheduledFromID)
	}
	if !m.StatusUpdatedAt.IsZero() {
		at := m.StatusUpdatedAt
		dto.StatusUpdatedAt = &at
	}
	if r := m.Request; r != nil {
		dto.Request = &ChangeRequestDTO{
			Type:        string(r.Type),
			Reason:      r.Reason,
			NewStart:    string(r.NewStart),
			NewEnd:      string(r.NewEnd),
			RequestedBy: r.RequestedBy,
		}
		if r.NewDate != nil {
			dto.Request.NewDate = r.NewDate.Format(dateLayout)
		}
		if !r.RequestedAt.IsZero() {
			at := r.RequestedAt
			dto.Request.RequestedAt = &at
		}
	}
	return dto
}

func toMeetingDTOs(ms []settlement.Meeting) []MeetingDTO {
	out := make([]MeetingDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMeetingDTO(m))
	}
	return out
}

func toSettlementDTO(s settlement.Settlement) SettlementDTO {
	dto := SettlementDTO{
		Revenue:           s.Revenue,
		InstructorPayment: s.InstructorPayment,
		Profit:            s.Profit,
		ActivityType:      string(s.Activity),
		HourlyRate:        s.HourlyRate,
		DurationMinutes:   s.DurationMinutes,
	}
	for _, f := range s.Flags {
		dto.Flags = append(dto.Flags, string(f))
	}
	return dto
}

func toBulkResponse(r *lifecycle.BulkResult) BulkResponse {
	resp := BulkResponse{
		Requested: r.Requested,
		Succeeded: r.Succeeded,
		Skipped:   r.Skipped,
		Failed:    []BulkFailureDTO{},
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, BulkFailureDTO{ID: string(f.ID), Error: f.Err.Error(), Reason: f.Reason})
	}
	return resp
}

func toCycleDTO(c settlement.Cycle) CycleDTO {
	consistent := c.Progress().Consistent()
	return CycleDTO{
		ID:                string(c.ID),
		Name:              c.Name,
		Type:              string(c.Type),
		InstructorID:      string(c.InstructorID),
		TotalMeetings:     c.TotalMeetings,
		CompletedMeetings: c.CompletedMeetings,
		RemainingMeetings: c.RemainingMeetings,
		PricePerStudent:   fromNull(c.PricePerStudent),
		MeetingRevenue:    fromNull(c.MeetingRevenue),
		StudentCount:      c.StudentCount,
		DurationMinutes:   c.DurationMinutes,
		ActivityType:      string(c.ActivityType),
		IsOnline:          c.IsOnline,
		Consistent:        &consistent,
	}
}

func (d CycleDTO) toDomain() settlement.Cycle {
	return settlement.Cycle{
		ID:                settlement.CycleID(d.ID),
		Name:              d.Name,
		Type:              settlement.CycleType(d.Type),
		InstructorID:      settlement.InstructorID(d.InstructorID),
		TotalMeetings:     d.TotalMeetings,
		CompletedMeetings: d.CompletedMeetings,
		RemainingMeetings: d.RemainingMeetings,
		PricePerStudent:   toNull(d.PricePerStudent),
		MeetingRevenue:    toNull(d.MeetingRevenue),
		StudentCount:      d.StudentCount,
		DurationMinutes:   d.DurationMinutes,
		ActivityType:      settlement.ActivityType(d.ActivityType),
		IsOnline:          d.IsOnline,
	}
}

func (d InstructorDTO) toDomain() settlement.Instructor {
	return settlement.Instructor{
		ID:          settlement.InstructorID(d.ID),
		Name:        d.Name,
		RateFrontal: toNull(d.RateFrontal),
		RateOnline:  toNull(d.RateOnline),
		RatePrivate: toNull(d.RatePrivate),
	}
}

func (d RegistrationDTO) toDomain() settlement.Registration {
	return settlement.Registration{
		ID:        settlement.RegistrationID(d.ID),
		CycleID:   settlement.CycleID(d.CycleID),
		StudentID: d.StudentID,
		Status:    settlement.RegistrationStatus(d.Status),
		Amount:    toNull(d.Amount),
	}
}

func (d ExpenseDTO) toDomain() settlement.CycleExpense {
	e := settlement.CycleExpense{
		ID:          settlement.ExpenseID(d.ID),
		CycleID:     settlement.CycleID(d.CycleID),
		Kind:        settlement.ExpenseKind(d.Kind),
		Description: d.Description,
		Amount:      toNull(d.Amount),
		Hours:       toNull(d.Hours),
		Rate:        toNull(d.Rate),
		Percentage:  toNull(d.Percentage),
	}
	if d.MeetingID != "" {
		id := settlement.MeetingID(d.MeetingID)
		e.MeetingID = &id
	}
	if d.IncurredOn != "" {
		e.IncurredOn, _ = time.Parse(dateLayout, d.IncurredOn)
	}
	return e
}

func toExpenseDTO(e settlement.CycleExpense) ExpenseDTO {
	dto := ExpenseDTO{
		ID:          string(e.ID),
		CycleID:     string(e.CycleID),
		Kind:        string(e.Kind),
		Description: e.Description,
		Amount:      fromNull(e.Amount),
		Hours:       fromNull(e.Hours),
		Rate:        fromNull(e.Rate),
		Percentage:  fromNull(e.Percentage),
	}
	if e.MeetingID != nil {
		dto.MeetingID = string(*e.MeetingID)
	}
	if !e.IncurredOn.IsZero() {
		dto.IncurredOn = e.IncurredOn.Format(dateLayout)
	}
	return dto
}

func toForecastDTO(f *forecast.Forecast) ForecastDTO {
	dto := ForecastDTO{
		From:                f.Window.From.Format(dateLayout),
		To:                  f.Window.To.Format(dateLayout),
		GeneratedAt:         f.GeneratedAt,
		Meetings:            make([]MeetingEstimateDTO, 0, len(f.Meetings)),
		Months:              make([]MonthDTO, 0, len(f.Months)),
		Patterns:            make([]ExpensePatternDTO, 0, len(f.Patterns)),
		TotalRevenue:        f.TotalRevenue,
		TotalInstructorCost: f.TotalInstructorCost,
		TotalExpenses:       f.TotalExpenses,
		TotalProfit:         f.TotalProfit,
		Confidence:          f.Confidence,
		HistoryMonths:       f.HistoryMonths,
	}
	for _, m := range f.Meetings {
		dto.Meetings = append(dto.Meetings, MeetingEstimateDTO{
			MeetingID:     string(m.MeetingID),
			CycleID:       string(m.CycleID),
			Date:          m.Date.Format(dateLayout),
			Revenue:       m.Revenue,
			Payment:       m.Payment,
			RevenueSource: string(m.RevenueSource),
			PaymentSource: string(m.PaymentSource),
		})
	}
	for _, m := range f.Months {
		dto.Months = append(dto.Months, MonthDTO{
			Month:          m.Month,
			Meetings:       m.Meetings,
			Revenue:        m.Revenue,
			InstructorCost: m.InstructorCost,
			Expenses:       m.Expenses,
			Profit:         m.Profit,
		})
	}
	for _, p := range f.Patterns {
		dto.Patterns = append(dto.Patterns, ExpensePatternDTO{
			CycleID:       string(p.CycleID),
			Kind:          string(p.Kind),
			AvgAmount:     p.AvgAmount,
			Count:         p.Count,
			MonthsSeen:    p.MonthsSeen,
			Frequency:     p.Frequency,
			Projected:     p.Projected,
			MonthlyAmount: p.MonthlyAmount(),
		})
	}
	return dto
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type LoadScenarioResponse struct {
	Scenario  ScenarioDTO `json:"scenario"`
	Cycles    []string    `json:"cycles"`
	Meetings  int         `json:"meetings"`
	Completed int         `json:"completed"`
}
