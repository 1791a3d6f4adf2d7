package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meeting-engine/settlement"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ROW TYPES
// =============================================================================

type cycleRow struct {
	ID                string              `db:"id"`
	Name              string              `db:"name"`
	Type              string              `db:"type"`
	InstructorID      sql.NullString      `db:"instructor_id"`
	TotalMeetings     int                 `db:"total_meetings"`
	CompletedMeetings int                 `db:"completed_meetings"`
	RemainingMeetings int                 `db:"remaining_meetings"`
	PricePerStudent   decimal.NullDecimal `db:"price_per_student"`
	MeetingRevenue    decimal.NullDecimal `db:"meeting_revenue"`
	StudentCount      sql.NullInt64       `db:"student_count"`
	DurationMinutes   int                 `db:"duration_minutes"`
	ActivityType      string              `db:"activity_type"`
	IsOnline          int                 `db:"is_online"`
	CreatedAt         string              `db:"created_at"`
	UpdatedAt         string              `db:"updated_at"`
}

type meetingRow struct {
	ID                string          `db:"id"`
	CycleID           string          `db:"cycle_id"`
	InstructorID      sql.NullString  `db:"instructor_id"`
	ScheduledDate     string          `db:"scheduled_date"`
	StartTime         string          `db:"start_time"`
	EndTime           string          `db:"end_time"`
	Status            string          `db:"status"`
	ActivityType      string          `db:"activity_type"`
	Revenue           decimal.Decimal `db:"revenue"`
	InstructorPayment decimal.Decimal `db:"instructor_payment"`
	Profit            decimal.Decimal `db:"profit"`
	RescheduledToID   sql.NullString  `db:"rescheduled_to_id"`
	RescheduledFromID sql.NullString  `db:"rescheduled_from_id"`
	Notes             string          `db:"notes"`
	RequestJSON       sql.NullString  `db:"request_json"`
	StatusUpdatedAt   sql.NullString  `db:"status_updated_at"`
	StatusUpdatedBy   string          `db:"status_updated_by"`
	CreatedAt         string          `db:"created_at"`
	DeletedAt         sql.NullString  `db:"deleted_at"`
}

type registrationRow struct {
	ID        string              `db:"id"`
	CycleID   string              `db:"cycle_id"`
	StudentID string              `db:"student_id"`
	Status    string              `db:"status"`
	Amount    decimal.NullDecimal `db:"amount"`
}

type instructorRow struct {
	ID          string              `db:"id"`
	Name        string              `db:"name"`
	RateFrontal decimal.NullDecimal `db:"rate_frontal"`
	RateOnline  decimal.NullDecimal `db:"rate_online"`
	RatePrivate decimal.NullDecimal `db:"rate_private"`
}

type expenseRow struct {
	ID          string              `db:"id"`
	CycleID     string              `db:"cycle_id"`
	MeetingID   sql.NullString      `db:"meeting_id"`
	Kind        string              `db:"kind"`
	Description string              `db:"description"`
	Amount      decimal.NullDecimal `db:"amount"`
	Hours       decimal.NullDecimal `db:"hours"`
	Rate        decimal.NullDecimal `db:"rate"`
	Percentage  decimal.NullDecimal `db:"percentage"`
	IncurredOn  sql.NullString      `db:"incurred_on"`
}

// requestDoc is the JSON shape of a pending change request.
type requestDoc struct {
	Type        string     `json:"type"`
	Reason      string     `json:"reason,omitempty"`
	NewDate     *time.Time `json:"new_date,omitempty"`
	NewStart    string     `json:"new_start,omitempty"`
	NewEnd      string     `json:"new_end,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r cycleRow) toDomain() settlement.Cycle {
	c := settlement.Cycle{
		ID:                settlement.CycleID(r.ID),
		Name:              r.Name,
		Type:              settlement.CycleType(r.Type),
		InstructorID:      settlement.InstructorID(r.InstructorID.String),
		TotalMeetings:     r.TotalMeetings,
		CompletedMeetings: r.CompletedMeetings,
		RemainingMeetings: r.RemainingMeetings,
		PricePerStudent:   r.PricePerStudent,
		MeetingRevenue:    r.MeetingRevenue,
		DurationMinutes:   r.DurationMinutes,
		ActivityType:      settlement.ActivityType(r.ActivityType),
		IsOnline:          r.IsOnline != 0,
		CreatedAt:         parseTime(r.CreatedAt),
		UpdatedAt:         parseTime(r.UpdatedAt),
	}
	if r.StudentCount.Valid {
		n := int(r.StudentCount.Int64)
		c.StudentCount = &n
	}
	return c
}

func fromCycle(c settlement.Cycle) cycleRow {
	r := cycleRow{
		ID:                string(c.ID),
		Name:              c.Name,
		Type:              string(c.Type),
		InstructorID:      nullString(string(c.InstructorID)),
		TotalMeetings:     c.TotalMeetings,
		CompletedMeetings: c.CompletedMeetings,
		RemainingMeetings: c.RemainingMeetings,
		PricePerStudent:   c.PricePerStudent,
		MeetingRevenue:    c.MeetingRevenue,
		DurationMinutes:   c.DurationMinutes,
		ActivityType:      string(c.ActivityType),
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
	}
	if c.IsOnline {
		r.IsOnline = 1
	}
	if c.StudentCount != nil {
		r.StudentCount = sql.NullInt64{Int64: int64(*c.StudentCount), Valid: true}
	}
	return r
}

func (r meetingRow) toDomain() (settlement.Meeting, error) {
	date, err := time.Parse(dateLayout, r.ScheduledDate)
	if err != nil {
		return settlement.Meeting{}, fmt.Errorf("meeting %s: bad scheduled_date %q: %w", r.ID, r.ScheduledDate, err)
	}
	m := settlement.Meeting{
		ID:                settlement.MeetingID(r.ID),
		CycleID:           settlement.CycleID(r.CycleID),
		InstructorID:      settlement.InstructorID(r.InstructorID.String),
		ScheduledDate:     date,
		StartTime:         settlement.TimeOfDay(r.StartTime),
		EndTime:           settlement.TimeOfDay(r.EndTime),
		Status:            settlement.MeetingStatus(r.Status),
		ActivityType:      settlement.ActivityType(r.ActivityType),
		Revenue:           r.Revenue,
		InstructorPayment: r.InstructorPayment,
		Profit:            r.Profit,
		RescheduledToID:   meetingIDPtr(r.RescheduledToID),
		RescheduledFromID: meetingIDPtr(r.RescheduledFromID),
		Notes:             r.Notes,
		StatusUpdatedBy:   r.StatusUpdatedBy,
		CreatedAt:         parseTime(r.CreatedAt),
	}
	if r.StatusUpdatedAt.Valid {
		m.StatusUpdatedAt = parseTime(r.StatusUpdatedAt.String)
	}
	if r.DeletedAt.Valid {
		t := parseTime(r.DeletedAt.String)
		m.DeletedAt = &t
	}
	if r.RequestJSON.Valid && r.RequestJSON.String != "" {
		var doc requestDoc
		if err := json.Unmarshal([]byte(r.RequestJSON.String), &doc); err != nil {
			return settlement.Meeting{}, fmt.Errorf("meeting %s: bad request_json: %w", r.ID, err)
		}
		m.Request = &settlement.ChangeRequest{
			Type:        settlement.ChangeType(doc.Type),
			Reason:      doc.Reason,
			NewDate:     doc.NewDate,
			NewStart:    settlement.TimeOfDay(doc.NewStart),
			NewEnd:      settlement.TimeOfDay(doc.NewEnd),
			RequestedBy: doc.RequestedBy,
			RequestedAt: doc.RequestedAt,
		}
	}
	return m, nil
}

func fromMeeting(m settlement.Meeting) (meetingRow, error) {
	r := meetingRow{
		ID:                string(m.ID),
		CycleID:           string(m.CycleID),
		InstructorID:      nullString(string(m.InstructorID)),
		ScheduledDate:     m.ScheduledDate.Format(dateLayout),
		StartTime:         string(m.StartTime),
		EndTime:           string(m.EndTime),
		Status:            string(m.Status),
		ActivityType:      string(m.ActivityType),
		Revenue:           m.Revenue,
		InstructorPayment: m.InstructorPayment,
		Profit:            m.Profit,
		Notes:             m.Notes,
		StatusUpdatedBy:   m.StatusUpdatedBy,
		CreatedAt:         formatTime(m.CreatedAt),
	}
	if m.RescheduledToID != nil {
		r.RescheduledToID = nullString(string(*m.RescheduledToID))
	}
	if m.RescheduledFromID != nil {
		r.RescheduledFromID = nullString(string(*m.RescheduledFromID))
	}
	if !m.StatusUpdatedAt.IsZero() {
		r.StatusUpdatedAt = nullString(formatTime(m.StatusUpdatedAt))
	}
	if m.DeletedAt != nil {
		r.DeletedAt = nullString(formatTime(*m.DeletedAt))
	}
	if m.Request != nil {
		raw, err := json.Marshal(requestDoc{
			Type:        string(m.Request.Type),
			Reason:      m.Request.Reason,
			NewDate:     m.Request.NewDate,
			NewStart:    string(m.Request.NewStart),
			NewEnd:      string(m.Request.NewEnd),
			RequestedBy: m.Request.RequestedBy,
			RequestedAt: m.Request.RequestedAt,
		})
		if err != nil {
			return meetingRow{}, fmt.Errorf("encode request of %s: %w", m.ID, err)
		}
		r.RequestJSON = nullString(string(raw))
	}
	return r, nil
}

func (r registrationRow) toDomain() settlement.Registration {
	return settlement.Registration{
		ID:        settlement.RegistrationID(r.ID),
		CycleID:   settlement.CycleID(r.CycleID),
		StudentID: r.StudentID,
		Status:    settlement.RegistrationStatus(r.Status),
		Amount:    r.Amount,
	}
}

func (r instructorRow) toDomain() settlement.Instructor {
	return settlement.Instructor{
		ID:          settlement.InstructorID(r.ID),
		Name:        r.Name,
		RateFrontal: r.RateFrontal,
		RateOnline:  r.RateOnline,
		RatePrivate: r.RatePrivate,
	}
}

func (r expenseRow) toDomain() settlement.CycleExpense {
	e := settlement.CycleExpense{
		ID:          settlement.ExpenseID(r.ID),
		CycleID:     settlement.CycleID(r.CycleID),
		Kind:        settlement.ExpenseKind(r.Kind),
		Description: r.Description,
		Amount:      r.Amount,
		Hours:       r.Hours,
		Rate:        r.Rate,
		Percentage:  r.Percentage,
		MeetingID:   meetingIDPtr(r.MeetingID),
	}
	if r.IncurredOn.Valid {
		if t, err := time.Parse(dateLayout, r.IncurredOn.String); err == nil {
			e.IncurredOn = t
		}
	}
	return e
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func meetingIDPtr(s sql.NullString) *settlement.MeetingID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id := settlement.MeetingID(s.String)
	return &id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return nullString(t.Format(dateLayout))
}
