/*
Package forecast projects revenue and cost for meetings that have not
happened yet.

PURPOSE:
  For every scheduled meeting in a future window, estimate revenue and
  instructor payment with the same rules the settlement calculator uses,
  falling back to historical averages when the rules cannot produce a value.
  Add recurring expenses mined from history. The result is advisory: it is
  computed from plain reads without locks and tolerates read skew.

FALLBACK ORDER (revenue and payment alike):
  stored on the meeting → settlement rule → cycle average → global average → none

EXPENSES:
  Ad-hoc expenses recorded against completed meetings are grouped by
  (cycle, kind). frequency = distinct months seen / months with any completed
  meeting. Patterns with frequency > 0.3 add avgAmount × frequency to every
  forecast month in which their cycle has scheduled meetings.

CONFIDENCE:
  100 - min(100, 100 × stddev/mean) of historical meeting revenue.
  Informational only.
*/
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// Source is the read-only data the forecaster needs.
type Source interface {
	ListMeetings(ctx context.Context, f settlement.MeetingFilter) ([]settlement.Meeting, error)
	ListExpenses(ctx context.Context, f settlement.ExpenseFilter) ([]settlement.CycleExpense, error)
	GetCycle(ctx context.Context, id settlement.CycleID) (*settlement.Cycle, error)
	GetInstructor(ctx context.Context, id settlement.InstructorID) (*settlement.Instructor, error)
	ListRegistrations(ctx context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error)
}

// EstimateSource labels where an estimated amount came from.
type EstimateSource string

const (
	SourceStored        EstimateSource = "stored"
	SourceRule          EstimateSource = "rule"
	SourceCycleHistory  EstimateSource = "cycle_history"
	SourceGlobalHistory EstimateSource = "global_history"
	SourceNone          EstimateSource = "none"
)

// Window is an inclusive date range.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("%w: forecast window needs both ends", lifecycle.ErrInvalidInput)
	}
	if w.To.Before(w.From) {
		return fmt.Errorf("%w: forecast window ends before it starts", lifecycle.ErrInvalidInput)
	}
	return nil
}

// MeetingEstimate is the projection for one scheduled meeting.
type MeetingEstimate struct {
	MeetingID     settlement.MeetingID
	CycleID       settlement.CycleID
	Date          time.Time
	Revenue       decimal.Decimal
	Payment       decimal.Decimal
	RevenueSource EstimateSource
	PaymentSource EstimateSource
}

// MonthBreakdown totals one calendar month of the window.
type MonthBreakdown struct {
	Month          string // "2006-01"
	Meetings       int
	Revenue        decimal.Decimal
	InstructorCost decimal.Decimal
	Expenses       decimal.Decimal
	Profit         decimal.Decimal
}

// Forecast is the full projection for a window.
type Forecast struct {
	Window      Window
	GeneratedAt time.Time

	Meetings []MeetingEstimate
	Months   []MonthBreakdown
	Patterns []ExpensePattern

	TotalRevenue        decimal.Decimal
	TotalInstructorCost decimal.Decimal
	TotalExpenses       decimal.Decimal
	TotalProfit         decimal.Decimal

	Confidence    float64
	HistoryMonths int
}

// =============================================================================
// FORECASTER
// =============================================================================

type Forecaster struct {
	src           Source
	clock         lifecycle.Clock
	historyMonths int
	log           logrus.FieldLogger
}

type Option func(*Forecaster)

func WithClock(c lifecycle.Clock) Option { return func(f *Forecaster) { f.clock = c } }

func WithLogger(l logrus.FieldLogger) Option { return func(f *Forecaster) { f.log = l } }

// WithHistoryMonths sets how far back history is mined. Default 12.
func WithHistoryMonths(n int) Option {
	return func(f *Forecaster) {
		if n > 0 {
			f.historyMonths = n
		}
	}
}

func New(src Source, opts ...Option) *Forecaster {
	f := &Forecaster{
		src:           src,
		clock:         lifecycle.SystemClock{},
		historyMonths: 12,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forecast projects every scheduled meeting in w.
func (f *Forecaster) Forecast(ctx context.Context, w Window) (*Forecast, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	now := f.clock.Now()
	histFrom := settlement.DateOnly(now).AddDate(0, -f.historyMonths, 0)

	completed, err := f.src.ListMeetings(ctx, settlement.MeetingFilter{
		Statuses: []settlement.MeetingStatus{settlement.StatusCompleted},
		From:     histFrom,
		To:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	hist := newHistory(completed)

	byID := make(map[settlement.MeetingID]settlement.Meeting, len(completed))
	for _, m := range completed {
		byID[m.ID] = m
	}
	expenses, err := f.src.ListExpenses(ctx, settlement.ExpenseFilter{})
	if err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	patterns := minePatterns(expenses, byID, hist.totalMonths())

	// Scheduled meetings dated before today are stale and not projected.
	from := settlement.DateOnly(w.From)
	if today := settlement.DateOnly(now); from.Before(today) {
		from = today
	}
	upcoming, err := f.src.ListMeetings(ctx, settlement.MeetingFilter{
		Statuses: []settlement.MeetingStatus{settlement.StatusScheduled},
		From:     from,
		To:       w.To,
	})
	if err != nil {
		return nil, fmt.Errorf("load scheduled meetings: %w", err)
	}

	out := &Forecast{
		Window:              w,
		GeneratedAt:         now,
		Patterns:            patterns,
		TotalRevenue:        decimal.Zero,
		TotalInstructorCost: decimal.Zero,
		TotalExpenses:       decimal.Zero,
		TotalProfit:         decimal.Zero,
		Confidence:          confidence(hist.revenues),
		HistoryMonths:       f.historyMonths,
	}

	months, index := monthsOf(w)
	active := make(map[string]map[settlement.CycleID]bool)
	inputs := newInputCache(f.src)

	for _, m := range upcoming {
		est := f.estimate(ctx, m, inputs, hist)
		out.Meetings = append(out.Meetings, est)

		key := settlement.MonthKey(m.ScheduledDate)
		i, ok := index[key]
		if !ok {
			continue
		}
		months[i].Meetings++
		months[i].Revenue = months[i].Revenue.Add(est.Revenue)
		months[i].InstructorCost = months[i].InstructorCost.Add(est.Payment)
		if active[key] == nil {
			active[key] = make(map[settlement.CycleID]bool)
		}
		active[key][m.CycleID] = true
	}

	for i := range months {
		for _, p := range patterns {
			if active[months[i].Month][p.CycleID] {
				months[i].Expenses = months[i].Expenses.Add(p.MonthlyAmount())
			}
		}
		months[i].Profit = months[i].Revenue.Sub(months[i].InstructorCost).Sub(months[i].Expenses)

		out.TotalRevenue = out.TotalRevenue.Add(months[i].Revenue)
		out.TotalInstructorCost = out.TotalInstructorCost.Add(months[i].InstructorCost)
		out.TotalExpenses = out.TotalExpenses.Add(months[i].Expenses)
		out.TotalProfit = out.TotalProfit.Add(months[i].Profit)
	}
	out.Months = months

	f.log.WithFields(logrus.Fields{
		"from":       settlement.DateOnly(w.From).Format(time.DateOnly),
		"to":         settlement.DateOnly(w.To).Format(time.DateOnly),
		"meetings":   len(out.Meetings),
		"history":    len(completed),
		"patterns":   len(patterns),
		"confidence": out.Confidence,
	}).Debug("forecast computed")
	return out, nil
}

func (f *Forecaster) estimate(ctx context.Context, m settlement.Meeting, inputs *inputCache, hist *history) MeetingEstimate {
	est := MeetingEstimate{
		MeetingID:     m.ID,
		CycleID:       m.CycleID,
		Date:          m.ScheduledDate,
		Revenue:       decimal.Zero,
		Payment:       decimal.Zero,
		RevenueSource: SourceNone,
		PaymentSource: SourceNone,
	}

	in, err := inputs.load(ctx, m)
	if err != nil {
		f.log.WithError(err).WithField("meeting_id", m.ID).Warn("forecast inputs unavailable, using history")
	}

	switch {
	case m.Revenue.IsPositive():
		est.Revenue, est.RevenueSource = m.Revenue, SourceStored
	case in.cycle != nil && ruleRevenue(*in.cycle, in.regs, &est.Revenue):
		est.RevenueSource = SourceRule
	case fromAverage(hist.cycleRevenue[m.CycleID], &est.Revenue):
		est.RevenueSource = SourceCycleHistory
	case fromAverage(&hist.globalRevenue, &est.Revenue):
		est.RevenueSource = SourceGlobalHistory
	}

	switch {
	case m.InstructorPayment.IsPositive():
		est.Payment, est.PaymentSource = m.InstructorPayment, SourceStored
	case in.cycle != nil && rulePayment(m, *in.cycle, in.instructor, &est.Payment):
		est.PaymentSource = SourceRule
	case fromAverage(hist.cyclePayment[m.CycleID], &est.Payment):
		est.PaymentSource = SourceCycleHistory
	case fromAverage(&hist.globalPayment, &est.Payment):
		est.PaymentSource = SourceGlobalHistory
	}
	return est
}

func ruleRevenue(c settlement.Cycle, regs []settlement.Registration, dst *decimal.Decimal) bool {
	v, ok := settlement.RevenueRule(c, regs)
	if !ok || !v.IsPositive() {
		return false
	}
	*dst = v
	return true
}

func rulePayment(m settlement.Meeting, c settlement.Cycle, in *settlement.Instructor, dst *decimal.Decimal) bool {
	v, ok := settlement.PaymentRule(m, c, in)
	if !ok {
		return false
	}
	*dst = v
	return true
}

func fromAverage(a *average, dst *decimal.Decimal) bool {
	if a == nil {
		return false
	}
	v, ok := a.value()
	if !ok {
		return false
	}
	*dst = v
	return true
}

// monthsOf lists every calendar month touched by w and an index by key.
func monthsOf(w Window) ([]MonthBreakdown, map[string]int) {
	var months []MonthBreakdown
	index := make(map[string]int)
	cur := time.Date(w.From.Year(), w.From.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(w.To.Year(), w.To.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		key := settlement.MonthKey(cur)
		index[key] = len(months)
		months = append(months, MonthBreakdown{
			Month:          key,
			Revenue:        decimal.Zero,
			InstructorCost: decimal.Zero,
			Expenses:       decimal.Zero,
			Profit:         decimal.Zero,
		})
		cur = cur.AddDate(0, 1, 0)
	}
	return months, index
}

// =============================================================================
// INPUT CACHE
// =============================================================================

type cycleInputs struct {
	cycle      *settlement.Cycle
	regs       []settlement.Registration
	instructor *settlement.Instructor
}

// inputCache loads each cycle's calculator inputs once per forecast.
type inputCache struct {
	src         Source
	cycles      map[settlement.CycleID]cycleInputs
	instructors map[settlement.InstructorID]*settlement.Instructor
}

func newInputCache(src Source) *inputCache {
	return &inputCache{
		src:         src,
		cycles:      make(map[settlement.CycleID]cycleInputs),
		instructors: make(map[settlement.InstructorID]*settlement.Instructor),
	}
}

func (c *inputCache) load(ctx context.Context, m settlement.Meeting) (cycleInputs, error) {
	in, ok := c.cycles[m.CycleID]
	if !ok {
		cycle, err := c.src.GetCycle(ctx, m.CycleID)
		if err != nil {
			c.cycles[m.CycleID] = cycleInputs{}
			return cycleInputs{}, err
		}
		regs, err := c.src.ListRegistrations(ctx, m.CycleID)
		if err != nil {
			return cycleInputs{}, err
		}
		in = cycleInputs{cycle: cycle, regs: regs}
		c.cycles[m.CycleID] = in
	}
	if in.cycle == nil {
		return in, nil
	}

	id := m.InstructorID
	if id == "" {
		id = in.cycle.InstructorID
	}
	if id == "" {
		return in, nil
	}
	instructor, ok := c.instructors[id]
	if !ok {
		var err error
		instructor, err = c.src.GetInstructor(ctx, id)
		if err != nil && !lifecycle.IsNotFound(err) {
			return in, err
		}
		c.instructors[id] = instructor
	}
	in.instructor = instructor
	return in, nil
}
