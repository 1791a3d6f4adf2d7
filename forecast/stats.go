package forecast

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/warp/meeting-engine/settlement"
)

// average keeps a running decimal mean.
type average struct {
	sum   decimal.Decimal
	count int
}

func (a *average) add(v decimal.Decimal) {
	a.sum = a.sum.Add(v)
	a.count++
}

// value returns the rounded mean and false when nothing was added.
func (a average) value() (decimal.Decimal, bool) {
	if a.count == 0 {
		return decimal.Zero, false
	}
	return settlement.RoundMoney(a.sum.Div(decimal.NewFromInt(int64(a.count)))), true
}

// history holds per-cycle and global averages of settled meetings.
type history struct {
	cycleRevenue  map[settlement.CycleID]*average
	cyclePayment  map[settlement.CycleID]*average
	globalRevenue average
	globalPayment average
	revenues      []float64
	months        map[string]bool
}

func newHistory(completed []settlement.Meeting) *history {
	h := &history{
		cycleRevenue: make(map[settlement.CycleID]*average),
		cyclePayment: make(map[settlement.CycleID]*average),
		months:       make(map[string]bool),
	}
	for _, m := range completed {
		h.months[settlement.MonthKey(m.ScheduledDate)] = true
		if m.Revenue.IsPositive() {
			bucket(h.cycleRevenue, m.CycleID).add(m.Revenue)
			h.globalRevenue.add(m.Revenue)
			f, _ := m.Revenue.Float64()
			h.revenues = append(h.revenues, f)
		}
		if m.InstructorPayment.IsPositive() {
			bucket(h.cyclePayment, m.CycleID).add(m.InstructorPayment)
			h.globalPayment.add(m.InstructorPayment)
		}
	}
	return h
}

func bucket(m map[settlement.CycleID]*average, id settlement.CycleID) *average {
	a, ok := m[id]
	if !ok {
		a = &average{}
		m[id] = a
	}
	return a
}

// totalMonths is the number of distinct months with a completed meeting,
// never less than one.
func (h *history) totalMonths() int {
	if len(h.months) == 0 {
		return 1
	}
	return len(h.months)
}

// confidence is 100 - min(100, 100 × stddev/mean) over historical revenue,
// and 0 without usable history.
func confidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	return 100 - math.Min(100, 100*std/mean)
}
