package forecast

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/meeting-engine/settlement"
)

// projectionThreshold is the frequency a pattern must exceed to be
// projected forward.
const projectionThreshold = 0.3

// ExpensePattern is a recurring ad-hoc expense mined from history.
type ExpensePattern struct {
	CycleID    settlement.CycleID
	Kind       settlement.ExpenseKind
	AvgAmount  decimal.Decimal
	Count      int
	MonthsSeen int
	Frequency  float64
	Projected  bool
}

// MonthlyAmount is what the pattern adds to each forecast month in which
// its cycle has meetings.
func (p ExpensePattern) MonthlyAmount() decimal.Decimal {
	if !p.Projected {
		return decimal.Zero
	}
	return settlement.RoundMoney(p.AvgAmount.Mul(decimal.NewFromFloat(p.Frequency)))
}

type patternKey struct {
	cycle settlement.CycleID
	kind  settlement.ExpenseKind
}

// minePatterns groups expenses recorded against completed meetings by
// (cycle, kind). Percentage expenses are priced on the meeting's revenue.
func minePatterns(expenses []settlement.CycleExpense, completed map[settlement.MeetingID]settlement.Meeting, totalMonths int) []ExpensePattern {
	type acc struct {
		avg    average
		months map[string]bool
	}
	groups := make(map[patternKey]*acc)

	for _, e := range expenses {
		if e.MeetingID == nil {
			continue
		}
		m, ok := completed[*e.MeetingID]
		if !ok {
			continue
		}
		k := patternKey{cycle: m.CycleID, kind: e.Kind}
		g, ok := groups[k]
		if !ok {
			g = &acc{months: make(map[string]bool)}
			groups[k] = g
		}
		g.avg.add(e.Cost(m.Revenue))
		when := e.IncurredOn
		if when.IsZero() {
			when = m.ScheduledDate
		}
		g.months[settlement.MonthKey(when)] = true
	}

	out := make([]ExpensePattern, 0, len(groups))
	for k, g := range groups {
		avg, _ := g.avg.value()
		freq := float64(len(g.months)) / float64(totalMonths)
		if freq > 1 {
			freq = 1
		}
		out = append(out, ExpensePattern{
			CycleID:    k.cycle,
			Kind:       k.kind,
			AvgAmount:  avg,
			Count:      g.avg.count,
			MonthsSeen: len(g.months),
			Frequency:  freq,
			Projected:  freq > projectionThreshold,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CycleID != out[j].CycleID {
			return out[i].CycleID < out[j].CycleID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
