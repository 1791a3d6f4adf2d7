/*
calculator.go - Revenue, instructor payment and profit for one meeting

PURPOSE:
  The single place where settlement formulas live. Completing, recalculating,
  bulk recalculation and status patches all call Settle; the forecaster calls
  the individual rules. Nothing here touches storage.

REVENUE (by cycle type):
  private:                 round(sum(amount of registered/active) / totalMeetings)
  institutional_per_child: round(pricePerStudent × (studentCount or #active))
  institutional_fixed:     meetingRevenue

INSTRUCTOR PAYMENT:
  activity: meeting → cycle → (isOnline ? online : private ? private_lesson : frontal)
  rate:     online → rateOnline|rateFrontal, private_lesson → ratePrivate|rateFrontal,
            frontal → rateFrontal
  duration: start/end span when 0 < span < 1440, else cycle.durationMinutes
  payment:  round(rate × duration / 60)

ROUNDING:
  Half-up to whole currency units, applied once per quantity.

PROFIT:
  revenue - payment. Negative profit is valid.
*/
package settlement

import "github.com/shopspring/decimal"

var sixty = decimal.NewFromInt(60)

// Flag marks a condition the calculator absorbed instead of failing.
type Flag string

const (
	// FlagNoTotalMeetings: private cycle with totalMeetings <= 0, revenue forced to zero.
	FlagNoTotalMeetings Flag = "non_positive_total_meetings"
	// FlagNoInstructor: no instructor rate card available, payment is zero.
	FlagNoInstructor Flag = "missing_instructor"
	// FlagNoRevenueData: the cycle's billing fields are not set.
	FlagNoRevenueData Flag = "missing_revenue_data"
)

// Settlement is the financial triple of a completed meeting.
type Settlement struct {
	Revenue           decimal.Decimal
	InstructorPayment decimal.Decimal
	Profit            decimal.Decimal

	// Inputs resolved while computing the payment.
	Activity        ActivityType
	HourlyRate      decimal.Decimal
	DurationMinutes int

	Flags []Flag
}

// IsLoss reports a negative profit.
func (s Settlement) IsLoss() bool { return s.Profit.IsNegative() }

// Equal compares the financial triple only.
func (s Settlement) Equal(o Settlement) bool {
	return s.Revenue.Equal(o.Revenue) &&
		s.InstructorPayment.Equal(o.InstructorPayment) &&
		s.Profit.Equal(o.Profit)
}

// Settle computes the settlement of meeting m. instructor may be nil.
// It never fails: missing data yields zeros and a flag.
func Settle(m Meeting, c Cycle, regs []Registration, instructor *Instructor) Settlement {
	var s Settlement

	revenue, ok := RevenueRule(c, regs)
	if !ok {
		if c.Type == CyclePrivate && c.TotalMeetings <= 0 {
			s.Flags = append(s.Flags, FlagNoTotalMeetings)
		} else {
			s.Flags = append(s.Flags, FlagNoRevenueData)
		}
		revenue = decimal.Zero
	}

	s.Activity = ResolveActivity(m, c)
	s.DurationMinutes = ResolveDuration(m, c)
	if instructor == nil {
		s.Flags = append(s.Flags, FlagNoInstructor)
		s.HourlyRate = decimal.Zero
	} else {
		s.HourlyRate = ResolveRate(s.Activity, *instructor)
	}

	s.Revenue = revenue
	s.InstructorPayment = payment(s.HourlyRate, s.DurationMinutes)
	s.Profit = s.Revenue.Sub(s.InstructorPayment)
	return s
}

// RevenueRule applies the cycle's billing model. ok is false when the model
// cannot produce a value (missing fields, no paying registrations, or a
// private cycle without a positive meeting total).
func RevenueRule(c Cycle, regs []Registration) (decimal.Decimal, bool) {
	switch c.Type {
	case CyclePrivate:
		if c.TotalMeetings <= 0 {
			return decimal.Zero, false
		}
		total := decimal.Zero
		paying := 0
		for _, r := range regs {
			if r.Status != RegistrationRegistered && r.Status != RegistrationActive {
				continue
			}
			if r.Amount.Valid {
				total = total.Add(r.Amount.Decimal)
				paying++
			}
		}
		if paying == 0 {
			return decimal.Zero, false
		}
		return roundMoney(total.Div(decimal.NewFromInt(int64(c.TotalMeetings)))), true

	case CycleInstitutionalPerChild:
		if !c.PricePerStudent.Valid {
			return decimal.Zero, false
		}
		students := 0
		if c.StudentCount != nil && *c.StudentCount > 0 {
			students = *c.StudentCount
		} else {
			for _, r := range regs {
				if r.Status == RegistrationActive {
					students++
				}
			}
		}
		return roundMoney(c.PricePerStudent.Decimal.Mul(decimal.NewFromInt(int64(students)))), true

	case CycleInstitutionalFixed:
		if !c.MeetingRevenue.Valid {
			return decimal.Zero, false
		}
		return c.MeetingRevenue.Decimal, true
	}
	return decimal.Zero, false
}

// PaymentRule computes the instructor payment from the rate card. ok is false
// when there is no instructor or the resolved rate is zero.
func PaymentRule(m Meeting, c Cycle, instructor *Instructor) (decimal.Decimal, bool) {
	if instructor == nil {
		return decimal.Zero, false
	}
	rate := ResolveRate(ResolveActivity(m, c), *instructor)
	if !rate.IsPositive() {
		return decimal.Zero, false
	}
	return payment(rate, ResolveDuration(m, c)), true
}

// ResolveActivity picks the activity type: meeting, then cycle, then the
// legacy isOnline flag, then the billing model.
func ResolveActivity(m Meeting, c Cycle) ActivityType {
	if m.ActivityType != "" {
		return m.ActivityType
	}
	if c.ActivityType != "" {
		return c.ActivityType
	}
	if c.IsOnline {
		return ActivityOnline
	}
	if c.Type == CyclePrivate {
		return ActivityPrivateLesson
	}
	return ActivityFrontal
}

// ResolveRate picks the hourly rate for an activity, falling back to the
// frontal rate and finally zero.
func ResolveRate(a ActivityType, in Instructor) decimal.Decimal {
	switch a {
	case ActivityOnline:
		return firstSet(in.RateOnline, in.RateFrontal)
	case ActivityPrivateLesson:
		return firstSet(in.RatePrivate, in.RateFrontal)
	default:
		return firstSet(in.RateFrontal)
	}
}

func payment(rate decimal.Decimal, minutes int) decimal.Decimal {
	if minutes <= 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	return roundMoney(rate.Mul(decimal.NewFromInt(int64(minutes))).Div(sixty))
}

// firstSet returns the first set value, treating zero as unset the way the
// rate card does.
func firstSet(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid && !v.Decimal.IsZero() {
			return v.Decimal
		}
	}
	return decimal.Zero
}

// roundMoney rounds half-up to whole currency units.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// RoundMoney is exported for callers that aggregate rule outputs.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return roundMoney(d) }

// NullMoney builds a set NullDecimal from an integer amount.
func NullMoney(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}
