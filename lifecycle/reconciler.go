package lifecycle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/settlement"
)

// Reconciler keeps cycle progress counters in step with meeting states. It
// is the only writer of CompletedMeetings and RemainingMeetings.
//
// A +1 delta means a meeting entered "completed"; -1 means one left it.
// Remaining moves by the opposite amount. Counters never go below zero: a
// delta that would do so is clamped and logged. On -1, remaining is also
// capped at total - completed, so completions past the total (ad-hoc
// meetings) that were clamped on the way in are not refunded on the way out.
type Reconciler struct {
	log logrus.FieldLogger
}

func NewReconciler(log logrus.FieldLogger) *Reconciler {
	return &Reconciler{log: log}
}

// Reconcile applies delta to the cycle inside the caller's transaction s.
func (r *Reconciler) Reconcile(ctx context.Context, s Store, cycleID settlement.CycleID, delta int) (settlement.Progress, error) {
	if delta != 1 && delta != -1 {
		return settlement.Progress{}, invalidInput("counter delta must be +1 or -1, got %d", delta)
	}

	current, err := s.LockProgress(ctx, cycleID)
	if err != nil {
		return settlement.Progress{}, fmt.Errorf("lock cycle %s: %w", cycleID, err)
	}

	completedDelta, remainingDelta := delta, -delta
	fields := logrus.Fields{
		"cycle_id":  cycleID,
		"completed": current.Completed,
		"remaining": current.Remaining,
		"total":     current.Total,
		"delta":     delta,
	}
	if current.Completed+completedDelta < 0 {
		r.log.WithFields(fields).Warn("completed counter would go negative, clamping")
		completedDelta = -current.Completed
	}
	if current.Remaining+remainingDelta < 0 {
		r.log.WithFields(fields).Warn("remaining counter would go negative, clamping")
		remainingDelta = -current.Remaining
	}
	if delta < 0 {
		ceiling := max(0, current.Total-(current.Completed+completedDelta))
		if current.Remaining+remainingDelta > ceiling {
			remainingDelta = max(0, ceiling-current.Remaining)
		}
	}

	next := settlement.Progress{
		Total:     current.Total,
		Completed: current.Completed + completedDelta,
		Remaining: current.Remaining + remainingDelta,
	}
	if completedDelta == 0 && remainingDelta == 0 {
		return next, nil
	}

	if err := s.AddProgress(ctx, cycleID, completedDelta, remainingDelta); err != nil {
		return settlement.Progress{}, fmt.Errorf("update cycle %s counters: %w", cycleID, err)
	}

	if !next.Consistent() {
		r.log.WithFields(fields).WithField("next_completed", next.Completed).
			WithField("next_remaining", next.Remaining).
			Warn("cycle counters do not add up to total")
	}
	return next, nil
}
