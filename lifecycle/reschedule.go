package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/meeting-engine/settlement"
)

// PostponeInput describes the replacement meeting. Empty times inherit the
// original meeting's times.
type PostponeInput struct {
	NewDate   time.Time
	StartTime settlement.TimeOfDay
	EndTime   settlement.TimeOfDay
}

// PostponeResult holds both ends of the new chain link.
type PostponeResult struct {
	Original  settlement.Meeting
	Successor settlement.Meeting
}

// Postpone marks a scheduled meeting postponed and creates its scheduled
// successor. Both rows are written in the same transaction.
func (e *Engine) Postpone(ctx context.Context, id settlement.MeetingID, in PostponeInput, actor string) (*PostponeResult, error) {
	var res PostponeResult
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != settlement.StatusScheduled {
			return invalidTransition(m, string(settlement.StatusPostponed))
		}
		successor, err := e.postpone(ctx, t, m, in, actor)
		if err != nil {
			return err
		}
		res.Original = *m
		res.Successor = *successor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *Engine) postpone(ctx context.Context, t *txn, m *settlement.Meeting, in PostponeInput, actor string) (*settlement.Meeting, error) {
	if in.NewDate.IsZero() {
		return nil, invalidInput("postponing meeting %s needs a new date", m.ID)
	}
	if m.RescheduledToID != nil {
		return nil, fmt.Errorf("%w: %s already points to %s", ErrAlreadyRescheduled, m.ID, *m.RescheduledToID)
	}

	now := e.clock.Now()
	from := m.ID
	successor := settlement.Meeting{
		ID:                e.newID(),
		CycleID:           m.CycleID,
		InstructorID:      m.InstructorID,
		ScheduledDate:     settlement.DateOnly(in.NewDate),
		StartTime:         m.StartTime,
		EndTime:           m.EndTime,
		Status:            settlement.StatusScheduled,
		ActivityType:      m.ActivityType,
		RescheduledFromID: &from,
		StatusUpdatedAt:   now,
		StatusUpdatedBy:   actor,
		CreatedAt:         now,
	}
	if !in.StartTime.IsZero() {
		successor.StartTime = in.StartTime
	}
	if !in.EndTime.IsZero() {
		successor.EndTime = in.EndTime
	}
	successor.ClearFinancials()

	if err := t.InsertMeeting(ctx, successor); err != nil {
		return nil, fmt.Errorf("insert successor of %s: %w", m.ID, err)
	}

	to := successor.ID
	m.Status = settlement.StatusPostponed
	m.RescheduledToID = &to
	m.Request = nil
	m.ClearFinancials()
	e.stamp(m, actor)
	if err := t.UpdateMeeting(ctx, *m); err != nil {
		return nil, fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	return &successor, nil
}

// =============================================================================
// CHAINS
// =============================================================================

// Chain returns the reschedule chain containing id, oldest first. A meeting
// that was never rescheduled is a chain of one.
func (e *Engine) Chain(ctx context.Context, id settlement.MeetingID) ([]settlement.Meeting, error) {
	m, err := e.store.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := map[settlement.MeetingID]bool{m.ID: true}
	root := *m
	for root.RescheduledFromID != nil {
		prev, err := e.store.GetMeeting(ctx, *root.RescheduledFromID)
		if err != nil {
			return nil, fmt.Errorf("walk back from %s: %w", root.ID, err)
		}
		if seen[prev.ID] {
			return nil, fmt.Errorf("%w: loop at %s", ErrBrokenChain, prev.ID)
		}
		if prev.RescheduledToID == nil || *prev.RescheduledToID != root.ID {
			return nil, fmt.Errorf("%w: %s does not point forward to %s", ErrBrokenChain, prev.ID, root.ID)
		}
		seen[prev.ID] = true
		root = *prev
	}

	chain := []settlement.Meeting{root}
	visited := map[settlement.MeetingID]bool{root.ID: true}
	cur := root
	for cur.RescheduledToID != nil {
		next, err := e.store.GetMeeting(ctx, *cur.RescheduledToID)
		if err != nil {
			return nil, fmt.Errorf("walk forward from %s: %w", cur.ID, err)
		}
		if visited[next.ID] {
			return nil, fmt.Errorf("%w: loop at %s", ErrBrokenChain, next.ID)
		}
		if next.RescheduledFromID == nil || *next.RescheduledFromID != cur.ID {
			return nil, fmt.Errorf("%w: %s does not point back to %s", ErrBrokenChain, next.ID, cur.ID)
		}
		visited[next.ID] = true
		chain = append(chain, *next)
		cur = *next
	}
	return chain, nil
}

// Latest returns the last meeting of the chain containing id.
func (e *Engine) Latest(ctx context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	chain, err := e.Chain(ctx, id)
	if err != nil {
		return nil, err
	}
	last := chain[len(chain)-1]
	return &last, nil
}
