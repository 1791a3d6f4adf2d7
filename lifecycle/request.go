package lifecycle

import (
	"context"
	"time"

	"github.com/warp/meeting-engine/settlement"
)

// ChangeInput is an instructor's request to cancel or postpone a meeting.
// The date and times are proposals for postponements and may be empty.
type ChangeInput struct {
	Type     settlement.ChangeType
	Reason   string
	NewDate  *time.Time
	NewStart settlement.TimeOfDay
	NewEnd   settlement.TimeOfDay
}

// RequestChange parks a scheduled meeting in the pending status matching the
// request type and notifies administrators. A meeting already pending on the
// same type yields a DuplicateRequestError.
func (e *Engine) RequestChange(ctx context.Context, id settlement.MeetingID, in ChangeInput, actor string) (*settlement.Meeting, error) {
	if !in.Type.Valid() {
		return nil, invalidInput("unknown change type %q", in.Type)
	}

	var out settlement.Meeting
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		pending := in.Type.PendingStatus()
		if m.Status == pending {
			return &DuplicateRequestError{MeetingID: m.ID, Type: in.Type}
		}
		if m.Status != settlement.StatusScheduled {
			return invalidTransition(m, string(pending))
		}

		now := e.clock.Now()
		m.Status = pending
		m.Notes = in.Reason
		m.Request = &settlement.ChangeRequest{
			Type:        in.Type,
			Reason:      in.Reason,
			NewDate:     in.NewDate,
			NewStart:    in.NewStart,
			NewEnd:      in.NewEnd,
			RequestedBy: actor,
			RequestedAt: now,
		}
		e.stamp(m, actor)
		if err := t.UpdateMeeting(ctx, *m); err != nil {
			return err
		}

		p := e.payload(m, actor)
		p.ChangeType = in.Type
		p.Reason = in.Reason
		t.notify(NotifyRequestCreated, p)
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveInput lets the approving admin set or override the postponement
// date and times. Unset fields fall back to what the instructor proposed.
type ApproveInput struct {
	NewDate  *time.Time
	NewStart settlement.TimeOfDay
	NewEnd   settlement.TimeOfDay
}

// ApproveResult is the approved meeting plus, for postponements, the new
// successor.
type ApproveResult struct {
	Meeting   settlement.Meeting
	Successor *settlement.Meeting
}

// Approve applies a pending request. Cancellations cancel with the request's
// reason; postponements create the successor on the approved date.
func (e *Engine) Approve(ctx context.Context, id settlement.MeetingID, in ApproveInput, actor string) (*ApproveResult, error) {
	var res ApproveResult
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}

		req := m.Request
		if req == nil {
			req = &settlement.ChangeRequest{Reason: m.Notes}
		}
		p := e.payload(m, actor)
		p.Reason = req.Reason

		switch m.Status {
		case settlement.StatusPendingCancellation:
			p.ChangeType = settlement.ChangeCancellation
			if err := e.cancel(ctx, t, m, req.Reason, actor); err != nil {
				return err
			}

		case settlement.StatusPendingPostponement:
			p.ChangeType = settlement.ChangePostponement
			pi := PostponeInput{StartTime: req.NewStart, EndTime: req.NewEnd}
			if req.NewDate != nil {
				pi.NewDate = *req.NewDate
			}
			if in.NewDate != nil {
				pi.NewDate = *in.NewDate
			}
			if !in.NewStart.IsZero() {
				pi.StartTime = in.NewStart
			}
			if !in.NewEnd.IsZero() {
				pi.EndTime = in.NewEnd
			}
			successor, err := e.postpone(ctx, t, m, pi, actor)
			if err != nil {
				return err
			}
			res.Successor = successor

		default:
			return invalidTransition(m, "approve")
		}

		t.notify(NotifyRequestApproved, p)
		res.Meeting = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Reject returns a pending meeting to scheduled and notifies the
// instructor. A rejected cancellation also drops the recorded reason.
func (e *Engine) Reject(ctx context.Context, id settlement.MeetingID, reason, actor string) (*settlement.Meeting, error) {
	var out settlement.Meeting
	err := e.transact(ctx, func(t *txn) error {
		m, err := t.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if !m.Status.IsPending() {
			return invalidTransition(m, "reject")
		}

		changeType := settlement.ChangePostponement
		if m.Status == settlement.StatusPendingCancellation {
			changeType = settlement.ChangeCancellation
			m.Notes = ""
		}
		m.Status = settlement.StatusScheduled
		m.Request = nil
		e.stamp(m, actor)
		if err := t.UpdateMeeting(ctx, *m); err != nil {
			return err
		}

		p := e.payload(m, actor)
		p.ChangeType = changeType
		p.Reason = reason
		t.notify(NotifyRequestRejected, p)
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
