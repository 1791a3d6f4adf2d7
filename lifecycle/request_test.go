package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// REQUEST / APPROVE / REJECT
// =============================================================================

func TestRequestChange_Cancellation_PendsAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	m, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{
		Type:   settlement.ChangeCancellation,
		Reason: "sick",
	}, "inst-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPendingCancellation, m.Status)
	assert.Equal(t, "sick", m.Notes)
	require.NotNil(t, m.Request)
	assert.Equal(t, "inst-1", m.Request.RequestedBy)
	assert.Equal(t, []lifecycle.NotificationKind{lifecycle.NotifyRequestCreated}, f.notifier.kinds())
}

func TestRequestChange_SameTypeTwice_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	in := lifecycle.ChangeInput{Type: settlement.ChangeCancellation, Reason: "sick"}

	_, err := f.engine.RequestChange(f.ctx, "m-1", in, "inst-1")
	require.NoError(t, err)
	_, err = f.engine.RequestChange(f.ctx, "m-1", in, "inst-1")

	require.ErrorIs(t, err, lifecycle.ErrDuplicateRequest)
	var dup *lifecycle.DuplicateRequestError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, settlement.ChangeCancellation, dup.Type)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestRequestChange_OtherTypeWhilePending_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangeCancellation}, "inst-1")
	require.NoError(t, err)
	_, err = f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangePostponement}, "inst-1")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestRequestChange_UnknownType_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: "teleport"}, "inst-1")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

func TestApprove_Cancellation_CancelsWithReason(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangeCancellation, Reason: "sick"}, "inst-1")
	require.NoError(t, err)

	res, err := f.engine.Approve(f.ctx, "m-1", lifecycle.ApproveInput{}, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusCancelled, res.Meeting.Status)
	assert.Equal(t, "sick", res.Meeting.Notes)
	assert.Nil(t, res.Meeting.Request)
	assert.Nil(t, res.Successor)
	assert.Equal(t, []lifecycle.NotificationKind{
		lifecycle.NotifyRequestCreated,
		lifecycle.NotifyRequestApproved,
	}, f.notifier.kinds())
}

func TestApprove_Postponement_UsesRequestedDate(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{
		Type:     settlement.ChangePostponement,
		Reason:   "trip",
		NewDate:  date(2025, time.March, 10),
		NewStart: "10:00",
	}, "inst-1")
	require.NoError(t, err)

	res, err := f.engine.Approve(f.ctx, "m-1", lifecycle.ApproveInput{}, "admin")
	require.NoError(t, err)

	require.NotNil(t, res.Successor)
	assert.Equal(t, settlement.StatusPostponed, res.Meeting.Status)
	assert.Equal(t, *date(2025, time.March, 10), res.Successor.ScheduledDate)
	assert.Equal(t, settlement.TimeOfDay("10:00"), res.Successor.StartTime)
	assert.Equal(t, settlement.TimeOfDay("17:30"), res.Successor.EndTime)
}

func TestApprove_Postponement_AdminOverridesDate(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{
		Type:    settlement.ChangePostponement,
		NewDate: date(2025, time.March, 10),
	}, "inst-1")
	require.NoError(t, err)

	res, err := f.engine.Approve(f.ctx, "m-1", lifecycle.ApproveInput{NewDate: date(2025, time.March, 12)}, "admin")
	require.NoError(t, err)

	assert.Equal(t, *date(2025, time.March, 12), res.Successor.ScheduledDate)
}

func TestApprove_PostponementWithoutDate_InvalidInputAndUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangePostponement}, "inst-1")
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, "m-1", lifecycle.ApproveInput{}, "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
	assert.Equal(t, settlement.StatusPendingPostponement, f.meeting(t, "m-1").Status)
}

func TestApprove_NotPending_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	_, err := f.engine.Approve(f.ctx, "m-1", lifecycle.ApproveInput{}, "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestReject_Cancellation_RevertsAndClearsReason(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	_, err := f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangeCancellation, Reason: "sick"}, "inst-1")
	require.NoError(t, err)

	m, err := f.engine.Reject(f.ctx, "m-1", "find a substitute", "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusScheduled, m.Status)
	assert.Empty(t, m.Notes)
	assert.Nil(t, m.Request)
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, lifecycle.NotifyRequestRejected, f.notifier.sent[1].kind)
	assert.Equal(t, "find a substitute", f.notifier.sent[1].payload.Reason)

	// A fresh request is allowed again
	_, err = f.engine.RequestChange(f.ctx, "m-1", lifecycle.ChangeInput{Type: settlement.ChangeCancellation}, "inst-1")
	assert.NoError(t, err)
}

func TestReject_NotPending_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	_, err := f.engine.Reject(f.ctx, "m-1", "", "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}
