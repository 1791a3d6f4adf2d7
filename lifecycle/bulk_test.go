package lifecycle_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

func TestBulkComplete_PartialFailure(t *testing.T) {
	// GIVEN: three scheduled, one already completed, one unknown id
	// THEN: 3 succeed, 2 fail with reasons, in input order
	f := newFixture(t)
	for _, id := range []settlement.MeetingID{"m-1", "m-2", "m-3", "m-done"} {
		f.addMeeting(t, id, "cycle-1")
	}
	_, err := f.engine.Complete(f.ctx, "m-done", "admin")
	require.NoError(t, err)

	runner := lifecycle.NewBulkRunner(f.engine, 4)
	res, err := runner.Complete(f.ctx, []settlement.MeetingID{"m-1", "m-done", "m-2", "missing", "m-3"}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Succeeded)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, settlement.MeetingID("m-done"), res.Failed[0].ID)
	assert.ErrorIs(t, res.Failed[0].Err, lifecycle.ErrInvalidTransition)
	assert.Equal(t, settlement.MeetingID("missing"), res.Failed[1].ID)
	assert.True(t, lifecycle.IsNotFound(res.Failed[1].Err))
	assert.NotEmpty(t, res.Failed[1].Reason)

	assert.Equal(t, settlement.Progress{Total: 10, Completed: 4, Remaining: 6}, f.progress(t, "cycle-1"))
}

func TestBulk_DuplicateIDsCountedOnce(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	res, err := lifecycle.NewBulkRunner(f.engine, 2).Complete(f.ctx, []settlement.MeetingID{"m-1", "m-1", "m-1"}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, f.progress(t, "cycle-1").Completed)
}

func TestBulk_PanickingItemIsServerFault(t *testing.T) {
	// GIVEN: an operation that panics on one meeting
	// THEN: that item fails as a server fault, the other still succeeds
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	f.addMeeting(t, "m-2", "cycle-1")

	op := func(ctx context.Context, id settlement.MeetingID) (lifecycle.Outcome, error) {
		if id == "m-1" {
			panic("boom")
		}
		return lifecycle.OutcomeApplied, nil
	}
	res, err := lifecycle.NewBulkRunner(f.engine, 2).Run(f.ctx, []settlement.MeetingID{"m-1", "m-2"}, op)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, settlement.MeetingID("m-1"), res.Failed[0].ID)
	assert.ErrorIs(t, res.Failed[0].Err, lifecycle.ErrOperationPanicked)
	assert.False(t, lifecycle.IsClientError(res.Failed[0].Err))
}

func TestBulk_EmptyList_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := lifecycle.NewBulkRunner(f.engine, 2).Complete(f.ctx, nil, "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

func TestBulkRecalculate_CountsSkips(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	f.addMeeting(t, "m-2", "cycle-1")
	runner := lifecycle.NewBulkRunner(f.engine, 2)
	_, err := runner.Complete(f.ctx, []settlement.MeetingID{"m-1", "m-2"}, "admin")
	require.NoError(t, err)

	res, err := runner.Recalculate(f.ctx, []settlement.MeetingID{"m-1", "m-2"}, false, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Succeeded)

	res, err = runner.Recalculate(f.ctx, []settlement.MeetingID{"m-1", "m-2"}, true, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
}

func TestBulk_ManyCyclesConcurrently(t *testing.T) {
	f := newFixture(t)
	var ids []settlement.MeetingID
	for i := 0; i < 6; i++ {
		id := settlement.MeetingID(fmt.Sprintf("a-%d", i))
		f.addMeeting(t, id, "cycle-1")
		ids = append(ids, id)
	}
	for i := 0; i < 4; i++ {
		id := settlement.MeetingID(fmt.Sprintf("b-%d", i))
		f.addMeeting(t, id, "cycle-loss")
		ids = append(ids, id)
	}

	res, err := lifecycle.NewBulkRunner(f.engine, 3).Complete(f.ctx, ids, "admin")
	require.NoError(t, err)

	assert.Equal(t, 10, res.Succeeded)
	assert.Equal(t, settlement.Progress{Total: 10, Completed: 6, Remaining: 4}, f.progress(t, "cycle-1"))
	assert.Equal(t, settlement.Progress{Total: 4, Completed: 4, Remaining: 0}, f.progress(t, "cycle-loss"))
}

func TestBulkUpdateStatus_InvalidTarget(t *testing.T) {
	f := newFixture(t)

	_, err := lifecycle.NewBulkRunner(f.engine, 1).UpdateStatus(f.ctx, []settlement.MeetingID{"m-1"}, "bogus", lifecycle.UpdateOptions{})

	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

func TestBulkDelete(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	f.addMeeting(t, "m-2", "cycle-1")

	res, err := lifecycle.NewBulkRunner(f.engine, 1).Delete(f.ctx, []settlement.MeetingID{"m-1", "m-2"}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	_, err = f.engine.Get(f.ctx, "m-2")
	assert.True(t, lifecycle.IsNotFound(err))
}

func TestBulk_CancelledContext_FailsRemaining(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	res, err := lifecycle.NewBulkRunner(f.engine, 1).Complete(ctx, []settlement.MeetingID{"m-1"}, "admin")
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, context.Canceled)
}
