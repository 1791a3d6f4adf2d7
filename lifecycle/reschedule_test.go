package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

func TestPostpone_CreatesLinkedSuccessor(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	res, err := f.engine.Postpone(f.ctx, "m-1", lifecycle.PostponeInput{NewDate: *date(2025, time.March, 17)}, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPostponed, res.Original.Status)
	require.NotNil(t, res.Original.RescheduledToID)
	assert.Equal(t, res.Successor.ID, *res.Original.RescheduledToID)

	assert.Equal(t, settlement.StatusScheduled, res.Successor.Status)
	require.NotNil(t, res.Successor.RescheduledFromID)
	assert.Equal(t, settlement.MeetingID("m-1"), *res.Successor.RescheduledFromID)
	assert.Equal(t, settlement.TimeOfDay("16:00"), res.Successor.StartTime)
	assert.Equal(t, settlement.TimeOfDay("17:30"), res.Successor.EndTime)
	assert.Equal(t, settlement.CycleID("cycle-1"), res.Successor.CycleID)

	stored := f.meeting(t, res.Successor.ID)
	assert.Equal(t, settlement.StatusScheduled, stored.Status)
	assert.Equal(t, settlement.Progress{Total: 10, Completed: 0, Remaining: 10}, f.progress(t, "cycle-1"))
}

func TestPostpone_Twice_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")
	in := lifecycle.PostponeInput{NewDate: *date(2025, time.March, 17)}

	_, err := f.engine.Postpone(f.ctx, "m-1", in, "admin")
	require.NoError(t, err)
	_, err = f.engine.Postpone(f.ctx, "m-1", in, "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestPostpone_MissingDate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	_, err := f.engine.Postpone(f.ctx, "m-1", lifecycle.PostponeInput{}, "admin")

	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

func TestChain_ThreeLinks(t *testing.T) {
	// M1 postponed to M2, M2 postponed to M3
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	first, err := f.engine.Postpone(f.ctx, "m-1", lifecycle.PostponeInput{NewDate: *date(2025, time.March, 10)}, "admin")
	require.NoError(t, err)
	m2 := first.Successor.ID
	second, err := f.engine.Postpone(f.ctx, m2, lifecycle.PostponeInput{NewDate: *date(2025, time.March, 17)}, "admin")
	require.NoError(t, err)
	m3 := second.Successor.ID

	chain, err := f.engine.Chain(f.ctx, m2)
	require.NoError(t, err)

	require.Len(t, chain, 3)
	assert.Equal(t, []settlement.MeetingID{"m-1", m2, m3}, []settlement.MeetingID{chain[0].ID, chain[1].ID, chain[2].ID})
	assert.Nil(t, chain[0].RescheduledFromID)
	assert.Nil(t, chain[2].RescheduledToID)

	latest, err := f.engine.Latest(f.ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, m3, latest.ID)
	assert.Equal(t, settlement.StatusScheduled, latest.Status)
}

func TestChain_SingleMeeting(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "m-1", "cycle-1")

	chain, err := f.engine.Chain(f.ctx, "m-1")
	require.NoError(t, err)

	require.Len(t, chain, 1)
	assert.Equal(t, settlement.MeetingID("m-1"), chain[0].ID)
}

func TestChain_Loop_BrokenChain(t *testing.T) {
	f := newFixture(t)
	f.addMeeting(t, "a", "cycle-1")
	f.addMeeting(t, "b", "cycle-1")

	a, b := settlement.MeetingID("a"), settlement.MeetingID("b")
	ma := f.meeting(t, a)
	ma.RescheduledToID, ma.RescheduledFromID = &b, &b
	require.NoError(t, f.store.UpdateMeeting(f.ctx, *ma))
	mb := f.meeting(t, b)
	mb.RescheduledToID, mb.RescheduledFromID = &a, &a
	require.NoError(t, f.store.UpdateMeeting(f.ctx, *mb))

	_, err := f.engine.Chain(f.ctx, a)

	assert.ErrorIs(t, err, lifecycle.ErrBrokenChain)
}
