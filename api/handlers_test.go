/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Record ingestion and meeting scheduling
- Lifecycle endpoints and their error status codes
- Change request approval over HTTP
- Bulk endpoints with partial failure
- Forecast endpoints and the cron scheduler
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/lifecycle/store"
	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	mem    *store.Memory
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	engine := lifecycle.NewEngine(mem,
		lifecycle.WithClock(lifecycle.FixedClock(now)),
		lifecycle.WithLogger(logger),
	)
	f := forecast.New(mem, forecast.WithClock(lifecycle.FixedClock(now)), forecast.WithLogger(logger))
	h := NewHandler(mem, engine, lifecycle.NewBulkRunner(engine, 2), f, nil, logger)
	return &testServer{t: t, mem: mem, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seed creates instructor inst-1 (frontal 100/h), fixed-revenue cycle-1
// (500 per meeting, 10 meetings) and meeting m-1 on 2025-03-03 16:00-17:30.
func (s *testServer) seed() {
	s.t.Helper()
	rate := decimal.NewFromInt(100)
	revenue := decimal.NewFromInt(500)

	rec := s.do(http.MethodPost, "/api/instructors", InstructorDTO{ID: "inst-1", Name: "Dana", RateFrontal: &rate})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/cycles", CycleDTO{
		ID:              "cycle-1",
		Name:            "Robotics",
		Type:            "institutional_fixed",
		InstructorID:    "inst-1",
		TotalMeetings:   10,
		MeetingRevenue:  &revenue,
		DurationMinutes: 45,
		ActivityType:    "frontal",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	s.schedule("m-1", "2025-03-03")
}

func (s *testServer) schedule(id, date string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/meetings", CreateMeetingRequest{
		ID:        id,
		CycleID:   "cycle-1",
		Date:      date,
		StartTime: "16:00",
		EndTime:   "17:30",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func assertMoney(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got.String())
}

// =============================================================================
// RECORDS
// =============================================================================

func TestSaveCycle_DefaultsRemainingToTotal(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodGet, "/api/cycles/cycle-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[CycleDTO](t, rec)
	assert.Equal(t, 10, c.RemainingMeetings)
	assert.Equal(t, 0, c.CompletedMeetings)
	require.NotNil(t, c.Consistent)
	assert.True(t, *c.Consistent)
}

func TestSaveCycle_UpdateKeepsProgress(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/meetings/m-1/complete", nil).Code)

	// Price change posted without counters
	revenue := decimal.NewFromInt(700)
	rec := s.do(http.MethodPost, "/api/cycles", CycleDTO{
		ID:              "cycle-1",
		Name:            "Robotics",
		Type:            "institutional_fixed",
		InstructorID:    "inst-1",
		TotalMeetings:   10,
		MeetingRevenue:  &revenue,
		DurationMinutes: 45,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody[CycleDTO](t, rec)
	assert.Equal(t, 1, body.CompletedMeetings)
	assert.Equal(t, 9, body.RemainingMeetings)

	c, err := s.mem.GetCycle(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.Progress{Total: 10, Completed: 1, Remaining: 9}, c.Progress())
	assertMoney(t, 700, c.MeetingRevenue.Decimal)

	// Reversal after the update stays consistent
	rec = s.do(http.MethodPut, "/api/meetings/m-1/status", StatusUpdateRequest{Status: "scheduled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c, err = s.mem.GetCycle(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.Progress{Total: 10, Completed: 0, Remaining: 10}, c.Progress())
}

func TestSaveCycle_ValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/cycles", CycleDTO{ID: "c", Type: "weekly"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, map[string]any{"Type": "oneof"}, body.Details)
}

func TestCreateMeeting_UnknownCycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/meetings", CreateMeetingRequest{CycleID: "nope", Date: "2025-03-03"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMeeting_BadTimeOfDay(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings", CreateMeetingRequest{CycleID: "cycle-1", Date: "2025-03-03", StartTime: "25:99"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestComplete_SettlesAndUpdatesCounters(t *testing.T) {
	// GIVEN: a scheduled 90 minute meeting in a 500-per-meeting cycle
	// WHEN: completing it over HTTP
	// THEN: 500 / 150 / 350 and the cycle shows 1 completed, 9 remaining
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/complete", ActorRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody[MeetingDTO](t, rec)
	assert.Equal(t, "completed", m.Status)
	assertMoney(t, 500, m.Revenue)
	assertMoney(t, 150, m.InstructorPayment)
	assertMoney(t, 350, m.Profit)
	assert.Equal(t, "admin", m.StatusUpdatedBy)

	c := decodeBody[CycleDTO](t, s.do(http.MethodGet, "/api/cycles/cycle-1", nil))
	assert.Equal(t, 1, c.CompletedMeetings)
	assert.Equal(t, 9, c.RemainingMeetings)
}

func TestComplete_TwiceIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/meetings/m-1/complete", nil).Code)
	rec := s.do(http.MethodPost, "/api/meetings/m-1/complete", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestComplete_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/meetings/ghost/complete", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodGet, "/api/meetings/m-1/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[SettlementDTO](t, rec)
	assertMoney(t, 350, p.Profit)
	assert.Equal(t, 90, p.DurationMinutes)

	m := decodeBody[MeetingDTO](t, s.do(http.MethodGet, "/api/meetings/m-1", nil))
	assert.Equal(t, "scheduled", m.Status)
}

func TestUpdateStatus_ReverseCompletion(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/meetings/m-1/complete", nil).Code)

	rec := s.do(http.MethodPut, "/api/meetings/m-1/status", StatusUpdateRequest{Status: "scheduled", Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody[MeetingDTO](t, rec)
	assert.True(t, m.Revenue.IsZero())

	c := decodeBody[CycleDTO](t, s.do(http.MethodGet, "/api/cycles/cycle-1", nil))
	assert.Equal(t, 0, c.CompletedMeetings)
	assert.Equal(t, 10, c.RemainingMeetings)
}

func TestUpdateStatus_RejectsPendingTargets(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPut, "/api/meetings/m-1/status", StatusUpdateRequest{Status: "pending_cancellation"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecalculate_SkippedIsOK(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/meetings/m-1/complete", nil).Code)

	rec := s.do(http.MethodPost, "/api/meetings/m-1/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decodeBody[RecalculateResponse](t, rec).Outcome)

	rec = s.do(http.MethodPost, "/api/meetings/m-1/recalculate?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "applied", decodeBody[RecalculateResponse](t, rec).Outcome)
}

func TestPostpone_CreatesSuccessorAndChain(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/postpone", PostponeRequest{NewDate: "2025-03-10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[PostponeResponse](t, rec)
	assert.Equal(t, "postponed", res.Original.Status)
	assert.Equal(t, "scheduled", res.Successor.Status)
	assert.Equal(t, "2025-03-10", res.Successor.Date)
	assert.Equal(t, "16:00", res.Successor.StartTime)

	chain := decodeBody[[]MeetingDTO](t, s.do(http.MethodGet, "/api/meetings/"+res.Successor.ID+"/chain", nil))
	require.Len(t, chain, 2)
	assert.Equal(t, "m-1", chain[0].ID)
}

func TestPostpone_MissingDate(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/postpone", PostponeRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete_CompletedMeetingReturnsCounter(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/meetings/m-1/complete", nil).Code)

	rec := s.do(http.MethodDelete, "/api/meetings/m-1?actor=admin", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/meetings/m-1", nil).Code)
	c := decodeBody[CycleDTO](t, s.do(http.MethodGet, "/api/cycles/cycle-1", nil))
	assert.Equal(t, 0, c.CompletedMeetings)
	assert.Equal(t, 10, c.RemainingMeetings)
}

// =============================================================================
// CHANGE REQUESTS
// =============================================================================

func TestChangeRequest_ApprovePostponement(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/requests", SubmitChangeRequest{
		Type:    "postponement",
		Reason:  "sick",
		NewDate: "2025-03-12",
		Actor:   "inst-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pending := decodeBody[MeetingDTO](t, rec)
	assert.Equal(t, "pending_postponement", pending.Status)
	require.NotNil(t, pending.Request)
	assert.Equal(t, "2025-03-12", pending.Request.NewDate)

	dup := s.do(http.MethodPost, "/api/meetings/m-1/requests", SubmitChangeRequest{Type: "postponement"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	rec = s.do(http.MethodPost, "/api/meetings/m-1/approve", ApproveRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ApproveResponse](t, rec)
	assert.Equal(t, "postponed", res.Meeting.Status)
	require.NotNil(t, res.Successor)
	assert.Equal(t, "2025-03-12", res.Successor.Date)
}

func TestChangeRequest_RejectCancellation(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/requests", SubmitChangeRequest{Type: "cancellation", Reason: "trip"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/meetings/m-1/reject", RejectRequest{Reason: "no", Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody[MeetingDTO](t, rec)
	assert.Equal(t, "scheduled", m.Status)
	assert.Nil(t, m.Request)
}

func TestApprove_WithoutPendingRequestIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/meetings/m-1/approve", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// BULK
// =============================================================================

func TestBulkComplete_PartialFailure(t *testing.T) {
	// GIVEN: two scheduled meetings and one unknown id
	// WHEN: bulk completing all three
	// THEN: 200 with two successes and one failure, counters moved by two
	s := newTestServer(t)
	s.seed()
	s.schedule("m-2", "2025-03-04")

	rec := s.do(http.MethodPost, "/api/bulk/complete", BulkRequest{IDs: []string{"m-1", "ghost", "m-2"}, Actor: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[BulkResponse](t, rec)
	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ghost", res.Failed[0].ID)

	c := decodeBody[CycleDTO](t, s.do(http.MethodGet, "/api/cycles/cycle-1", nil))
	assert.Equal(t, 2, c.CompletedMeetings)
}

func TestBulk_EmptyIDsIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/bulk/delete", BulkRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkStatus_RequiresStatus(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodPost, "/api/bulk/status", BulkRequest{IDs: []string{"m-1"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FORECAST
// =============================================================================

func TestForecast_Endpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	s.schedule("m-2", "2025-04-07")

	rec := s.do(http.MethodGet, "/api/forecast?from=2025-03-01&to=2025-04-30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f := decodeBody[ForecastDTO](t, rec)
	require.Len(t, f.Meetings, 2)
	assert.Equal(t, "rule", f.Meetings[0].RevenueSource)
	assertMoney(t, 1000, f.TotalRevenue)
	assertMoney(t, 300, f.TotalInstructorCost)
	require.Len(t, f.Months, 2)
	assert.Equal(t, "2025-03", f.Months[0].Month)
}

func TestForecast_MissingWindow(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/forecast", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/forecast?from=March", nil).Code)
}

func TestLatestForecast_DisabledScheduler(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/forecast/latest", nil).Code)
}

type stubForecaster struct {
	windows []forecast.Window
	err     error
}

func (s *stubForecaster) Forecast(_ context.Context, w forecast.Window) (*forecast.Forecast, error) {
	s.windows = append(s.windows, w)
	if s.err != nil {
		return nil, s.err
	}
	return &forecast.Forecast{Window: w, GeneratedAt: now}, nil
}

func TestForecastScheduler_RunNowCachesSnapshot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	stub := &stubForecaster{}
	sched := NewForecastScheduler(stub, "@every 1h", 3, logger)
	sched.clock = lifecycle.FixedClock(time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC))

	assert.Nil(t, sched.Latest())
	sched.RunNow()

	require.NotNil(t, sched.Latest())
	require.Len(t, stub.windows, 1)
	assert.Equal(t, time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), stub.windows[0].From)
	assert.Equal(t, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), stub.windows[0].To)
	assert.Equal(t, 1, sched.Runs())
}

func TestForecastScheduler_FailureKeepsPreviousSnapshot(t *testing.T) {
	logger, hook := test.NewNullLogger()
	stub := &stubForecaster{}
	sched := NewForecastScheduler(stub, "@every 1h", 1, logger)

	sched.RunNow()
	first := sched.Latest()
	stub.err = errors.New("db down")
	sched.RunNow()

	assert.Same(t, first, sched.Latest())
	assert.Equal(t, 1, sched.Runs())
	assert.Equal(t, "forecast refresh failed", hook.LastEntry().Message)
}

func TestForecastScheduler_InvalidSpec(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sched := NewForecastScheduler(&stubForecaster{}, "every tuesday", 1, logger)

	assert.Error(t, sched.Start())
}

func TestLatestForecast_ServedFromScheduler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	engine := lifecycle.NewEngine(mem, lifecycle.WithLogger(logger))
	stub := &stubForecaster{}
	sched := NewForecastScheduler(stub, "@every 1h", 1, logger)
	sched.RunNow()

	h := NewHandler(mem, engine, lifecycle.NewBulkRunner(engine, 1), stub, sched, logger)
	rec := httptest.NewRecorder()
	NewRouter(h, []string{"http://localhost:5173"}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forecast/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	f := decodeBody[ForecastDTO](t, rec)
	assert.Equal(t, now, f.GeneratedAt)
}
