package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/lifecycle/store"
	"github.com/warp/meeting-engine/settlement"
)

func newScenarioServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	clock := lifecycle.FixedClock(now)
	engine := lifecycle.NewEngine(mem, lifecycle.WithClock(clock), lifecycle.WithLogger(logger))
	f := forecast.New(mem, forecast.WithClock(clock), forecast.WithLogger(logger))
	h := NewHandler(mem, engine, lifecycle.NewBulkRunner(engine, 2), f, nil, logger)
	h.Clock = clock
	h.EnableScenarios = true
	return &testServer{t: t, mem: mem, router: NewRouter(h, nil)}
}

func (s *testServer) load(id string) LoadScenarioResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[LoadScenarioResponse](s.t, rec)
}

func (s *testServer) meetings(cycle string) []settlement.Meeting {
	s.t.Helper()
	ms, err := s.mem.ListMeetings(context.Background(), settlement.MeetingFilter{CycleID: settlement.CycleID(cycle)})
	require.NoError(s.t, err)
	return ms
}

func TestScenarios_DisabledByDefault(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_List(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))
	for _, sc := range list {
		assert.Contains(t, scenarioLoaders, sc.ID)
	}
}

func TestScenarios_LoadRejectsUnknownAndMissing(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_FixedInstitutionIsIdempotent(t *testing.T) {
	s := newScenarioServer(t)

	resp := s.load("fixed-institution")
	assert.Equal(t, []string{"fixed-institution-cycle-1"}, resp.Cycles)
	assert.Equal(t, 8, resp.Meetings)
	assert.Zero(t, resp.Completed)

	ms := s.meetings("fixed-institution-cycle-1")
	require.Len(t, ms, 8)
	// 2025-03-01 is a Saturday; the first meeting is the following Monday.
	assert.Equal(t, "2025-03-03", ms[0].ScheduledDate.Format(dateLayout))
	assert.Equal(t, "2025-04-21", ms[7].ScheduledDate.Format(dateLayout))

	s.load("fixed-institution")
	assert.Len(t, s.meetings("fixed-institution-cycle-1"), 8)

	c, err := s.mem.GetCycle(context.Background(), "fixed-institution-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.Progress{Total: 8, Completed: 0, Remaining: 8}, c.Progress())
}

func TestScenarios_SettlementPerBillingModel(t *testing.T) {
	tests := []struct {
		scenario string
		revenue  string
		payment  string
		profit   string
	}{
		{"fixed-institution", "500", "150", "350"},
		{"per-child", "360", "80", "280"},
		{"private-course", "300", "150", "150"},
		{"loss-making", "50", "200", "-150"},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			s := newScenarioServer(t)
			s.load(tt.scenario)

			rec := s.do(http.MethodGet, "/api/meetings/"+tt.scenario+"-meeting-1/preview", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			got := decodeBody[SettlementDTO](t, rec)
			assert.Equal(t, tt.revenue, got.Revenue.String())
			assert.Equal(t, tt.payment, got.InstructorPayment.String())
			assert.Equal(t, tt.profit, got.Profit.String())
		})
	}
}

func TestScenarios_ForecastHistory(t *testing.T) {
	s := newScenarioServer(t)

	resp := s.load("forecast-history")
	assert.Equal(t, 39, resp.Meetings)
	assert.Equal(t, 26, resp.Completed)

	c, err := s.mem.GetCycle(context.Background(), "forecast-history-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.Progress{Total: 39, Completed: 26, Remaining: 13}, c.Progress())

	m, err := s.mem.GetMeeting(context.Background(), "forecast-history-meeting-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, m.Status)
	assert.Equal(t, "450", m.Revenue.String())
	assert.Equal(t, "330", m.Profit.String())

	expenses, err := s.mem.ListExpenses(context.Background(), settlement.ExpenseFilter{CycleID: "forecast-history-cycle-1"})
	require.NoError(t, err)
	assert.Len(t, expenses, 13)

	// Reloading completes nothing new.
	s.load("forecast-history")
	c, err = s.mem.GetCycle(context.Background(), "forecast-history-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 26, c.CompletedMeetings)
}
