/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos and manual testing. Each scenario creates an instructor, a
  cycle, registrations and a run of weekly meetings that show one billing
  model. Completed history is produced through the engine, so counters
  and settlements are exactly what real traffic would leave behind.

AVAILABLE SCENARIOS:
  fixed-institution:  Institution pays 500 per meeting, 90 minute frontal
  per-child:          120 per active child, online lessons at 80/h
  private-course:     Two private registrations spread over 10 meetings
  loss-making:        Meeting revenue below the instructor's cost
  forecast-history:   Six months of completed meetings with expenses

HOW SCENARIOS WORK:
 1. Save instructor, cycle and registrations (upserts)
 2. Schedule weekly meetings starting next Monday
 3. Optionally schedule past meetings and complete them via the engine
 4. Optionally attach expenses to completed meetings

  Records are keyed by scenario id, so loading the same scenario twice
  leaves the store unchanged.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "per-child"}

NOTE:
  Routes are registered only when Handler.EnableScenarios is set, which
  cmd/server does outside production.

SEE ALSO:
  - handlers.go: Handler and helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fixed-institution",
		Name:        "Fixed Institution",
		Description: "Institution pays a flat 500 per meeting; 90 minute frontal lessons at 100/h",
		Category:    "institutional",
	},
	{
		ID:          "per-child",
		Name:        "Per Child",
		Description: "120 per active child with three of five children active, online lessons",
		Category:    "institutional",
	},
	{
		ID:          "private-course",
		Name:        "Private Course",
		Description: "Two private registrations of 1500 over 10 meetings",
		Category:    "private",
	},
	{
		ID:          "loss-making",
		Name:        "Loss Making",
		Description: "Revenue of 50 against a two hour frontal lesson",
		Category:    "institutional",
	},
	{
		ID:          "forecast-history",
		Name:        "Forecast History",
		Description: "Six months of completed meetings with recurring material costs",
		Category:    "forecast",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, sb *scenarioBuilder) error

var scenarioLoaders = map[string]scenarioLoader{
	"fixed-institution": loadFixedInstitutionScenario,
	"per-child":         loadPerChildScenario,
	"private-course":    loadPrivateCourseScenario,
	"loss-making":       loadLossMakingScenario,
	"forecast-history":  loadForecastHistoryScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var def *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			def = &scenarios[i]
		}
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if def == nil || !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}

	sb := newScenarioBuilder(req.ScenarioID, h.Clock.Now())
	if err := load(r.Context(), h, sb); err != nil {
		h.writeEngineError(w, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.log.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Scenario:  *def,
		Cycles:    sb.cycles,
		Meetings:  sb.meetings,
		Completed: sb.completed,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFixedInstitutionScenario(ctx context.Context, h *Handler, sb *scenarioBuilder) error {
	inst, err := sb.instructor(ctx, h, settlement.Instructor{Name: "Noa Levi", RateFrontal: money(100)})
	if err != nil {
		return err
	}
	cycle, err := sb.cycle(ctx, h, settlement.Cycle{
		Name:            "Robotics at Oak School",
		Type:            settlement.CycleInstitutionalFixed,
		InstructorID:    inst,
		TotalMeetings:   8,
		MeetingRevenue:  money(500),
		DurationMinutes: 90,
		ActivityType:    settlement.ActivityFrontal,
	})
	if err != nil {
		return err
	}
	return sb.weekly(ctx, h, cycle, 8, "16:00", "17:30")
}

func loadPerChildScenario(ctx context.Context, h *Handler, sb *scenarioBuilder) error {
	inst, err := sb.instructor(ctx, h, settlement.Instructor{Name: "Amit Cohen", RateOnline: money(80)})
	if err != nil {
		return err
	}
	cycle, err := sb.cycle(ctx, h, settlement.Cycle{
		Name:            "Online Coding Club",
		Type:            settlement.CycleInstitutionalPerChild,
		InstructorID:    inst,
		TotalMeetings:   6,
		PricePerStudent: money(120),
		DurationMinutes: 60,
		ActivityType:    settlement.ActivityOnline,
	})
	if err != nil {
		return err
	}
	statuses := []settlement.RegistrationStatus{
		settlement.RegistrationActive,
		settlement.RegistrationActive,
		settlement.RegistrationActive,
		settlement.RegistrationRegistered,
		settlement.RegistrationCancelled,
	}
	for i, st := range statuses {
		if err := sb.registration(ctx, h, cycle, i+1, st, decimal.NullDecimal{}); err != nil {
			return err
		}
	}
	return sb.weekly(ctx, h, cycle, 6, "17:00", "18:00")
}

func loadPrivateCourseScenario(ctx context.Context, h *Handler, sb *scenarioBuilder) error {
	inst, err := sb.instructor(ctx, h, settlement.Instructor{Name: "Maya Ron", RatePrivate: money(200)})
	if err != nil {
		return err
	}
	cycle, err := sb.cycle(ctx, h, settlement.Cycle{
		Name:            "Private Chess",
		Type:            settlement.CyclePrivate,
		InstructorID:    inst,
		TotalMeetings:   10,
		DurationMinutes: 45,
		ActivityType:    settlement.ActivityPrivateLesson,
	})
	if err != nil {
		return err
	}
	for i := 1; i <= 2; i++ {
		if err := sb.registration(ctx, h, cycle, i, settlement.RegistrationActive, money(1500)); err != nil {
			return err
		}
	}
	return sb.weekly(ctx, h, cycle, 10, "15:00", "15:45")
}

func loadLossMakingScenario(ctx context.Context, h *Handler, sb *scenarioBuilder) error {
	inst, err := sb.instructor(ctx, h, settlement.Instructor{Name: "Yoni Bar", RateFrontal: money(100)})
	if err != nil {
		return err
	}
	cycle, err := sb.cycle(ctx, h, settlement.Cycle{
		Name:            "Community Center Pilot",
		Type:            settlement.CycleInstitutionalFixed,
		InstructorID:    inst,
		TotalMeetings:   4,
		MeetingRevenue:  money(50),
		DurationMinutes: 120,
		ActivityType:    settlement.ActivityFrontal,
	})
	if err != nil {
		return err
	}
	return sb.weekly(ctx, h, cycle, 4, "10:00", "12:00")
}

// loadForecastHistoryScenario completes one meeting a week for the last six
// months and records materials on every other one, then schedules three
// months ahead.
func loadForecastHistoryScenario(ctx context.Context, h *Handler, sb *scenarioBuilder) error {
	inst, err := sb.instructor(ctx, h, settlement.Instructor{Name: "Dana Gil", RateFrontal: money(120)})
	if err != nil {
		return err
	}
	cycle, err := sb.cycle(ctx, h, settlement.Cycle{
		Name:            "Science Lab",
		Type:            settlement.CycleInstitutionalFixed,
		InstructorID:    inst,
		TotalMeetings:   39,
		MeetingRevenue:  money(450),
		DurationMinutes: 60,
		ActivityType:    settlement.ActivityFrontal,
	})
	if err != nil {
		return err
	}

	first := sb.nextMonday().AddDate(0, 0, -26*7)
	for i := 0; i < 26; i++ {
		id, err := sb.meeting(ctx, h, cycle, first.AddDate(0, 0, 7*i), "14:00", "15:00")
		if err != nil {
			return err
		}
		if err := sb.complete(ctx, h, id); err != nil {
			return err
		}
		if i%2 == 0 {
			if err := sb.expense(ctx, h, cycle, id, first.AddDate(0, 0, 7*i), money(35)); err != nil {
				return err
			}
		}
	}
	return sb.weekly(ctx, h, cycle, 13, "14:00", "15:00")
}

// =============================================================================
// BUILDER
// =============================================================================

// scenarioBuilder derives stable ids from the scenario id and counts what
// it created.
type scenarioBuilder struct {
	prefix    string
	now       time.Time
	cycles    []string
	meetings  int
	completed int
	seq       int
}

func newScenarioBuilder(id string, now time.Time) *scenarioBuilder {
	return &scenarioBuilder{prefix: id, now: settlement.DateOnly(now)}
}

func (sb *scenarioBuilder) id(kind string, n int) string {
	return fmt.Sprintf("%s-%s-%d", sb.prefix, kind, n)
}

// nextMonday is the first Monday strictly after today.
func (sb *scenarioBuilder) nextMonday() time.Time {
	days := (int(time.Monday) - int(sb.now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return sb.now.AddDate(0, 0, days)
}

func (sb *scenarioBuilder) instructor(ctx context.Context, h *Handler, in settlement.Instructor) (settlement.InstructorID, error) {
	in.ID = settlement.InstructorID(sb.id("instructor", 1))
	return in.ID, h.Repo.SaveInstructor(ctx, in)
}

// cycle saves c unless it already exists, so a reload keeps its counters.
func (sb *scenarioBuilder) cycle(ctx context.Context, h *Handler, c settlement.Cycle) (settlement.CycleID, error) {
	c.ID = settlement.CycleID(sb.id("cycle", len(sb.cycles)+1))
	sb.cycles = append(sb.cycles, string(c.ID))

	_, err := h.Repo.GetCycle(ctx, c.ID)
	switch {
	case err == nil:
		return c.ID, nil
	case !lifecycle.IsNotFound(err):
		return "", err
	}
	c.RemainingMeetings = c.TotalMeetings
	return c.ID, h.Repo.SaveCycle(ctx, c)
}

func (sb *scenarioBuilder) registration(ctx context.Context, h *Handler, cycle settlement.CycleID, n int, st settlement.RegistrationStatus, amount decimal.NullDecimal) error {
	return h.Repo.SaveRegistration(ctx, settlement.Registration{
		ID:        settlement.RegistrationID(sb.id("registration", n)),
		CycleID:   cycle,
		StudentID: sb.id("student", n),
		Status:    st,
		Amount:    amount,
	})
}

func (sb *scenarioBuilder) weekly(ctx context.Context, h *Handler, cycle settlement.CycleID, count int, start, end settlement.TimeOfDay) error {
	first := sb.nextMonday()
	for i := 0; i < count; i++ {
		if _, err := sb.meeting(ctx, h, cycle, first.AddDate(0, 0, 7*i), start, end); err != nil {
			return err
		}
	}
	return nil
}

// meeting inserts a scheduled meeting unless its id already exists.
func (sb *scenarioBuilder) meeting(ctx context.Context, h *Handler, cycle settlement.CycleID, date time.Time, start, end settlement.TimeOfDay) (settlement.MeetingID, error) {
	sb.seq++
	id := settlement.MeetingID(sb.id("meeting", sb.seq))
	sb.meetings++

	_, err := h.Repo.GetMeeting(ctx, id)
	switch {
	case err == nil:
		return id, nil
	case !lifecycle.IsNotFound(err):
		return "", err
	}
	m := settlement.Meeting{
		ID:            id,
		CycleID:       cycle,
		ScheduledDate: date,
		StartTime:     start,
		EndTime:       end,
		Status:        settlement.StatusScheduled,
		CreatedAt:     sb.now,
	}
	m.ClearFinancials()
	return id, h.Repo.InsertMeeting(ctx, m)
}

// complete settles a meeting through the engine; an already completed one
// is left alone.
func (sb *scenarioBuilder) complete(ctx context.Context, h *Handler, id settlement.MeetingID) error {
	sb.completed++
	m, err := h.Engine.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status == settlement.StatusCompleted {
		return nil
	}
	_, err = h.Engine.Complete(ctx, id, "scenario")
	return err
}

func (sb *scenarioBuilder) expense(ctx context.Context, h *Handler, cycle settlement.CycleID, meeting settlement.MeetingID, on time.Time, amount decimal.NullDecimal) error {
	return h.Repo.SaveExpense(ctx, settlement.CycleExpense{
		ID:          settlement.ExpenseID(fmt.Sprintf("%s-expense", meeting)),
		CycleID:     cycle,
		MeetingID:   &meeting,
		Kind:        settlement.ExpenseMaterials,
		Description: "lab materials",
		Amount:      amount,
		IncurredOn:  on,
	})
}

func money(v int64) decimal.NullDecimal {
	return settlement.NullMoney(v)
}
