/*
handlers.go - HTTP API handlers for the meeting engine

PURPOSE:
  Exposes the lifecycle engine, the bulk runner and the forecaster via a
  REST API. Handles HTTP request/response, JSON serialization and
  validation, and delegates every state change to lifecycle.Engine.

ENDPOINTS:
  Records:
    GET    /api/cycles                   List cycles with counters
    POST   /api/cycles                   Create or replace a cycle
    GET    /api/cycles/{id}              Get one cycle
    POST   /api/instructors              Create or replace an instructor
    POST   /api/registrations            Create or replace a registration
    GET    /api/expenses                 List expenses (?cycle_id=)
    POST   /api/expenses                 Create or replace an expense

  Meetings:
    GET    /api/meetings                 List (?cycle_id= &status= &from= &to=)
    POST   /api/meetings                 Schedule a meeting
    GET    /api/meetings/{id}            Get one meeting
    DELETE /api/meetings/{id}            Soft delete
    GET    /api/meetings/{id}/preview    Settlement if completed now
    GET    /api/meetings/{id}/chain      Reschedule chain
    POST   /api/meetings/{id}/complete
    POST   /api/meetings/{id}/cancel
    POST   /api/meetings/{id}/postpone
    PUT    /api/meetings/{id}/status     Generic status patch
    POST   /api/meetings/{id}/recalculate
    POST   /api/meetings/{id}/requests   Instructor change request
    POST   /api/meetings/{id}/approve
    POST   /api/meetings/{id}/reject

  Bulk:
    POST   /api/bulk/complete | recalculate | status | delete

  Forecast:
    GET    /api/forecast                 Compute for ?from= &to=
    GET    /api/forecast/latest          Last scheduled snapshot

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Meeting, cycle or instructor not found
  - 409: Invalid transition, duplicate request, already rescheduled
  - 200: Recalculation skipped (reported in the body, not as an error)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Repository is the storage the API needs: the engine's transactional store,
// the forecaster's read side and record ingestion. Both store.Memory and
// sqlstore.Store implement it.
type Repository interface {
	lifecycle.TxStore
	forecast.Source
	ListCycles(ctx context.Context) ([]settlement.Cycle, error)
	SaveCycle(ctx context.Context, c settlement.Cycle) error
	SaveInstructor(ctx context.Context, in settlement.Instructor) error
	SaveRegistration(ctx context.Context, r settlement.Registration) error
	SaveExpense(ctx context.Context, e settlement.CycleExpense) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo       Repository
	Engine     *lifecycle.Engine
	Bulk       *lifecycle.BulkRunner
	Forecaster Forecaster
	Scheduler  *ForecastScheduler // optional
	Clock      lifecycle.Clock

	// EnableScenarios registers the demo scenario routes.
	EnableScenarios bool

	log      logrus.FieldLogger
	validate *validator.Validate
	newID    func() string
}

// NewHandler creates a handler. scheduler may be nil.
func NewHandler(repo Repository, engine *lifecycle.Engine, bulk *lifecycle.BulkRunner, f Forecaster, scheduler *ForecastScheduler, log logrus.FieldLogger) *Handler {
	return &Handler{
		Repo:       repo,
		Engine:     engine,
		Bulk:       bulk,
		Forecaster: f,
		Scheduler:  scheduler,
		Clock:      lifecycle.SystemClock{},
		log:        log,
		validate:   newValidator(),
		newID:      uuid.NewString,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := settlement.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// =============================================================================
// RECORDS
// =============================================================================

func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.Repo.ListCycles(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]CycleDTO, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	c, err := h.Repo.GetCycle(r.Context(), settlement.CycleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(*c))
}

func (h *Handler) SaveCycle(w http.ResponseWriter, r *http.Request) {
	var req CycleDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	// A new cycle starts with every meeting remaining. The store ignores
	// counters when the cycle already exists.
	if req.CompletedMeetings == 0 && req.RemainingMeetings == 0 {
		req.RemainingMeetings = req.TotalMeetings
	}
	if err := h.Repo.SaveCycle(r.Context(), req.toDomain()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	c, err := h.Repo.GetCycle(r.Context(), settlement.CycleID(req.ID))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCycleDTO(*c))
}

func (h *Handler) SaveInstructor(w http.ResponseWriter, r *http.Request) {
	var req InstructorDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	if err := h.Repo.SaveInstructor(r.Context(), req.toDomain()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) SaveRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	if _, err := h.Repo.GetCycle(r.Context(), settlement.CycleID(req.CycleID)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	if err := h.Repo.SaveRegistration(r.Context(), req.toDomain()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Repo.ListExpenses(r.Context(), settlement.ExpenseFilter{
		CycleID: settlement.CycleID(r.URL.Query().Get("cycle_id")),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]ExpenseDTO, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SaveExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	if _, err := h.Repo.GetCycle(r.Context(), settlement.CycleID(req.CycleID)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	e := req.toDomain()
	if err := h.Repo.SaveExpense(r.Context(), e); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// =============================================================================
// MEETINGS
// =============================================================================

func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := settlement.MeetingFilter{CycleID: settlement.CycleID(q.Get("cycle_id"))}
	for _, s := range splitCSV(q.Get("status")) {
		st := settlement.MeetingStatus(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status", errors.New(s))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	var err error
	if f.From, err = parseOptionalDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date", err)
		return
	}
	if f.To, err = parseOptionalDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date", err)
		return
	}

	meetings, err := h.Repo.ListMeetings(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTOs(meetings))
}

func (h *Handler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req CreateMeetingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	date, _ := time.Parse(dateLayout, req.Date)
	if _, err := h.Repo.GetCycle(r.Context(), settlement.CycleID(req.CycleID)); err != nil {
		h.writeEngineError(w, err)
		return
	}

	m := settlement.Meeting{
		ID:            settlement.MeetingID(req.ID),
		CycleID:       settlement.CycleID(req.CycleID),
		InstructorID:  settlement.InstructorID(req.InstructorID),
		ScheduledDate: date,
		StartTime:     settlement.TimeOfDay(req.StartTime),
		EndTime:       settlement.TimeOfDay(req.EndTime),
		Status:        settlement.StatusScheduled,
		ActivityType:  settlement.ActivityType(req.ActivityType),
		CreatedAt:     time.Now().UTC(),
	}
	m.ClearFinancials()
	if err := h.Repo.InsertMeeting(r.Context(), m); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeetingDTO(m))
}

func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := h.Engine.Get(r.Context(), meetingID(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(*m))
}

func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Preview(r.Context(), meetingID(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.Engine.Chain(r.Context(), meetingID(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTOs(chain))
}

func (h *Handler) CompleteMeeting(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	m, err := h.Engine.Complete(r.Context(), meetingID(r), req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(*m))
}

func (h *Handler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	m, err := h.Engine.Cancel(r.Context(), meetingID(r), req.Reason, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(*m))
}

func (h *Handler) PostponeMeeting(w http.ResponseWriter, r *http.Request) {
	var req PostponeRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := time.Parse(dateLayout, req.NewDate)
	res, err := h.Engine.Postpone(r.Context(), meetingID(r), lifecycle.PostponeInput{
		NewDate:   date,
		StartTime: settlement.TimeOfDay(req.StartTime),
		EndTime:   settlement.TimeOfDay(req.EndTime),
	}, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostponeResponse{
		Original:  toMeetingDTO(res.Original),
		Successor: toMeetingDTO(res.Successor),
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Engine.UpdateStatus(r.Context(), meetingID(r), settlement.MeetingStatus(req.Status), lifecycle.UpdateOptions{
		Reason: req.Reason,
		Actor:  req.Actor,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(*m))
}

// RecalculateMeeting answers 200 for both applied and skipped results; the
// outcome field tells them apart.
func (h *Handler) RecalculateMeeting(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if r.URL.Query().Get("force") == "true" {
		req.Force = true
	}
	res, err := h.Engine.Recalculate(r.Context(), meetingID(r), req.Force, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{
		Meeting:  toMeetingDTO(res.Meeting),
		Previous: toSettlementDTO(res.Previous),
		Current:  toSettlementDTO(res.Current),
		Outcome:  string(res.Outcome),
	})
}

func (h *Handler) DeleteMeeting(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if err := h.Engine.Delete(r.Context(), meetingID(r), actor); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CHANGE REQUESTS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := lifecycle.ChangeInput{
		Type:     settlement.ChangeType(req.Type),
		Reason:   req.Reason,
		NewStart: settlement.TimeOfDay(req.NewStart),
		NewEnd:   settlement.TimeOfDay(req.NewEnd),
	}
	if req.NewDate != "" {
		d, _ := time.Parse(dateLayout, req.NewDate)
		in.NewDate = &d
	}
	m, err := h.Engine.RequestChange(r.Context(), meetingID(r), in, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeetingDTO(*m))
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	in := lifecycle.ApproveInput{
		NewStart: settlement.TimeOfDay(req.NewStart),
		NewEnd:   settlement.TimeOfDay(req.NewEnd),
	}
	if req.NewDate != "" {
		d, _ := time.Parse(dateLayout, req.NewDate)
		in.NewDate = &d
	}
	res, err := h.Engine.Approve(r.Context(), meetingID(r), in, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	resp := ApproveResponse{Meeting: toMeetingDTO(res.Meeting)}
	if res.Successor != nil {
		s := toMeetingDTO(*res.Successor)
		resp.Successor = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	m, err := h.Engine.Reject(r.Context(), meetingID(r), req.Reason, req.Actor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(*m))
}

// =============================================================================
// BULK
// =============================================================================

func (h *Handler) BulkComplete(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, func(ctx context.Context, ids []settlement.MeetingID, req BulkRequest) (*lifecycle.BulkResult, error) {
		return h.Bulk.Complete(ctx, ids, req.Actor)
	})
}

func (h *Handler) BulkRecalculate(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, func(ctx context.Context, ids []settlement.MeetingID, req BulkRequest) (*lifecycle.BulkResult, error) {
		return h.Bulk.Recalculate(ctx, ids, req.Force, req.Actor)
	})
}

func (h *Handler) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, func(ctx context.Context, ids []settlement.MeetingID, req BulkRequest) (*lifecycle.BulkResult, error) {
		if req.Status == "" {
			return nil, lifecycle.ErrInvalidInput
		}
		return h.Bulk.UpdateStatus(ctx, ids, settlement.MeetingStatus(req.Status), lifecycle.UpdateOptions{
			Reason: req.Reason,
			Actor:  req.Actor,
		})
	})
}

func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, func(ctx context.Context, ids []settlement.MeetingID, req BulkRequest) (*lifecycle.BulkResult, error) {
		return h.Bulk.Delete(ctx, ids, req.Actor)
	})
}

type bulkCall func(ctx context.Context, ids []settlement.MeetingID, req BulkRequest) (*lifecycle.BulkResult, error)

// bulk answers 200 even when some ids failed; failures are in the body.
func (h *Handler) bulk(w http.ResponseWriter, r *http.Request, call bulkCall) {
	var req BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]settlement.MeetingID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = settlement.MeetingID(id)
	}
	res, err := call(r.Context(), ids, req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResponse(res))
}

// =============================================================================
// FORECAST
// =============================================================================

func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseOptionalDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date", err)
		return
	}
	to, err := parseOptionalDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date", err)
		return
	}
	f, err := h.Forecaster.Forecast(r.Context(), forecast.Window{From: from, To: to})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastDTO(f))
}

func (h *Handler) GetLatestForecast(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "forecast scheduler is disabled", nil)
		return
	}
	f := h.Scheduler.Latest()
	if f == nil {
		writeError(w, http.StatusNotFound, "no forecast computed yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toForecastDTO(f))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func meetingID(r *http.Request) settlement.MeetingID {
	return settlement.MeetingID(chi.URLParam(r, "id"))
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return h.check(w, dst)
	}
	return h.decode(w, r, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: fields})
		return false
	}
	writeError(w, http.StatusBadRequest, "validation failed", err)
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case lifecycle.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, lifecycle.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input", err)
	case lifecycle.IsClientError(err):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", err)
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
