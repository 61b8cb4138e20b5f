// Package api serves the trigger management and status HTTP endpoints.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caltrigger-io/caltrigger/internal/availability"
	"github.com/caltrigger-io/caltrigger/internal/calendar"
	"github.com/caltrigger-io/caltrigger/internal/domain"
	"github.com/caltrigger-io/caltrigger/internal/heartbeat"
)

type Store interface {
	CreateTrigger(ctx context.Context, t domain.Trigger) error
	GetTriggerByID(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	UpdateTrigger(ctx context.Context, t domain.Trigger) error
	DeleteTrigger(ctx context.Context, id uuid.UUID) error
	ListTriggersByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Trigger, error)
	ListExecutionLogs(ctx context.Context, bookingUIDs []string) ([]domain.ExecutionLog, error)
	GetAgentByID(ctx context.Context, id uuid.UUID) (domain.Agent, error)
	ReplaceAvailability(ctx context.Context, agentID uuid.UUID, windows []domain.AvailabilityWindow) error
	ListAvailability(ctx context.Context, agentID uuid.UUID) ([]domain.AvailabilityWindow, error)
}

// BookingSource resolves an agent's upcoming bookings from the calendar
// provider.
type BookingSource interface {
	ResolveForAgent(ctx context.Context, agentID uuid.UUID, meetingID, statusFilter string, now time.Time) ([]domain.Booking, error)
}

// HeartbeatChecker reports dispatch engine liveness.
type HeartbeatChecker interface {
	Check(ctx context.Context, now time.Time) (heartbeat.Status, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	bookings  BookingSource
	heartbeat HeartbeatChecker
	db        HealthChecker
	clock     func() time.Time
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, clock: time.Now}
}

// WithBookingSource enables the /bookings endpoint.
func (h *Handler) WithBookingSource(src BookingSource) *Handler {
	h.bookings = src
	return h
}

// WithHeartbeat enables the /cron/status endpoint.
func (h *Handler) WithHeartbeat(hb HeartbeatChecker) *Handler {
	h.heartbeat = hb
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithClock overrides the time source, for tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodPut:
		h.updateTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodDelete:
		h.deleteTrigger(w, r)

	case path == "/bookings" && r.Method == http.MethodGet:
		h.listBookings(w, r)

	case path == "/execution-logs" && r.Method == http.MethodGet:
		h.listExecutionLogs(w, r)

	case path == "/cron/status" && r.Method == http.MethodGet:
		h.cronStatus(w, r)

	case strings.HasSuffix(path, "/availability") && r.Method == http.MethodPut:
		h.putAvailability(w, r)

	case strings.HasSuffix(path, "/availability") && r.Method == http.MethodGet:
		h.getAvailability(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agentId")
		return
	}
	agent, err := h.store.GetAgentByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("api: lookup agent error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}
	if operator, ok := OperatorID(r.Context()); ok && operator != agent.OwnerID {
		writeError(w, http.StatusForbidden, "agent belongs to another operator")
		return
	}

	now := h.clock().UTC()
	trigger := triggerFromRequest(req)
	trigger.ID = uuid.New()
	trigger.AgentID = agentID
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	if err := h.store.CreateTrigger(r.Context(), trigger); err != nil {
		log.Printf("api: create trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, triggerToResponse(trigger))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.URL.Query().Get("agentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "agentId query parameter is required")
		return
	}
	if !h.checkAgentAccess(w, r, agentID) {
		return
	}

	triggers, err := h.store.ListTriggersByAgent(r.Context(), agentID)
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = triggerToResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := pathID(w, r.URL.Path, "triggers")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.GetTriggerByID(r.Context(), triggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: load trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}
	if !h.checkAgentAccess(w, r, existing.AgentID) {
		return
	}

	updated := triggerFromRequest(req)
	updated.ID = existing.ID
	updated.AgentID = existing.AgentID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = h.clock().UTC()

	if err := h.store.UpdateTrigger(r.Context(), updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: update trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}

	writeJSON(w, http.StatusOK, triggerToResponse(updated))
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := pathID(w, r.URL.Path, "triggers")
	if !ok {
		return
	}

	existing, err := h.store.GetTriggerByID(r.Context(), triggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: load trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete trigger")
		return
	}
	if !h.checkAgentAccess(w, r, existing.AgentID) {
		return
	}

	if err := h.store.DeleteTrigger(r.Context(), triggerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: delete trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete trigger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	if h.bookings == nil {
		writeError(w, http.StatusServiceUnavailable, "booking resolution not configured")
		return
	}

	agentID, err := uuid.Parse(r.URL.Query().Get("agentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "agentId query parameter is required")
		return
	}
	if !h.checkAgentAccess(w, r, agentID) {
		return
	}
	status := r.URL.Query().Get("status")
	meetingID := r.URL.Query().Get("meetingId")

	bookings, err := h.bookings.ResolveForAgent(r.Context(), agentID, meetingID, status, h.clock())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		// Surface the calendar provider's status code unchanged so callers
		// can distinguish their own auth problems from ours.
		var upstream *calendar.UpstreamError
		if errors.As(err, &upstream) {
			writeError(w, upstream.StatusCode, "calendar api error: "+upstream.Error())
			return
		}
		log.Printf("api: resolve bookings error: %v", err)
		writeError(w, http.StatusBadGateway, "failed to fetch bookings")
		return
	}

	resp := ListBookingsResponse{Bookings: make([]BookingResponse, len(bookings))}
	for i, b := range bookings {
		resp.Bookings[i] = BookingResponse{
			UID:              b.UID,
			ID:               b.ID,
			Title:            b.Title,
			Start:            b.StartRaw,
			Status:           b.Status,
			EventTypeID:      b.EventTypeID,
			CalendarID:       b.CalendarID,
			AttendeeName:     b.AttendeeName,
			AttendeeTimeZone: b.AttendeeTimeZone,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutionLogs(w http.ResponseWriter, r *http.Request) {
	uids := r.URL.Query()["bookingUid"]
	if len(uids) == 0 {
		writeError(w, http.StatusBadRequest, "at least one bookingUid query parameter is required")
		return
	}

	logs, err := h.store.ListExecutionLogs(r.Context(), uids)
	if err != nil {
		log.Printf("api: list execution logs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list execution logs")
		return
	}

	grouped := domain.GroupLogs(logs)
	resp := ListExecutionLogsResponse{Bookings: make([]BookingLogsResponse, len(grouped))}
	for i, bl := range grouped {
		out := BookingLogsResponse{
			BookingUID: bl.BookingUID,
			Triggers:   make([]TriggerLogsResponse, len(bl.Triggers)),
		}
		for j, tl := range bl.Triggers {
			attempts := make([]AttemptResponse, len(tl.Attempts))
			for k, a := range tl.Attempts {
				attempts[k] = AttemptResponse{
					ID:            a.ID.String(),
					ScheduledFor:  formatTime(a.ScheduledFor),
					ExecutedAt:    formatTime(a.ExecutedAt),
					Success:       a.Success,
					WebhookStatus: a.WebhookStatus,
					ErrorMessage:  a.ErrorMessage,
				}
			}
			out.Triggers[j] = TriggerLogsResponse{
				TriggerID: tl.TriggerID.String(),
				Attempts:  attempts,
			}
		}
		resp.Bookings[i] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cronStatus(w http.ResponseWriter, r *http.Request) {
	if h.heartbeat == nil {
		writeError(w, http.StatusServiceUnavailable, "heartbeat not configured")
		return
	}

	status, err := h.heartbeat.Check(r.Context(), h.clock())
	if err != nil {
		log.Printf("api: cron status error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read cron status")
		return
	}

	resp := CronStatusResponse{
		IsRunning: status.IsRunning,
		NextRuns:  make([]string, len(status.NextRuns)),
	}
	for i, t := range status.NextRuns {
		resp.NextRuns[i] = formatTime(t)
	}
	if status.LastRun != nil {
		run := status.LastRun
		resp.LastRun = &CronRunResponse{
			StartedAt:         formatTime(run.StartedAt),
			FinishedAt:        formatTime(run.FinishedAt),
			DurationMs:        run.DurationMs,
			Success:           run.Success,
			DryRun:            run.DryRun,
			TriggersProcessed: run.TriggersProcessed,
			RemindersDue:      run.RemindersDue,
			RemindersSent:     run.RemindersSent,
			RemindersFailed:   run.RemindersFailed,
			RemindersSkipped:  run.RemindersSkipped,
			Message:           run.Message,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) putAvailability(w http.ResponseWriter, r *http.Request) {
	agentID, ok := availabilityAgentID(w, r.URL.Path)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	windows := make([]domain.AvailabilityWindow, len(req.Windows))
	for i, win := range req.Windows {
		active := true
		if win.IsActive != nil {
			active = *win.IsActive
		}
		windows[i] = domain.AvailabilityWindow{
			DayOfWeek: win.DayOfWeek,
			StartTime: win.StartTime,
			EndTime:   win.EndTime,
			Timezone:  win.Timezone,
			IsActive:  active,
		}
	}

	if err := availability.Validate(windows); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := h.store.GetAgentByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("api: lookup agent error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update availability")
		return
	}
	if operator, ok := OperatorID(r.Context()); ok && operator != agent.OwnerID {
		writeError(w, http.StatusForbidden, "agent belongs to another operator")
		return
	}

	if err := h.store.ReplaceAvailability(r.Context(), agentID, windows); err != nil {
		log.Printf("api: replace availability error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update availability")
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{Windows: req.Windows})
}

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	agentID, ok := availabilityAgentID(w, r.URL.Path)
	if !ok {
		return
	}
	if !h.checkAgentAccess(w, r, agentID) {
		return
	}

	windows, err := h.store.ListAvailability(r.Context(), agentID)
	if err != nil {
		log.Printf("api: list availability error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list availability")
		return
	}

	resp := AvailabilityResponse{Windows: make([]AvailabilityWindowRequest, len(windows))}
	for i, win := range windows {
		active := win.IsActive
		resp.Windows[i] = AvailabilityWindowRequest{
			DayOfWeek: win.DayOfWeek,
			StartTime: win.StartTime,
			EndTime:   win.EndTime,
			Timezone:  win.Timezone,
			IsActive:  &active,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkAgentAccess enforces agent ownership for requests that carry an
// authenticated operator. Requests without one (authentication disabled)
// pass. Writes the error response on failure.
func (h *Handler) checkAgentAccess(w http.ResponseWriter, r *http.Request, agentID uuid.UUID) bool {
	operator, ok := OperatorID(r.Context())
	if !ok {
		return true
	}

	agent, err := h.store.GetAgentByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "agent not found")
			return false
		}
		log.Printf("api: lookup agent error: %v", err)
		writeError(w, http.StatusInternalServerError, "agent lookup failed")
		return false
	}
	if agent.OwnerID != operator {
		writeError(w, http.StatusForbidden, "agent belongs to another operator")
		return false
	}
	return true
}

// pathID extracts the UUID segment from /<resource>/{id} paths.
func pathID(w http.ResponseWriter, path, resource string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != resource {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+strings.TrimSuffix(resource, "s")+" id")
		return uuid.UUID{}, false
	}
	return id, true
}

// availabilityAgentID extracts the agent UUID from /agents/{id}/availability.
func availabilityAgentID(w http.ResponseWriter, path string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "agents" || parts[2] != "availability" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return uuid.UUID{}, false
	}
	return id, true
}

// triggerFromRequest maps a validated request onto a domain trigger.
// Identity and timestamps are the caller's responsibility.
func triggerFromRequest(req TriggerRequest) domain.Trigger {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	t := domain.Trigger{
		ScopeType:      domain.ScopeType(req.ScopeType),
		ScopeReference: strings.TrimSpace(req.ScopeReference),
		TimingType:     domain.TimingType(req.TimingType),
		OffsetAmount:   req.OffsetAmount,
		OffsetUnit:     domain.OffsetUnit(req.OffsetUnit),
		ActionType:     domain.ActionType(req.ActionType),
		WebhookURL:     req.WebhookURL,
		IsActive:       active,
	}
	if t.ActionType == domain.ActionTypeWhatsApp && req.Message != nil {
		t.Message = domain.MessageConfig{
			Version:      req.Message.Version,
			Channel:      domain.MessageChannel(req.Message.Channel),
			CustomNumber: sanitizePhone(req.Message.CustomNumber),
			TemplateID:   req.Message.TemplateID,
			TemplateText: req.Message.TemplateText,
		}
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
