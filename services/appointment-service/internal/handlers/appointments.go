package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odontocare/odontocare/libs/httpx"
	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/scheduling"
)

const (
	HeaderRole   = "X-Role"
	HeaderUserID = "X-User-Id"

	dateLayout = "2006-01-02"
)

// Scheduler is satisfied by *scheduling.Engine.
type Scheduler interface {
	CreateAppointment(ctx context.Context, caller scheduling.Caller, req scheduling.CreateRequest) (model.Appointment, error)
	CancelAppointment(ctx context.Context, caller scheduling.Caller, id, reason string) (model.Appointment, error)
	GetAppointment(ctx context.Context, caller scheduling.Caller, id string) (model.Appointment, error)
	ListPage(ctx context.Context, caller scheduling.Caller, f model.Filter) (scheduling.Page, error)
	CheckAvailability(ctx context.Context, caller scheduling.Caller, q model.SlotQuery) (bool, error)
}

type AppointmentHandler struct {
	scheduler  Scheduler
	logger     *slog.Logger
	retryAfter time.Duration
}

func NewAppointmentHandler(scheduler Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{scheduler: scheduler, logger: logger, retryAfter: 5 * time.Second}
}

// Register mounts the appointment routes on mux.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/appointments", h.List)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", h.Cancel)
	mux.HandleFunc("PUT /api/v1/appointments/{id}", h.Cancel)
	mux.HandleFunc("GET /api/v1/availability", h.Availability)
}

type createAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	CenterID        string `json:"center_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	ID           string  `json:"id"`
	PatientID    string  `json:"patient_id"`
	DoctorID     string  `json:"doctor_id"`
	CenterID     string  `json:"center_id"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason,omitempty"`
	CreatedBy    string  `json:"created_by,omitempty"`
	CancelReason string  `json:"cancel_reason,omitempty"`
	CancelledAt  *string `json:"cancelled_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type listResponse struct {
	Items      []appointmentResponse `json:"items"`
	Count      int                   `json:"count"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
	HasMore    bool                  `json:"has_more"`
	NextOffset *int                  `json:"next_offset,omitempty"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(scheduling.KindInvalidInput), err.Error())
		return
	}

	start, err := parseTimestamp("start_time", req.StartTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var end time.Time
	if strings.TrimSpace(req.EndTime) != "" {
		if end, err = parseTimestamp("end_time", req.EndTime); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	appt, err := h.scheduler.CreateAppointment(r.Context(), callerFrom(r), scheduling.CreateRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		CenterID:        req.CenterID,
		Start:           start,
		End:             end,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/appointments/"+appt.ID)
	httpx.WriteJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelAppointmentRequest
	// The reason is optional, so an absent body is not an error.
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(w, http.StatusBadRequest, string(scheduling.KindInvalidInput), err.Error())
		return
	}
	appt, err := h.scheduler.CancelAppointment(r.Context(), callerFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.scheduler.GetAppointment(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.scheduler.ListPage(r.Context(), callerFrom(r), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := listResponse{
		Items:   make([]appointmentResponse, 0, len(page.Items)),
		Count:   len(page.Items),
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}
	for _, a := range page.Items {
		resp.Items = append(resp.Items, toResponse(a))
	}
	if page.HasMore {
		next := page.Offset + len(page.Items)
		resp.NextOffset = &next
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimestamp("start_time", q.Get("start_time"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseTimestamp("end_time", q.Get("end_time"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok, err := h.scheduler.CheckAvailability(r.Context(), callerFrom(r), model.SlotQuery{
		DoctorID:  q.Get("doctor_id"),
		CenterID:  q.Get("center_id"),
		Start:     start,
		End:       end,
		ExcludeID: q.Get("exclude_id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{Available: ok})
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := scheduling.AsError(err)
	status := statusFor(se.Kind)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter/time.Second)))
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", se.Kind, "err", se)
	}
	msg := se.Message
	if msg == "" {
		msg = string(se.Kind)
	}
	httpx.WriteErrorBody(w, status, httpx.ErrorBody{
		Kind:      string(se.Kind),
		Message:   msg,
		Which:     se.Which,
		Reason:    se.Reason,
		Retryable: se.Retryable(),
	})
}

func statusFor(kind scheduling.Kind) int {
	switch kind {
	case scheduling.KindInvalidInput, scheduling.KindInvalidInterval:
		return http.StatusBadRequest
	case scheduling.KindForbidden:
		return http.StatusForbidden
	case scheduling.KindNotFound:
		return http.StatusNotFound
	case scheduling.KindSlotUnavailable, scheduling.KindInvalidTransition:
		return http.StatusConflict
	case scheduling.KindReferenceError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func callerFrom(r *http.Request) scheduling.Caller {
	return scheduling.Caller{
		Role:   strings.TrimSpace(r.Header.Get(HeaderRole)),
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
	}
}

func parseFilter(r *http.Request) (model.Filter, error) {
	q := r.URL.Query()
	f := model.Filter{
		DoctorID: q.Get("doctor_id"),
		CenterID: q.Get("center_id"),
		Status:   model.Status(q.Get("status")),
	}
	if raw := q.Get("date_from"); raw != "" {
		from, err := parseBound("date_from", raw, false)
		if err != nil {
			return f, err
		}
		f.DateFrom = &from
	}
	if raw := q.Get("date_to"); raw != "" {
		to, err := parseBound("date_to", raw, true)
		if err != nil {
			return f, err
		}
		f.DateTo = &to
	}
	var err error
	if f.Limit, err = parseInt("limit", q.Get("limit")); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt("offset", q.Get("offset")); err != nil {
		return f, err
	}
	return f, nil
}

// parseBound accepts RFC 3339 or a bare date. A bare upper bound covers the whole day.
func parseBound(field, raw string, upper bool) (time.Time, error) {
	if d, err := time.Parse(dateLayout, strings.TrimSpace(raw)); err == nil {
		if upper {
			return d.Add(24*time.Hour - time.Microsecond), nil
		}
		return d, nil
	}
	return parseTimestamp(field, raw)
}

func parseTimestamp(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &scheduling.Error{Kind: scheduling.KindInvalidInput, Message: field + " is required"}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &scheduling.Error{Kind: scheduling.KindInvalidInput, Message: field + " must be RFC 3339 with an offset"}
	}
	return t.UTC(), nil
}

func parseInt(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &scheduling.Error{Kind: scheduling.KindInvalidInput, Message: field + " must be a non-negative integer"}
	}
	return n, nil
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		CenterID:     a.CenterID,
		StartTime:    a.Start.UTC().Format(time.RFC3339),
		EndTime:      a.End.UTC().Format(time.RFC3339),
		Status:       string(a.Status),
		Reason:       a.Reason,
		CreatedBy:    a.CreatedBy,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		s := a.CancelledAt.UTC().Format(time.RFC3339)
		resp.CancelledAt = &s
	}
	return resp
}
