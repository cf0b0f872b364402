// Package scheduling books, cancels and queries appointments. It guarantees
// that no two scheduled appointments in the same conflict scope overlap.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/odontocare/odontocare/libs/retry"
	"github.com/odontocare/odontocare/services/appointment-service/internal/authz"
	"github.com/odontocare/odontocare/services/appointment-service/internal/availability"
	"github.com/odontocare/odontocare/services/appointment-service/internal/catalog"
	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxReasonLen = 200
	maxIDLen     = 64

	// maxDurationMinutes bounds duration_minutes so the end time cannot wrap.
	maxDurationMinutes = 24 * 60

	defaultListLimit = 100
	maxListLimit     = 500
)

// ReferenceValidator is satisfied by *catalog.Validator.
type ReferenceValidator interface {
	Validate(ctx context.Context, patientID, doctorID, centerID string) error
}

// Caller is the identity the authorization gate resolved for a request.
type Caller struct {
	Role   string
	UserID string
}

type CreateRequest struct {
	PatientID string
	DoctorID  string
	CenterID  string
	Start     time.Time
	// End wins over DurationMinutes. With neither, the configured default applies.
	End             time.Time
	DurationMinutes int
	Reason          string
}

type Config struct {
	Scope           availability.Scope
	Policy          authz.Policy
	DefaultDuration time.Duration
	ReadRetry       retry.Policy
	Now             func() time.Time
	NewID           func() string
}

type Engine struct {
	store     storage.Store
	validator ReferenceValidator
	checker   *availability.Checker
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config
}

func NewEngine(store storage.Store, validator ReferenceValidator, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Scope == "" {
		cfg.Scope = availability.ScopeDoctor
	}
	if cfg.Policy.IsZero() {
		cfg.Policy = authz.DefaultPolicy()
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 30 * time.Minute
	}
	if cfg.ReadRetry.MaxAttempts <= 0 {
		cfg.ReadRetry = retry.DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		store:     store,
		validator: validator,
		checker:   availability.NewChecker(cfg.Scope),
		logger:    logger,
		tracer:    otel.Tracer("appointment-service/scheduling"),
		cfg:       cfg,
	}
}

func (e *Engine) CreateAppointment(ctx context.Context, caller Caller, req CreateRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.Create", trace.WithAttributes(
		attribute.String("appointment.doctor_id", req.DoctorID),
		attribute.String("appointment.center_id", req.CenterID),
	))
	defer span.End()

	appt, err := e.create(ctx, caller, req)
	if err != nil {
		return model.Appointment{}, e.fail(ctx, span, "create", err, "doctor_id", req.DoctorID, "center_id", req.CenterID)
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID))
	e.logger.InfoContext(ctx, "appointment scheduled",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"center_id", appt.CenterID,
		"start", appt.Start,
		"end", appt.End,
	)
	return appt, nil
}

func (e *Engine) create(ctx context.Context, caller Caller, req CreateRequest) (model.Appointment, error) {
	if err := e.authorize(caller, authz.OpCreate); err != nil {
		return model.Appointment{}, err
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.CenterID = strings.TrimSpace(req.CenterID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validRefs(map[string]string{"patient_id": req.PatientID, "doctor_id": req.DoctorID, "center_id": req.CenterID}); err != nil {
		return model.Appointment{}, err
	}
	if len([]rune(req.Reason)) > maxReasonLen {
		return model.Appointment{}, newError(KindInvalidInput, fmt.Sprintf("reason exceeds %d characters", maxReasonLen), nil)
	}
	start, end, err := e.interval(req)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := e.validator.Validate(ctx, req.PatientID, req.DoctorID, req.CenterID); err != nil {
		return model.Appointment{}, referenceFailure(err)
	}

	now := e.cfg.Now().UTC()
	appt := model.Appointment{
		ID:        e.cfg.NewID(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		CenterID:  req.CenterID,
		Start:     start,
		End:       end,
		Status:    model.StatusScheduled,
		Reason:    req.Reason,
		CreatedBy: caller.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	keys := e.checker.Scope().LockKeys(appt.DoctorID, appt.CenterID)
	err = e.store.Book(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		conflicts, err := e.checker.Conflicts(ctx, tx, appt.DoctorID, appt.CenterID, appt.Start, appt.End, "")
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return slotTaken(appt, conflicts[0])
		}
		if err := tx.Insert(ctx, appt); err != nil {
			return err
		}
		evt, err := newAppointmentEvent(EventScheduled, appt, now)
		if err != nil {
			return err
		}
		return tx.Emit(ctx, evt)
	})
	if err != nil {
		return model.Appointment{}, storeFailure(err)
	}
	return appt, nil
}

// interval resolves the requested end and enforces start < end.
func (e *Engine) interval(req CreateRequest) (time.Time, time.Time, error) {
	if req.Start.IsZero() {
		return time.Time{}, time.Time{}, newError(KindInvalidInput, "start_time is required", nil)
	}
	if req.DurationMinutes < 0 {
		return time.Time{}, time.Time{}, newError(KindInvalidInterval, "duration_minutes must be positive", nil)
	}
	if req.DurationMinutes > maxDurationMinutes {
		return time.Time{}, time.Time{}, newError(KindInvalidInterval, fmt.Sprintf("duration_minutes must not exceed %d", maxDurationMinutes), nil)
	}
	start := req.Start.UTC().Truncate(time.Microsecond)
	end := req.End
	switch {
	case !end.IsZero():
	case req.DurationMinutes > 0:
		end = start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	default:
		end = start.Add(e.cfg.DefaultDuration)
	}
	end = end.UTC().Truncate(time.Microsecond)
	if !start.Before(end) {
		return time.Time{}, time.Time{}, newError(KindInvalidInterval, "start_time must be before end_time", nil)
	}
	return start, end, nil
}

func (e *Engine) CancelAppointment(ctx context.Context, caller Caller, id, reason string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.Cancel", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	appt, changed, err := e.cancel(ctx, caller, strings.TrimSpace(id), strings.TrimSpace(reason))
	if err != nil {
		return model.Appointment{}, e.fail(ctx, span, "cancel", err, "appointment_id", id)
	}
	span.SetAttributes(attribute.Bool("appointment.changed", changed))
	if changed {
		e.logger.InfoContext(ctx, "appointment cancelled", "appointment_id", appt.ID, "doctor_id", appt.DoctorID)
	} else {
		e.logger.DebugContext(ctx, "appointment already cancelled", "appointment_id", appt.ID)
	}
	return appt, nil
}

func (e *Engine) cancel(ctx context.Context, caller Caller, id, reason string) (model.Appointment, bool, error) {
	if err := e.authorize(caller, authz.OpCancel); err != nil {
		return model.Appointment{}, false, err
	}
	if id == "" {
		return model.Appointment{}, false, newError(KindInvalidInput, "appointment id is required", nil)
	}
	if len([]rune(reason)) > maxReasonLen {
		return model.Appointment{}, false, newError(KindInvalidInput, fmt.Sprintf("reason exceeds %d characters", maxReasonLen), nil)
	}

	var (
		result  model.Appointment
		changed bool
	)
	err := e.store.Mutate(ctx, id, func(ctx context.Context, tx storage.Tx, current model.Appointment) error {
		if current.Status == model.StatusCancelled {
			result = current
			return nil
		}
		now := e.cfg.Now().UTC()
		updated, err := tx.SetStatus(ctx, id, model.StatusCancelled, now, reason)
		if err != nil {
			return err
		}
		evt, err := newAppointmentEvent(EventCancelled, updated, now)
		if err != nil {
			return err
		}
		if err := tx.Emit(ctx, evt); err != nil {
			return err
		}
		result, changed = updated, true
		return nil
	})
	if err != nil {
		return model.Appointment{}, false, storeFailure(err)
	}
	return result, changed, nil
}

func (e *Engine) GetAppointment(ctx context.Context, caller Caller, id string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.Get", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	if err := e.authorize(caller, authz.OpRead); err != nil {
		return model.Appointment{}, e.fail(ctx, span, "get", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, e.fail(ctx, span, "get", newError(KindInvalidInput, "appointment id is required", nil))
	}
	appt, err := retry.Do(ctx, e.cfg.ReadRetry, func(ctx context.Context) (model.Appointment, error) {
		appt, err := e.store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return appt, retry.Permanent(err)
		}
		return appt, err
	})
	if err != nil {
		return model.Appointment{}, e.fail(ctx, span, "get", storeFailure(err), "appointment_id", id)
	}
	return appt, nil
}

// Page is one window of a listing. HasMore reports rows beyond it.
type Page struct {
	Items   []model.Appointment
	Limit   int
	Offset  int
	HasMore bool
}

// ListAppointments returns the first page of matches for f. An unset limit
// means defaultListLimit; use ListPage to learn whether rows were left out.
func (e *Engine) ListAppointments(ctx context.Context, caller Caller, f model.Filter) ([]model.Appointment, error) {
	page, err := e.ListPage(ctx, caller, f)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ListPage lists matches for f with the normalized limit and offset applied.
func (e *Engine) ListPage(ctx context.Context, caller Caller, f model.Filter) (Page, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.List")
	defer span.End()

	if err := e.authorize(caller, authz.OpRead); err != nil {
		return Page{}, e.fail(ctx, span, "list", err)
	}
	f, err := normalizeFilter(f)
	if err != nil {
		return Page{}, e.fail(ctx, span, "list", err)
	}
	window := f
	window.Limit = f.Limit + 1
	items, err := retry.Do(ctx, e.cfg.ReadRetry, func(ctx context.Context) ([]model.Appointment, error) {
		return e.store.Query(ctx, window)
	})
	if err != nil {
		return Page{}, e.fail(ctx, span, "list", storeFailure(err))
	}
	page := Page{Items: items, Limit: f.Limit, Offset: f.Offset}
	if len(items) > f.Limit {
		page.Items = items[:f.Limit]
		page.HasMore = true
	}
	span.SetAttributes(attribute.Int("appointment.count", len(page.Items)), attribute.Bool("appointment.has_more", page.HasMore))
	return page, nil
}

func normalizeFilter(f model.Filter) (model.Filter, error) {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return f, newError(KindInvalidInput, "date_from must not be after date_to", nil)
	}
	if f.Status != "" {
		status, ok := model.ParseStatus(string(f.Status))
		if !ok {
			return f, newError(KindInvalidInput, fmt.Sprintf("unknown status %q", f.Status), nil)
		}
		f.Status = status
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, newError(KindInvalidInput, "limit and offset must not be negative", nil)
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	f.DoctorID = strings.TrimSpace(f.DoctorID)
	f.CenterID = strings.TrimSpace(f.CenterID)
	return f, nil
}

// CheckAvailability answers without locking. The answer may be stale by the
// time a booking is attempted.
func (e *Engine) CheckAvailability(ctx context.Context, caller Caller, q model.SlotQuery) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.CheckAvailability", trace.WithAttributes(
		attribute.String("appointment.doctor_id", q.DoctorID),
	))
	defer span.End()

	if err := e.authorize(caller, authz.OpRead); err != nil {
		return false, e.fail(ctx, span, "availability", err)
	}
	q.DoctorID = strings.TrimSpace(q.DoctorID)
	q.CenterID = strings.TrimSpace(q.CenterID)
	if q.DoctorID == "" {
		return false, e.fail(ctx, span, "availability", newError(KindInvalidInput, "doctor_id is required", nil))
	}
	if q.Start.IsZero() || q.End.IsZero() || !q.Start.Before(q.End) {
		return false, e.fail(ctx, span, "availability", newError(KindInvalidInterval, "start_time must be before end_time", nil))
	}

	ok, err := retry.Do(ctx, e.cfg.ReadRetry, func(ctx context.Context) (bool, error) {
		return e.checker.IsAvailable(ctx, e.store, q.DoctorID, q.CenterID, q.Start.UTC(), q.End.UTC(), q.ExcludeID)
	})
	if err != nil {
		return false, e.fail(ctx, span, "availability", storeFailure(err))
	}
	span.SetAttributes(attribute.Bool("appointment.available", ok))
	return ok, nil
}

func (e *Engine) authorize(caller Caller, op authz.Operation) error {
	role, ok := authz.ParseRole(caller.Role)
	if !ok || !e.cfg.Policy.Allows(role, op) {
		return &Error{Kind: KindForbidden, Message: fmt.Sprintf("role %q may not %s appointments", caller.Role, op)}
	}
	return nil
}

// fail records err on the span and logs it. Rejections are expected traffic
// and log at info; upstream and storage failures log at error.
func (e *Engine) fail(ctx context.Context, span trace.Span, op string, err error, attrs ...any) error {
	se := AsError(err)
	span.SetAttributes(attribute.String("error.kind", string(se.Kind)))
	attrs = append(attrs, "op", op, "kind", se.Kind, "err", se)
	if se.Retryable() {
		span.RecordError(se)
		span.SetStatus(codes.Error, string(se.Kind))
		e.logger.ErrorContext(ctx, "scheduling operation failed", attrs...)
	} else {
		e.logger.InfoContext(ctx, "scheduling request rejected", attrs...)
	}
	return se
}

func validRefs(refs map[string]string) error {
	for _, field := range []string{"patient_id", "doctor_id", "center_id"} {
		id, ok := refs[field]
		if !ok {
			continue
		}
		switch {
		case id == "":
			return newError(KindInvalidInput, field+" is required", nil)
		case len(id) > maxIDLen:
			return newError(KindInvalidInput, fmt.Sprintf("%s exceeds %d characters", field, maxIDLen), nil)
		case strings.ContainsAny(id, "/\\?#%") || id == "." || id == "..":
			return newError(KindInvalidInput, field+" contains invalid characters", nil)
		}
	}
	return nil
}

func referenceFailure(err error) error {
	var ref *catalog.ReferenceError
	if errors.As(err, &ref) {
		return &Error{
			Kind:    KindReferenceError,
			Message: ref.Error(),
			Which:   string(ref.Which),
			Reason:  ref.Reason,
		}
	}
	return newError(KindUpstreamUnavailable, "entity catalog unavailable", err)
}

func slotTaken(appt model.Appointment, conflict model.Appointment) error {
	which, who := "doctor", appt.DoctorID
	if conflict.DoctorID != appt.DoctorID {
		which, who = "center", appt.CenterID
	}
	return &Error{
		Kind:    KindSlotUnavailable,
		Message: fmt.Sprintf("%s %s is already booked from %s to %s", which, who, conflict.Start.Format(time.RFC3339), conflict.End.Format(time.RFC3339)),
		Which:   which,
	}
}

// storeFailure maps storage sentinels onto the engine taxonomy.
func storeFailure(err error) error {
	var se *Error
	switch {
	case errors.As(err, &se):
		return se
	case errors.Is(err, storage.ErrOverlap):
		return newError(KindSlotUnavailable, "requested interval overlaps a scheduled appointment", err)
	case errors.Is(err, storage.ErrNotFound):
		return newError(KindNotFound, "appointment not found", nil)
	case errors.Is(err, storage.ErrInvalidTransition):
		return newError(KindInvalidTransition, "appointment cannot return to scheduled", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(KindStorageFailure, "timed out waiting for the appointment store", err)
	default:
		return newError(KindStorageFailure, "appointment store failure", err)
	}
}
