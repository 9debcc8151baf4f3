package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/slots"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const (
	EventAppointmentRequested   = "APPOINTMENT_REQUESTED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentConflict    = "APPOINTMENT_CONFLICT"
)

const (
	DefaultConfirmAttempts = 3
	DefaultPageSize        = 20
	MaxPageSize            = 100
	staleSweepBatch        = 200

	StaleRequestReason = "requested date elapsed"
)

var tracer = otel.Tracer("github.com/hackgods/clinic-scheduling/internal/appointment")

type Options struct {
	MaxConfirmAttempts int
	SlotInterval       time.Duration
}

// Deps are the collaborators the service needs. Notifier, Metrics and Logger
// may be left zero.
type Deps struct {
	Repo     Repository
	Types    apptype.Registry
	Users    identity.Resolver
	Slots    *slots.Generator
	TZ       *timezone.Normalizer
	Notifier notify.Notifier
	Metrics  *metrics.SchedulingMetrics
	Logger   zerolog.Logger
}

type Service struct {
	repo     Repository
	types    apptype.Registry
	users    identity.Resolver
	slots    *slots.Generator
	tz       *timezone.Normalizer
	notifier notify.Notifier
	metrics  *metrics.SchedulingMetrics
	logger   zerolog.Logger
	opts     Options
	now      func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if opts.MaxConfirmAttempts <= 0 {
		opts.MaxConfirmAttempts = DefaultConfirmAttempts
	}
	if opts.SlotInterval <= 0 {
		opts.SlotInterval = slots.DefaultInterval
	}
	tz := deps.TZ
	if tz == nil {
		tz = timezone.NewNormalizer(0)
	}
	return &Service{
		repo:     deps.Repo,
		types:    deps.Types,
		users:    deps.Users,
		slots:    deps.Slots,
		tz:       tz,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Tests use it to pin "now".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RequestInput struct {
	PatientID uuid.UUID
	TypeID    uuid.UUID
	Date      timezone.Date
	Notes     string
}

// Request creates a pending appointment. No time is assigned, so there is
// nothing to conflict with yet.
func (s *Service) Request(ctx context.Context, actorID uuid.UUID, in RequestInput) (*Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil && actor.Role == identity.RolePatient {
		in.PatientID = actor.ID
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if actor.Role == identity.RolePatient && actor.ID != in.PatientID {
		return nil, apperr.Authorization("patients may only request appointments for themselves")
	}
	if !actor.IsStaff() && actor.Role != identity.RolePatient {
		return nil, apperr.Authorization("role %s may not request appointments", actor.Role)
	}

	patient, err := s.users.ResolveUser(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, apperr.NotFound("patient %s not found", in.PatientID)
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.Role != identity.RolePatient {
		return nil, apperr.Validation("user %s is not a patient", in.PatientID)
	}

	if in.Date.IsZero() {
		return nil, apperr.Validation("requested date is required")
	}
	if today := s.tz.Today(s.now()); in.Date.Before(today) {
		return nil, apperr.Validation("requested date %s is in the past", in.Date)
	}

	typ, err := s.types.GetType(ctx, in.TypeID)
	if err != nil {
		return nil, err
	}
	if !typ.IsActive {
		return nil, apperr.Validation("appointment type %q is no longer offered", typ.Name)
	}

	var notes *string
	if n := strings.TrimSpace(in.Notes); n != "" {
		notes = &n
	}

	created, err := s.repo.Create(ctx, Appointment{
		PatientID:         in.PatientID,
		AppointmentTypeID: typ.ID,
		RequestedDate:     in.Date,
		Notes:             notes,
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveTransition("request", "", string(StatusPending))
	s.logEvent(ctx, created.ID, actor.ID, EventAppointmentRequested, map[string]any{
		"patient_id":     created.PatientID.String(),
		"type_id":        created.AppointmentTypeID.String(),
		"requested_date": created.RequestedDate.String(),
	})
	return created, nil
}

// ListAvailableSlots returns the free windows for a type's duration on a
// provider's local date. It only reads.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date timezone.Date, typeID uuid.UUID) ([]slots.Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.list_slots", trace.WithAttributes(
		attribute.String("clinic.provider_id", providerID.String()),
		attribute.String("clinic.date", date.String()),
	))
	defer span.End()

	started := time.Now()
	out, err := s.listAvailableSlots(ctx, providerID, date, typeID)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveSlotQuery(status, time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("clinic.slot_count", len(out)))
	return out, err
}

func (s *Service) listAvailableSlots(ctx context.Context, providerID uuid.UUID, date timezone.Date, typeID uuid.UUID) ([]slots.Slot, error) {
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	if err := s.requireProvider(ctx, providerID); err != nil {
		return nil, err
	}
	typ, err := s.types.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	return s.slots.Generate(ctx, providerID, date, typ.Duration(), s.opts.SlotInterval)
}

// Confirm assigns a provider and start time to a pending appointment. The
// provider's calendar is re-read at commit time; the slot list the caller
// picked from may be stale.
func (s *Service) Confirm(ctx context.Context, actorID, id, providerID uuid.UUID, start time.Time) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.confirm", trace.WithAttributes(
		attribute.String("clinic.appointment_id", id.String()),
		attribute.String("clinic.provider_id", providerID.String()),
	))
	defer span.End()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireStaff(actor, EventConfirm); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(appt.Status, EventConfirm); err != nil {
		return nil, err
	}
	if err := s.requireProvider(ctx, providerID); err != nil {
		return nil, err
	}

	updated, err := s.schedule(ctx, actor, appt, EventConfirm, providerID, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.notify(ctx, notify.EventAppointmentConfirmed, updated, "")
	return updated, nil
}

// Reschedule moves a confirmed appointment to a new start time with the same
// provider. The appointment's current window does not count as a conflict.
func (s *Service) Reschedule(ctx context.Context, actorID, id uuid.UUID, start time.Time) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.reschedule", trace.WithAttributes(
		attribute.String("clinic.appointment_id", id.String()),
	))
	defer span.End()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireStaff(actor, EventReschedule); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(appt.Status, EventReschedule); err != nil {
		return nil, err
	}
	if appt.ProviderID == nil {
		return nil, apperr.State("appointment %s has no provider", id)
	}

	updated, err := s.schedule(ctx, actor, appt, EventReschedule, *appt.ProviderID, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.notify(ctx, notify.EventAppointmentRescheduled, updated, "")
	return updated, nil
}

// schedule runs the optimistic commit loop: read the calendar and its
// version, check for overlap, then commit only if the version is unchanged.
func (s *Service) schedule(ctx context.Context, actor identity.User, appt *Appointment, ev Event, providerID uuid.UUID, start time.Time) (*Appointment, error) {
	if start.IsZero() {
		return nil, apperr.Validation("start_time is required")
	}
	start = start.UTC().Truncate(time.Minute)
	if start.Before(s.now()) {
		return nil, apperr.Validation("start_time %s is in the past", start.Format(time.RFC3339))
	}

	typ, err := s.types.GetType(ctx, appt.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	end := start.Add(typ.Duration())
	to, _ := Next(appt.Status, ev)

	for attempt := 1; attempt <= s.opts.MaxConfirmAttempts; attempt++ {
		cal, err := s.repo.LoadCalendar(ctx, providerID, start, end)
		if err != nil {
			return nil, fmt.Errorf("load provider calendar: %w", err)
		}

		if clash, ok := conflict.FirstOverlap(cal.Bookings, start, end, appt.ID); ok {
			s.metrics.ObserveConfirm("conflict")
			s.logEvent(ctx, appt.ID, actor.ID, EventAppointmentConflict, map[string]any{
				"provider_id":    providerID.String(),
				"start_time":     start,
				"conflicts_with": clash.AppointmentID.String(),
			})
			return nil, apperr.Conflict("provider is already booked between %s and %s",
				clash.Start.Format(time.RFC3339), clash.End.Format(time.RFC3339))
		}

		updated, err := s.repo.CommitSchedule(ctx, ScheduleCommit{
			AppointmentID:   appt.ID,
			ProviderID:      providerID,
			From:            appt.Status,
			Start:           start,
			End:             end,
			ExpectedVersion: cal.Version,
		})
		switch {
		case err == nil:
			s.metrics.ObserveConfirm("confirmed")
			s.metrics.ObserveTransition(string(ev), string(appt.Status), string(to))
			eventType := EventAppointmentConfirmed
			if ev == EventReschedule {
				eventType = EventAppointmentRescheduled
			}
			payload := map[string]any{
				"provider_id": providerID.String(),
				"start_time":  start,
				"end_time":    end,
				"attempt":     attempt,
			}
			if appt.StartTime != nil {
				payload["previous_start_time"] = *appt.StartTime
			}
			s.logEvent(ctx, appt.ID, actor.ID, eventType, payload)
			return updated, nil

		case errors.Is(err, ErrCalendarChanged):
			s.metrics.ObserveCASRetry()
			s.logger.Debug().
				Str("appointment_id", appt.ID.String()).
				Str("provider_id", providerID.String()).
				Int("attempt", attempt).
				Msg("provider calendar changed, retrying")
			continue

		case errors.Is(err, ErrOverlap):
			s.metrics.ObserveConfirm("conflict")
			return nil, apperr.Conflict("provider is already booked for that time")

		case errors.Is(err, ErrStatusChanged):
			s.metrics.ObserveConfirm("state")
			return nil, s.stateErrorFor(ctx, appt.ID, ev)

		default:
			return nil, err
		}
	}

	s.metrics.ObserveConfirm("contended")
	return nil, apperr.Conflict("provider calendar is changing too quickly; query slots again and retry")
}

// Cancel ends a pending or confirmed appointment. Patients may cancel their own.
func (s *Service) Cancel(ctx context.Context, actorID, id uuid.UUID, reason string) (*Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwnerOrStaff(actor, appt); err != nil {
		return nil, err
	}

	var r *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		r = &trimmed
	}
	updated, err := s.transition(ctx, actor, appt, EventCancel, r)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, notify.EventAppointmentCancelled, updated, reason)
	return updated, nil
}

func (s *Service) Complete(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.staffTransition(ctx, actorID, id, EventComplete)
}

func (s *Service) MarkNoShow(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.staffTransition(ctx, actorID, id, EventNoShow)
}

func (s *Service) staffTransition(ctx context.Context, actorID, id uuid.UUID, ev Event) (*Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireStaff(actor, ev); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, appt, ev, nil)
}

// transition applies a status-only move, guarded by the status just read.
func (s *Service) transition(ctx context.Context, actor identity.User, appt *Appointment, ev Event, reason *string) (*Appointment, error) {
	to, err := Next(appt.Status, ev)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, to, reason)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.stateErrorFor(ctx, appt.ID, ev)
		}
		return nil, err
	}

	s.metrics.ObserveTransition(string(ev), string(appt.Status), string(to))
	payload := map[string]any{"from": appt.Status, "to": to}
	if reason != nil {
		payload["reason"] = *reason
	}
	s.logEvent(ctx, appt.ID, actor.ID, auditEventFor(ev), payload)
	return updated, nil
}

// stateErrorFor re-reads a record that changed under us and explains why ev
// no longer applies.
func (s *Service) stateErrorFor(ctx context.Context, id uuid.UUID, ev Event) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := Next(current.Status, ev); err != nil {
		return err
	}
	return ErrStatusChanged
}

func auditEventFor(ev Event) string {
	switch ev {
	case EventConfirm:
		return EventAppointmentConfirmed
	case EventReschedule:
		return EventAppointmentRescheduled
	case EventCancel:
		return EventAppointmentCancelled
	case EventComplete:
		return EventAppointmentCompleted
	case EventNoShow:
		return EventAppointmentNoShow
	}
	return strings.ToUpper("APPOINTMENT_" + string(ev))
}

// Get returns one appointment. Patients only see their own.
func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwnerOrStaff(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListForPatient pages through a patient's appointments, newest requested
// date first.
func (s *Service) ListForPatient(ctx context.Context, actorID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && actor.ID != patientID {
		return nil, apperr.Authorization("patients may only list their own appointments")
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	out, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

// ListForProvider returns a provider's scheduled appointments on a local date.
func (s *Service) ListForProvider(ctx context.Context, actorID, providerID uuid.UUID, date timezone.Date) ([]Appointment, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireStaff(actor, "list"); err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	from, to := s.tz.DayBounds(date)
	out, err := s.repo.ListByProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return out, nil
}

// ExpireStaleRequests cancels pending requests whose requested date has
// passed in clinic-local time. It returns how many were cancelled.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	today := s.tz.Today(s.now())
	stale, err := s.repo.FindStalePending(ctx, today, staleSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	reason := StaleRequestReason
	cancelled := 0
	for i := range stale {
		appt := &stale[i]
		updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusPending, StatusCancelled, &reason)
		if err != nil {
			if !errors.Is(err, ErrStatusChanged) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to cancel stale request")
			}
			continue
		}
		cancelled++
		s.metrics.ObserveTransition(string(EventCancel), string(StatusPending), string(StatusCancelled))
		s.logEvent(ctx, appt.ID, uuid.Nil, EventAppointmentCancelled, map[string]any{
			"from":           StatusPending,
			"to":             StatusCancelled,
			"reason":         reason,
			"requested_date": appt.RequestedDate.String(),
		})
		s.notify(ctx, notify.EventAppointmentCancelled, updated, reason)
	}
	return cancelled, nil
}

func (s *Service) actor(ctx context.Context, id uuid.UUID) (identity.User, error) {
	if id == uuid.Nil {
		return identity.User{}, apperr.Authorization("actor is required")
	}
	u, err := s.users.ResolveUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, apperr.Authorization("unknown actor %s", id)
		}
		return identity.User{}, fmt.Errorf("resolve actor: %w", err)
	}
	return u, nil
}

func (s *Service) requireProvider(ctx context.Context, providerID uuid.UUID) error {
	u, err := s.users.ResolveUser(ctx, providerID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return apperr.NotFound("provider %s not found", providerID)
		}
		return fmt.Errorf("resolve provider: %w", err)
	}
	if u.Role != identity.RoleProvider {
		return apperr.NotFound("provider %s not found", providerID)
	}
	return nil
}

func requireStaff(actor identity.User, ev Event) error {
	if !actor.IsStaff() {
		return apperr.Authorization("role %s may not %s appointments", actor.Role, ev)
	}
	return nil
}

func authorizeOwnerOrStaff(actor identity.User, appt *Appointment) error {
	if actor.IsStaff() || actor.ID == appt.PatientID {
		return nil
	}
	return apperr.Authorization("appointment %s belongs to another patient", appt.ID)
}

// notify hands the change to the notifier. Delivery problems are logged and
// never fail the transition that already committed.
func (s *Service) notify(ctx context.Context, t notify.EventType, appt *Appointment, reason string) {
	if s.notifier == nil || appt == nil {
		return
	}
	ev := notify.Event{
		Type:          t,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Reason:        reason,
		OccurredAt:    s.now().UTC(),
	}
	if appt.StartTime != nil {
		d, hhmm := s.tz.ToLocal(*appt.StartTime)
		ev.LocalDate, ev.LocalTime = d.String(), hhmm
	} else {
		ev.LocalDate = appt.RequestedDate.String()
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", string(t)).
			Str("appointment_id", appt.ID.String()).
			Msg("notification failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID, actorID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}
	if actorID != uuid.Nil {
		a := actorID
		ev.ActorID = &a
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
