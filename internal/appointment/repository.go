package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

var (
	ErrAppointmentNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "appointment not found"}

	// ErrCalendarChanged means another booking landed on the provider's
	// calendar after it was read. The caller re-reads and tries again.
	ErrCalendarChanged = errors.New("provider calendar changed since it was read")

	ErrStatusChanged = &apperr.Error{Kind: apperr.KindState, Message: "appointment status changed concurrently"}
	ErrOverlap       = &apperr.Error{Kind: apperr.KindConflict, Message: "provider is already booked for that time"}
)

// Calendar is a versioned read of a provider's busy time. Version grows by
// one with every committed booking.
type Calendar struct {
	ProviderID uuid.UUID
	Version    int64
	Bookings   []conflict.Booking
}

// ScheduleCommit fixes a provider and window on an appointment, provided the
// appointment is still in From and the provider calendar is still at
// ExpectedVersion.
type ScheduleCommit struct {
	AppointmentID   uuid.UUID
	ProviderID      uuid.UUID
	From            Status
	Start           time.Time
	End             time.Time
	ExpectedVersion int64
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	conflict.CalendarSource

	Create(ctx context.Context, a Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Optimistic scheduling
	LoadCalendar(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) (Calendar, error)
	CommitSchedule(ctx context.Context, c ScheduleCommit) (*Appointment, error)

	// Status-only transitions, guarded by the expected current status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)

	// Sweeper
	FindStalePending(ctx context.Context, before timezone.Date, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
