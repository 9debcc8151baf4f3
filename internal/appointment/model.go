package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// Appointment is a patient's request for a visit. A pending appointment has
// no provider or time; both are fixed when it is confirmed.
type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         *uuid.UUID
	AppointmentTypeID  uuid.UUID
	RequestedDate      timezone.Date
	StartTime          *time.Time
	EndTime            *time.Time
	Status             Status
	Notes              *string
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Scheduled reports whether the appointment holds a time window.
func (a Appointment) Scheduled() bool {
	return a.StartTime != nil && a.EndTime != nil
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
