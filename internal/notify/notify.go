package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventAppointmentConfirmed   EventType = "appointment.confirmed"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
)

// Event describes an appointment change the clinic tells people about.
type Event struct {
	Type          EventType  `json:"type"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ProviderID    *uuid.UUID `json:"provider_id,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	LocalDate     string     `json:"local_date,omitempty"`
	LocalTime     string     `json:"local_time,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Notifier delivers an event to one channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, ev Event) error {
	evt := l.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("patient_id", ev.PatientID.String())
	if ev.ProviderID != nil {
		evt = evt.Str("provider_id", ev.ProviderID.String())
	}
	if ev.StartTime != nil {
		evt = evt.Time("start_time", *ev.StartTime)
	}
	if ev.Reason != "" {
		evt = evt.Str("reason", ev.Reason)
	}
	evt.Msg("appointment notification")
	return nil
}
