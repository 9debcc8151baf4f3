package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hackgods/clinic-scheduling/internal/identity"
)

// mailSender is the subset of the SendGrid client the notifier needs.
type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// EmailNotifier mails the patient through SendGrid. Patients without an
// email address on file are skipped.
type EmailNotifier struct {
	client mailSender
	users  identity.Resolver
	from   *mail.Email
	logger zerolog.Logger
}

func NewEmailNotifier(cfg EmailConfig, users identity.Resolver, logger zerolog.Logger) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("sendgrid from email is required")
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinic Scheduling"
	}
	return &EmailNotifier{
		client: sendgrid.NewSendClient(cfg.APIKey),
		users:  users,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	patient, err := n.users.ResolveUser(ctx, ev.PatientID)
	if err != nil {
		return fmt.Errorf("resolve patient %s: %w", ev.PatientID, err)
	}
	if patient.Email == nil || strings.TrimSpace(*patient.Email) == "" {
		n.logger.Debug().Str("patient_id", ev.PatientID.String()).Msg("no email on file, skipping")
		return nil
	}

	subject, body := renderEmail(ev, patient.Name)
	to := mail.NewEmail(patient.Name, *patient.Email)
	msg := mail.NewSingleEmail(n.from, subject, to, body, "")

	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	n.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Int("status", resp.StatusCode).
		Msg("email notification sent")
	return nil
}

func renderEmail(ev Event, name string) (string, string) {
	when := ""
	if ev.LocalDate != "" {
		when = fmt.Sprintf(" on %s at %s", ev.LocalDate, ev.LocalTime)
	}
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	switch ev.Type {
	case EventAppointmentConfirmed:
		return "Your appointment is confirmed",
			fmt.Sprintf("%s,\n\nYour appointment%s is confirmed.\n", greeting, when)
	case EventAppointmentRescheduled:
		return "Your appointment was moved",
			fmt.Sprintf("%s,\n\nYour appointment has been moved%s.\n", greeting, when)
	case EventAppointmentCancelled:
		body := fmt.Sprintf("%s,\n\nYour appointment%s has been cancelled.\n", greeting, when)
		if ev.Reason != "" {
			body += "Reason: " + ev.Reason + "\n"
		}
		return "Your appointment was cancelled", body
	default:
		return "Appointment update", fmt.Sprintf("%s,\n\nThere is an update to your appointment%s.\n", greeting, when)
	}
}
