package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const appointmentColumns = `id, patient_id, provider_id, appointment_type_id, requested_date, start_time, end_time, status, notes, cancellation_reason, created_at, updated_at`

// exclusionViolation is raised by appointments_no_overlap.
const exclusionViolation = "23P01"

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		requestedDate time.Time
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.AppointmentTypeID,
		&requestedDate,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Notes,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.RequestedDate = timezone.DateOf(requestedDate)
	if a.StartTime != nil {
		t := a.StartTime.UTC()
		a.StartTime = &t
	}
	if a.EndTime != nil {
		t := a.EndTime.UTC()
		a.EndTime = &t
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	d := a.RequestedDate

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, appointment_type_id, requested_date, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.AppointmentTypeID, db.DateArg(d.Year, d.Month, d.Day), a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY requested_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBusy(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]conflict.Booking, error) {
	return listBusy(ctx, r.pool, providerID, windowStart, windowEnd)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listBusy(ctx context.Context, q querier, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]conflict.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT id, start_time, end_time
		FROM appointments
		WHERE provider_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_time IS NOT NULL
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list busy intervals: %w", err)
	}
	defer rows.Close()

	var busy []conflict.Booking
	for rows.Next() {
		var b conflict.Booking
		if err := rows.Scan(&b.AppointmentID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		b.Start, b.End = b.Start.UTC(), b.End.UTC()
		busy = append(busy, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return busy, nil
}

// LoadCalendar reads the version before the bookings. A booking committed in
// between bumps the version, so a stale read can never pass CommitSchedule.
func (r *PgRepository) LoadCalendar(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) (Calendar, error) {
	cal := Calendar{ProviderID: providerID}

	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT version FROM provider_calendars WHERE provider_id = $1), 0)
	`, providerID).Scan(&cal.Version)
	if err != nil {
		return Calendar{}, fmt.Errorf("load calendar version: %w", err)
	}

	cal.Bookings, err = listBusy(ctx, r.pool, providerID, windowStart, windowEnd)
	if err != nil {
		return Calendar{}, err
	}
	return cal, nil
}

// CommitSchedule bumps the provider's calendar version with a compare-and-swap
// and writes the window in the same transaction.
func (r *PgRepository) CommitSchedule(ctx context.Context, c ScheduleCommit) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin schedule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx, `
		INSERT INTO provider_calendars (provider_id, version, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (provider_id) DO UPDATE
		SET version = provider_calendars.version + 1,
		    updated_at = now()
		WHERE provider_calendars.version = $2
		RETURNING version
	`, c.ProviderID, c.ExpectedVersion).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarChanged
		}
		return nil, fmt.Errorf("bump calendar version: %w", err)
	}
	// A brand new calendar row only matches a read that saw no row.
	if version == 1 && c.ExpectedVersion != 0 {
		return nil, ErrCalendarChanged
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET provider_id = $2,
		    start_time = $3,
		    end_time = $4,
		    status = 'confirmed',
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		RETURNING `+appointmentColumns,
		c.AppointmentID, c.ProviderID, c.Start, c.End, c.From)

	updated, err := scanAppointment(row)
	if err != nil {
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			return nil, ErrStatusChanged
		case isExclusionViolation(err):
			return nil, ErrOverlap
		}
		return nil, fmt.Errorf("schedule appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return nil, ErrOverlap
		}
		return nil, fmt.Errorf("commit schedule tx: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, reason)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, before timezone.Date, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND requested_date < $1
		ORDER BY requested_date
		LIMIT $2
	`, db.DateArg(before.Year, before.Month, before.Day), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
