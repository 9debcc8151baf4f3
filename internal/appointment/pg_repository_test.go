package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

var apptCols = []string{"id", "patient_id", "provider_id", "appointment_type_id", "requested_date", "start_time", "end_time", "status", "notes", "cancellation_reason", "created_at", "updated_at"}

var (
	rowCreated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rowDate    = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func pendingRow(rows *pgxmock.Rows, id, patient, typeID uuid.UUID) *pgxmock.Rows {
	return rows.AddRow(id, patient, (*uuid.UUID)(nil), typeID, rowDate, (*time.Time)(nil), (*time.Time)(nil),
		StatusPending, (*string)(nil), (*string)(nil), rowCreated, rowCreated)
}

func confirmedRow(rows *pgxmock.Rows, id, patient, provider, typeID uuid.UUID, start, end time.Time) *pgxmock.Rows {
	return rows.AddRow(id, patient, &provider, typeID, rowDate, &start, &end,
		StatusConfirmed, (*string)(nil), (*string)(nil), rowCreated, rowCreated)
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPgRepositoryCreate(t *testing.T) {
	mock := newMock(t)
	id, patient, typeID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(id, patient, typeID, rowDate, (*string)(nil)).
		WillReturnRows(pendingRow(mock.NewRows(apptCols), id, patient, typeID))

	repo := NewPgRepository(mock)
	got, err := repo.Create(context.Background(), Appointment{
		ID: id, PatientID: patient, AppointmentTypeID: typeID, RequestedDate: timezone.DateOf(rowDate),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "2026-03-02", got.RequestedDate.String())
	assert.Nil(t, got.StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateWithNotes(t *testing.T) {
	mock := newMock(t)
	id, patient, typeID := uuid.New(), uuid.New(), uuid.New()
	notes := "bring x-rays"

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(id, patient, typeID, rowDate, &notes).
		WillReturnRows(mock.NewRows(apptCols).AddRow(id, patient, (*uuid.UUID)(nil), typeID, rowDate,
			(*time.Time)(nil), (*time.Time)(nil), StatusPending, &notes, (*string)(nil), rowCreated, rowCreated))

	got, err := NewPgRepository(mock).Create(context.Background(), Appointment{
		ID: id, PatientID: patient, AppointmentTypeID: typeID, RequestedDate: timezone.DateOf(rowDate), Notes: &notes,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, notes, *got.Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetByIDNotFound(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments WHERE id").WithArgs(id).
		WillReturnRows(mock.NewRows(apptCols))

	_, err := NewPgRepository(mock).GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryLoadCalendar(t *testing.T) {
	mock := newMock(t)
	provider := uuid.New()
	booked := uuid.New()
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	mock.ExpectQuery("FROM provider_calendars").WithArgs(provider).
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectQuery("SELECT id, start_time, end_time").WithArgs(provider, start, end).
		WillReturnRows(mock.NewRows([]string{"id", "start_time", "end_time"}).AddRow(booked, start, end))

	cal, err := NewPgRepository(mock).LoadCalendar(context.Background(), provider, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cal.Version)
	require.Len(t, cal.Bookings, 1)
	assert.Equal(t, booked, cal.Bookings[0].AppointmentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func scheduleCommit() ScheduleCommit {
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	return ScheduleCommit{
		AppointmentID:   uuid.New(),
		ProviderID:      uuid.New(),
		From:            StatusPending,
		Start:           start,
		End:             start.Add(30 * time.Minute),
		ExpectedVersion: 2,
	}
}

func TestPgRepositoryCommitSchedule(t *testing.T) {
	mock := newMock(t)
	c := scheduleCommit()
	patient, typeID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_calendars").WithArgs(c.ProviderID, int64(2)).
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectQuery("UPDATE appointments").WithArgs(c.AppointmentID, c.ProviderID, c.Start, c.End, StatusPending).
		WillReturnRows(confirmedRow(mock.NewRows(apptCols), c.AppointmentID, patient, c.ProviderID, typeID, c.Start, c.End))
	mock.ExpectCommit()

	got, err := NewPgRepository(mock).CommitSchedule(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.StartTime)
	assert.True(t, c.Start.Equal(*got.StartTime))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCommitScheduleStaleVersion(t *testing.T) {
	mock := newMock(t)
	c := scheduleCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_calendars").WithArgs(c.ProviderID, int64(2)).
		WillReturnRows(mock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	_, err := NewPgRepository(mock).CommitSchedule(context.Background(), c)
	assert.ErrorIs(t, err, ErrCalendarChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCommitScheduleExclusionViolation(t *testing.T) {
	mock := newMock(t)
	c := scheduleCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_calendars").WithArgs(c.ProviderID, int64(2)).
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectQuery("UPDATE appointments").WithArgs(c.AppointmentID, c.ProviderID, c.Start, c.End, StatusPending).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	_, err := NewPgRepository(mock).CommitSchedule(context.Background(), c)
	assert.ErrorIs(t, err, ErrOverlap)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCommitScheduleStatusMoved(t *testing.T) {
	mock := newMock(t)
	c := scheduleCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_calendars").WithArgs(c.ProviderID, int64(2)).
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectQuery("UPDATE appointments").WithArgs(c.AppointmentID, c.ProviderID, c.Start, c.End, StatusPending).
		WillReturnRows(mock.NewRows(apptCols))
	mock.ExpectRollback()

	_, err := NewPgRepository(mock).CommitSchedule(context.Background(), c)
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStatusGuardsOnCurrentStatus(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	reason := "patient called"

	mock.ExpectQuery("UPDATE appointments").WithArgs(id, StatusCancelled, StatusConfirmed, &reason).
		WillReturnRows(mock.NewRows(apptCols))

	_, err := NewPgRepository(mock).UpdateStatus(context.Background(), id, StatusConfirmed, StatusCancelled, &reason)
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.ErrorIs(t, err, apperr.ErrState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindStalePending(t *testing.T) {
	mock := newMock(t)
	id, patient, typeID := uuid.New(), uuid.New(), uuid.New()
	today := timezone.Date{Year: 2026, Month: time.March, Day: 3}

	mock.ExpectQuery("WHERE status = 'pending'").
		WithArgs(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), 50).
		WillReturnRows(pendingRow(mock.NewRows(apptCols), id, patient, typeID))

	got, err := NewPgRepository(mock).FindStalePending(context.Background(), today, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryInsertEvent(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventAppointmentConfirmed, &id, (*uuid.UUID)(nil), []byte(`{}`), &at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewPgRepository(mock).InsertEvent(context.Background(), EventLog{
		EventType: EventAppointmentConfirmed, AppointmentID: &id, Payload: []byte(`{}`), CreatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
