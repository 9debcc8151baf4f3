package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func TestPgResolverResolvesRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	email := "dr.who@example.com"
	mock.ExpectQuery("FROM users").WithArgs(id).
		WillReturnRows(mock.NewRows([]string{"id", "role", "name", "email"}).AddRow(id, RoleProvider, "Dr Who", &email))

	u, err := NewPgResolver(mock).ResolveUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, RoleProvider, u.Role)
	assert.True(t, u.IsStaff())
	require.NotNil(t, u.Email)
	assert.Equal(t, email, *u.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgResolverNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM users").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewPgResolver(mock).ResolveUser(context.Background(), id)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDirectory(t *testing.T) {
	patient := User{ID: uuid.New(), Role: RolePatient, Name: "Pat"}
	d := NewDirectory(patient)

	got, err := d.ResolveUser(context.Background(), patient.ID)
	require.NoError(t, err)
	assert.False(t, got.IsStaff())

	_, err = d.ResolveUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("janitor").Valid())
}
