package apptype

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 300
)

var ErrTypeNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "appointment type not found"}

// Type is a kind of visit. It is never edited once referenced, only
// deactivated; deactivation blocks new requests but leaves existing
// appointments untouched.
type Type struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

func (t Type) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

func (t Type) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Validation("appointment type name is required")
	}
	if t.DurationMinutes < MinDurationMinutes || t.DurationMinutes > MaxDurationMinutes {
		return apperr.Validation("duration_minutes must be between %d and %d, got %d", MinDurationMinutes, MaxDurationMinutes, t.DurationMinutes)
	}
	return nil
}

// Registry supplies appointment types to the scheduling core.
type Registry interface {
	GetType(ctx context.Context, id uuid.UUID) (Type, error)
}

type Deactivator interface {
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type PgRegistry struct {
	pool db.Pool
}

func NewPgRegistry(pool db.Pool) *PgRegistry {
	return &PgRegistry{pool: pool}
}

func scanType(row pgx.Row) (Type, error) {
	var t Type
	var duration int32
	err := row.Scan(&t.ID, &t.Name, &duration, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Type{}, ErrTypeNotFound
		}
		return Type{}, err
	}
	t.DurationMinutes = int(duration)
	return t, nil
}

func (r *PgRegistry) GetType(ctx context.Context, id uuid.UUID) (Type, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, is_active, created_at
		FROM appointment_types
		WHERE id = $1
	`, id)
	return scanType(row)
}

func (r *PgRegistry) Create(ctx context.Context, t Type) (Type, error) {
	if err := t.Validate(); err != nil {
		return Type{}, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_types (id, name, duration_minutes, is_active, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, name, duration_minutes, is_active, created_at
	`, t.ID, strings.TrimSpace(t.Name), int32(t.DurationMinutes), t.IsActive)
	created, err := scanType(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Type{}, apperr.Validation("appointment type %q already exists", t.Name)
		}
		return Type{}, fmt.Errorf("insert appointment type: %w", err)
	}
	return created, nil
}

// Deactivate soft-deletes a type.
func (r *PgRegistry) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE appointment_types SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate appointment type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTypeNotFound
	}
	return nil
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	types map[uuid.UUID]Type
}

func NewMemoryRegistry(types ...Type) *MemoryRegistry {
	m := &MemoryRegistry{types: make(map[uuid.UUID]Type, len(types))}
	for _, t := range types {
		m.types[t.ID] = t
	}
	return m
}

func (m *MemoryRegistry) GetType(ctx context.Context, id uuid.UUID) (Type, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[id]
	if !ok {
		return Type{}, ErrTypeNotFound
	}
	return t, nil
}

func (m *MemoryRegistry) Deactivate(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return ErrTypeNotFound
	}
	t.IsActive = false
	m.types[id] = t
	return nil
}
