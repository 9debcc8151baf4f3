package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

var ErrUserNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "user not found"}

type User struct {
	ID    uuid.UUID
	Role  Role
	Name  string
	Email *string
}

// IsStaff reports whether the user may act on any appointment. Providers
// count as clinic staff.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff || u.Role == RoleAdmin || u.Role == RoleProvider
}

// Resolver looks up users owned by the identity service.
type Resolver interface {
	ResolveUser(ctx context.Context, id uuid.UUID) (User, error)
}

type PgResolver struct {
	pool db.Pool
}

func NewPgResolver(pool db.Pool) *PgResolver {
	return &PgResolver{pool: pool}
}

func (r *PgResolver) ResolveUser(ctx context.Context, id uuid.UUID) (User, error) {
	var (
		u     User
		email *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, role, name, email
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Role, &u.Name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.Email = email
	return u, nil
}

// Directory is an in-memory Resolver.
type Directory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewDirectory(users ...User) *Directory {
	d := &Directory{users: make(map[uuid.UUID]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *Directory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Directory) ResolveUser(ctx context.Context, id uuid.UUID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
