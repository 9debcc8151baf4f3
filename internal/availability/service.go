package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

// Service guards the store: clinic staff manage any provider's blocks and a
// provider manages their own.
type Service struct {
	store  Store
	users  identity.Resolver
	logger zerolog.Logger
}

func NewService(store Store, users identity.Resolver, logger zerolog.Logger) *Service {
	return &Service{store: store, users: users, logger: logger}
}

func (s *Service) List(ctx context.Context, providerID uuid.UUID) ([]Block, error) {
	if err := s.requireProvider(ctx, providerID); err != nil {
		return nil, err
	}
	blocks, err := s.store.List(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return blocks, nil
}

// ForDate returns the provider's blocks that apply on a local date.
func (s *Service) ForDate(ctx context.Context, providerID uuid.UUID, date timezone.Date) ([]Block, error) {
	blocks, err := s.store.ListForWeekday(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return ApplicableOn(blocks, date), nil
}

// Upsert adds a block, or replaces block id when id is not uuid.Nil.
func (s *Service) Upsert(ctx context.Context, actorID, id uuid.UUID, in BlockInput) (Block, error) {
	if err := s.authorize(ctx, actorID, in.ProviderID); err != nil {
		return Block{}, err
	}
	b, err := in.Parse()
	if err != nil {
		return Block{}, err
	}
	if err := s.requireProvider(ctx, b.ProviderID); err != nil {
		return Block{}, err
	}

	var out Block
	if id == uuid.Nil {
		out, err = s.store.Add(ctx, b)
	} else {
		out, err = s.store.Update(ctx, id, b)
	}
	if err != nil {
		return Block{}, err
	}

	s.logger.Info().
		Str("block_id", out.ID.String()).
		Str("provider_id", out.ProviderID.String()).
		Str("weekday", out.Weekday.String()).
		Str("start", out.StartTime.String()).
		Str("end", out.EndTime.String()).
		Msg("availability block saved")
	return out, nil
}

func (s *Service) Remove(ctx context.Context, actorID, providerID, id uuid.UUID) error {
	if err := s.authorize(ctx, actorID, providerID); err != nil {
		return err
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.ProviderID != providerID {
		return ErrBlockNotFound
	}
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("block_id", id.String()).Str("provider_id", providerID.String()).Msg("availability block removed")
	return nil
}

func (s *Service) authorize(ctx context.Context, actorID, providerID uuid.UUID) error {
	if actorID == uuid.Nil {
		return apperr.Authorization("actor is required")
	}
	actor, err := s.users.ResolveUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return apperr.Authorization("unknown actor %s", actorID)
		}
		return fmt.Errorf("resolve actor: %w", err)
	}
	switch actor.Role {
	case identity.RoleStaff, identity.RoleAdmin:
		return nil
	case identity.RoleProvider:
		if actor.ID == providerID {
			return nil
		}
	}
	return apperr.Authorization("role %s may not manage availability for provider %s", actor.Role, providerID)
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
