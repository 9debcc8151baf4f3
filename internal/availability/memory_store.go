package availability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

// MemoryStore is an in-process Store used by tests and the memory runtime.
type MemoryStore struct {
	mu     sync.RWMutex
	policy Policy
	blocks map[uuid.UUID]Block
	now    func() time.Time
}

func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		policy: policy,
		blocks: make(map[uuid.UUID]Block),
		now:    time.Now,
	}
}

func (s *MemoryStore) Add(ctx context.Context, b Block) (Block, error) {
	if err := b.Validate(); err != nil {
		return Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = uuid.New()
	if err := s.policy.Check(s.providerBlocksLocked(b.ProviderID), b); err != nil {
		return Block{}, err
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.blocks[b.ID] = b
	return b, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blocks[id]
	if !ok {
		return Block{}, ErrBlockNotFound
	}
	return b, nil
}

func (s *MemoryStore) List(ctx context.Context, providerID uuid.UUID) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.providerBlocksLocked(providerID)
	sortBlocks(out)
	return out, nil
}

func (s *MemoryStore) ListForWeekday(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Block
	for _, b := range s.blocks {
		if b.ProviderID == providerID && b.Weekday == weekday {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, b Block) (Block, error) {
	if err := b.Validate(); err != nil {
		return Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.blocks[id]
	if !ok {
		return Block{}, ErrBlockNotFound
	}
	if existing.ProviderID != b.ProviderID {
		return Block{}, apperr.Validation("a block cannot move to another provider")
	}

	b.ID = id
	if err := s.policy.Check(s.providerBlocksLocked(b.ProviderID), b); err != nil {
		return Block{}, err
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = s.now().UTC()
	s.blocks[id] = b
	return b, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return ErrBlockNotFound
	}
	delete(s.blocks, id)
	return nil
}

// RemoveProvider drops every block owned by a provider, mirroring the
// ON DELETE CASCADE of the relational schema.
func (s *MemoryStore) RemoveProvider(providerID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, b := range s.blocks {
		if b.ProviderID == providerID {
			delete(s.blocks, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) providerBlocksLocked(providerID uuid.UUID) []Block {
	var out []Block
	for _, b := range s.blocks {
		if b.ProviderID == providerID {
			out = append(out, b)
		}
	}
	return out
}
