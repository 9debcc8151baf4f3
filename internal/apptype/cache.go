package apptype

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedRegistry is a read-through Redis cache in front of another Registry.
// Cache failures fall through to the backing registry.
type CachedRegistry struct {
	next   Registry
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedRegistry(next Registry, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRegistry{next: next, client: client, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("apptype:%s", id.String())
}

func (c *CachedRegistry) GetType(ctx context.Context, id uuid.UUID) (Type, error) {
	key := cacheKey(id)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t Type
		if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
			return t, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cached appointment type")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("appointment type cache read failed")
	}

	t, err := c.next.GetType(ctx, id)
	if err != nil {
		return Type{}, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("appointment type cache write failed")
		}
	}
	return t, nil
}

// Invalidate drops a cached type.
func (c *CachedRegistry) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, cacheKey(id)).Err()
}

// Deactivate deactivates the type in the backing registry and evicts it.
func (c *CachedRegistry) Deactivate(ctx context.Context, id uuid.UUID) error {
	d, ok := c.next.(Deactivator)
	if !ok {
		return fmt.Errorf("backing registry %T cannot deactivate types", c.next)
	}
	if err := d.Deactivate(ctx, id); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("type_id", id.String()).Msg("appointment type cache eviction failed")
	}
	return nil
}
