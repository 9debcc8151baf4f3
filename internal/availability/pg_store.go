package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const blockColumns = `id, provider_id, weekday, start_minute, end_minute, is_recurring, effective_from, effective_until, created_at, updated_at`

type PgStore struct {
	pool   db.Pool
	policy Policy
}

func NewPgStore(pool db.Pool, policy Policy) *PgStore {
	return &PgStore{pool: pool, policy: policy}
}

func scanBlock(row pgx.Row) (Block, error) {
	var (
		b              Block
		weekday        int16
		start, end     int16
		effFrom, effTo *time.Time
	)
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&weekday,
		&start,
		&end,
		&b.IsRecurring,
		&effFrom,
		&effTo,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Block{}, ErrBlockNotFound
		}
		return Block{}, err
	}
	b.Weekday = time.Weekday(weekday)
	b.StartTime = timezone.ClockTime(start)
	b.EndTime = timezone.ClockTime(end)
	if effFrom != nil {
		d := timezone.DateOf(*effFrom)
		b.EffectiveFrom = &d
	}
	if effTo != nil {
		d := timezone.DateOf(*effTo)
		b.EffectiveUntil = &d
	}
	return b, nil
}

func collectBlocks(rows pgx.Rows) ([]Block, error) {
	defer rows.Close()

	var out []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func dateArg(d *timezone.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := db.DateArg(d.Year, d.Month, d.Day)
	return &t
}

func lockKey(providerID uuid.UUID) string {
	return "availability:" + providerID.String()
}

func (s *PgStore) Add(ctx context.Context, b Block) (Block, error) {
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	b.ID = uuid.New()

	var out Block
	err := s.inProviderTx(ctx, b.ProviderID, func(tx pgx.Tx) error {
		siblings, err := listProvider(ctx, tx, b.ProviderID)
		if err != nil {
			return err
		}
		if err := s.policy.Check(siblings, b); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO availability_blocks (`+blockColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			RETURNING `+blockColumns,
			b.ID, b.ProviderID, int16(b.Weekday), int16(b.StartTime), int16(b.EndTime),
			b.IsRecurring, dateArg(b.EffectiveFrom), dateArg(b.EffectiveUntil))
		out, err = scanBlock(row)
		return err
	})
	if err != nil {
		return Block{}, err
	}
	return out, nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (Block, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+blockColumns+` FROM availability_blocks WHERE id = $1`, id)
	return scanBlock(row)
}

func (s *PgStore) List(ctx context.Context, providerID uuid.UUID) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM availability_blocks
		WHERE provider_id = $1
		ORDER BY weekday, start_minute, id
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return collectBlocks(rows)
}

func (s *PgStore) ListForWeekday(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM availability_blocks
		WHERE provider_id = $1
		  AND weekday = $2
		ORDER BY start_minute, id
	`, providerID, int16(weekday))
	if err != nil {
		return nil, fmt.Errorf("list availability for weekday: %w", err)
	}
	return collectBlocks(rows)
}

func (s *PgStore) Update(ctx context.Context, id uuid.UUID, b Block) (Block, error) {
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	b.ID = id

	var out Block
	err := s.inProviderTx(ctx, b.ProviderID, func(tx pgx.Tx) error {
		existing, err := scanBlock(tx.QueryRow(ctx, `SELECT `+blockColumns+` FROM availability_blocks WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if existing.ProviderID != b.ProviderID {
			return apperr.Validation("a block cannot move to another provider")
		}

		siblings, err := listProvider(ctx, tx, b.ProviderID)
		if err != nil {
			return err
		}
		if err := s.policy.Check(siblings, b); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE availability_blocks
			SET weekday = $2,
			    start_minute = $3,
			    end_minute = $4,
			    is_recurring = $5,
			    effective_from = $6,
			    effective_until = $7,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+blockColumns,
			id, int16(b.Weekday), int16(b.StartTime), int16(b.EndTime),
			b.IsRecurring, dateArg(b.EffectiveFrom), dateArg(b.EffectiveUntil))
		out, err = scanBlock(row)
		return err
	})
	if err != nil {
		return Block{}, err
	}
	return out, nil
}

func (s *PgStore) Remove(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM availability_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove availability block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (s *PgStore) inProviderTx(ctx context.Context, providerID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin availability tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.LockKey(ctx, tx, lockKey(providerID)); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit availability tx: %w", err)
	}
	return nil
}

func listProvider(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) ([]Block, error) {
	rows, err := tx.Query(ctx, `SELECT `+blockColumns+` FROM availability_blocks WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider blocks: %w", err)
	}
	return collectBlocks(rows)
}
