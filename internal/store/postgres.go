package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres stores each reservation as a JSONB document keyed by id.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Upsert implements replace-on-conflict semantics in a single round trip.
// xmax = 0 holds only for a freshly inserted row, which distinguishes insert
// from replace without a read-before-write.
func (p *Postgres) Upsert(ctx context.Context, id string, payload map[string]any) (Outcome, error) {
	var inserted bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO reservation (id, payload, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			payload    = EXCLUDED.payload,
			updated_at = now()
		RETURNING (xmax = 0)
	`, id, payload).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert reservation %s: %w", id, err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeReplaced, nil
}

// List streams documents ordered by id. The row cursor lives only for the
// duration of the call; a cancelled context or visit error closes it.
func (p *Postgres) List(ctx context.Context, limit, offset int, visit func(doc map[string]any) error) error {
	rows, err := p.pool.Query(ctx, `
		SELECT id, payload, created_at, updated_at
		FROM reservation
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        string
			payload   map[string]any
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &payload, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("scan reservation row: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
		payload["created_at"] = createdAt.UTC().Format(time.RFC3339)
		payload["updated_at"] = updatedAt.UTC().Format(time.RFC3339)
		if err := visit(payload); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reservations: %w", err)
	}
	return nil
}

// Count returns the stored document count.
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM reservation`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return n, nil
}

// EnsureSchema creates the reservation table if it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reservation (
			id         TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure reservation schema: %w", err)
	}
	log.Info().Msg("reservation schema ensured")
	return nil
}
