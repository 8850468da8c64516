package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook deliveries that were already handled, keyed
// by (provider, event id). Providers redeliver on timeout or non-2xx: the
// ingestion pipeline marks inbound event ids inside the persistence
// transaction and consults the store before re-applying delivery receipts.

type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return markProcessed(ctx, s.pool, provider, eventID)
}

// MarkProcessedIn records the event id inside the caller's transaction, so
// the dedup entry commits or rolls back with the work it covers.
func (s *ProcessedStore) MarkProcessedIn(ctx context.Context, tx pgx.Tx, provider, eventID string) (bool, error) {
	return markProcessed(ctx, tx, provider, eventID)
}

func markProcessed(ctx context.Context, q rowQuerier, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := q.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// PruneOlderThan drops dedup entries past the retention window. Providers stop
// retrying within days, so old keys only grow the table.
func (s *ProcessedStore) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM processed_events WHERE processed_at < now() - $1::interval`
	ct, err := s.pool.Exec(ctx, query, age.String())
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return ct.RowsAffected(), nil
}
