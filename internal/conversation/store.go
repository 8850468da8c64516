package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/conduitcrm/messaging-engine/internal/classify"
	"github.com/conduitcrm/messaging-engine/internal/routing"
)

// ErrNotFound is returned when no conversation matches.
var ErrNotFound = errors.New("conversation: not found")

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const conversationColumns = `id, tenant_id, contact_id, provider, status, priority, category,
	assigned_team_id, assigned_agent_id, tags, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.ContactID, &c.Provider, &c.Status, &c.Priority, &c.Category,
		&c.AssignedTeamID, &c.AssignedAgentID, &c.Tags, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOpen returns the single open conversation for the triple, if any.
func (s *Store) GetOpen(ctx context.Context, tenantID string, contactID uuid.UUID, provider string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND contact_id = $2 AND provider = $3
			AND status IN ('active', 'escalated')
		LIMIT 1
	`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, tenantID, contactID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get open: %w", err)
	}
	return conv, nil
}

// GetOrOpen returns the open conversation for (tenant, contact, provider),
// creating one with status=active, priority=medium, category=general when
// none exists. The partial unique index on the open statuses is the real
// serialization point: a losing concurrent insert comes back as zero rows and
// is retried as a read, never surfaced as a fatal error.
func (s *Store) GetOrOpen(ctx context.Context, tenantID string, contactID uuid.UUID, provider string) (*Conversation, bool, error) {
	if conv, err := s.GetOpen(ctx, tenantID, contactID, provider); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	insert := `
		INSERT INTO conversations (id, tenant_id, contact_id, provider, status, priority, category)
		VALUES ($1, $2, $3, $4, 'active', 'medium', 'general')
		ON CONFLICT (tenant_id, contact_id, provider) WHERE status IN ('active', 'escalated')
		DO NOTHING
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.pool.QueryRow(ctx, insert, uuid.New(), tenantID, contactID, provider))
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("conversation: open: %w", err)
	}

	// Lost the race: another delivery opened the conversation first.
	conv, err = s.GetOpen(ctx, tenantID, contactID, provider)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

// Get fetches any conversation by id within the tenant.
func (s *Store) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1 AND id = $2`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return conv, nil
}

// ApplyMutation applies the winning rule's actions to the conversation in one
// statement. Empty mutations are a no-op. When q is non-nil the update joins
// the caller's transaction.
func (s *Store) ApplyMutation(ctx context.Context, q Querier, tenantID string, id uuid.UUID, m *routing.Mutation) error {
	if m.Empty() {
		return nil
	}
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET priority          = COALESCE(NULLIF($3, ''), priority),
			category          = COALESCE(NULLIF($4, ''), category),
			assigned_team_id  = COALESCE($5, assigned_team_id),
			assigned_agent_id = COALESCE($6, assigned_agent_id),
			updated_at        = now()
		WHERE tenant_id = $1 AND id = $2
	`
	ct, err := q.Exec(ctx, query, tenantID, id, m.Priority, m.Category, m.AssignTeamID, m.AssignAgentID)
	if err != nil {
		return fmt.Errorf("conversation: apply routing mutation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetClassifiedDefaults overwrites the freshly opened conversation's default
// priority/category with the classifier's output. Existing conversations keep
// their state unless a rule mutates it.
func (s *Store) SetClassifiedDefaults(ctx context.Context, q Querier, tenantID string, id uuid.UUID, result classify.Classification) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET priority = $3, category = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	if _, err := q.Exec(ctx, query, tenantID, id, result.Priority, result.Category); err != nil {
		return fmt.Errorf("conversation: set classified defaults: %w", err)
	}
	return nil
}

// Escalate transitions active→escalated and adds the escalated tag if absent.
// Re-escalating an escalated conversation is a no-op; the engine never
// reverts the transition. Returns whether this call performed the transition.
func (s *Store) Escalate(ctx context.Context, q Querier, tenantID string, id uuid.UUID) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET status = 'escalated',
			tags = CASE WHEN $3 = ANY(tags) THEN tags ELSE array_append(tags, $3) END,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'active'
	`
	ct, err := q.Exec(ctx, query, tenantID, id, EscalatedTag)
	if err != nil {
		return false, fmt.Errorf("conversation: escalate: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Close ends a conversation. Invoked by external action only, never by the
// ingestion path.
func (s *Store) Close(ctx context.Context, tenantID string, id uuid.UUID) error {
	query := `
		UPDATE conversations
		SET status = 'closed', updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('active', 'escalated')
	`
	ct, err := s.pool.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("conversation: close: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
