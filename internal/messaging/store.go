package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs, satisfied by pgxpool.Pool and
// by pgxmock in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversation messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// MessageRecord is a stored inbound or outbound message.
type MessageRecord struct {
	ID                uuid.UUID
	TenantID          string
	ConversationID    uuid.UUID
	Direction         string
	Provider          string
	ProviderMessageID string
	SenderAddress     string
	ReceiverAddress   string
	Content           string
	MessageType       string
	MediaURL          string
	MediaContentType  string
	Classification    json.RawMessage
	ClassifierSource  string
	OccurredAt        time.Time
}

// InsertInbound persists an inbound message. The unique index on
// (provider, provider_message_id) makes redelivery a detected no-op: the
// second return value is false when the row already existed. An empty
// provider message id is stored as NULL so id-less messages never collide
// with each other on the unique index.
func (s *Store) InsertInbound(ctx context.Context, q Querier, rec MessageRecord) (uuid.UUID, bool, error) {
	if q == nil {
		q = s.pool
	}
	if rec.MessageType == "" {
		rec.MessageType = MessageTypeText
	}
	query := `
		INSERT INTO messages (
			tenant_id, conversation_id, direction, provider, provider_message_id,
			sender_address, receiver_address, content, message_type,
			media_url, media_content_type, classification, classifier_source, occurred_at
		)
		VALUES ($1,$2,'inbound',$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (provider, provider_message_id) DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err := q.QueryRow(ctx, query,
		rec.TenantID, rec.ConversationID, rec.Provider, rec.ProviderMessageID,
		rec.SenderAddress, rec.ReceiverAddress, rec.Content, rec.MessageType,
		rec.MediaURL, rec.MediaContentType, rec.Classification, rec.ClassifierSource, rec.OccurredAt,
	).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Conflict on the unique index, only reachable with a provider
			// message id: a NULL id never conflicts.
			if rec.ProviderMessageID == "" {
				return uuid.Nil, false, fmt.Errorf("messaging: insert inbound message: %w", err)
			}
			// Duplicate delivery: fetch the original row's id.
			existing, lookupErr := s.lookupByProviderID(ctx, q, rec.Provider, rec.ProviderMessageID)
			if lookupErr != nil {
				return uuid.Nil, false, lookupErr
			}
			return existing, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("messaging: insert inbound message: %w", err)
	}
	return id, true, nil
}

// InsertOutbound persists an outbound message after a provider send. The
// conversation reference is optional: a zero ConversationID is stored as
// NULL, not as the zero UUID, which would violate the foreign key.
func (s *Store) InsertOutbound(ctx context.Context, q Querier, rec MessageRecord) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if rec.MessageType == "" {
		rec.MessageType = MessageTypeText
	}
	query := `
		INSERT INTO messages (
			tenant_id, conversation_id, direction, provider, provider_message_id,
			sender_address, receiver_address, content, message_type,
			media_url, media_content_type, occurred_at, sent_at
		)
		VALUES ($1,$2,'outbound',$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING id
	`
	var id uuid.UUID
	err := q.QueryRow(ctx, query,
		rec.TenantID, uuidOrNull(rec.ConversationID), rec.Provider, rec.ProviderMessageID,
		rec.SenderAddress, rec.ReceiverAddress, rec.Content, rec.MessageType,
		rec.MediaURL, rec.MediaContentType, rec.OccurredAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("messaging: insert outbound message: %w", err)
	}
	return id, nil
}

// uuidOrNull maps the zero UUID to SQL NULL for optional references.
func uuidOrNull(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func (s *Store) lookupByProviderID(ctx context.Context, q Querier, provider, providerMessageID string) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	var id uuid.UUID
	query := `SELECT id FROM messages WHERE provider = $1 AND provider_message_id = $2 LIMIT 1`
	if err := q.QueryRow(ctx, query, provider, providerMessageID).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("messaging: lookup message by provider id: %w", err)
	}
	return id, nil
}

// HasProviderMessage checks whether a message with the provider message id exists.
func (s *Store) HasProviderMessage(ctx context.Context, provider, providerMessageID string) (bool, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return false, nil
	}
	query := `
		SELECT 1 FROM messages
		WHERE provider = $1 AND provider_message_id = $2
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, providerMessageID).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("messaging: check provider message: %w", err)
	}
	return true, nil
}

// CountByConversation returns how many messages a conversation holds.
func (s *Store) CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error) {
	query := `SELECT count(*) FROM messages WHERE conversation_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, query, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("messaging: count conversation messages: %w", err)
	}
	return n, nil
}

// RecentClassifications returns the newest classification blobs recorded for
// the conversation, most recent first.
func (s *Store) RecentClassifications(ctx context.Context, conversationID uuid.UUID, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT classification FROM messages
		WHERE conversation_id = $1 AND classification IS NOT NULL
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: recent classifications: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("messaging: scan classification: %w", err)
		}
		out = append(out, append(json.RawMessage(nil), raw...))
	}
	return out, rows.Err()
}
