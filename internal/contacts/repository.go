package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when the contact does not exist for the tenant.
var ErrNotFound = errors.New("contacts: contact not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists contacts in Postgres.
type Repository struct {
	pool querier
}

func NewRepository(pool querier) *Repository {
	if pool == nil {
		return nil
	}
	return &Repository{pool: pool}
}

// UpsertDefaults are the optional profile fields an inbound message carries.
type UpsertDefaults struct {
	DisplayName string
	SeenAt      time.Time
}

const contactColumns = `id, tenant_id, provider, provider_contact_id, display_name,
	lifecycle_stage, lead_score, tags, first_seen_at, last_seen_at`

// Upsert returns the contact for (tenant, provider, providerContactID),
// creating it at lifecycle_stage=unknown with lead_score=0 on first sight.
// The write is a single insert-or-get statement against the unique key, so
// concurrent duplicate webhook deliveries converge on one row without an
// insert-then-catch race. The second return value reports whether this call
// created the row; the returned LastSeenAt is the value before this touch, so
// callers can compute inactivity.
func (r *Repository) Upsert(ctx context.Context, tenantID, provider, providerContactID string, defaults UpsertDefaults) (*Contact, bool, error) {
	providerContactID = strings.TrimSpace(providerContactID)
	if providerContactID == "" {
		return nil, false, errors.New("contacts: provider contact id required")
	}
	seenAt := defaults.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	// The CTE reads the pre-statement snapshot, so previous_seen reflects the
	// row before this touch even though last_seen_at advances in the same
	// statement.
	query := `
		WITH existing AS (
			SELECT last_seen_at FROM contacts
			WHERE tenant_id = $1 AND provider = $2 AND provider_contact_id = $3
		)
		INSERT INTO contacts (tenant_id, provider, provider_contact_id, display_name, lifecycle_stage, lead_score, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, 'unknown', 0, $5, $5)
		ON CONFLICT (tenant_id, provider, provider_contact_id)
		DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), contacts.display_name),
			last_seen_at = GREATEST(contacts.last_seen_at, EXCLUDED.last_seen_at)
		RETURNING ` + contactColumns + `, (xmax = 0) AS created,
			COALESCE((SELECT last_seen_at FROM existing), last_seen_at) AS previous_seen
	`
	var (
		contact      Contact
		created      bool
		previousSeen time.Time
	)
	err := r.pool.QueryRow(ctx, query, tenantID, provider, providerContactID, strings.TrimSpace(defaults.DisplayName), seenAt).
		Scan(&contact.ID, &contact.TenantID, &contact.Provider, &contact.ProviderContactID, &contact.DisplayName,
			&contact.LifecycleStage, &contact.LeadScore, &contact.Tags, &contact.FirstSeenAt, &contact.LastSeenAt,
			&created, &previousSeen)
	if err != nil {
		return nil, false, fmt.Errorf("contacts: upsert: %w", err)
	}
	if !created && !previousSeen.IsZero() {
		contact.LastSeenAt = previousSeen
	}
	return &contact, created, nil
}

// Get fetches a contact by id within the tenant.
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2`
	var contact Contact
	err := r.pool.QueryRow(ctx, query, tenantID, id).
		Scan(&contact.ID, &contact.TenantID, &contact.Provider, &contact.ProviderContactID, &contact.DisplayName,
			&contact.LifecycleStage, &contact.LeadScore, &contact.Tags, &contact.FirstSeenAt, &contact.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contacts: get: %w", err)
	}
	return &contact, nil
}

// SetLifecycleStage moves the contact to a new stage.
func (r *Repository) SetLifecycleStage(ctx context.Context, tenantID, id, stage string) error {
	switch stage {
	case StageUnknown, StageLead, StageProspect, StageCustomer, StageChurned:
	default:
		return fmt.Errorf("contacts: invalid lifecycle stage %q", stage)
	}
	ct, err := r.pool.Exec(ctx,
		`UPDATE contacts SET lifecycle_stage = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, stage)
	if err != nil {
		return fmt.Errorf("contacts: set lifecycle stage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustLeadScore adds delta to the contact's lead score, floored at zero.
func (r *Repository) AdjustLeadScore(ctx context.Context, tenantID, id string, delta int) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE contacts SET lead_score = GREATEST(lead_score + $3, 0) WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, delta)
	if err != nil {
		return fmt.Errorf("contacts: adjust lead score: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
