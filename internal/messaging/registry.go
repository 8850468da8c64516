package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Registration statuses. Registrations are never deleted; disconnecting a
// channel transitions the row to inactive.
const (
	RegistrationActive   = "active"
	RegistrationPending  = "pending"
	RegistrationInactive = "inactive"
)

var (
	// ErrNoRegistrationFound is returned when no active registration owns the
	// receiving address. There is no tenant context to store the message
	// under, so callers reject rather than retry.
	ErrNoRegistrationFound = errors.New("messaging: no active registration for receiving address")
	// ErrAmbiguousRegistration is returned when more than one active
	// registration claims the same normalized address. Tenant isolation
	// forbids guessing; the fault is surfaced for operator attention.
	ErrAmbiguousRegistration = errors.New("messaging: receiving address maps to multiple active registrations")
)

// ChannelRegistration is a tenant's connected messaging channel.
type ChannelRegistration struct {
	ID                uuid.UUID
	TenantID          string
	Provider          string
	ReceivingAddress  string
	ProviderAccountID string
	AccessToken       string
	Status            string
	UpdatedAt         time.Time
}

type registryQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RegistryStore persists channel registrations in Postgres.
type RegistryStore struct {
	pool registryQuerier
}

func NewRegistryStore(pool registryQuerier) *RegistryStore {
	if pool == nil {
		return nil
	}
	return &RegistryStore{pool: pool}
}

// Upsert registers or re-registers a channel for a tenant. The conflict target
// is (tenant_id, provider, receiving_address): reconnecting a previously
// disconnected channel reactivates the same row.
func (s *RegistryStore) Upsert(ctx context.Context, rec ChannelRegistration) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = RegistrationPending
	}
	rec.ReceivingAddress = NormalizeAddress(rec.ReceivingAddress)
	query := `
		INSERT INTO channel_registrations (id, tenant_id, provider, receiving_address, provider_account_id, access_token, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, provider, receiving_address)
		DO UPDATE SET status = EXCLUDED.status,
			provider_account_id = EXCLUDED.provider_account_id,
			access_token = EXCLUDED.access_token,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, query, rec.ID, rec.TenantID, rec.Provider, rec.ReceivingAddress, rec.ProviderAccountID, rec.AccessToken, rec.Status)
	if err != nil {
		return fmt.Errorf("messaging: upsert registration: %w", err)
	}
	return nil
}

// SetStatus transitions a registration's status. Rows are never deleted.
func (s *RegistryStore) SetStatus(ctx context.Context, tenantID, provider, receivingAddress, status string) error {
	query := `
		UPDATE channel_registrations
		SET status = $4, updated_at = now()
		WHERE tenant_id = $1 AND provider = $2 AND receiving_address = $3
	`
	ct, err := s.pool.Exec(ctx, query, tenantID, provider, NormalizeAddress(receivingAddress), status)
	if err != nil {
		return fmt.Errorf("messaging: set registration status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNoRegistrationFound
	}
	return nil
}

// ActiveByAddress returns every active registration for the normalized
// receiving address. More than one row is a data-integrity fault the resolver
// surfaces.
func (s *RegistryStore) ActiveByAddress(ctx context.Context, provider, receivingAddress string) ([]ChannelRegistration, error) {
	normalized := NormalizeAddress(receivingAddress)
	if normalized == "" {
		return nil, nil
	}
	query := `
		SELECT id, tenant_id, provider, receiving_address, provider_account_id, access_token, status, updated_at
		FROM channel_registrations
		WHERE provider = $1 AND receiving_address = $2 AND status = 'active'
	`
	rows, err := s.pool.Query(ctx, query, provider, normalized)
	if err != nil {
		return nil, fmt.Errorf("messaging: active registrations by address: %w", err)
	}
	defer rows.Close()

	var out []ChannelRegistration
	for rows.Next() {
		var rec ChannelRegistration
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Provider, &rec.ReceivingAddress, &rec.ProviderAccountID, &rec.AccessToken, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan registration: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActiveByTenant returns the tenant's active registration for the provider.
func (s *RegistryStore) ActiveByTenant(ctx context.Context, tenantID, provider string) (*ChannelRegistration, error) {
	query := `
		SELECT id, tenant_id, provider, receiving_address, provider_account_id, access_token, status, updated_at
		FROM channel_registrations
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active'
		LIMIT 1
	`
	var rec ChannelRegistration
	err := s.pool.QueryRow(ctx, query, tenantID, provider).
		Scan(&rec.ID, &rec.TenantID, &rec.Provider, &rec.ReceivingAddress, &rec.ProviderAccountID, &rec.AccessToken, &rec.Status, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRegistrationFound
		}
		return nil, fmt.Errorf("messaging: active registration by tenant: %w", err)
	}
	return &rec, nil
}

// RegistrationLookup is the read surface the resolver needs.
type RegistrationLookup interface {
	ActiveByAddress(ctx context.Context, provider, receivingAddress string) ([]ChannelRegistration, error)
}

// TenantResolver maps an inbound receiving address to its owning tenant.
type TenantResolver struct {
	registry RegistrationLookup
}

func NewTenantResolver(registry RegistrationLookup) *TenantResolver {
	if registry == nil {
		panic("messaging: registration lookup cannot be nil")
	}
	return &TenantResolver{registry: registry}
}

// Resolve returns the single active registration owning the receiving
// address. Zero matches yields ErrNoRegistrationFound; more than one yields
// ErrAmbiguousRegistration — the resolver never guesses a tenant.
func (r *TenantResolver) Resolve(ctx context.Context, provider, receivingAddress string) (*ChannelRegistration, error) {
	if strings.TrimSpace(receivingAddress) == "" {
		return nil, ErrNoRegistrationFound
	}
	matches, err := r.registry.ActiveByAddress(ctx, provider, receivingAddress)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNoRegistrationFound
	case 1:
		rec := matches[0]
		return &rec, nil
	default:
		return nil, fmt.Errorf("%w: %s has %d active owners", ErrAmbiguousRegistration, NormalizeAddress(receivingAddress), len(matches))
	}
}
