package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNameUnresolved is returned by directory lookups when no team/agent with
// the name exists within the tenant.
var ErrNameUnresolved = errors.New("routing: name does not resolve within tenant")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists routing rules and resolves team/agent names.
type Repository struct {
	pool querier
}

func NewRepository(pool querier) *Repository {
	if pool == nil {
		return nil
	}
	return &Repository{pool: pool}
}

// ListActive returns the tenant's active rules ordered by descending
// priority_order, the order the engine evaluates them in. Rules whose stored
// condition/action blobs no longer parse are skipped rather than failing the
// whole fetch.
func (r *Repository) ListActive(ctx context.Context, tenantID string) ([]Rule, error) {
	query := `
		SELECT id, tenant_id, name, priority_order, conditions, actions, is_active, created_at
		FROM routing_rules
		WHERE tenant_id = $1 AND is_active
		ORDER BY priority_order DESC, created_at
	`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("routing: list active rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule             Rule
			condRaw, actsRaw []byte
		)
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.PriorityOrder, &condRaw, &actsRaw, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("routing: scan rule: %w", err)
		}
		conditions, err := ParseConditions(condRaw)
		if err != nil {
			continue
		}
		actions, err := ParseActions(actsRaw)
		if err != nil {
			continue
		}
		rule.Conditions = conditions
		rule.Actions = actions
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Create stores a validated rule.
func (r *Repository) Create(ctx context.Context, rule Rule) (uuid.UUID, error) {
	if err := rule.Validate(); err != nil {
		return uuid.Nil, err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	condRaw, err := json.Marshal(rule.Conditions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("routing: marshal conditions: %w", err)
	}
	actsRaw, err := json.Marshal(rule.Actions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("routing: marshal actions: %w", err)
	}
	query := `
		INSERT INTO routing_rules (id, tenant_id, name, priority_order, conditions, actions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.pool.Exec(ctx, query, rule.ID, rule.TenantID, rule.Name, rule.PriorityOrder, condRaw, actsRaw, rule.IsActive); err != nil {
		return uuid.Nil, fmt.Errorf("routing: create rule: %w", err)
	}
	return rule.ID, nil
}

// SetActive flips a rule's active flag.
func (r *Repository) SetActive(ctx context.Context, tenantID string, id uuid.UUID, active bool) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE routing_rules SET is_active = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, active)
	if err != nil {
		return fmt.Errorf("routing: set rule active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("routing: rule %s not found for tenant", id)
	}
	return nil
}

// TeamIDByName resolves a team name within the tenant, case-insensitively.
func (r *Repository) TeamIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error) {
	return r.lookupByName(ctx, "teams", tenantID, name)
}

// AgentIDByName resolves an agent name within the tenant, case-insensitively.
func (r *Repository) AgentIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error) {
	return r.lookupByName(ctx, "agents", tenantID, name)
}

func (r *Repository) lookupByName(ctx context.Context, table, tenantID, name string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, ErrNameUnresolved
	}
	var id uuid.UUID
	query := `SELECT id FROM ` + table + ` WHERE tenant_id = $1 AND lower(name) = lower($2) LIMIT 1`
	if err := r.pool.QueryRow(ctx, query, tenantID, name).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNameUnresolved
		}
		return uuid.Nil, fmt.Errorf("routing: lookup %s by name: %w", table, err)
	}
	return id, nil
}
