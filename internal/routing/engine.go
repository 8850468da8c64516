package routing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/internal/classify"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// RuleSource supplies the tenant's active rules in evaluation order.
type RuleSource interface {
	ListActive(ctx context.Context, tenantID string) ([]Rule, error)
}

// Directory resolves assignment names to ids within the tenant.
type Directory interface {
	TeamIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error)
	AgentIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error)
}

// Mutation is the conversation change produced by the first matching rule.
// Nil-valued fields mean "leave as is".
type Mutation struct {
	RuleID        uuid.UUID
	RuleName      string
	Priority      string
	Category      string
	AssignTeamID  *uuid.UUID
	AssignAgentID *uuid.UUID
	TeamName      string
	AgentName     string
}

// Empty reports whether the mutation carries no effective change.
func (m *Mutation) Empty() bool {
	return m == nil || (m.Priority == "" && m.Category == "" && m.AssignTeamID == nil && m.AssignAgentID == nil)
}

// Engine evaluates tenant rules against classified messages.
type Engine struct {
	rules     RuleSource
	directory Directory
	logger    *logging.Logger
}

func NewEngine(rules RuleSource, directory Directory, logger *logging.Logger) *Engine {
	if rules == nil {
		panic("routing: rule source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{rules: rules, directory: directory, logger: logger}
}

// Apply evaluates the tenant's rules in order and returns the first full
// match's mutation, or nil when no rule matches. Exactly one rule fires per
// message. An assignment whose team/agent name does not resolve within the
// tenant is skipped with a log line; the rule's other actions still apply and
// the pipeline never fails over it.
func (e *Engine) Apply(ctx context.Context, tenantID, content string, result classify.Classification) (*Mutation, error) {
	rules, err := e.rules.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if !rule.Matches(content, result) {
			continue
		}

		mutation := &Mutation{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Priority: rule.Actions.SetPriority,
			Category: rule.Actions.SetCategory,
		}

		if name := rule.Actions.AssignTeamByName; name != "" {
			if id, ok := e.resolve(ctx, tenantID, rule, "team", name, e.teamLookup()); ok {
				mutation.AssignTeamID = &id
				mutation.TeamName = name
			}
		}
		if name := rule.Actions.AssignAgentByName; name != "" {
			if id, ok := e.resolve(ctx, tenantID, rule, "agent", name, e.agentLookup()); ok {
				mutation.AssignAgentID = &id
				mutation.AgentName = name
			}
		}

		return mutation, nil
	}
	return nil, nil
}

type nameLookup func(ctx context.Context, tenantID, name string) (uuid.UUID, error)

func (e *Engine) teamLookup() nameLookup {
	if e.directory == nil {
		return nil
	}
	return e.directory.TeamIDByName
}

func (e *Engine) agentLookup() nameLookup {
	if e.directory == nil {
		return nil
	}
	return e.directory.AgentIDByName
}

func (e *Engine) resolve(ctx context.Context, tenantID string, rule Rule, kind, name string, lookup nameLookup) (uuid.UUID, bool) {
	if lookup == nil {
		e.logger.Warn("assignment skipped, no directory configured",
			"tenant_id", tenantID, "rule", rule.Name, "kind", kind, "name", name)
		return uuid.Nil, false
	}
	id, err := lookup(ctx, tenantID, name)
	if err != nil {
		if errors.Is(err, ErrNameUnresolved) {
			e.logger.Warn("assignment name did not resolve, action skipped",
				"tenant_id", tenantID, "rule", rule.Name, "kind", kind, "name", name)
		} else {
			e.logger.Error("assignment lookup failed, action skipped",
				"tenant_id", tenantID, "rule", rule.Name, "kind", kind, "name", name, "error", err)
		}
		return uuid.Nil, false
	}
	return id, true
}
