package routing

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/internal/classify"
)

type staticRules struct {
	rules []Rule
	err   error
}

func (s *staticRules) ListActive(ctx context.Context, tenantID string) ([]Rule, error) {
	return s.rules, s.err
}

type staticDirectory struct {
	teams  map[string]uuid.UUID
	agents map[string]uuid.UUID
}

func (s *staticDirectory) TeamIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error) {
	if id, ok := s.teams[name]; ok {
		return id, nil
	}
	return uuid.Nil, ErrNameUnresolved
}

func (s *staticDirectory) AgentIDByName(ctx context.Context, tenantID, name string) (uuid.UUID, error) {
	if id, ok := s.agents[name]; ok {
		return id, nil
	}
	return uuid.Nil, ErrNameUnresolved
}

func TestEngineFirstFullMatchWins(t *testing.T) {
	first := Rule{ID: uuid.New(), Name: "billing-urgent", PriorityOrder: 100,
		Conditions: Conditions{Category: classify.CategoryBilling},
		Actions:    Actions{SetPriority: classify.PriorityUrgent}}
	second := Rule{ID: uuid.New(), Name: "catch-all", PriorityOrder: 10,
		Actions: Actions{SetCategory: classify.CategoryGeneral}}

	engine := NewEngine(&staticRules{rules: []Rule{first, second}}, nil, nil)
	mutation, err := engine.Apply(context.Background(), "tenant-1", "invoice is wrong",
		classify.Classification{Category: classify.CategoryBilling, Priority: classify.PriorityMedium})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mutation == nil || mutation.RuleID != first.ID {
		t.Fatalf("expected first rule to fire, got %+v", mutation)
	}
	if mutation.Priority != classify.PriorityUrgent {
		t.Fatalf("expected urgent priority action, got %q", mutation.Priority)
	}
	// Only one rule fires: the catch-all's category action must not appear.
	if mutation.Category != "" {
		t.Fatalf("second rule leaked into mutation: %+v", mutation)
	}
}

func TestEngineAllConditionsMustMatch(t *testing.T) {
	rule := Rule{ID: uuid.New(), Name: "strict",
		Conditions: Conditions{Keywords: []string{"refund"}, Category: classify.CategorySupport, Priority: classify.PriorityHigh},
		Actions:    Actions{SetPriority: classify.PriorityUrgent}}
	engine := NewEngine(&staticRules{rules: []Rule{rule}}, nil, nil)

	// Keyword matches but priority differs: no match.
	mutation, err := engine.Apply(context.Background(), "tenant-1", "I want a refund",
		classify.Classification{Category: classify.CategorySupport, Priority: classify.PriorityMedium})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mutation != nil {
		t.Fatalf("partial condition match must not fire, got %+v", mutation)
	}

	mutation, err = engine.Apply(context.Background(), "tenant-1", "I want a REFUND now",
		classify.Classification{Category: classify.CategorySupport, Priority: classify.PriorityHigh})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mutation == nil {
		t.Fatal("full condition match must fire")
	}
}

func TestEngineAssignmentByName(t *testing.T) {
	salesTeam := uuid.New()
	rule := Rule{ID: uuid.New(), Name: "route-sales",
		Conditions: Conditions{Category: classify.CategoryAcquisition},
		Actions:    Actions{AssignTeamByName: "Sales"}}
	engine := NewEngine(&staticRules{rules: []Rule{rule}},
		&staticDirectory{teams: map[string]uuid.UUID{"Sales": salesTeam}}, nil)

	mutation, err := engine.Apply(context.Background(), "tenant-1", "interested in a demo",
		classify.Classification{Category: classify.CategoryAcquisition, Priority: classify.PriorityHigh})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mutation.AssignTeamID == nil || *mutation.AssignTeamID != salesTeam {
		t.Fatalf("expected sales team assignment, got %+v", mutation)
	}
	// Rule specifies no priority action: priority stays untouched.
	if mutation.Priority != "" {
		t.Fatalf("priority must stay untouched, got %q", mutation.Priority)
	}
}

func TestEngineUnresolvedAssignmentSkipsActionOnly(t *testing.T) {
	rule := Rule{ID: uuid.New(), Name: "route-vip",
		Conditions: Conditions{Keywords: []string{"vip"}},
		Actions:    Actions{SetPriority: classify.PriorityUrgent, AssignAgentByName: "Ghost"}}
	engine := NewEngine(&staticRules{rules: []Rule{rule}}, &staticDirectory{}, nil)

	mutation, err := engine.Apply(context.Background(), "tenant-1", "vip request",
		classify.Classification{Category: classify.CategoryGeneral, Priority: classify.PriorityMedium})
	if err != nil {
		t.Fatalf("unresolved assignment must not fail the pipeline: %v", err)
	}
	if mutation.AssignAgentID != nil {
		t.Fatal("unresolved agent must be skipped")
	}
	if mutation.Priority != classify.PriorityUrgent {
		t.Fatal("other actions in the rule must still apply")
	}
}

func TestEngineDeterministic(t *testing.T) {
	rules := []Rule{
		{ID: uuid.New(), Name: "a", PriorityOrder: 50, Conditions: Conditions{Keywords: []string{"hello"}}, Actions: Actions{SetCategory: classify.CategoryFeedback}},
		{ID: uuid.New(), Name: "b", PriorityOrder: 40, Conditions: Conditions{Keywords: []string{"hello"}}, Actions: Actions{SetCategory: classify.CategorySupport}},
	}
	engine := NewEngine(&staticRules{rules: rules}, nil, nil)
	cls := classify.Classification{Category: classify.CategoryGeneral, Priority: classify.PriorityMedium}

	for i := 0; i < 10; i++ {
		mutation, err := engine.Apply(context.Background(), "tenant-1", "hello there", cls)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if mutation.RuleID != rules[0].ID {
			t.Fatalf("iteration %d produced a different rule: %+v", i, mutation)
		}
	}
}

func TestEngineNoMatch(t *testing.T) {
	rule := Rule{ID: uuid.New(), Name: "narrow", Conditions: Conditions{Keywords: []string{"zebra"}},
		Actions: Actions{SetPriority: classify.PriorityLow}}
	engine := NewEngine(&staticRules{rules: []Rule{rule}}, nil, nil)

	mutation, err := engine.Apply(context.Background(), "tenant-1", "ordinary message",
		classify.Classification{Category: classify.CategoryGeneral, Priority: classify.PriorityMedium})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mutation != nil {
		t.Fatalf("expected nil mutation when no rule matches, got %+v", mutation)
	}
}
