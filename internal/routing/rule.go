package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/internal/classify"
)

// Conditions a rule matches against a classified message. Absent fields are
// wildcards; present fields must all match for the rule to fire.
type Conditions struct {
	Keywords []string `json:"keywords,omitempty"`
	Category string   `json:"category,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// Actions a matching rule applies to the conversation. Absent fields leave the
// classifier's output standing.
type Actions struct {
	SetPriority       string `json:"set_priority,omitempty"`
	SetCategory       string `json:"set_category,omitempty"`
	AssignTeamByName  string `json:"assign_team_by_name,omitempty"`
	AssignAgentByName string `json:"assign_agent_by_name,omitempty"`
}

// Rule is a tenant-defined conditional mutation. Rules are evaluated in
// descending PriorityOrder; the first full match wins.
type Rule struct {
	ID            uuid.UUID
	TenantID      string
	Name          string
	PriorityOrder int
	Conditions    Conditions
	Actions       Actions
	IsActive      bool
	CreatedAt     time.Time
}

var errEmptyRule = errors.New("routing: rule needs at least one action")

// ParseConditions decodes a stored conditions blob into the closed variant
// set, rejecting unknown fields. Loose config maps are not interpreted at
// evaluation time.
func ParseConditions(raw []byte) (Conditions, error) {
	var c Conditions
	if len(raw) == 0 {
		return c, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Conditions{}, fmt.Errorf("routing: parse conditions: %w", err)
	}
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.Priority = strings.ToLower(strings.TrimSpace(c.Priority))
	if c.Category != "" && !classify.ValidCategory(c.Category) {
		return Conditions{}, fmt.Errorf("routing: unknown condition category %q", c.Category)
	}
	if c.Priority != "" && !classify.ValidPriority(c.Priority) {
		return Conditions{}, fmt.Errorf("routing: unknown condition priority %q", c.Priority)
	}
	kept := c.Keywords[:0]
	for _, kw := range c.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			kept = append(kept, kw)
		}
	}
	c.Keywords = kept
	return c, nil
}

// ParseActions decodes a stored actions blob, rejecting unknown fields and
// out-of-set priority/category values.
func ParseActions(raw []byte) (Actions, error) {
	var a Actions
	if len(raw) == 0 {
		return Actions{}, errEmptyRule
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return Actions{}, fmt.Errorf("routing: parse actions: %w", err)
	}
	a.SetPriority = strings.ToLower(strings.TrimSpace(a.SetPriority))
	a.SetCategory = strings.ToLower(strings.TrimSpace(a.SetCategory))
	a.AssignTeamByName = strings.TrimSpace(a.AssignTeamByName)
	a.AssignAgentByName = strings.TrimSpace(a.AssignAgentByName)
	if a.SetPriority != "" && !classify.ValidPriority(a.SetPriority) {
		return Actions{}, fmt.Errorf("routing: unknown action priority %q", a.SetPriority)
	}
	if a.SetCategory != "" && !classify.ValidCategory(a.SetCategory) {
		return Actions{}, fmt.Errorf("routing: unknown action category %q", a.SetCategory)
	}
	if a == (Actions{}) {
		return Actions{}, errEmptyRule
	}
	return a, nil
}

// Validate checks a rule definition before it is stored.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("routing: tenant id required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("routing: rule name required")
	}
	condRaw, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("routing: marshal conditions: %w", err)
	}
	if _, err := ParseConditions(condRaw); err != nil {
		return err
	}
	actRaw, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("routing: marshal actions: %w", err)
	}
	if _, err := ParseActions(actRaw); err != nil {
		return err
	}
	return nil
}

// Matches reports whether every specified condition holds for the classified
// message. Keyword conditions match on any case-insensitive substring hit.
func (r Rule) Matches(content string, result classify.Classification) bool {
	if len(r.Conditions.Keywords) > 0 {
		lowered := strings.ToLower(content)
		hit := false
		for _, kw := range r.Conditions.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if r.Conditions.Category != "" && r.Conditions.Category != result.Category {
		return false
	}
	if r.Conditions.Priority != "" && r.Conditions.Priority != result.Priority {
		return false
	}
	return true
}
