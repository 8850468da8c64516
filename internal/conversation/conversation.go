package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Conversation statuses. active→escalated happens inside the engine;
// closing is always an external action.
const (
	StatusActive    = "active"
	StatusEscalated = "escalated"
	StatusClosed    = "closed"
)

// EscalatedTag marks an escalated conversation in its tag set.
const EscalatedTag = "escalated"

// Conversation is the ongoing thread between a tenant and one contact on one
// provider. At most one active-or-escalated conversation exists per
// (tenant, contact, provider).
type Conversation struct {
	ID              uuid.UUID
	TenantID        string
	ContactID       uuid.UUID
	Provider        string
	Status          string
	Priority        string
	Category        string
	AssignedTeamID  *uuid.UUID
	AssignedAgentID *uuid.UUID
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the conversation still accepts inbound messages.
func (c Conversation) Open() bool {
	return c.Status == StatusActive || c.Status == StatusEscalated
}

// HasTag reports whether tag is present in the conversation's tag set.
func (c Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
