package contacts

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle stages a contact moves through. New contacts start at unknown.
const (
	StageUnknown  = "unknown"
	StageLead     = "lead"
	StageProspect = "prospect"
	StageCustomer = "customer"
	StageChurned  = "churned"
)

// Contact is a person on the other end of a provider channel, unique per
// (tenant_id, provider, provider_contact_id). Contacts are never deleted,
// only tagged inactive.
type Contact struct {
	ID                uuid.UUID
	TenantID          string
	Provider          string
	ProviderContactID string
	DisplayName       string
	LifecycleStage    string
	LeadScore         int
	Tags              []string
	Metadata          map[string]string
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
}

// DaysSinceLastSeen measures inactivity before the current interaction.
func (c Contact) DaysSinceLastSeen(now time.Time) int {
	if c.LastSeenAt.IsZero() {
		return 0
	}
	days := int(now.Sub(c.LastSeenAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
