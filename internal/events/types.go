package events

import "time"

// MessageReceivedV1 captures an inbound message after durable persistence.
type MessageReceivedV1 struct {
	MessageID         string    `json:"message_id"`
	TenantID          string    `json:"tenant_id"`
	ConversationID    string    `json:"conversation_id"`
	ContactID         string    `json:"contact_id"`
	Provider          string    `json:"provider"`
	SenderAddress     string    `json:"sender_address"`
	ReceiverAddress   string    `json:"receiver_address"`
	Content           string    `json:"content"`
	MessageType       string    `json:"message_type"`
	MediaURL          string    `json:"media_url,omitempty"`
	ProviderMessageID string    `json:"provider_message_id"`
	ReceivedAt        time.Time `json:"received_at"`
	Category          string    `json:"category,omitempty"`
	Priority          string    `json:"priority,omitempty"`
	ClassifierSource  string    `json:"classifier_source,omitempty"`
}

func (MessageReceivedV1) EventType() string {
	return "conversation.message.received.v1"
}

// MessageSentV1 captures an outbound send attempt.
type MessageSentV1 struct {
	MessageID         string    `json:"message_id"`
	TenantID          string    `json:"tenant_id"`
	ConversationID    string    `json:"conversation_id,omitempty"`
	Provider          string    `json:"provider"`
	SenderAddress     string    `json:"sender_address"`
	ReceiverAddress   string    `json:"receiver_address"`
	Content           string    `json:"content"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

func (MessageSentV1) EventType() string {
	return "conversation.message.sent.v1"
}

// ConversationEscalatedV1 signals an active conversation moved to escalated.
type ConversationEscalatedV1 struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	Reason         string    `json:"reason,omitempty"`
	EscalatedAt    time.Time `json:"escalated_at"`
}

func (ConversationEscalatedV1) EventType() string {
	return "conversation.escalated.v1"
}

// ConversationRoutedV1 records a routing-rule mutation applied to a conversation.
type ConversationRoutedV1 struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	RuleID         string    `json:"rule_id"`
	Priority       string    `json:"priority,omitempty"`
	Category       string    `json:"category,omitempty"`
	AssignedTeam   string    `json:"assigned_team,omitempty"`
	AssignedAgent  string    `json:"assigned_agent,omitempty"`
	RoutedAt       time.Time `json:"routed_at"`
}

func (ConversationRoutedV1) EventType() string {
	return "conversation.routed.v1"
}

// MessageStatusChangedV1 records a provider delivery receipt applied to an
// outbound message.
type MessageStatusChangedV1 struct {
	TenantID          string    `json:"tenant_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (MessageStatusChangedV1) EventType() string {
	return "conversation.message.status_changed.v1"
}
