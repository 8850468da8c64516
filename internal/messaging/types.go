package messaging

import "time"

// ProviderWhatsApp is the only provider this engine currently ingests.
const ProviderWhatsApp = "whatsapp"

// Message types derived from the inbound payload.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeAudio    = "audio"
	MessageTypeVideo    = "video"
	MessageTypeDocument = "document"
)

// Delivery statuses reported by the provider. sent < delivered < read form a
// strict ordering; failed is terminal and exclusive.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// StatusRank orders delivery statuses for monotonic receipt application.
// Unknown statuses rank below everything.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// InboundMessage is the canonical, provider-independent shape every webhook
// form normalizes into.
type InboundMessage struct {
	Provider          string
	ProviderMessageID string
	SenderAddress     string
	ReceiverAddress   string
	SenderName        string
	Content           string
	MessageType       string
	MediaURL          string
	MediaContentType  string
	Timestamp         time.Time
}

// StatusEvent is a canonical delivery/read receipt for a previously sent
// outbound message.
type StatusEvent struct {
	Provider          string
	ProviderMessageID string
	Status            string
	RecipientAddress  string
	Timestamp         time.Time
}
