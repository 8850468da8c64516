package whatsapp

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
)

// Drop records why a record inside a webhook batch was discarded. Malformed
// records never abort their siblings.
type Drop struct {
	Kind   string // "message" or "status"
	ID     string
	Reason string
}

// NormalizeFormA converts the flat webhook record into at most one canonical
// message. Message type derives from the media content type; no media means
// text.
func NormalizeFormA(p FormAPayload) (messaging.InboundMessage, *Drop) {
	if strings.TrimSpace(p.From) == "" {
		return messaging.InboundMessage{}, &Drop{Kind: "message", ID: p.MessageID, Reason: "missing sender"}
	}
	if strings.TrimSpace(p.To) == "" {
		return messaging.InboundMessage{}, &Drop{Kind: "message", ID: p.MessageID, Reason: "missing receiver"}
	}

	msg := messaging.InboundMessage{
		Provider:          messaging.ProviderWhatsApp,
		ProviderMessageID: strings.TrimSpace(p.MessageID),
		SenderAddress:     p.From,
		ReceiverAddress:   p.To,
		SenderName:        strings.TrimSpace(p.ProfileName),
		Content:           p.Body,
		MessageType:       messaging.MessageTypeText,
		Timestamp:         parseTimestamp(p.Timestamp),
	}
	if p.NumMedia > 0 && strings.TrimSpace(p.MediaURL) != "" {
		msg.MediaURL = p.MediaURL
		msg.MediaContentType = p.MediaContentType
		msg.MessageType = typeForContentType(p.MediaContentType)
	}
	return msg, nil
}

// ParseFormAValues reads the flat webhook's form-encoded body.
func ParseFormAValues(values url.Values) FormAPayload {
	numMedia, _ := strconv.Atoi(values.Get("NumMedia"))
	return FormAPayload{
		AccountID:        values.Get("AccountId"),
		MessageID:        values.Get("MessageId"),
		From:             values.Get("From"),
		To:               values.Get("To"),
		Body:             values.Get("Body"),
		ProfileName:      values.Get("ProfileName"),
		MediaURL:         values.Get("MediaUrl0"),
		MediaContentType: values.Get("MediaContentType0"),
		NumMedia:         numMedia,
		Timestamp:        values.Get("Timestamp"),
	}
}

// NormalizeFormB flattens a nested batch into canonical messages and status
// events. Every record in every change-entry is visited; malformed records
// are dropped with a reason and processing continues with their siblings.
func NormalizeFormB(event WebhookEvent) (msgs []messaging.InboundMessage, statuses []messaging.StatusEvent, drops []Drop) {
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			receiver := change.Value.Metadata.DisplayPhoneNumber
			if receiver == "" {
				receiver = change.Value.Metadata.PhoneNumberID
			}
			names := contactNames(change.Value.Contacts)

			for _, rec := range change.Value.Messages {
				msg, drop := normalizeRecord(rec, receiver, names)
				if drop != nil {
					drops = append(drops, *drop)
					continue
				}
				msgs = append(msgs, msg)
			}

			for _, rec := range change.Value.Statuses {
				status, drop := normalizeStatus(rec)
				if drop != nil {
					drops = append(drops, *drop)
					continue
				}
				statuses = append(statuses, status)
			}
		}
	}
	return msgs, statuses, drops
}

func normalizeRecord(rec MessageRecord, receiver string, names map[string]string) (messaging.InboundMessage, *Drop) {
	if strings.TrimSpace(rec.From) == "" {
		return messaging.InboundMessage{}, &Drop{Kind: "message", ID: rec.ID, Reason: "missing sender"}
	}
	if strings.TrimSpace(rec.Timestamp) == "" {
		return messaging.InboundMessage{}, &Drop{Kind: "message", ID: rec.ID, Reason: "missing timestamp"}
	}

	msg := messaging.InboundMessage{
		Provider:          messaging.ProviderWhatsApp,
		ProviderMessageID: strings.TrimSpace(rec.ID),
		SenderAddress:     rec.From,
		ReceiverAddress:   receiver,
		SenderName:        names[messaging.NormalizeAddress(rec.From)],
		Timestamp:         parseTimestamp(rec.Timestamp),
	}

	var media *MediaPayload
	switch rec.Type {
	case "text", "":
		msg.MessageType = messaging.MessageTypeText
		if rec.Text != nil {
			msg.Content = rec.Text.Body
		}
	case "image":
		msg.MessageType = messaging.MessageTypeImage
		media = rec.Image
	case "audio":
		msg.MessageType = messaging.MessageTypeAudio
		media = rec.Audio
	case "video":
		msg.MessageType = messaging.MessageTypeVideo
		media = rec.Video
	case "document":
		msg.MessageType = messaging.MessageTypeDocument
		media = rec.Document
	default:
		return messaging.InboundMessage{}, &Drop{Kind: "message", ID: rec.ID, Reason: "unsupported type " + rec.Type}
	}

	if media != nil {
		msg.MediaURL = media.Link
		msg.MediaContentType = media.MimeType
		msg.Content = media.Caption
		if msg.MediaURL == "" && media.ID == "" {
			return messaging.InboundMessage{}, &Drop{Kind: "message", ID: rec.ID, Reason: "media record without reference"}
		}
		if msg.MediaURL == "" {
			// Media fetched later through the Graph media endpoint by id.
			msg.MediaURL = "media:" + media.ID
		}
	}
	return msg, nil
}

func normalizeStatus(rec StatusRecord) (messaging.StatusEvent, *Drop) {
	if strings.TrimSpace(rec.ID) == "" {
		return messaging.StatusEvent{}, &Drop{Kind: "status", Reason: "missing message id"}
	}
	switch rec.Status {
	case messaging.StatusSent, messaging.StatusDelivered, messaging.StatusRead, messaging.StatusFailed:
	default:
		return messaging.StatusEvent{}, &Drop{Kind: "status", ID: rec.ID, Reason: "unknown status " + rec.Status}
	}
	return messaging.StatusEvent{
		Provider:          messaging.ProviderWhatsApp,
		ProviderMessageID: rec.ID,
		Status:            rec.Status,
		RecipientAddress:  rec.RecipientID,
		Timestamp:         parseTimestamp(rec.Timestamp),
	}, nil
}

func contactNames(records []ContactRecord) map[string]string {
	if len(records) == 0 {
		return nil
	}
	names := make(map[string]string, len(records))
	for _, rec := range records {
		if rec.WaID != "" && rec.Profile.Name != "" {
			names[messaging.NormalizeAddress(rec.WaID)] = rec.Profile.Name
		}
	}
	return names
}

// parseTimestamp accepts epoch seconds (the business API) and RFC3339 (the
// flat form), falling back to now so a missing timestamp on Form A does not
// drop the message.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

func typeForContentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return messaging.MessageTypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return messaging.MessageTypeAudio
	case strings.HasPrefix(contentType, "video/"):
		return messaging.MessageTypeVideo
	case contentType == "":
		return messaging.MessageTypeText
	default:
		return messaging.MessageTypeDocument
	}
}
