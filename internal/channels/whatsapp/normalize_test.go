package whatsapp

import (
	"net/url"
	"testing"
	"time"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
)

func TestNormalizeFormAText(t *testing.T) {
	values := url.Values{}
	values.Set("AccountId", "acct-1")
	values.Set("MessageId", "SM123")
	values.Set("From", "+15550001111")
	values.Set("To", "+15559998888")
	values.Set("Body", "hola, necesito ayuda")
	values.Set("ProfileName", "Ana")
	values.Set("Timestamp", "2026-03-01T10:15:00Z")

	msg, drop := NormalizeFormA(ParseFormAValues(values))
	if drop != nil {
		t.Fatalf("unexpected drop: %+v", drop)
	}
	if msg.Provider != messaging.ProviderWhatsApp {
		t.Fatalf("provider = %q", msg.Provider)
	}
	if msg.ProviderMessageID != "SM123" || msg.SenderName != "Ana" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.MessageType != messaging.MessageTypeText || msg.MediaURL != "" {
		t.Fatalf("expected plain text message, got %+v", msg)
	}
	want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestNormalizeFormAMediaTypeFromContentType(t *testing.T) {
	values := url.Values{}
	values.Set("MessageId", "SM200")
	values.Set("From", "+15550001111")
	values.Set("To", "+15559998888")
	values.Set("NumMedia", "1")
	values.Set("MediaUrl0", "https://media.example.com/a.ogg")
	values.Set("MediaContentType0", "audio/ogg")

	msg, drop := NormalizeFormA(ParseFormAValues(values))
	if drop != nil {
		t.Fatalf("unexpected drop: %+v", drop)
	}
	if msg.MessageType != messaging.MessageTypeAudio {
		t.Fatalf("message type = %q, want audio", msg.MessageType)
	}
	if msg.MediaURL != "https://media.example.com/a.ogg" {
		t.Fatalf("media url = %q", msg.MediaURL)
	}
}

func TestNormalizeFormAMissingSenderDropped(t *testing.T) {
	values := url.Values{}
	values.Set("MessageId", "SM300")
	values.Set("To", "+15559998888")
	values.Set("Body", "hi")

	_, drop := NormalizeFormA(ParseFormAValues(values))
	if drop == nil {
		t.Fatal("expected drop for missing sender")
	}
	if drop.Reason != "missing sender" {
		t.Fatalf("drop reason = %q", drop.Reason)
	}
}

func formBBatch() WebhookEvent {
	return WebhookEvent{
		Object: "whatsapp_business_account",
		Entry: []Entry{{
			ID: "entry-1",
			Changes: []Change{{
				Field: "messages",
				Value: ChangeValue{
					MessagingProduct: "whatsapp",
					Metadata: Metadata{
						DisplayPhoneNumber: "15559998888",
						PhoneNumberID:      "phone-1",
					},
					Contacts: []ContactRecord{func() ContactRecord {
						var c ContactRecord
						c.WaID = "15550001111"
						c.Profile.Name = "Ana"
						return c
					}()},
					Messages: []MessageRecord{
						{
							ID:        "wamid.1",
							From:      "15550001111",
							Timestamp: "1767264900",
							Type:      "text",
							Text:      &TextPayload{Body: "first"},
						},
						{
							ID:        "wamid.2",
							From:      "15550001111",
							Timestamp: "1767264905",
							Type:      "text",
							Text:      &TextPayload{Body: "second"},
						},
					},
					Statuses: []StatusRecord{{
						ID:          "wamid.out.7",
						Status:      messaging.StatusRead,
						Timestamp:   "1767264910",
						RecipientID: "15550001111",
					}},
				},
			}},
		}},
	}
}

func TestNormalizeFormBBatch(t *testing.T) {
	msgs, statuses, drops := NormalizeFormB(formBBatch())
	if len(drops) != 0 {
		t.Fatalf("unexpected drops: %+v", drops)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	for i, msg := range msgs {
		if msg.ReceiverAddress != "15559998888" {
			t.Fatalf("msg %d receiver = %q", i, msg.ReceiverAddress)
		}
		if msg.SenderName != "Ana" {
			t.Fatalf("msg %d sender name = %q", i, msg.SenderName)
		}
	}
	if statuses[0].Status != messaging.StatusRead || statuses[0].ProviderMessageID != "wamid.out.7" {
		t.Fatalf("unexpected status: %+v", statuses[0])
	}
	if got := statuses[0].Timestamp; !got.Equal(time.Unix(1767264910, 0).UTC()) {
		t.Fatalf("status timestamp = %v", got)
	}
}

func TestNormalizeFormBDropsMalformedRecordOnly(t *testing.T) {
	event := formBBatch()
	// Corrupt the first message; the sibling and the status must survive.
	event.Entry[0].Changes[0].Value.Messages[0].From = ""

	msgs, statuses, drops := NormalizeFormB(event)
	if len(msgs) != 1 || msgs[0].ProviderMessageID != "wamid.2" {
		t.Fatalf("expected only the intact sibling, got %+v", msgs)
	}
	if len(statuses) != 1 {
		t.Fatalf("status record must survive sibling drop, got %d", len(statuses))
	}
	if len(drops) != 1 || drops[0].Reason != "missing sender" {
		t.Fatalf("unexpected drops: %+v", drops)
	}
}

func TestNormalizeFormBMediaByID(t *testing.T) {
	event := formBBatch()
	event.Entry[0].Changes[0].Value.Messages = []MessageRecord{{
		ID:        "wamid.img",
		From:      "15550001111",
		Timestamp: "1767264900",
		Type:      "image",
		Image:     &MediaPayload{ID: "media-55", MimeType: "image/jpeg", Caption: "receipt"},
	}}
	event.Entry[0].Changes[0].Value.Statuses = nil

	msgs, _, drops := NormalizeFormB(event)
	if len(drops) != 0 {
		t.Fatalf("unexpected drops: %+v", drops)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].MessageType != messaging.MessageTypeImage || msgs[0].MediaURL != "media:media-55" {
		t.Fatalf("unexpected media message: %+v", msgs[0])
	}
	if msgs[0].Content != "receipt" {
		t.Fatalf("caption not carried: %+v", msgs[0])
	}
}

func TestNormalizeFormBUnknownStatusDropped(t *testing.T) {
	event := formBBatch()
	event.Entry[0].Changes[0].Value.Statuses[0].Status = "warehoused"

	_, statuses, drops := NormalizeFormB(event)
	if len(statuses) != 0 {
		t.Fatalf("unknown status must be dropped, got %+v", statuses)
	}
	found := false
	for _, d := range drops {
		if d.Kind == "status" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a status drop record")
	}
}
