package whatsapp

// FormAPayload is the flat single-message webhook shape: one key/value record
// per call, carrying at most one media reference.
type FormAPayload struct {
	AccountID        string `json:"account_id"`
	MessageID        string `json:"message_id"`
	From             string `json:"from"`
	To               string `json:"to"`
	Body             string `json:"body"`
	ProfileName      string `json:"profile_name"`
	MediaURL         string `json:"media_url"`
	MediaContentType string `json:"media_content_type"`
	NumMedia         int    `json:"num_media"`
	Timestamp        string `json:"timestamp"`
}

// WebhookEvent is the nested business-API webhook (Form B): a batch of
// change-entries, each holding zero-or-more messages and zero-or-more
// delivery statuses.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         Metadata        `json:"metadata"`
	Contacts         []ContactRecord `json:"contacts"`
	Messages         []MessageRecord `json:"messages"`
	Statuses         []StatusRecord  `json:"statuses"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type ContactRecord struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// MessageRecord is one inbound message inside a Form-B batch. Type-specific
// payloads are optional pointers; only the one matching Type is set.
type MessageRecord struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Text      *TextPayload   `json:"text,omitempty"`
	Image     *MediaPayload  `json:"image,omitempty"`
	Audio     *MediaPayload  `json:"audio,omitempty"`
	Video     *MediaPayload  `json:"video,omitempty"`
	Document  *MediaPayload  `json:"document,omitempty"`
	Errors    []ErrorPayload `json:"errors,omitempty"`
}

type TextPayload struct {
	Body string `json:"body"`
}

type MediaPayload struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// StatusRecord is one delivery receipt inside a Form-B batch.
type StatusRecord struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// SendRequest is the Graph API payload for an outbound message.
type SendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *TextPayload  `json:"text,omitempty"`
	Image            *MediaPayload `json:"image,omitempty"`
}

// SendResponse is the Graph API reply to a send.
type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *SendError `json:"error,omitempty"`
}

type SendError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}
