package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// Client sends outbound messages through the WhatsApp Business Cloud API.
// Credentials arrive per call from the tenant's channel registration, so one
// client serves every tenant.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithBaseURL overrides the Graph API endpoint, used by tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultGraphBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts one message to the recipient and returns the provider-assigned
// message id. The account id in the request is the sending phone-number id.
func (c *Client) Send(ctx context.Context, req messaging.ProviderSend) (string, error) {
	payload := SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               messaging.NormalizeAddress(req.To),
	}
	if req.MediaURL != "" {
		payload.Type = "image"
		payload.Image = &MediaPayload{Link: req.MediaURL, Caption: req.Content}
	} else {
		payload.Type = "text"
		payload.Text = &TextPayload{Body: req.Content}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, req.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read send response: %w", err)
	}

	var out SendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("whatsapp: decode send response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("whatsapp: graph error %d (%s): %s", out.Error.Code, out.Error.Type, out.Error.Message)
		}
		return "", fmt.Errorf("whatsapp: send failed with status %d", resp.StatusCode)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp: send response missing message id")
	}
	return out.Messages[0].ID, nil
}
