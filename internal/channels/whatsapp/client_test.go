package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
)

func TestClientSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload SendRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"wamid.sent.1"}]}`))
	}))
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	id, err := client.Send(context.Background(), messaging.ProviderSend{
		AccountID:   "phone-1",
		AccessToken: "tok-abc",
		To:          "+1 (555) 000-1111",
		Content:     "your order shipped",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.sent.1" {
		t.Fatalf("provider message id = %q", id)
	}
	if gotPath != "/phone-1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPayload.To != "15550001111" {
		t.Fatalf("recipient must be normalized digits, got %q", gotPayload.To)
	}
	if gotPayload.Type != "text" || gotPayload.Text == nil || gotPayload.Text.Body != "your order shipped" {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
}

func TestClientSendMedia(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload SendRequest
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.Type != "image" || payload.Image == nil || payload.Image.Link == "" {
			t.Errorf("expected image payload, got %+v", payload)
		}
		w.Write([]byte(`{"messages":[{"id":"wamid.sent.2"}]}`))
	}))
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	id, err := client.Send(context.Background(), messaging.ProviderSend{
		AccountID:   "phone-1",
		AccessToken: "tok-abc",
		To:          "15550001111",
		Content:     "see attached",
		MediaURL:    "https://cdn.example.com/pic.jpg",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.sent.2" {
		t.Fatalf("provider message id = %q", id)
	}
}

func TestClientSendGraphError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	_, err := client.Send(context.Background(), messaging.ProviderSend{
		AccountID:   "phone-1",
		AccessToken: "expired",
		To:          "15550001111",
		Content:     "hi",
	})
	if err == nil {
		t.Fatal("expected graph error")
	}
	if !strings.Contains(err.Error(), "OAuthException") || !strings.Contains(err.Error(), "190") {
		t.Fatalf("error must carry graph details: %v", err)
	}
}
