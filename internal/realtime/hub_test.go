package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/conduitcrm/messaging-engine/internal/events"
	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

func testRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHubDispatchesToTenantClientsOnly(t *testing.T) {
	hub := NewHub(nil, logging.New("error"))

	a := &Client{send: make(chan []byte, 1)}
	b := &Client{send: make(chan []byte, 1)}
	hub.attach("tenant-a", a)
	hub.attach("tenant-b", b)

	hub.dispatch("tenant-a", []byte(`{"event_type":"message.received.v1"}`))

	select {
	case payload := <-a.send:
		if !strings.Contains(string(payload), "message.received.v1") {
			t.Fatalf("payload = %s", payload)
		}
	default:
		t.Fatal("tenant-a client did not receive the event")
	}
	select {
	case <-b.send:
		t.Fatal("tenant-b client must not receive tenant-a events")
	default:
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil, logging.New("error"))

	slow := &Client{send: make(chan []byte)} // unbuffered, never drained
	hub.attach("tenant-a", slow)

	hub.dispatch("tenant-a", []byte("x"))
	if got := hub.ClientCount("tenant-a"); got != 0 {
		t.Fatalf("slow client must be detached, count = %d", got)
	}
}

func TestHubForwardsRedisPublishes(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(client, logging.New("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := &Client{send: make(chan []byte, 4)}
	hub.attach("tenant-1", sub)

	// The pattern subscription needs a moment to register.
	deadline := time.After(2 * time.Second)
	payload := `{"tenant_id":"tenant-1","event_type":"message.received.v1"}`
	for {
		client.Publish(ctx, events.ChannelForTenant("tenant-1"), payload)
		select {
		case got := <-sub.send:
			if !strings.Contains(string(got), "message.received.v1") {
				t.Fatalf("payload = %s", got)
			}
			return
		case <-deadline:
			t.Fatal("event never reached the subscriber")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHandlerRequiresTenantScope(t *testing.T) {
	hub := NewHub(nil, logging.New("error"))
	h := NewHandler(hub, logging.New("error"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing tenant scope must be unauthorized, got %d", rec.Code)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := NewHub(nil, logging.New("error"))
	h := NewHandler(hub, logging.New("error"))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), "tenant-1")))
	}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the connection to attach before dispatching.
	waitUntil := time.Now().Add(2 * time.Second)
	for hub.ClientCount("tenant-1") == 0 {
		if time.Now().After(waitUntil) {
			t.Fatal("client never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.dispatch("tenant-1", []byte(`{"event_type":"conversation.routed.v1"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(payload), "conversation.routed.v1") {
		t.Fatalf("payload = %s", payload)
	}
}
