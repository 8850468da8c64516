package realtime

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/conduitcrm/messaging-engine/internal/events"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// Hub fans conversation events out to connected inbox clients. Events arrive
// on the per-tenant Redis pub/sub channels the ingest pipeline publishes to,
// so hubs on different instances see the same stream.
type Hub struct {
	client redis.UniversalClient
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // tenant id -> clients

	done chan struct{}
	once sync.Once
}

func NewHub(client redis.UniversalClient, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		client:  client,
		logger:  logger,
		clients: make(map[string]map[*Client]struct{}),
		done:    make(chan struct{}),
	}
}

// Run subscribes to every tenant channel and forwards payloads until the
// context is cancelled. It blocks; run it in its own goroutine.
func (h *Hub) Run(ctx context.Context) error {
	if h.client == nil {
		<-ctx.Done()
		return nil
	}

	sub := h.client.PSubscribe(ctx, events.ChannelForTenant("*"))
	defer sub.Close()
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.dispatch(tenantFromChannel(msg.Channel), []byte(msg.Payload))
		}
	}
}

// Close detaches every client and stops Run.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for client := range set {
			client.close()
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
}

func (h *Hub) attach(tenantID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[tenantID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[tenantID] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) detach(tenantID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[tenantID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, tenantID)
		}
	}
}

// dispatch delivers one payload to every client of the tenant. Slow clients
// are dropped rather than allowed to stall the hub.
func (h *Hub) dispatch(tenantID string, payload []byte) {
	if tenantID == "" {
		return
	}
	h.mu.RLock()
	set := h.clients[tenantID]
	targets := make([]*Client, 0, len(set))
	for client := range set {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.trySend(payload) {
			h.logger.Warn("dropping slow realtime client", "tenant_id", tenantID)
			h.detach(tenantID, client)
			client.close()
		}
	}
}

// ClientCount reports connected clients for the tenant, used by tests.
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

func tenantFromChannel(channel string) string {
	prefix := events.ChannelForTenant("")
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return ""
	}
	return channel[len(prefix):]
}
