package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// ChannelForTenant names the Redis pub/sub channel carrying a tenant's
// conversation events.
func ChannelForTenant(tenantID string) string {
	return "conversations:" + tenantID
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Broadcaster pushes new-message events to the realtime fan-out channel.
// Delivery is best-effort: failures are logged and never propagate to the
// ingestion path.
type Broadcaster struct {
	client redisPublisher
	logger *logging.Logger
}

// NewBroadcaster creates a Redis-backed broadcaster. A nil client yields a
// nil Broadcaster, whose methods are no-ops.
func NewBroadcaster(client redis.UniversalClient, logger *logging.Logger) *Broadcaster {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Broadcaster{client: client, logger: logger}
}

// Broadcast publishes the envelope on the tenant's channel.
func (b *Broadcaster) Broadcast(ctx context.Context, env Envelope) {
	if b == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("broadcast marshal failed", "error", err, "event_type", env.EventType)
		return
	}
	if err := b.client.Publish(ctx, ChannelForTenant(env.TenantID), data).Err(); err != nil {
		b.logger.Warn("broadcast publish failed", "error", err, "tenant_id", env.TenantID, "event_type", env.EventType)
	}
}

// BroadcastEvent wraps the event in an envelope and publishes it.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, tenantID, correlationID string, evt CanonicalEvent) {
	if b == nil {
		return
	}
	env, err := NewEnvelope(tenantID, correlationID, evt)
	if err != nil {
		b.logger.Error("broadcast envelope failed", "error", fmt.Errorf("events: %w", err))
		return
	}
	b.Broadcast(ctx, env)
}
