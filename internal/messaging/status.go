package messaging

import (
	"context"
	"fmt"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// StatusTracker applies provider delivery receipts to stored outbound
// messages. Receipts can arrive out of order and duplicated; application is
// monotonic per field and a no-op on regression.
type StatusTracker struct {
	pool   PgxPool
	logger *logging.Logger
}

func NewStatusTracker(pool PgxPool, logger *logging.Logger) *StatusTracker {
	if pool == nil {
		panic("messaging: pool cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusTracker{pool: pool, logger: logger}
}

// Apply records a delivery status event. The single UPDATE coalesces each
// per-status timestamp forward only, and upgrades provider_status solely when
// the incoming rank exceeds the recorded one (failed always wins — it is
// terminal). An unknown provider_message_id is logged and dropped: the
// referenced message may belong to pruned data, and a hard error here would
// only make the provider retry forever.
func (t *StatusTracker) Apply(ctx context.Context, ev StatusEvent) error {
	if ev.ProviderMessageID == "" {
		t.logger.Warn("status event missing provider message id", "provider", ev.Provider, "status", ev.Status)
		return nil
	}
	switch ev.Status {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
	default:
		t.logger.Warn("unknown delivery status dropped", "provider", ev.Provider, "status", ev.Status, "provider_message_id", ev.ProviderMessageID)
		return nil
	}

	query := `
		UPDATE messages
		SET sent_at      = CASE WHEN $3 = 'sent'      THEN COALESCE(sent_at, $4)      ELSE sent_at END,
			delivered_at = CASE WHEN $3 = 'delivered' THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
			read_at      = CASE WHEN $3 = 'read'      THEN COALESCE(read_at, $4)      ELSE read_at END,
			failed_at    = CASE WHEN $3 = 'failed'    THEN COALESCE(failed_at, $4)    ELSE failed_at END,
			provider_status = CASE
				WHEN $3 = 'failed' THEN 'failed'
				WHEN provider_status = 'failed' THEN provider_status
				WHEN $5 > (CASE provider_status WHEN 'read' THEN 3 WHEN 'delivered' THEN 2 WHEN 'sent' THEN 1 ELSE 0 END)
					THEN $3
				ELSE provider_status
			END
		WHERE provider = $1 AND provider_message_id = $2 AND direction = 'outbound'
	`
	ct, err := t.pool.Exec(ctx, query, ev.Provider, ev.ProviderMessageID, ev.Status, ev.Timestamp, StatusRank(ev.Status))
	if err != nil {
		return fmt.Errorf("messaging: apply delivery status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		t.logger.Warn("delivery status for unknown message dropped",
			"provider", ev.Provider,
			"provider_message_id", ev.ProviderMessageID,
			"status", ev.Status,
		)
	}
	return nil
}
