package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// ErrSendRejected wraps provider-side rejections with a structured reason.
var ErrSendRejected = errors.New("messaging: provider rejected send")

// SendRequest describes an outbound message to dispatch through the tenant's
// registered channel.
type SendRequest struct {
	TenantID       string
	ConversationID uuid.UUID
	ToAddress      string
	Content        string
	MediaURL       string
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("messaging: tenant id required")
	}
	if NormalizeAddress(r.ToAddress) == "" {
		return errors.New("messaging: destination address required")
	}
	if strings.TrimSpace(r.Content) == "" && strings.TrimSpace(r.MediaURL) == "" {
		return errors.New("messaging: content or media required")
	}
	return nil
}

// SendResult reports the outcome of a dispatch.
type SendResult struct {
	MessageID         uuid.UUID
	ProviderMessageID string
	FromAddress       string
}

// ProviderSend is the outbound call a channel client implements.
type ProviderSend struct {
	AccountID   string
	AccessToken string
	From        string
	To          string
	Content     string
	MediaURL    string
}

// ProviderSender sends a message through the provider API and returns the
// provider-assigned message id.
type ProviderSender interface {
	Send(ctx context.Context, req ProviderSend) (string, error)
}

type registrationByTenant interface {
	ActiveByTenant(ctx context.Context, tenantID, provider string) (*ChannelRegistration, error)
}

// Dispatcher sends outbound messages through the tenant's active channel
// registration and persists the sent message.
type Dispatcher struct {
	registry registrationByTenant
	sender   ProviderSender
	store    *Store
	logger   *logging.Logger
	timeout  time.Duration
}

func NewDispatcher(registry registrationByTenant, sender ProviderSender, store *Store, logger *logging.Logger) *Dispatcher {
	if registry == nil {
		panic("messaging: registry cannot be nil")
	}
	if sender == nil {
		panic("messaging: provider sender cannot be nil")
	}
	if store == nil {
		panic("messaging: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		store:    store,
		logger:   logger,
		timeout:  10 * time.Second,
	}
}

// WithTimeout bounds the provider send call.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// Send dispatches the message and records it. The message row is written only
// after the provider accepts the send, so a failed dispatch leaves no
// half-sent state behind.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	reg, err := d.registry.ActiveByTenant(ctx, req.TenantID, ProviderWhatsApp)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	providerMessageID, err := d.sender.Send(sendCtx, ProviderSend{
		AccountID:   reg.ProviderAccountID,
		AccessToken: reg.AccessToken,
		From:        reg.ReceivingAddress,
		To:          NormalizeAddress(req.ToAddress),
		Content:     req.Content,
		MediaURL:    req.MediaURL,
	})
	if err != nil {
		d.logger.Error("outbound send failed",
			"tenant_id", req.TenantID,
			"to", NormalizeAddress(req.ToAddress),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrSendRejected, err)
	}

	now := time.Now().UTC()
	msgID, err := d.store.InsertOutbound(ctx, nil, MessageRecord{
		TenantID:          req.TenantID,
		ConversationID:    req.ConversationID,
		Provider:          ProviderWhatsApp,
		ProviderMessageID: providerMessageID,
		SenderAddress:     reg.ReceivingAddress,
		ReceiverAddress:   NormalizeAddress(req.ToAddress),
		Content:           req.Content,
		MediaURL:          req.MediaURL,
		MessageType:       messageTypeForMedia(req.MediaURL),
		OccurredAt:        now,
	})
	if err != nil {
		// The provider accepted the message; surface the persistence failure
		// but include the provider id so the caller can reconcile.
		return &SendResult{ProviderMessageID: providerMessageID, FromAddress: reg.ReceivingAddress}, err
	}

	return &SendResult{
		MessageID:         msgID,
		ProviderMessageID: providerMessageID,
		FromAddress:       reg.ReceivingAddress,
	}, nil
}

func messageTypeForMedia(mediaURL string) string {
	if strings.TrimSpace(mediaURL) == "" {
		return MessageTypeText
	}
	return MessageTypeImage
}
