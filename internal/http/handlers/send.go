package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
	"github.com/conduitcrm/messaging-engine/internal/observability/metrics"
	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

type outboundDispatcher interface {
	Send(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error)
}

// SendHandler lets tenant staff reply to a conversation through the tenant's
// registered channel.
type SendHandler struct {
	dispatcher outboundDispatcher
	metrics    *metrics.IngestMetrics
	logger     *logging.Logger
}

func NewSendHandler(dispatcher outboundDispatcher, m *metrics.IngestMetrics, logger *logging.Logger) *SendHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendHandler{dispatcher: dispatcher, metrics: m, logger: logger}
}

type sendRequestBody struct {
	ConversationID string `json:"conversation_id"`
	To             string `json:"to"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url,omitempty"`
}

type sendResponseBody struct {
	MessageID         string `json:"message_id"`
	ProviderMessageID string `json:"provider_message_id"`
	From              string `json:"from"`
}

// Send handles POST /api/messages/send. The tenant comes from the token
// scope, never the request body.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}

	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var conversationID uuid.UUID
	if body.ConversationID != "" {
		parsed, err := uuid.Parse(body.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation_id")
			return
		}
		conversationID = parsed
	}

	result, err := h.dispatcher.Send(r.Context(), messaging.SendRequest{
		TenantID:       tenantID,
		ConversationID: conversationID,
		ToAddress:      body.To,
		Content:        body.Content,
		MediaURL:       body.MediaURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrNoRegistrationFound):
			h.metrics.ObserveOutbound("no_registration")
			writeError(w, http.StatusConflict, "no active channel registration for tenant")
		case errors.Is(err, messaging.ErrSendRejected):
			h.metrics.ObserveOutbound("rejected")
			writeError(w, http.StatusBadGateway, "provider rejected the message")
		default:
			h.logger.Error("outbound send failed", "tenant_id", tenantID, "error", err)
			h.metrics.ObserveOutbound("error")
			writeError(w, http.StatusInternalServerError, "send failed")
		}
		return
	}

	h.metrics.ObserveOutbound("sent")
	writeJSON(w, http.StatusCreated, sendResponseBody{
		MessageID:         result.MessageID.String(),
		ProviderMessageID: result.ProviderMessageID,
		From:              result.FromAddress,
	})
}
