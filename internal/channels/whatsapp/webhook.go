package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/conduitcrm/messaging-engine/internal/conversation"
	"github.com/conduitcrm/messaging-engine/internal/messaging"
	"github.com/conduitcrm/messaging-engine/internal/observability/metrics"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

var tracer = otel.Tracer("channels/whatsapp")

// Resolver maps a receiving address to the owning tenant's registration.
type Resolver interface {
	Resolve(ctx context.Context, provider, receivingAddress string) (*messaging.ChannelRegistration, error)
}

// Ingestor runs the inbound pipeline for resolved messages and receipts.
type Ingestor interface {
	ProcessInbound(ctx context.Context, reg *messaging.ChannelRegistration, msg messaging.InboundMessage) (*conversation.Result, error)
	ProcessStatus(ctx context.Context, reg *messaging.ChannelRegistration, ev messaging.StatusEvent) error
}

// FaultReporter surfaces data-integrity faults to operators, best-effort.
type FaultReporter interface {
	AmbiguousRegistrationAlert(ctx context.Context, provider, receivingAddress string)
}

// WebhookHandler terminates both WhatsApp webhook forms. Responses follow the
// provider-retry contract: 2xx for anything durably handled or intentionally
// dropped (malformed, duplicate, unresolvable tenant), and a retryable 5xx
// only for store/infrastructure unavailability.
type WebhookHandler struct {
	verifyToken  string
	appSecret    string
	accountToken string
	resolver     Resolver
	ingestor     Ingestor
	faults       FaultReporter
	metrics      *metrics.IngestMetrics
	logger       *logging.Logger
	now          func() time.Time
}

type WebhookConfig struct {
	// VerifyToken answers the business-API GET challenge.
	VerifyToken string
	// AppSecret validates X-Hub-Signature-256 on Form-B posts.
	AppSecret string
	// AccountToken authenticates Form-A posts.
	AccountToken string
}

func NewWebhookHandler(cfg WebhookConfig, resolver Resolver, ingestor Ingestor, faults FaultReporter, m *metrics.IngestMetrics, logger *logging.Logger) *WebhookHandler {
	if resolver == nil {
		panic("whatsapp: resolver cannot be nil")
	}
	if ingestor == nil {
		panic("whatsapp: ingestor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.AppSecret == "" {
		logger.Error("whatsapp app secret not configured: every business-API webhook post will be rejected as unsigned")
	}
	return &WebhookHandler{
		verifyToken:  cfg.VerifyToken,
		appSecret:    cfg.AppSecret,
		accountToken: cfg.AccountToken,
		resolver:     resolver,
		ingestor:     ingestor,
		faults:       faults,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// HandleVerification answers the GET webhook verification challenge.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleFormA terminates the flat single-message webhook form.
func (h *WebhookHandler) HandleFormA(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook_form_a")
	defer span.End()
	started := h.now()
	defer func() { h.metrics.ObserveWebhookLatency("form_a", h.now().Sub(started).Seconds()) }()

	if h.accountToken != "" {
		token := r.Header.Get("X-Account-Token")
		if token == "" {
			token = r.FormValue("AccountToken")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.accountToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		// Unparseable payloads cannot succeed on retry.
		h.logger.Warn("form-a webhook unparseable", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, drop := NormalizeFormA(ParseFormAValues(r.PostForm))
	if drop != nil {
		h.logger.Warn("form-a record dropped", "reason", drop.Reason, "provider_message_id", drop.ID)
		h.metrics.ObserveInbound(messaging.ProviderWhatsApp, "malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	if retryable := h.ingest(ctx, span, msg); retryable {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleFormB terminates the nested business-API webhook form. One call can
// carry many messages and receipts; all of them are processed.
func (h *WebhookHandler) HandleFormB(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook_form_b")
	defer span.End()
	started := h.now()
	defer func() { h.metrics.ObserveWebhookLatency("form_b", h.now().Sub(started).Seconds()) }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("form-b webhook unparseable", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	msgs, statuses, drops := NormalizeFormB(event)
	for _, drop := range drops {
		h.logger.Warn("form-b record dropped", "kind", drop.Kind, "reason", drop.Reason, "provider_message_id", drop.ID)
		h.metrics.ObserveInbound(messaging.ProviderWhatsApp, "malformed")
	}
	span.SetAttributes(
		attribute.Int("messages", len(msgs)),
		attribute.Int("statuses", len(statuses)),
		attribute.Int("dropped", len(drops)),
	)

	retryable := false
	for _, msg := range msgs {
		if h.ingest(ctx, span, msg) {
			retryable = true
		}
	}
	for _, status := range statuses {
		if h.applyStatus(ctx, status) {
			retryable = true
		}
	}

	if retryable {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ingest resolves the tenant and runs the pipeline for one message. The
// return value reports whether the provider should redeliver.
func (h *WebhookHandler) ingest(ctx context.Context, span interface{ SetAttributes(...attribute.KeyValue) }, msg messaging.InboundMessage) (retryable bool) {
	reg, err := h.resolver.Resolve(ctx, messaging.ProviderWhatsApp, msg.ReceiverAddress)
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrNoRegistrationFound):
			// No tenant context exists to store the message under; retrying
			// cannot fix that.
			h.logger.Warn("inbound message rejected, no active registration",
				"receiver", messaging.NormalizeAddress(msg.ReceiverAddress),
				"provider_message_id", msg.ProviderMessageID,
			)
			h.metrics.ObserveInbound(messaging.ProviderWhatsApp, "unresolved")
			return false
		case errors.Is(err, messaging.ErrAmbiguousRegistration):
			h.logger.Error("inbound message rejected, ambiguous registration",
				"receiver", messaging.NormalizeAddress(msg.ReceiverAddress),
				"error", err,
			)
			h.metrics.ObserveInbound(messaging.ProviderWhatsApp, "ambiguous")
			if h.faults != nil {
				h.faults.AmbiguousRegistrationAlert(ctx, messaging.ProviderWhatsApp, msg.ReceiverAddress)
			}
			return false
		default:
			h.logger.Error("registration lookup failed", "error", err)
			return true
		}
	}
	span.SetAttributes(attribute.String("tenant_id", reg.TenantID))

	if _, err := h.ingestor.ProcessInbound(ctx, reg, msg); err != nil {
		h.logger.Error("pipeline failed, requesting redelivery",
			"tenant_id", reg.TenantID,
			"provider_message_id", msg.ProviderMessageID,
			"error", err,
		)
		h.metrics.ObserveInbound(messaging.ProviderWhatsApp, "error")
		return true
	}
	return false
}

func (h *WebhookHandler) applyStatus(ctx context.Context, ev messaging.StatusEvent) (retryable bool) {
	// Status events carry no receiving address; they resolve by provider
	// message id inside the tracker, which drops unknown ids.
	if err := h.ingestor.ProcessStatus(ctx, nil, ev); err != nil {
		h.logger.Error("status event failed, requesting redelivery",
			"provider_message_id", ev.ProviderMessageID, "error", err)
		return true
	}
	return false
}

// VerifySignature validates the X-Hub-Signature-256 header over the body.
// The header must carry the "sha256=" scheme prefix; any other scheme fails.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}
