package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/conduitcrm/messaging-engine/internal/classify"
	"github.com/conduitcrm/messaging-engine/internal/contacts"
	"github.com/conduitcrm/messaging-engine/internal/events"
	"github.com/conduitcrm/messaging-engine/internal/messaging"
	"github.com/conduitcrm/messaging-engine/internal/observability/metrics"
	"github.com/conduitcrm/messaging-engine/internal/routing"
	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

var tracer = otel.Tracer("conversation/pipeline")

// ContactStore upserts contacts with insert-or-get semantics.
type ContactStore interface {
	Upsert(ctx context.Context, tenantID, provider, providerContactID string, defaults contacts.UpsertDefaults) (*contacts.Contact, bool, error)
}

// ConversationStore is the conversation persistence surface the pipeline needs.
type ConversationStore interface {
	GetOrOpen(ctx context.Context, tenantID string, contactID uuid.UUID, provider string) (*Conversation, bool, error)
	SetClassifiedDefaults(ctx context.Context, q Querier, tenantID string, id uuid.UUID, result classify.Classification) error
	ApplyMutation(ctx context.Context, q Querier, tenantID string, id uuid.UUID, m *routing.Mutation) error
	Escalate(ctx context.Context, q Querier, tenantID string, id uuid.UUID) (bool, error)
}

// MessageStore is the message persistence surface the pipeline needs,
// satisfied by messaging.Store.
type MessageStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	HasProviderMessage(ctx context.Context, provider, providerMessageID string) (bool, error)
	InsertInbound(ctx context.Context, q messaging.Querier, rec messaging.MessageRecord) (uuid.UUID, bool, error)
	CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error)
	RecentClassifications(ctx context.Context, conversationID uuid.UUID, limit int) ([]json.RawMessage, error)
}

// Classifier produces a Classification for every message; it never errors.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) classify.Classification
}

// RuleEngine evaluates tenant routing rules against a classified message.
type RuleEngine interface {
	Apply(ctx context.Context, tenantID, content string, result classify.Classification) (*routing.Mutation, error)
}

// Broadcaster pushes events to the realtime fan-out channel, best-effort.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, tenantID, correlationID string, evt events.CanonicalEvent)
}

// MediaArchiver copies inbound media to durable storage, fire-and-forget.
type MediaArchiver interface {
	ArchiveAsync(tenantID string, conversationID, messageID uuid.UUID, mediaURL, contentType string)
}

// AlertSender notifies tenant operators about escalations. Failures are
// logged inside the implementation and never reach the pipeline.
type AlertSender interface {
	EscalationAlert(ctx context.Context, tenantID string, conversationID uuid.UUID, contactName, reason string)
}

// StatusApplier applies provider delivery receipts, satisfied by
// messaging.StatusTracker.
type StatusApplier interface {
	Apply(ctx context.Context, ev messaging.StatusEvent) error
}

// EventLedger is the webhook dedup surface, satisfied by
// events.ProcessedStore. Inbound event ids are marked inside the
// persistence transaction; receipt ids are consulted before re-applying.
type EventLedger interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessedIn(ctx context.Context, tx pgx.Tx, provider, eventID string) (bool, error)
}

// Pipeline runs the full ingestion path for one canonical inbound message:
// contact upsert, conversation open-or-reuse, classification, rule routing,
// escalation, durable persistence, then fire-and-forget side effects. It is
// stateless and safe for concurrent invocations across tenants; the only
// serialization is the per-(tenant, contact, provider) section around the
// conversation open.
type Pipeline struct {
	contacts      ContactStore
	conversations ConversationStore
	messages      MessageStore
	classifier    Classifier
	engine        RuleEngine
	status        StatusApplier
	ledger        EventLedger
	broadcaster   Broadcaster
	archiver      MediaArchiver
	alerts        AlertSender
	locks         *tenancy.KeyedLock
	metrics       *metrics.IngestMetrics
	logger        *logging.Logger

	deadline           time.Duration
	highValueThreshold int
	recentWindow       int
	now                func() time.Time
}

// PipelineConfig wires the pipeline's collaborators. Ledger, broadcaster,
// archiver, alerts, and metrics are optional; a nil value disables that
// side effect.
type PipelineConfig struct {
	Contacts      ContactStore
	Conversations ConversationStore
	Messages      MessageStore
	Classifier    Classifier
	Engine        RuleEngine
	Status        StatusApplier
	Ledger        EventLedger
	Broadcaster   Broadcaster
	Archiver      MediaArchiver
	Alerts        AlertSender
	Metrics       *metrics.IngestMetrics
	Logger        *logging.Logger

	Deadline           time.Duration
	HighValueThreshold int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Contacts == nil || cfg.Conversations == nil || cfg.Messages == nil {
		panic("conversation: contact, conversation, and message stores are required")
	}
	if cfg.Classifier == nil {
		panic("conversation: classifier is required")
	}
	if cfg.Engine == nil {
		panic("conversation: rule engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 5 * time.Second
	}
	return &Pipeline{
		contacts:           cfg.Contacts,
		conversations:      cfg.Conversations,
		messages:           cfg.Messages,
		classifier:         cfg.Classifier,
		engine:             cfg.Engine,
		status:             cfg.Status,
		ledger:             cfg.Ledger,
		broadcaster:        cfg.Broadcaster,
		archiver:           cfg.Archiver,
		alerts:             cfg.Alerts,
		locks:              tenancy.NewKeyedLock(),
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		deadline:           cfg.Deadline,
		highValueThreshold: cfg.HighValueThreshold,
		recentWindow:       5,
		now:                time.Now,
	}
}

// Result reports what one inbound message produced.
type Result struct {
	Duplicate      bool
	MessageID      uuid.UUID
	ContactID      uuid.UUID
	ConversationID uuid.UUID
	Classification classify.Classification
	RuleFired      *routing.Mutation
	Escalated      bool
}

// ProcessInbound ingests one canonical message for the resolved registration.
// Returned errors mean store/infrastructure unavailability: the webhook
// handler maps them to a retryable status so the provider redelivers.
// Duplicates, malformed drops, and classification outages never error.
func (p *Pipeline) ProcessInbound(ctx context.Context, reg *messaging.ChannelRegistration, msg messaging.InboundMessage) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.process_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", reg.TenantID),
		attribute.String("provider", msg.Provider),
	)

	started := p.now()
	ctx = tenancy.WithTenantID(ctx, reg.TenantID)
	logger := p.logger.With("tenant_id", reg.TenantID, "provider", msg.Provider, "provider_message_id", msg.ProviderMessageID)

	// Redelivered payloads are detected before any work: treated as success,
	// not error, so the provider stops retrying.
	if msg.ProviderMessageID != "" {
		seen, err := p.messages.HasProviderMessage(ctx, msg.Provider, msg.ProviderMessageID)
		if err != nil {
			return nil, fmt.Errorf("conversation: duplicate check: %w", err)
		}
		if seen {
			logger.Info("duplicate delivery ignored")
			p.metrics.ObserveInbound(msg.Provider, "duplicate")
			return &Result{Duplicate: true}, nil
		}
	}

	contact, created, err := p.contacts.Upsert(ctx, reg.TenantID, msg.Provider, messaging.NormalizeAddress(msg.SenderAddress), contacts.UpsertDefaults{
		DisplayName: msg.SenderName,
		SeenAt:      msg.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	conv, opened, err := p.openConversation(ctx, reg.TenantID, contact.ID, msg.Provider)
	if err != nil {
		return nil, err
	}

	classification := p.classifier.Classify(ctx, classify.Request{
		Content:     msg.Content,
		MessageType: msg.MessageType,
		ReceivedAt:  msg.Timestamp,
		Context:     p.buildContext(ctx, contact, conv, created, msg.Timestamp),
	})
	p.metrics.ObserveClassification(classification.Source, classification.Category)

	mutation, err := p.engine.Apply(ctx, reg.TenantID, msg.Content, classification)
	if err != nil {
		return nil, err
	}

	result, err := p.persist(ctx, reg, msg, contact, conv, opened, classification, mutation)
	if err != nil {
		return nil, err
	}
	result.ContactID = contact.ID

	p.afterCommit(reg.TenantID, contact, conv, msg, result)
	p.metrics.ObserveInbound(msg.Provider, "processed")
	p.metrics.ObservePipelineLatency(p.now().Sub(started).Seconds())
	logger.Info("inbound message processed",
		"conversation_id", conv.ID,
		"category", result.Classification.Category,
		"priority", result.Classification.Priority,
		"classifier_source", result.Classification.Source,
		"escalated", result.Escalated,
	)
	return result, nil
}

// openConversation holds the keyed lock across the get-or-open step. The
// store's partial unique index is the cross-process guarantee; the lock keeps
// same-process near-simultaneous deliveries from both taking the insert path.
func (p *Pipeline) openConversation(ctx context.Context, tenantID string, contactID uuid.UUID, provider string) (*Conversation, bool, error) {
	key := tenancy.ConversationKey(tenantID, contactID.String(), provider)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)
	return p.conversations.GetOrOpen(ctx, tenantID, contactID, provider)
}

func (p *Pipeline) buildContext(ctx context.Context, contact *contacts.Contact, conv *Conversation, firstContact bool, receivedAt time.Time) classify.Context {
	cctx := classify.Context{
		FirstContact:       firstContact,
		LifecycleStage:     contact.LifecycleStage,
		LeadScore:          contact.LeadScore,
		HighValueThreshold: p.highValueThreshold,
		WithinBusinessHrs:  withinBusinessHours(receivedAt),
	}
	if !firstContact {
		cctx.DaysSinceLastSeen = contact.DaysSinceLastSeen(receivedAt)
	}

	// Context signals are best-effort: a failed read degrades the
	// classification input, it does not block ingestion.
	if count, err := p.messages.CountByConversation(ctx, conv.ID); err == nil {
		cctx.PriorMessageCount = count
	}
	if blobs, err := p.messages.RecentClassifications(ctx, conv.ID, p.recentWindow); err == nil {
		for _, blob := range blobs {
			var prev classify.Classification
			if json.Unmarshal(blob, &prev) == nil && prev.Category != "" {
				cctx.RecentResults = append(cctx.RecentResults, prev)
			}
		}
	}
	return cctx
}

// persist writes the message, conversation mutations, and outbox events in
// one transaction, so workflow triggers only ever reference durable state.
func (p *Pipeline) persist(ctx context.Context, reg *messaging.ChannelRegistration, msg messaging.InboundMessage,
	contact *contacts.Contact, conv *Conversation, opened bool, classification classify.Classification, mutation *routing.Mutation) (*Result, error) {

	classificationJSON, err := json.Marshal(classification)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal classification: %w", err)
	}

	tx, err := p.messages.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msgID, inserted, err := p.messages.InsertInbound(ctx, tx, messaging.MessageRecord{
		TenantID:          reg.TenantID,
		ConversationID:    conv.ID,
		Provider:          msg.Provider,
		ProviderMessageID: msg.ProviderMessageID,
		SenderAddress:     messaging.NormalizeAddress(msg.SenderAddress),
		ReceiverAddress:   messaging.NormalizeAddress(msg.ReceiverAddress),
		Content:           msg.Content,
		MessageType:       msg.MessageType,
		MediaURL:          msg.MediaURL,
		MediaContentType:  msg.MediaContentType,
		Classification:    classificationJSON,
		ClassifierSource:  classification.Source,
		OccurredAt:        msg.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent delivery won the insert between the early check and
		// here; its transaction owns the state mutations.
		return &Result{Duplicate: true, MessageID: msgID}, nil
	}

	result := &Result{
		MessageID:      msgID,
		ConversationID: conv.ID,
		Classification: classification,
		RuleFired:      mutation,
	}

	// A freshly opened conversation takes the classifier's category/priority;
	// an existing one keeps its state unless a rule mutates it.
	if opened {
		if err := p.conversations.SetClassifiedDefaults(ctx, tx, reg.TenantID, conv.ID, classification); err != nil {
			return nil, err
		}
		conv.Priority = classification.Priority
		conv.Category = classification.Category
	}

	if mutation != nil {
		if err := p.conversations.ApplyMutation(ctx, tx, reg.TenantID, conv.ID, mutation); err != nil {
			return nil, err
		}
	}

	if classification.EscalationRecommended {
		escalated, err := p.conversations.Escalate(ctx, tx, reg.TenantID, conv.ID)
		if err != nil {
			return nil, err
		}
		result.Escalated = escalated
	}

	correlationID := msg.ProviderMessageID
	received := events.MessageReceivedV1{
		MessageID:         msgID.String(),
		TenantID:          reg.TenantID,
		ConversationID:    conv.ID.String(),
		ContactID:         contact.ID.String(),
		Provider:          msg.Provider,
		SenderAddress:     messaging.NormalizeAddress(msg.SenderAddress),
		ReceiverAddress:   messaging.NormalizeAddress(msg.ReceiverAddress),
		Content:           msg.Content,
		MessageType:       msg.MessageType,
		MediaURL:          msg.MediaURL,
		ProviderMessageID: msg.ProviderMessageID,
		ReceivedAt:        msg.Timestamp,
		Category:          classification.Category,
		Priority:          classification.Priority,
		ClassifierSource:  classification.Source,
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, reg.TenantID, correlationID, received); err != nil {
		return nil, err
	}

	if mutation != nil && !mutation.Empty() {
		routed := events.ConversationRoutedV1{
			TenantID:       reg.TenantID,
			ConversationID: conv.ID.String(),
			RuleID:         mutation.RuleID.String(),
			Priority:       mutation.Priority,
			Category:       mutation.Category,
			AssignedTeam:   mutation.TeamName,
			AssignedAgent:  mutation.AgentName,
			RoutedAt:       p.now().UTC(),
		}
		if _, err := events.AppendCanonicalEvent(ctx, tx, reg.TenantID, correlationID, routed); err != nil {
			return nil, err
		}
		p.metrics.ObserveRuleFired(mutation.RuleName)
	}

	if result.Escalated {
		escalatedEvt := events.ConversationEscalatedV1{
			TenantID:       reg.TenantID,
			ConversationID: conv.ID.String(),
			ContactID:      contact.ID.String(),
			Reason:         escalationReason(classification),
			EscalatedAt:    p.now().UTC(),
		}
		if _, err := events.AppendCanonicalEvent(ctx, tx, reg.TenantID, correlationID, escalatedEvt); err != nil {
			return nil, err
		}
	}

	// The dedup mark commits atomically with the message row, so a crash
	// between insert and mark cannot leave the event id half-recorded.
	if p.ledger != nil && msg.ProviderMessageID != "" {
		if _, err := p.ledger.MarkProcessedIn(ctx, tx, msg.Provider, msg.ProviderMessageID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("conversation: commit: %w", err)
	}
	return result, nil
}

// afterCommit runs the fire-and-forget side effects. None of them can roll
// back or block the already-durable ingestion.
func (p *Pipeline) afterCommit(tenantID string, contact *contacts.Contact, conv *Conversation, msg messaging.InboundMessage, result *Result) {
	if result.Duplicate {
		return
	}
	if p.broadcaster != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		p.broadcaster.BroadcastEvent(ctx, tenantID, msg.ProviderMessageID, events.MessageReceivedV1{
			MessageID:        result.MessageID.String(),
			TenantID:         tenantID,
			ConversationID:   conv.ID.String(),
			ContactID:        contact.ID.String(),
			Provider:         msg.Provider,
			SenderAddress:    messaging.NormalizeAddress(msg.SenderAddress),
			Content:          msg.Content,
			MessageType:      msg.MessageType,
			ReceivedAt:       msg.Timestamp,
			Category:         result.Classification.Category,
			Priority:         result.Classification.Priority,
			ClassifierSource: result.Classification.Source,
		})
		cancel()
	}
	if p.archiver != nil && msg.MediaURL != "" {
		p.archiver.ArchiveAsync(tenantID, conv.ID, result.MessageID, msg.MediaURL, msg.MediaContentType)
	}
	if p.alerts != nil && result.Escalated {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		p.alerts.EscalationAlert(ctx, tenantID, conv.ID, contact.DisplayName, escalationReason(result.Classification))
		cancel()
	}
}

// ProcessStatus applies one delivery receipt and records the change for
// downstream automation. Unknown message ids are dropped inside the tracker.
func (p *Pipeline) ProcessStatus(ctx context.Context, reg *messaging.ChannelRegistration, ev messaging.StatusEvent) error {
	ctx, span := tracer.Start(ctx, "pipeline.process_status")
	defer span.End()

	if p.status == nil {
		return nil
	}

	// Receipts carry no unique event id of their own, so the dedup key is
	// (message id, status). Redelivered receipts are skipped; the tracker's
	// monotonic update makes the skip safe either way.
	dedupKey := ""
	if p.ledger != nil && ev.ProviderMessageID != "" {
		dedupKey = ev.ProviderMessageID + ":" + ev.Status
		seen, err := p.ledger.AlreadyProcessed(ctx, ev.Provider, dedupKey)
		if err != nil {
			return err
		}
		if seen {
			p.logger.Info("duplicate status receipt ignored",
				"provider", ev.Provider, "provider_message_id", ev.ProviderMessageID, "status", ev.Status)
			return nil
		}
	}

	if err := p.status.Apply(ctx, ev); err != nil {
		return err
	}
	if dedupKey != "" {
		if _, err := p.ledger.MarkProcessed(ctx, ev.Provider, dedupKey); err != nil {
			// The receipt is applied; a failed mark only costs one redundant
			// UPDATE on redelivery.
			p.logger.Warn("mark processed receipt failed", "error", err)
		}
	}
	p.metrics.ObserveStatusEvent(ev.Status)
	return nil
}

func escalationReason(c classify.Classification) string {
	if len(c.MatchedKeywords) > 0 {
		return "keyword: " + c.MatchedKeywords[len(c.MatchedKeywords)-1]
	}
	if c.Source == classify.SourceAI {
		return "ai_recommended"
	}
	return "high_value_contact"
}

// withinBusinessHours is a coarse load signal for the classifier, not a
// scheduling decision: 08:00-18:00 UTC, Monday through Friday.
func withinBusinessHours(t time.Time) bool {
	utc := t.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return utc.Hour() >= 8 && utc.Hour() < 18
}
