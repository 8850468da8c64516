package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// Recipients holds the notification targets for one tenant.
type Recipients struct {
	EmailEnabled    bool
	EmailRecipients []string
	// OperatorEmails receive data-integrity faults regardless of tenant
	// settings; they are the platform operators, not tenant staff.
	OperatorEmails []string
}

// RecipientSource resolves per-tenant notification settings.
type RecipientSource interface {
	Recipients(ctx context.Context, tenantID string) (*Recipients, error)
}

// StaticRecipients serves the same recipient list for every tenant, used for
// single-tenant deployments and tests.
type StaticRecipients struct {
	Value Recipients
}

func (s StaticRecipients) Recipients(_ context.Context, _ string) (*Recipients, error) {
	v := s.Value
	return &v, nil
}

// AlertService sends operational alerts to tenant staff and platform
// operators. Every method is best-effort: failures are logged and swallowed
// so alerting can never stall message ingestion.
type AlertService struct {
	email      EmailSender
	recipients RecipientSource
	logger     *logging.Logger
}

func NewAlertService(email EmailSender, recipients RecipientSource, logger *logging.Logger) *AlertService {
	if logger == nil {
		logger = logging.Default()
	}
	return &AlertService{email: email, recipients: recipients, logger: logger}
}

// EscalationAlert notifies tenant staff that a conversation needs a human.
func (s *AlertService) EscalationAlert(ctx context.Context, tenantID string, conversationID uuid.UUID, contactName, reason string) {
	if s == nil || s.email == nil || s.recipients == nil {
		return
	}
	rcpts, err := s.recipients.Recipients(ctx, tenantID)
	if err != nil {
		s.logger.Error("escalation alert: recipients lookup failed", "tenant_id", tenantID, "error", err)
		return
	}
	if !rcpts.EmailEnabled || len(rcpts.EmailRecipients) == 0 {
		return
	}

	if contactName == "" {
		contactName = "A contact"
	}
	subject := fmt.Sprintf("Conversation escalated - %s", contactName)
	body := fmt.Sprintf(`%s needs a human response.

Conversation: %s
Reason: %s

Please pick this conversation up in the inbox.

— Conduit CRM`, contactName, conversationID, reason)

	s.send(ctx, tenantID, rcpts.EmailRecipients, subject, body)
}

// AmbiguousRegistrationAlert tells platform operators that more than one
// active registration claims the same receiving address, which blocks
// ingestion for that address until resolved.
func (s *AlertService) AmbiguousRegistrationAlert(ctx context.Context, provider, receivingAddress string) {
	if s == nil || s.email == nil || s.recipients == nil {
		return
	}
	rcpts, err := s.recipients.Recipients(ctx, "")
	if err != nil {
		s.logger.Error("ambiguous registration alert: recipients lookup failed", "error", err)
		return
	}
	if len(rcpts.OperatorEmails) == 0 {
		s.logger.Warn("ambiguous registration with no operator recipients configured",
			"provider", provider, "receiver", receivingAddress)
		return
	}

	subject := fmt.Sprintf("Ambiguous channel registration - %s", receivingAddress)
	body := fmt.Sprintf(`Multiple active registrations claim the same receiving address.

Provider: %s
Receiving address: %s

Inbound messages to this address are being rejected until exactly one
registration remains active.

— Conduit CRM`, provider, receivingAddress)

	s.send(ctx, "", rcpts.OperatorEmails, subject, body)
}

func (s *AlertService) send(ctx context.Context, tenantID string, to []string, subject, body string) {
	var failed []string
	for _, recipient := range to {
		msg := EmailMessage{To: recipient, Subject: subject, Body: body}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("alert email failed", "tenant_id", tenantID, "to", recipient, "error", err)
			failed = append(failed, recipient)
			continue
		}
		s.logger.Info("alert email sent", "tenant_id", tenantID, "to", recipient, "subject", subject)
	}
	if len(failed) > 0 {
		s.logger.Warn("some alert emails failed", "tenant_id", tenantID, "failed", strings.Join(failed, ","))
	}
}
