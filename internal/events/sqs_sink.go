package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink forwards outbox entries to the downstream workflow queue. The queue
// consumer (automation engine) treats payloads as opaque named triggers.
type SQSSink struct {
	client   sqsSendAPI
	queueURL string
}

// NewSQSSink creates a sink around the provided SQS client.
func NewSQSSink(client sqsSendAPI, queueURL string) *SQSSink {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSSink{client: client, queueURL: queueURL}
}

// Handle implements DeliveryHandler.
func (s *SQSSink) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entry.Type),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entry.TenantID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("events: send workflow trigger: %w", err)
	}
	return nil
}
