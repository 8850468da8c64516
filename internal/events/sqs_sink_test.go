package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil
}

func TestSQSSinkHandle(t *testing.T) {
	fake := &fakeSQS{}
	sink := NewSQSSink(fake, "https://sqs.example/queue")

	entry := OutboxEntry{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		Type:     "conversation.message.received.v1",
		Payload:  []byte(`{"hello":"world"}`),
	}
	if err := sink.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(fake.inputs))
	}
	input := fake.inputs[0]
	if aws.ToString(input.MessageBody) != `{"hello":"world"}` {
		t.Fatalf("unexpected body %s", aws.ToString(input.MessageBody))
	}
	if got := aws.ToString(input.MessageAttributes["event_type"].StringValue); got != entry.Type {
		t.Fatalf("unexpected event_type attribute %s", got)
	}
	if got := aws.ToString(input.MessageAttributes["tenant_id"].StringValue); got != "tenant-1" {
		t.Fatalf("unexpected tenant_id attribute %s", got)
	}
}

func TestSQSSinkHandleError(t *testing.T) {
	sink := NewSQSSink(&fakeSQS{err: errors.New("throttled")}, "https://sqs.example/queue")
	if err := sink.Handle(context.Background(), OutboxEntry{}); err == nil {
		t.Fatal("expected error from sink")
	}
}
