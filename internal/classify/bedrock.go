package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClassifier classifies messages through the Bedrock Converse API.
type BedrockClassifier struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockClassifier(api bedrockConverseAPI, modelID string) (*BedrockClassifier, error) {
	if api == nil {
		return nil, errors.New("classify: bedrock converse client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("classify: bedrock model id is required")
	}
	return &BedrockClassifier{api: api, modelID: modelID}, nil
}

// Classify sends the message plus context to the model and parses its JSON
// reply. Any transport or parse failure is returned to the caller; the tiered
// classifier owns the fallback decision.
func (c *BedrockClassifier) Classify(ctx context.Context, req Request) (Classification, error) {
	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: classifySystemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: buildUserPrompt(req)},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(256),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify: bedrock converse: %w", err)
	}

	text, err := bedrockOutputText(out)
	if err != nil {
		return Classification{}, err
	}
	return parseModelOutput(text)
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil || out.Output == nil {
		return "", errors.New("classify: bedrock returned empty output")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("classify: unexpected bedrock output type %T", out.Output)
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("classify: bedrock returned no text content")
	}
	return b.String(), nil
}
