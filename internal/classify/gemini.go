package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClassifier classifies messages through Google's Gemini API. It
// satisfies the same interface as the Bedrock classifier so deployments can
// pick either via config.
type GeminiClassifier struct {
	client  *genai.Client
	modelID string
}

func NewGeminiClassifier(ctx context.Context, apiKey, modelID string) (*GeminiClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("classify: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("classify: create gemini client: %w", err)
	}
	return &GeminiClassifier{client: client, modelID: modelID}, nil
}

func (c *GeminiClassifier) Classify(ctx context.Context, req Request) (Classification, error) {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(256)
	model.SystemInstruction = genai.NewUserContent(genai.Text(classifySystemPrompt))

	resp, err := model.GenerateContent(ctx, genai.Text(buildUserPrompt(req)))
	if err != nil {
		return Classification{}, fmt.Errorf("classify: gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Classification{}, errors.New("classify: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Classification{}, errors.New("classify: gemini returned empty content")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return parseModelOutput(b.String())
}

// Close releases the underlying API client.
func (c *GeminiClassifier) Close() error {
	return c.client.Close()
}
