package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const classifySystemPrompt = `You classify inbound customer messages for a CRM.
Respond with a single JSON object and nothing else, using exactly these keys:
{"category": "general|support|acquisition|billing|feedback",
 "priority": "low|medium|high|urgent",
 "sentiment_score": 0-10,
 "urgency_score": 0-10,
 "intent": "<short snake_case phrase>",
 "escalation_recommended": true|false}`

// buildUserPrompt renders the message plus the conversation/contact context
// the model needs to judge priority and escalation.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message: %q\n", req.Content)
	if req.MessageType != "" && req.MessageType != "text" {
		fmt.Fprintf(&b, "Message type: %s\n", req.MessageType)
	}
	cctx := req.Context
	fmt.Fprintf(&b, "Prior messages in conversation: %d\n", cctx.PriorMessageCount)
	fmt.Fprintf(&b, "First-ever message from contact: %t\n", cctx.FirstContact)
	if cctx.DaysSinceLastSeen > 0 {
		fmt.Fprintf(&b, "Days since last interaction: %d\n", cctx.DaysSinceLastSeen)
	}
	if cctx.LifecycleStage != "" {
		fmt.Fprintf(&b, "Contact lifecycle stage: %s\n", cctx.LifecycleStage)
	}
	fmt.Fprintf(&b, "Contact lead score: %d\n", cctx.LeadScore)
	fmt.Fprintf(&b, "Within business hours: %t\n", cctx.WithinBusinessHrs)
	if cctx.HighLoad {
		b.WriteString("Inbound load: high\n")
	}
	if len(cctx.RecentResults) > 0 {
		b.WriteString("Recent classifications in this conversation (newest first):\n")
		for _, prev := range cctx.RecentResults {
			fmt.Fprintf(&b, "- category=%s priority=%s urgency=%.0f\n",
				prev.Category, prev.Priority, prev.UrgencyScore)
		}
	}
	return b.String()
}

var errUnusableModelOutput = errors.New("classify: model output not usable")

// parseModelOutput extracts the JSON classification from the model response,
// tolerating surrounding prose or code fences, and clamps scores to [0,10].
// Out-of-set category or priority values fail parsing rather than pass through.
func parseModelOutput(text string) (Classification, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("%w: no JSON object in %q", errUnusableModelOutput, truncate(text, 120))
	}

	var parsed struct {
		Category              string  `json:"category"`
		Priority              string  `json:"priority"`
		SentimentScore        float64 `json:"sentiment_score"`
		UrgencyScore          float64 `json:"urgency_score"`
		Intent                string  `json:"intent"`
		EscalationRecommended bool    `json:"escalation_recommended"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", errUnusableModelOutput, err)
	}

	parsed.Category = strings.ToLower(strings.TrimSpace(parsed.Category))
	parsed.Priority = strings.ToLower(strings.TrimSpace(parsed.Priority))
	if !ValidCategory(parsed.Category) {
		return Classification{}, fmt.Errorf("%w: category %q", errUnusableModelOutput, parsed.Category)
	}
	if !ValidPriority(parsed.Priority) {
		return Classification{}, fmt.Errorf("%w: priority %q", errUnusableModelOutput, parsed.Priority)
	}

	return Classification{
		Category:              parsed.Category,
		Priority:              parsed.Priority,
		SentimentScore:        clampScore(parsed.SentimentScore),
		UrgencyScore:          clampScore(parsed.UrgencyScore),
		Intent:                strings.TrimSpace(parsed.Intent),
		EscalationRecommended: parsed.EscalationRecommended,
		Source:                SourceAI,
	}, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
