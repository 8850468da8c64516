package classify

import "time"

// Categories assigned to inbound messages.
const (
	CategoryGeneral     = "general"
	CategorySupport     = "support"
	CategoryAcquisition = "acquisition"
	CategoryBilling     = "billing"
	CategoryFeedback    = "feedback"
)

// Priorities in ascending order of attention required.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Classifier sources, recorded alongside the message for audit. Callers must
// be able to tell an AI result from a deterministic one.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// PriorityRank orders priorities for never-lower comparisons. Unknown values
// rank below low.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// MaxPriority returns the higher-ranked of the two priorities.
func MaxPriority(a, b string) string {
	if PriorityRank(b) > PriorityRank(a) {
		return b
	}
	return a
}

// ValidCategory reports whether the category belongs to the closed set.
func ValidCategory(category string) bool {
	switch category {
	case CategoryGeneral, CategorySupport, CategoryAcquisition, CategoryBilling, CategoryFeedback:
		return true
	}
	return false
}

// ValidPriority reports whether the priority belongs to the closed set.
func ValidPriority(priority string) bool {
	return PriorityRank(priority) > 0
}

// Classification is the structured result computed for a message. Sentiment
// and urgency are scored on [0,10].
type Classification struct {
	Category              string   `json:"category"`
	Priority              string   `json:"priority"`
	SentimentScore        float64  `json:"sentiment_score"`
	UrgencyScore          float64  `json:"urgency_score"`
	Intent                string   `json:"intent"`
	EscalationRecommended bool     `json:"escalation_recommended"`
	MatchedKeywords       []string `json:"matched_keywords,omitempty"`
	Source                string   `json:"source"`
}

// Context carries the conversation and contact signals available to the
// classifier at message time.
type Context struct {
	PriorMessageCount  int
	FirstContact       bool
	DaysSinceLastSeen  int
	LifecycleStage     string
	LeadScore          int
	RecentResults      []Classification
	WithinBusinessHrs  bool
	HighLoad           bool
	HighValueThreshold int
}

// HighValue reports whether the contact's estimated value crosses the
// configured threshold. A zero threshold disables the signal.
func (c Context) HighValue() bool {
	return c.HighValueThreshold > 0 && c.LeadScore >= c.HighValueThreshold
}

// Request is the input handed to an AI classifier.
type Request struct {
	Content     string
	MessageType string
	ReceivedAt  time.Time
	Context     Context
}
