package classify

import "strings"

// KeywordSets configures the deterministic classifier. Empty sets fall back to
// the package defaults.
type KeywordSets struct {
	Urgent     []string
	Sales      []string
	Support    []string
	Escalation []string
}

var (
	defaultUrgentKeywords = []string{
		"urgent", "asap", "immediately", "emergency", "right now", "now",
	}
	defaultSalesKeywords = []string{
		"price", "pricing", "quote", "buy", "purchase", "demo", "trial",
		"plan", "upgrade", "interested",
	}
	defaultSupportKeywords = []string{
		"help", "issue", "problem", "broken", "error", "not working",
		"can't", "cannot", "refund", "cancel",
	}
	defaultEscalationKeywords = []string{
		"complaint", "manager", "supervisor", "legal", "lawyer", "lawsuit",
		"unacceptable",
	}
)

// KeywordClassifier is the deterministic fallback path. It never errors and
// always produces a fully populated Classification.
type KeywordClassifier struct {
	urgent     []string
	sales      []string
	support    []string
	escalation []string
}

func NewKeywordClassifier(sets KeywordSets) *KeywordClassifier {
	c := &KeywordClassifier{
		urgent:     sets.Urgent,
		sales:      sets.Sales,
		support:    sets.Support,
		escalation: sets.Escalation,
	}
	if len(c.urgent) == 0 {
		c.urgent = defaultUrgentKeywords
	}
	if len(c.sales) == 0 {
		c.sales = defaultSalesKeywords
	}
	if len(c.support) == 0 {
		c.support = defaultSupportKeywords
	}
	if len(c.escalation) == 0 {
		c.escalation = defaultEscalationKeywords
	}
	return c
}

// Classify applies the keyword heuristics. Rules, in order of application:
// urgent hits force priority=urgent and urgency 9; sales hits set
// category=acquisition and raise early-lifecycle contacts to at least high;
// support hits set category=support and urgency to at least 6; no hit yields
// general/medium. Escalation is recommended on an explicit escalation keyword
// or a high-value contact.
func (c *KeywordClassifier) Classify(content string, cctx Context) Classification {
	lowered := strings.ToLower(content)

	result := Classification{
		Category:       CategoryGeneral,
		Priority:       PriorityMedium,
		SentimentScore: 5,
		UrgencyScore:   3,
		Intent:         "unknown",
		Source:         SourceFallback,
	}

	if hits := matchKeywords(lowered, c.urgent); len(hits) > 0 {
		result.Priority = PriorityUrgent
		result.UrgencyScore = 9
		result.MatchedKeywords = append(result.MatchedKeywords, hits...)
	}

	if hits := matchKeywords(lowered, c.sales); len(hits) > 0 {
		result.Category = CategoryAcquisition
		result.Intent = "purchase_interest"
		switch cctx.LifecycleStage {
		case "", "unknown", "lead":
			result.Priority = MaxPriority(result.Priority, PriorityHigh)
		}
		result.MatchedKeywords = append(result.MatchedKeywords, hits...)
	}

	if hits := matchKeywords(lowered, c.support); len(hits) > 0 {
		result.Category = CategorySupport
		result.Intent = "support_request"
		if result.UrgencyScore < 6 {
			result.UrgencyScore = 6
		}
		result.MatchedKeywords = append(result.MatchedKeywords, hits...)
	}

	if hits := matchKeywords(lowered, c.escalation); len(hits) > 0 {
		result.EscalationRecommended = true
		result.SentimentScore = 2
		result.MatchedKeywords = append(result.MatchedKeywords, hits...)
	} else if cctx.HighValue() {
		result.EscalationRecommended = true
	}

	return result
}

func matchKeywords(loweredContent string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(loweredContent, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	return hits
}
