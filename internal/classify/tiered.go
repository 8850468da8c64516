package classify

import (
	"context"
	"time"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// AIClassifier is the external AI classification capability. Implementations
// may error or time out; they never own the fallback decision.
type AIClassifier interface {
	Classify(ctx context.Context, req Request) (Classification, error)
}

// TieredClassifier tries the AI path under a short deadline and falls back to
// the deterministic keyword path on any error. It never returns an error:
// classification must not stall ingestion. The result's Source field records
// which tier produced it.
type TieredClassifier struct {
	ai       AIClassifier
	fallback *KeywordClassifier
	timeout  time.Duration
	logger   *logging.Logger
}

// NewTieredClassifier builds the two-tier strategy. ai may be nil, in which
// case every call takes the keyword path.
func NewTieredClassifier(ai AIClassifier, fallback *KeywordClassifier, timeout time.Duration, logger *logging.Logger) *TieredClassifier {
	if fallback == nil {
		fallback = NewKeywordClassifier(KeywordSets{})
	}
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TieredClassifier{
		ai:       ai,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
	}
}

// Classify returns a fully populated Classification for the message.
func (t *TieredClassifier) Classify(ctx context.Context, req Request) Classification {
	if t.ai != nil {
		aiCtx, cancel := context.WithTimeout(ctx, t.timeout)
		result, err := t.ai.Classify(aiCtx, req)
		cancel()
		if err == nil {
			result.Source = SourceAI
			return result
		}
		t.logger.Warn("AI classification unavailable, using keyword fallback", "error", err)
	}
	return t.fallback.Classify(req.Content, req.Context)
}
