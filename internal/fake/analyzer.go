package fake

import (
	"context"
	"strings"

	"github.com/yourorg/cadence/internal/collab"
)

// Analyzer scores reply text by keyword lookup. Good enough to drive
// the TakeAction routing in scenarios and tests.
type Analyzer struct {
	// Down makes every call fail with KindUnavailable.
	Down bool
}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

var (
	positiveWords = []string{"yes", "great", "interested", "love", "thanks"}
	negativeWords = []string{"no", "stop", "unsubscribe", "never", "hate"}
)

func (a *Analyzer) Analyze(_ context.Context, text string) (collab.Sentiment, error) {
	if a.Down {
		return "", collab.Unavailable("analyzer offline")
	}
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return collab.SentimentPositive, nil
	case score < 0:
		return collab.SentimentNegative, nil
	default:
		return collab.SentimentNeutral, nil
	}
}
