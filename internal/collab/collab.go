// Package collab defines the external collaborator contracts consumed
// by the step engine: mail delivery, CRM lookups, and sentiment
// analysis. Implementations return *Failure errors so the retry policy
// can classify them by kind.
package collab

import "context"

// Mailer delivers one message per idempotency key. Implementations
// guarantee at most one externally visible delivery per key within
// their validity window, so a duplicated send attempt collapses to a
// single delivery.
type Mailer interface {
	Send(ctx context.Context, address, subject, body, idempotencyKey string) (messageID string, err error)
}

// Record is a CRM row for one customer.
type Record struct {
	Email     string
	ReplyText string
}

// CRM reads customer data and records routing actions.
type CRM interface {
	Query(ctx context.Context, email string) (*Record, error)
	RecordAction(ctx context.Context, email, action string) error
}

// Sentiment is the closed classification returned by an Analyzer.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Analyzer classifies reply text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Sentiment, error)
}
