package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourorg/cadence/internal/collab"
	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/metrics"
)

// sendIdempotencyKey derives the provider-side dedupe key for a send.
// Deterministic per (job, step), so a re-driven send collapses to one
// delivery even if the ledger write was lost in a crash.
func sendIdempotencyKey(job *domain.Job) string {
	return fmt.Sprintf("%s:%s", job.ID, domain.StepSendEmail)
}

// runStep executes the job's current step against the collaborators
// and returns the ledger output payload. No store transaction is open
// while a collaborator call is in flight.
func (e *Engine) runStep(ctx context.Context, job *domain.Job) ([]byte, error) {
	start := time.Now()
	out, err := e.dispatch(ctx, job)
	metrics.ObserveStep(string(job.CurrentStep), err == nil, time.Since(start))
	return out, err
}

func (e *Engine) dispatch(ctx context.Context, job *domain.Job) ([]byte, error) {
	switch job.CurrentStep {
	case domain.StepSendEmail:
		return e.sendEmail(ctx, job)
	case domain.StepAnalyze:
		return e.analyze(ctx, job)
	case domain.StepTakeAction:
		return e.takeAction(ctx, job)
	default:
		return nil, fmt.Errorf("no action for step %q", job.CurrentStep)
	}
}

func (e *Engine) sendEmail(ctx context.Context, job *domain.Job) ([]byte, error) {
	if e.Throttle != nil {
		ok, err := e.Throttle.Acquire(ctx, job.CampaignID.String(), job.ID.String())
		if err != nil {
			return nil, collab.Unavailable("send throttle: %v", err)
		}
		if !ok {
			return nil, collab.RateLimited("campaign %s at inflight send cap", job.CampaignID)
		}
		defer e.Throttle.Release(ctx, job.CampaignID.String(), job.ID.String())
	}

	subject := "Checking in"
	body := fmt.Sprintf("Hi,\n\nWe'd love to hear what you think. Reply to this email and let us know.\n\n(ref %s)", job.ID)
	msgID, err := e.Mailer.Send(ctx, job.Email, subject, body, sendIdempotencyKey(job))
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"message_id": msgID})
}

func (e *Engine) analyze(ctx context.Context, job *domain.Job) ([]byte, error) {
	rec, err := e.CRM.Query(ctx, job.Email)
	if err != nil {
		return nil, err
	}
	sentiment := collab.SentimentNeutral
	if rec.ReplyText != "" {
		sentiment, err = e.Analyzer.Analyze(ctx, rec.ReplyText)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(map[string]string{"sentiment": string(sentiment)})
}

// takeAction routes on the sentiment recorded by the analyze step's
// ledger row, then writes the outcome back to the CRM.
func (e *Engine) takeAction(ctx context.Context, job *domain.Job) ([]byte, error) {
	prior, err := getStepRecord(ctx, e.Pool, job, domain.StepAnalyze)
	if err != nil {
		return nil, fmt.Errorf("read analyze ledger: %w", err)
	}

	sentiment := collab.SentimentNeutral
	if prior != nil {
		var payload struct {
			Sentiment string `json:"sentiment"`
		}
		if err := json.Unmarshal(prior.Output, &payload); err == nil && payload.Sentiment != "" {
			sentiment = collab.Sentiment(payload.Sentiment)
		}
	}

	var action string
	switch sentiment {
	case collab.SentimentPositive:
		action = "notify_sales"
	case collab.SentimentNegative:
		action = "escalate"
	default:
		action = "follow_up"
	}

	if err := e.CRM.RecordAction(ctx, job.Email, action); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"action": action, "sentiment": string(sentiment)})
}
