package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Step is a position in the fixed workflow sequence. Jobs only move
// forward: SendEmail → Analyze → TakeAction → Done.
type Step string

const (
	StepSendEmail  Step = "send_email"
	StepAnalyze    Step = "analyze"
	StepTakeAction Step = "take_action"
	StepDone       Step = "done"
)

// Next returns the step that follows s. Done returns itself; callers
// mark the job completed instead of advancing past the last step.
func (s Step) Next() Step {
	switch s {
	case StepSendEmail:
		return StepAnalyze
	case StepAnalyze:
		return StepTakeAction
	default:
		return StepDone
	}
}

// Terminal reports whether completing s finishes the job.
func (s Step) Terminal() bool { return s == StepTakeAction }

// Job is one (campaign, customer) workflow instance. WorkerID and
// LastHeartbeat together form the lease: WorkerID is non-nil exactly
// while Status is processing, and the store can always revoke the
// lease once the heartbeat goes stale.
type Job struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	Email         string
	CurrentStep   Step
	Status        JobStatus
	WorkerID      *string
	RetryCount    int
	MaxRetries    int
	ErrorMessage  *string
	ScheduledFor  *time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
}

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// JobStep is one row of the idempotency ledger: at most one per
// (job, step), written in the same transaction that advances the job.
type JobStep struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Step      Step
	Status    StepStatus
	Output    []byte
	CreatedAt time.Time
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// Campaign groups jobs. The queue core reads campaign IDs but never
// mutates campaign rows.
type Campaign struct {
	ID        uuid.UUID
	Name      string
	Status    CampaignStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
