package worker

import (
	"errors"

	"github.com/yourorg/cadence/internal/collab"
	"github.com/yourorg/cadence/internal/domain"
)

// Decision is the retry policy's verdict on a step failure.
type Decision int

const (
	// DecisionRetry re-queues the job at the same step after a backoff.
	DecisionRetry Decision = iota
	// DecisionFail moves the job to the terminal failed status.
	DecisionFail
)

// classify maps a step failure to a retry decision. Collaborator
// failures are checked by kind tag: invalid input can never succeed on
// retry, everything else is transient. Errors that are not Failures
// (programming errors, decode problems) default to retry so that a
// transient cause is not misread as permanent; the retry ceiling
// bounds the damage when the default is wrong.
func classify(job *domain.Job, err error) Decision {
	var f *collab.Failure
	if errors.As(err, &f) && !f.Retryable() {
		return DecisionFail
	}
	if job.RetryCount >= job.MaxRetries {
		return DecisionFail
	}
	return DecisionRetry
}
