// Package ratelimit caps concurrent sends per campaign using Redis
// SET bookkeeping, so a burst of workers cannot flatten the mail
// provider on a single large campaign.
package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// DefaultSendCap applies when no per-campaign cap has been configured.
const DefaultSendCap = 25

// Throttle tracks inflight sends per campaign in a Redis SET, keyed by
// job ID. Release is idempotent: removing a missing member is a no-op,
// so the count never goes negative.
type Throttle struct {
	rc *redis.Client
}

func NewThrottle(rc *redis.Client) *Throttle {
	return &Throttle{rc: rc}
}

// Acquire reserves a send slot for jobID under campaignID's cap.
// Returns false without reserving when the campaign is at its cap.
// The cardinality check and the SADD are not atomic; overshoot is
// bounded by the number of concurrent workers.
func (t *Throttle) Acquire(ctx context.Context, campaignID, jobID string) (bool, error) {
	limit, err := t.sendCap(ctx, campaignID)
	if err != nil {
		return false, err
	}
	inflight, err := t.rc.SCard(ctx, inflightSetKey(campaignID)).Result()
	if err != nil {
		return false, err
	}
	if inflight >= limit {
		return false, nil
	}
	if err := t.rc.SAdd(ctx, inflightSetKey(campaignID), jobID).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Release frees jobID's slot. Safe to call multiple times; SREM on a
// missing member is a no-op.
func (t *Throttle) Release(ctx context.Context, campaignID, jobID string) {
	t.rc.SRem(ctx, inflightSetKey(campaignID), jobID) //nolint:errcheck
}

// SetSendCap overrides the inflight cap for one campaign.
func (t *Throttle) SetSendCap(ctx context.Context, campaignID string, limit int64) error {
	return t.rc.Set(ctx, sendCapKey(campaignID), limit, 0).Err()
}

func (t *Throttle) sendCap(ctx context.Context, campaignID string) (int64, error) {
	v, err := t.rc.Get(ctx, sendCapKey(campaignID)).Int64()
	if err == redis.Nil {
		return DefaultSendCap, nil
	}
	return v, err
}
