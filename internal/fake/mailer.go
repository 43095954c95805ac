// Package fake provides in-memory collaborator implementations for
// local scenarios and tests. They are deterministic and concurrency
// safe, and fail through the same Failure kinds the production
// implementations use.
package fake

import (
	"context"
	"fmt"
	"net/mail"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yourorg/cadence/internal/collab"
)

// Mailer simulates a delivery provider. Sends are deduplicated per
// idempotency key, mirroring the at-most-one-delivery guarantee of the
// real provider, and an optional token bucket simulates provider
// throttling.
type Mailer struct {
	mu      sync.Mutex
	byKey   map[string]string // idempotency key → message ID
	limiter *rate.Limiter

	// FailAddresses lists recipients that fail validation.
	FailAddresses map[string]bool
	// TimeoutAddresses lists recipients whose sends time out.
	TimeoutAddresses map[string]bool
}

func NewMailer() *Mailer {
	return &Mailer{
		byKey:            make(map[string]string),
		FailAddresses:    make(map[string]bool),
		TimeoutAddresses: make(map[string]bool),
	}
}

// WithRateLimit caps sends at r per second with the given burst.
// Sends over the cap fail with KindRateLimited.
func (m *Mailer) WithRateLimit(r rate.Limit, burst int) *Mailer {
	m.limiter = rate.NewLimiter(r, burst)
	return m
}

func (m *Mailer) Send(_ context.Context, address, _, _ string, idempotencyKey string) (string, error) {
	if _, err := mail.ParseAddress(address); err != nil {
		return "", collab.InvalidInput("address %q: %v", address, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAddresses[address] {
		return "", collab.InvalidInput("address %q rejected by provider", address)
	}
	if m.TimeoutAddresses[address] {
		return "", collab.Timeout("send to %q timed out", address)
	}

	// Duplicate key: the earlier delivery stands, return its ID.
	if id, ok := m.byKey[idempotencyKey]; ok {
		return id, nil
	}

	if m.limiter != nil && !m.limiter.Allow() {
		return "", collab.RateLimited("provider throttled send to %q", address)
	}

	id := fmt.Sprintf("msg-%s", uuid.New())
	m.byKey[idempotencyKey] = id
	return id, nil
}

// Deliveries returns the number of distinct deliveries performed.
func (m *Mailer) Deliveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}
