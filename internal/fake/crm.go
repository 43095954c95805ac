package fake

import (
	"context"
	"sync"

	"github.com/yourorg/cadence/internal/collab"
)

// CRM is an in-memory customer store. Query returns a canned reply
// text per customer; RecordAction appends to an action log inspectable
// by tests.
type CRM struct {
	mu      sync.Mutex
	replies map[string]string
	actions map[string][]string

	// Down makes every call fail with KindUnavailable.
	Down bool
}

func NewCRM() *CRM {
	return &CRM{
		replies: make(map[string]string),
		actions: make(map[string][]string),
	}
}

// SetReply seeds the reply text returned for email.
func (c *CRM) SetReply(email, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[email] = text
}

func (c *CRM) Query(_ context.Context, email string) (*collab.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return nil, collab.Unavailable("crm offline")
	}
	// Unknown customers have simply not replied yet.
	return &collab.Record{Email: email, ReplyText: c.replies[email]}, nil
}

func (c *CRM) RecordAction(_ context.Context, email, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return collab.Unavailable("crm offline")
	}
	c.actions[email] = append(c.actions[email], action)
	return nil
}

// Actions returns the recorded actions for email.
func (c *CRM) Actions(email string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.actions[email]...)
}
