package queue

import (
	"context"
	"time"
)

// Status is a delivery item's lifecycle state. Sent, failed and cancelled
// are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Priority orders ready items within a processing tick.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Weight maps priority to its sort rank. Unknown values rank below low.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Item is one scheduled unit of delivery work.
type Item struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	TemplateID      string         `json:"template_id"`
	RuleID          string         `json:"rule_id,omitempty"`
	ReadyAt         time.Time      `json:"ready_at"`
	Priority        Priority       `json:"priority"`
	RetryCount      int            `json:"retry_count"`
	Personalization map[string]any `json:"personalization,omitempty"`
	Status          Status         `json:"status"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Stats is the aggregate queue introspection result.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Store is the delivery queue repository. Implementations serialize their
// own mutation; the processor and dispatcher share one store.
type Store interface {
	// Enqueue inserts a new pending item.
	Enqueue(ctx context.Context, item Item) error

	// Get returns the item by ID.
	Get(ctx context.Context, id string) (Item, error)

	// Ready returns up to limit pending items with ReadyAt <= now and
	// RetryCount < maxRetries, ordered by priority descending then
	// ReadyAt ascending.
	Ready(ctx context.Context, now time.Time, maxRetries, limit int) ([]Item, error)

	// MarkSent transitions a pending item to sent.
	MarkSent(ctx context.Context, id string) error

	// MarkFailed transitions a pending item to failed, recording the
	// final retry count and error.
	MarkFailed(ctx context.Context, id string, retryCount int, reason string) error

	// Reschedule keeps a pending item pending with an incremented retry
	// count and a new ready time.
	Reschedule(ctx context.Context, id string, retryCount int, readyAt time.Time, reason string) error

	// Cancel transitions a pending item to cancelled.
	Cancel(ctx context.Context, id string) error

	// Cleanup deletes sent and failed items whose ReadyAt predates the
	// cutoff, returning the eviction count.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)
}
