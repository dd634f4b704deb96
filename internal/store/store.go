package store

import (
	"context"
	"time"
)

// Store is the persistence interface for routing decision audit records.
// Chat content is never persisted, only the decision envelope.
type Store interface {
	LogDecision(ctx context.Context, entry DecisionRecord) error
	ListDecisions(ctx context.Context, limit int, offset int) ([]DecisionRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// DecisionRecord captures one routing decision for audit and dashboards.
type DecisionRecord struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
	Mode            string    `json:"mode"` // forwarded, recommended, bypassed, confidential, error
	RequestedModel  string    `json:"requested_model"`
	FinalModel      string    `json:"final_model"`
	Intent          string    `json:"intent,omitempty"`
	Complexity      string    `json:"complexity,omitempty"`
	Confidence      int       `json:"confidence"`
	Confidential    bool      `json:"confidential"`
	Enhanced        bool      `json:"enhanced"`
	OriginalTokens  int       `json:"original_tokens"`
	TruncatedTokens int       `json:"truncated_tokens"`
	MessagesRemoved int       `json:"messages_removed"`
	LatencyMs       int64     `json:"latency_ms"`
	StatusCode      int       `json:"status_code"`
	ErrorClass      string    `json:"error_class,omitempty"`
}
