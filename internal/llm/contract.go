// Package llm is the shared client for the auxiliary language-model calls
// made by the routing pipeline (classification, selection, enhancement,
// summarization). All calls use the OpenAI-compatible chat completions API
// with JSON response mode; parsing is defensive because small models wrap
// or mangle their JSON output.
package llm

import (
	"context"
	"fmt"
)

// StatusError captures a non-2xx HTTP status from the upstream API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

type contextKey string

// RequestIDKey carries the inbound request id across outbound calls.
const RequestIDKey contextKey = "request_id"

// WithRequestID stores the request ID in context for outbound forwarding.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
