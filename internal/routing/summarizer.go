package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/llm"
)

const summaryMaxTokens = 200

// ContextSummarizer condenses truncated history into a short context note
// using the selector model. It degrades to a fixed note on any failure.
type ContextSummarizer struct {
	client  *llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewContextSummarizer builds a summarizer on the given auxiliary model.
func NewContextSummarizer(client *llm.Client, model string, timeout time.Duration, logger *slog.Logger) *ContextSummarizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextSummarizer{client: client, model: model, timeout: timeout, logger: logger}
}

// Summarize returns a compact summary of the dropped messages, or a fixed
// fallback note when the call fails. Empty input yields "".
func (s *ContextSummarizer) Summarize(ctx context.Context, msgs []chat.Message) string {
	if len(msgs) == 0 {
		return ""
	}

	var parts []string
	for _, m := range msgs {
		parts = append(parts, m.Role+": "+m.Content)
	}
	prompt := fmt.Sprintf(`Summarize this conversation history in %d tokens or less.
Focus on key topics, decisions, and context needed for future messages.
Be concise and factual.

Conversation:
%s

Summary:`, summaryMaxTokens, strings.Join(parts, "\n"))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.client.Complete(ctx, llm.Params{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   summaryMaxTokens,
	}, []chat.Message{{Role: chat.RoleUser, Content: prompt}})
	if err != nil {
		s.logger.Warn("context summarization failed", "error", err)
		return "Previous conversation context (details truncated due to length)"
	}
	return strings.TrimSpace(summary)
}
