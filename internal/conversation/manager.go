// Package conversation truncates chat histories to fit a model's context
// window. Truncation is total: it never fails, and it always preserves
// system messages plus the latest user message.
package conversation

import (
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/tokens"
)

// Strategy selects a truncation algorithm.
type Strategy string

const (
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyImportance    Strategy = "importance_based"
)

const (
	// maxHistoryTokens caps the history budget regardless of model size.
	maxHistoryTokens = 4000
	// reservedCompletionTokens is held back for the model's response.
	reservedCompletionTokens = 1500
)

// modelTokenLimits maps model id substrings to context window sizes.
// Matched case-insensitively; first hit wins, "default" is the fallback.
var modelTokenLimits = map[string]int{
	"llama-3.1-8b-instant":    8000,
	"llama-3.1-70b-versatile": 128000,
	"llama-3.3-70b-versatile": 128000,
	"mixtral-8x7b-32768":      32768,
	"gemma-7b-it":             8192,
}

const defaultTokenLimit = 4096

// TokenLimit returns the context window for a model id via substring match
// against the built-in table, falling back to a safe default.
func TokenLimit(modelID string) int {
	lower := strings.ToLower(modelID)
	for key, limit := range modelTokenLimits {
		if strings.Contains(lower, key) {
			return limit
		}
	}
	return defaultTokenLimit
}

// Manager truncates histories for a specific target model.
type Manager struct {
	modelID    string
	tokenLimit int
	maxHistory int
}

// NewManager resolves the model's token limit and history budget.
func NewManager(modelID string) *Manager {
	limit := TokenLimit(modelID)
	maxHistory := limit - reservedCompletionTokens
	if maxHistory > maxHistoryTokens {
		maxHistory = maxHistoryTokens
	}
	return &Manager{modelID: modelID, tokenLimit: limit, maxHistory: maxHistory}
}

// TokenLimit returns the resolved context window.
func (m *Manager) TokenLimit() int { return m.tokenLimit }

// MaxHistoryTokens returns the history budget after the response reservation.
func (m *Manager) MaxHistoryTokens() int { return m.maxHistory }

// Truncate returns a new message list that fits the history budget.
// Unknown strategies fall back to the sliding window.
func (m *Manager) Truncate(msgs []chat.Message, strategy Strategy) []chat.Message {
	switch strategy {
	case StrategyImportance:
		return m.importanceTruncate(msgs)
	default:
		return m.slidingWindowTruncate(msgs)
	}
}

func splitSystem(msgs []chat.Message) (system, conversation []chat.Message) {
	for _, msg := range msgs {
		if msg.Role == chat.RoleSystem {
			system = append(system, msg)
		} else {
			conversation = append(conversation, msg)
		}
	}
	return system, conversation
}

// slidingWindowTruncate keeps the most recent messages that fit the budget.
// System messages and the latest user message are always preserved.
func (m *Manager) slidingWindowTruncate(msgs []chat.Message) []chat.Message {
	system, conversation := splitSystem(msgs)
	if len(conversation) == 0 {
		return msgs
	}

	available := m.maxHistory - tokens.EstimateMessages(system)

	lastUser := -1
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == chat.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		return append(append([]chat.Message{}, system...), conversation...)
	}

	kept := []chat.Message{conversation[lastUser]}
	current := tokens.EstimateMessages(kept)

	for i := lastUser - 1; i >= 0; i-- {
		msgTokens := tokens.EstimateMessages(conversation[i : i+1])
		if current+msgTokens > available {
			break
		}
		kept = append([]chat.Message{conversation[i]}, kept...)
		current += msgTokens
	}

	return append(append([]chat.Message{}, system...), kept...)
}

// importanceTruncate keeps system messages, the first user message, and the
// last four messages, marking any gap with a synthetic system message.
func (m *Manager) importanceTruncate(msgs []chat.Message) []chat.Message {
	system, conversation := splitSystem(msgs)
	if len(conversation) <= 3 {
		return msgs
	}

	var firstUser *chat.Message
	for i := range conversation {
		if conversation[i].Role == chat.RoleUser {
			firstUser = &conversation[i]
			break
		}
	}

	recent := conversation[len(conversation)-4:]

	available := m.maxHistory - tokens.EstimateMessages(system)
	priorityTokens := 0
	if firstUser != nil {
		priorityTokens = tokens.EstimateMessages([]chat.Message{*firstUser})
	}

	if firstUser != nil && priorityTokens+tokens.EstimateMessages(recent) <= available {
		var gap []chat.Message
		if len(conversation) > 5 {
			gap = conversation[1 : len(conversation)-4]
		}
		if len(gap) > 0 {
			marker := chat.Message{
				Role:    chat.RoleSystem,
				Content: fmt.Sprintf("[%d messages truncated for context]", len(gap)),
			}
			out := append([]chat.Message{}, system...)
			out = append(out, *firstUser, marker)
			return append(out, recent...)
		}
		return append(append([]chat.Message{}, system...), conversation...)
	}

	return append(append([]chat.Message{}, system...), recent...)
}

// AddContextSummary inserts a "Context summary: ..." system message
// immediately after the existing system messages.
func (m *Manager) AddContextSummary(msgs []chat.Message, summary string) []chat.Message {
	system, rest := splitSystem(msgs)
	out := append([]chat.Message{}, system...)
	out = append(out, chat.Message{
		Role:    chat.RoleSystem,
		Content: "Context summary: " + summary,
	})
	return append(out, rest...)
}
