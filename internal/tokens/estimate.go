// Package tokens provides a cheap, deterministic token count approximation.
// The estimates are only compared against budgets; absolute accuracy is not
// required, but the formula is part of the routing contract and must not
// change without updating the budget tests.
package tokens

import (
	"math"
	"strings"

	"github.com/modelgate/modelgate/internal/chat"
)

const (
	// avgCharsPerToken is the character-to-token ratio heuristic.
	avgCharsPerToken = 4
	// perMessageOverhead accounts for role and formatting tokens.
	perMessageOverhead = 4
)

// Estimate returns the approximate token count for a text.
// estimate(text) = max(len(text)/4, ceil(words*1.3)).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	charEstimate := len(text) / avgCharsPerToken
	wordEstimate := int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))
	if charEstimate > wordEstimate {
		return charEstimate
	}
	return wordEstimate
}

// EstimateMessages returns the approximate token count for a message list,
// including per-message overhead.
func EstimateMessages(msgs []chat.Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content) + perMessageOverhead
	}
	return total
}
