// Package enhancer rewrites user prompts for clarity, with strict guards
// so a drifting rewrite can never replace the user's actual request.
package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/llm"
)

// Result is the enhancement outcome. EnhancedPrompt equals the original
// query whenever ShouldEnhance is false, so callers can use it directly.
type Result struct {
	EnhancedPrompt string
	Changes        []string
	ShouldEnhance  bool
	Reason         string
	Similarity     float64
}

const (
	minQueryLength      = 10
	maxQueryLength      = 500
	maxEnhancementRatio = 3.0
	minSimilarity       = 0.3
	minLengthRatio      = 0.8
)

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "greetings": {},
	"good morning": {}, "good afternoon": {}, "good evening": {},
	"whats up": {}, "what's up": {}, "sup": {},
}

var ackPrefixes = []string{"yes", "no", "ok", "okay", "sure", "thanks", "thank you"}

const systemPrompt = `You are a prompt enhancer. Improve clarity WITHOUT changing intent.

STRICT RULES:
1. Keep the EXACT same request/question
2. Add specificity and structure ONLY
3. DO NOT add new requirements or topics
4. DO NOT make assumptions about context
5. Keep length under 2x original
6. If query is already clear, return it unchanged

CRITICAL: Respond ONLY with valid JSON. No explanation, no markdown, just JSON.

{
  "enhanced_prompt": "improved version",
  "changes": ["change1", "change2"],
  "should_enhance": true/false
}

If query is a greeting, simple question, or already clear, set should_enhance=false.`

// shouldSkip reports whether the query should never be sent to the
// enhancer model, and why.
func shouldSkip(query string) (bool, string) {
	lower := strings.ToLower(strings.TrimSpace(query))

	if len(query) < minQueryLength {
		return true, "Query too short"
	}
	if _, ok := greetings[lower]; ok || len(strings.Fields(lower)) <= 2 {
		return true, "Greeting or very short message"
	}
	for _, prefix := range ackPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true, "Acknowledgment or simple response"
		}
	}
	if len(query) > maxQueryLength {
		return true, "Query already detailed"
	}
	return false, ""
}

// Enhancer rewrites prompts with an auxiliary model.
type Enhancer struct {
	client  *llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewEnhancer builds an enhancer using the given enhancer model id.
func NewEnhancer(client *llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Enhancer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{client: client, model: model, timeout: timeout, logger: logger}
}

func unchanged(query, reason string, similarity float64) Result {
	return Result{
		EnhancedPrompt: query,
		Changes:        []string{},
		ShouldEnhance:  false,
		Reason:         reason,
		Similarity:     similarity,
	}
}

// Enhance rewrites the query if safe and worthwhile. It never returns an
// error: every failure or rejected rewrite yields the original query.
// The guards run on the model's output regardless of what it claims.
func (e *Enhancer) Enhance(ctx context.Context, query, intent, complexity string) Result {
	if skip, reason := shouldSkip(query); skip {
		return unchanged(query, reason, 1.0)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	user := fmt.Sprintf("Original query: %s\nIntent: %s\nComplexity: %s", query, intent, complexity)
	obj, err := e.client.CompleteObject(ctx, llm.Params{
		Model:       e.model,
		Temperature: 0.2,
		MaxTokens:   400,
	}, systemPrompt, user)
	if err != nil {
		e.logger.Warn("prompt enhancement failed, keeping original", "error", err)
		return unchanged(query, "Error: "+err.Error(), 0)
	}

	enhanced := llm.StringField(obj, "enhanced_prompt", query)
	if !llm.BoolField(obj, "should_enhance", true) {
		return unchanged(query, "Model determined enhancement unnecessary", 1.0)
	}

	ratio := float64(len(enhanced)) / float64(max(len(query), 1))
	if ratio > maxEnhancementRatio {
		e.logger.Warn("enhancement rejected, output too long", "ratio", ratio)
		return unchanged(query, fmt.Sprintf("Enhancement exceeded length limit (%.1fx)", ratio), 0)
	}

	similarity := KeywordSimilarity(query, enhanced)
	if similarity < minSimilarity {
		e.logger.Warn("enhancement rejected, topic drift", "similarity", similarity)
		return unchanged(query, fmt.Sprintf("Enhancement changed topic (similarity: %.2f)", similarity), similarity)
	}

	if enhanced == "" || float64(len(enhanced)) < float64(len(query))*minLengthRatio {
		e.logger.Warn("enhancement rejected, output shorter than original")
		return unchanged(query, "Enhanced version weaker than original", 0)
	}

	changes := llm.StringSliceField(obj, "changes")
	if changes == nil {
		changes = []string{}
	}
	return Result{
		EnhancedPrompt: enhanced,
		Changes:        changes,
		ShouldEnhance:  true,
		Reason:         "Successfully enhanced",
		Similarity:     similarity,
	}
}
