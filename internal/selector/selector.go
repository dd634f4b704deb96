// Package selector recommends the best model for a query from the set the
// caller is allowed to use.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/llm"
	"github.com/modelgate/modelgate/internal/registry"
)

// Decision is the selection outcome. RecommendedModel is always a model id
// the caller may use: either one from the registry list or the current one.
type Decision struct {
	RecommendedModel string
	Intent           string
	Complexity       string
	Reason           string
	Confidence       int
	ShouldSwitch     bool
}

// Selector picks models with an auxiliary model.
type Selector struct {
	client  *llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSelector builds a selector using the given selector model id.
func NewSelector(client *llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Selector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{client: client, model: model, timeout: timeout, logger: logger}
}

func identityDecision(currentModel, reason string) Decision {
	return Decision{
		RecommendedModel: currentModel,
		Intent:           "unknown",
		Complexity:       "medium",
		Reason:           reason,
		Confidence:       50,
		ShouldSwitch:     false,
	}
}

func buildSystemPrompt(models []registry.Model) string {
	var b strings.Builder
	b.WriteString("You are an intelligent model selection engine.\n\nAVAILABLE MODELS:\n")
	for _, m := range models {
		fmt.Fprintf(&b, "  - %s: %s (context: %d)\n", m.ID, m.Name, m.ContextWindow)
	}
	b.WriteString(`
YOUR TASK:
Analyze the user's query and recommend the BEST model from the available list above.

SELECTION CRITERIA:
1. Code generation/debugging: prefer models with larger context windows and strong reasoning
2. Creative writing: prefer models with good language understanding
3. Simple questions: use faster, smaller models
4. Complex reasoning/analysis: use larger, more capable models
5. Translation/multilingual: prefer models trained on multiple languages
6. Math/logic: prefer models with strong reasoning capabilities

IMPORTANT RULES:
- Only recommend models from the AVAILABLE MODELS list above
- Consider context window requirements for long conversations
- Balance performance vs speed based on complexity
- If the user's selected model is already optimal, keep it

Return ONLY valid JSON in this exact format:
{
  "recommended_model": "exact-model-id-from-list",
  "intent": "code_generation|creative_writing|question_answering|analysis|translation|math",
  "complexity": "simple|medium|complex",
  "reason": "brief explanation why this model is best",
  "confidence": 0-100
}`)
	return b.String()
}

// Select recommends a model for the query. It never returns an error: an
// empty registry or any failure yields the identity decision.
func (s *Selector) Select(ctx context.Context, query, currentModel string, models []registry.Model) Decision {
	if len(models) == 0 {
		return identityDecision(currentModel, "No alternatives available")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user := fmt.Sprintf("Query: %s\nCurrent model: %s", query, currentModel)
	obj, err := s.client.CompleteObject(ctx, llm.Params{
		Model:       s.model,
		Temperature: 0,
		MaxTokens:   300,
	}, buildSystemPrompt(models), user)
	if err != nil {
		s.logger.Warn("model selection failed, keeping current model", "error", err)
		return identityDecision(currentModel, "Error: "+err.Error())
	}

	recommended := llm.StringField(obj, "recommended_model", currentModel)
	if !registry.Contains(models, recommended) {
		s.logger.Warn("selector recommended unknown model, keeping current",
			"recommended", recommended, "current", currentModel)
		recommended = currentModel
	}

	return Decision{
		RecommendedModel: recommended,
		Intent:           llm.StringField(obj, "intent", "unknown"),
		Complexity:       llm.StringField(obj, "complexity", "medium"),
		Reason:           llm.StringField(obj, "reason", "Auto-selected"),
		Confidence:       llm.ClampInt(llm.IntField(obj, "confidence", 70), 0, 100),
		ShouldSwitch:     recommended != currentModel,
	}
}
