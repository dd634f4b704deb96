// Package routing drives the request pipeline: confidentiality check,
// model selection, prompt enhancement, and history truncation, following
// an explicit transition table over the request's control flags.
package routing

import (
	"context"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/classifier"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/enhancer"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/selector"
)

// Classifier decides whether a query carries confidential material.
type Classifier interface {
	Detect(ctx context.Context, query string) classifier.Verdict
}

// Selector recommends a model for a query.
type Selector interface {
	Select(ctx context.Context, query, currentModel string, models []registry.Model) selector.Decision
}

// Enhancer rewrites a prompt for clarity.
type Enhancer interface {
	Enhance(ctx context.Context, query, intent, complexity string) enhancer.Result
}

// Registry lists the models available to the caller.
type Registry interface {
	ListActiveModels(ctx context.Context, authz string) ([]registry.Model, error)
}

// Summarizer condenses dropped history into a short context note.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []chat.Message) string
}

// Mode labels the path a request took through the transition table.
type Mode string

const (
	ModeBypassed     Mode = "bypassed"
	ModePassthrough  Mode = "passthrough"
	ModeEnhanceOnly  Mode = "enhance_only"
	ModeRecommended  Mode = "recommended"
	ModeForwarded    Mode = "forwarded"
	ModeConfidential Mode = "confidential"
)

// Recommendation is the envelope returned to the client instead of a
// backend response when a model switch is proposed.
type Recommendation struct {
	Type             string                 `json:"type"`
	CurrentModel     string                 `json:"current_model"`
	RecommendedModel string                 `json:"recommended_model"`
	Reason           string                 `json:"reason"`
	Intent           string                 `json:"intent"`
	Complexity       string                 `json:"complexity"`
	Confidence       int                    `json:"confidence"`
	Alternatives     []selector.Alternative `json:"alternatives"`
	IsConfidential   bool                   `json:"is_confidential"`
	ConfidentialInfo classifier.Verdict     `json:"confidential_info"`
	Message          string                 `json:"message"`
}

// Outcome is the orchestrator's result. When Recommendation is non-nil the
// request must not be dispatched; otherwise Request is the finalized
// outbound payload.
type Outcome struct {
	Mode           Mode
	Request        chat.Request
	Recommendation *Recommendation

	Verdict     classifier.Verdict
	Decision    selector.Decision
	Enhancement enhancer.Result

	OriginalTokens  int
	TruncatedTokens int
	MessagesRemoved int
}

// Config holds the orchestrator's static policy knobs.
type Config struct {
	ConfidentialModelID string
	TruncationStrategy  conversation.Strategy
	EnableSummarization bool
}
