package routing

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/classifier"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/selector"
	"github.com/modelgate/modelgate/internal/tokens"
)

// Orchestrator evaluates the transition table for each request. It owns no
// state beyond its collaborators; every request is independent.
type Orchestrator struct {
	cfg        Config
	classifier Classifier
	selector   Selector
	enhancer   Enhancer
	registry   Registry
	summarizer Summarizer // optional
	logger     *slog.Logger
}

// NewOrchestrator wires the pipeline. summarizer may be nil; it is only
// consulted when Config.EnableSummarization is set.
func NewOrchestrator(cfg Config, c Classifier, s Selector, e Enhancer, r Registry, sum Summarizer, logger *slog.Logger) *Orchestrator {
	if cfg.TruncationStrategy == "" {
		cfg.TruncationStrategy = conversation.StrategySlidingWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		classifier: c,
		selector:   s,
		enhancer:   e,
		registry:   r,
		summarizer: sum,
		logger:     logger,
	}
}

// Route runs the transition table, top-down, first match wins. It never
// returns an error: every auxiliary failure degrades to pass-through
// behavior and the request is always dispatchable (or a recommendation).
func (o *Orchestrator) Route(ctx context.Context, req chat.Request, authz string) Outcome {
	if req.BypassRouting() {
		o.logger.Info("routing bypassed",
			"model", req.Model, "task", req.Task())
		return Outcome{Mode: ModeBypassed, Request: req}
	}
	if req.Processed() {
		o.logger.Info("already processed, passing through", "model", req.Model)
		return Outcome{Mode: ModePassthrough, Request: req}
	}

	query, ok := req.LatestUserContent()
	if !ok {
		o.logger.Warn("no user messages, passing through", "model", req.Model)
		return Outcome{Mode: ModePassthrough, Request: req}
	}

	if d := req.Decision(); d == chat.DecisionAccept || d == chat.DecisionReject {
		return o.enhanceOnly(ctx, req, query, d)
	}

	return o.fullPipeline(ctx, req, query, authz)
}

// enhanceOnly handles a user's accept/reject answer to a prior
// recommendation: the model is already chosen, so the classifier runs for
// bookkeeping only and the enhancer conditions the prompt.
func (o *Orchestrator) enhanceOnly(ctx context.Context, req chat.Request, query, decision string) Outcome {
	o.logger.Info("user decision received", "decision", decision, "model", req.Model)

	verdict := o.classifier.Detect(ctx, query)

	intent := "unknown"
	if verdict.IsConfidential {
		intent = "confidential"
	}
	sel := selector.Decision{
		RecommendedModel: req.Model,
		Intent:           intent,
		Complexity:       "medium",
		Confidence:       100,
		ShouldSwitch:     false,
	}

	out := Outcome{Mode: ModeEnhanceOnly, Verdict: verdict, Decision: sel}
	out.Request = o.finalize(ctx, req, req.Model, query, sel, &out)
	return out
}

// fullPipeline runs classifier and registry fetch concurrently, selects a
// model, then either returns a recommendation or finalizes the request.
func (o *Orchestrator) fullPipeline(ctx context.Context, req chat.Request, query, authz string) Outcome {
	verdict, models := o.classifyAndFetch(ctx, query, authz)

	var sel selector.Decision
	switch {
	case verdict.IsConfidential:
		// Non-negotiable: sensitive queries go to the approved model even
		// when the registry is unavailable.
		o.logger.Info("confidential override",
			"model", o.cfg.ConfidentialModelID, "confidence", verdict.Confidence)
		sel = selector.Decision{
			RecommendedModel: o.cfg.ConfidentialModelID,
			Intent:           "confidential",
			Complexity:       "medium",
			Reason:           verdict.Reason,
			Confidence:       verdict.Confidence,
			ShouldSwitch:     o.cfg.ConfidentialModelID != req.Model,
		}
	case len(models) == 0:
		o.logger.Warn("no models available, keeping current", "model", req.Model)
		sel = selector.Decision{
			RecommendedModel: req.Model,
			Intent:           "unknown",
			Complexity:       "medium",
			Reason:           "No models available",
			Confidence:       50,
		}
	default:
		sel = o.selector.Select(ctx, query, req.Model, models)
	}

	if req.RoutingEnabled() && sel.ShouldSwitch {
		o.logger.Info("returning model recommendation",
			"current", req.Model, "recommended", sel.RecommendedModel,
			"confidence", sel.Confidence)
		return Outcome{
			Mode:    ModeRecommended,
			Request: req,
			Recommendation: &Recommendation{
				Type:             "model_recommendation",
				CurrentModel:     req.Model,
				RecommendedModel: sel.RecommendedModel,
				Reason:           sel.Reason,
				Intent:           sel.Intent,
				Complexity:       sel.Complexity,
				Confidence:       sel.Confidence,
				Alternatives:     selector.TopAlternatives(sel.Intent, sel.RecommendedModel, models),
				IsConfidential:   verdict.IsConfidential,
				ConfidentialInfo: verdict,
				Message:          "We recommend a different model for better results.",
			},
			Verdict:  verdict,
			Decision: sel,
		}
	}

	finalModel := req.Model
	if sel.ShouldSwitch {
		o.logger.Info("auto-switching model", "from", req.Model, "to", sel.RecommendedModel)
		finalModel = sel.RecommendedModel
	}

	mode := ModeForwarded
	if verdict.IsConfidential {
		mode = ModeConfidential
	}
	out := Outcome{Mode: mode, Verdict: verdict, Decision: sel}
	out.Request = o.finalize(ctx, req, finalModel, query, sel, &out)
	return out
}

// classifyAndFetch runs the confidentiality check and the registry fetch
// concurrently and waits for both. Registry failure degrades to an empty
// model list.
func (o *Orchestrator) classifyAndFetch(ctx context.Context, query, authz string) (verdict classifier.Verdict, models []registry.Model) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verdict = o.classifier.Detect(gctx, query)
		return nil
	})
	g.Go(func() error {
		var err error
		models, err = o.registry.ListActiveModels(gctx, authz)
		if err != nil {
			o.logger.Warn("registry fetch failed", "error", err)
			models = nil
		}
		return nil
	})
	_ = g.Wait()
	return verdict, models
}

// finalize applies enhancement, rewrites the last user message, truncates
// the history against the final model's budget, and stamps the outbound
// metadata. The returned request is always dispatchable.
func (o *Orchestrator) finalize(ctx context.Context, req chat.Request, finalModel, query string, sel selector.Decision, out *Outcome) chat.Request {
	forwarded := req.Clone()
	forwarded.Model = finalModel

	enh := o.enhancer.Enhance(ctx, query, sel.Intent, sel.Complexity)
	out.Enhancement = enh
	if enh.ShouldEnhance {
		for i := len(forwarded.Messages) - 1; i >= 0; i-- {
			if forwarded.Messages[i].Role == chat.RoleUser {
				forwarded.Messages[i].Content = enh.EnhancedPrompt
				break
			}
		}
		o.logger.Info("enhancement applied", "similarity", enh.Similarity)
	} else {
		o.logger.Info("enhancement not applied", "reason", enh.Reason)
	}

	manager := conversation.NewManager(finalModel)
	out.OriginalTokens = tokens.EstimateMessages(forwarded.Messages)

	truncated := manager.Truncate(forwarded.Messages, o.cfg.TruncationStrategy)
	out.MessagesRemoved = len(forwarded.Messages) - len(truncated)
	if out.MessagesRemoved > 0 {
		o.logger.Info("history truncated",
			"model", finalModel,
			"removed", out.MessagesRemoved,
			"budget", manager.MaxHistoryTokens())
	}

	if o.cfg.EnableSummarization && o.summarizer != nil && out.MessagesRemoved > 3 {
		dropped := forwarded.Messages[:out.MessagesRemoved]
		if summary := o.summarizer.Summarize(ctx, dropped); summary != "" {
			truncated = manager.AddContextSummary(truncated, summary)
		}
	}
	forwarded.Messages = truncated
	out.TruncatedTokens = tokens.EstimateMessages(truncated)

	forwarded.SetMeta("slm_processed", true)
	forwarded.SetMeta("slm_intent", sel.Intent)
	forwarded.SetMeta("slm_complexity", sel.Complexity)
	forwarded.SetMeta("slm_enhanced", enh.ShouldEnhance)
	forwarded.SetMeta("slm_similarity", enh.Similarity)
	forwarded.SetMeta("slm_original_tokens", out.OriginalTokens)
	forwarded.SetMeta("slm_truncated_tokens", out.TruncatedTokens)
	forwarded.SetMeta("slm_messages_removed", out.MessagesRemoved)

	// The latest user message alone can exceed the budget; it is forwarded
	// untouched and the backend decides.
	if last, ok := forwarded.LatestUserContent(); ok {
		if tokens.Estimate(last) > manager.MaxHistoryTokens() {
			forwarded.SetMeta("slm_budget_exceeded", true)
			o.logger.Warn("latest user message alone exceeds history budget",
				"model", finalModel, "budget", manager.MaxHistoryTokens())
		}
	}

	return forwarded
}
