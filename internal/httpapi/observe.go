package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/routing"
	"github.com/modelgate/modelgate/internal/stats"
	"github.com/modelgate/modelgate/internal/store"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a request body with a 10 MB cap.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20)).Decode(v)
}

// warnOnErr logs a warning if a background store operation fails. Decision
// logging must not block the response but its failures must be visible.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// observeParams captures the fields required to record a completed request
// across the Metrics, EventBus, and Store subsystems.
type observeParams struct {
	Outcome    routing.Outcome
	RequestID  string
	UserID     string
	SessionID  string
	LatencyMs  int64
	StatusCode int
	ErrorClass string
	ErrorMsg   string
}

func eventType(p observeParams) events.EventType {
	switch {
	case p.ErrorClass != "":
		return events.EventDispatchError
	case p.Outcome.Mode == routing.ModeRecommended:
		return events.EventRouteRecommended
	case p.Outcome.Mode == routing.ModeConfidential:
		return events.EventConfidentialOverride
	case p.Outcome.Mode == routing.ModeBypassed:
		return events.EventBypassed
	default:
		return events.EventRouteForwarded
	}
}

// recordObservability writes a completed request result to all configured
// observability sinks. All nil-safe: each subsystem is skipped when the
// corresponding dependency is nil.
func recordObservability(r *http.Request, d Dependencies, p observeParams) {
	out := p.Outcome

	if d.Metrics != nil {
		status := "ok"
		if p.ErrorClass != "" {
			status = "error"
		}
		d.Metrics.RequestsTotal.WithLabelValues(string(out.Mode), out.Request.Model, status).Inc()
		d.Metrics.RoutingLatency.WithLabelValues(string(out.Mode)).Observe(float64(p.LatencyMs))
		if out.Mode == routing.ModeConfidential {
			d.Metrics.ConfidentialOverrides.Inc()
		}
		switch out.Mode {
		case routing.ModeForwarded, routing.ModeConfidential, routing.ModeEnhanceOnly:
			accepted := "false"
			if out.Enhancement.ShouldEnhance {
				accepted = "true"
			}
			d.Metrics.Enhancements.WithLabelValues(accepted).Inc()
		}
		if out.MessagesRemoved > 0 {
			d.Metrics.MessagesTruncated.Add(float64(out.MessagesRemoved))
		}
	}

	if d.Store != nil {
		requested := out.Request.Model
		if out.Recommendation != nil {
			requested = out.Recommendation.CurrentModel
		}
		warnOnErr("log_decision", d.Store.LogDecision(r.Context(), store.DecisionRecord{
			RequestID:       p.RequestID,
			Mode:            string(out.Mode),
			RequestedModel:  requested,
			FinalModel:      out.Request.Model,
			Intent:          out.Decision.Intent,
			Complexity:      out.Decision.Complexity,
			Confidence:      out.Decision.Confidence,
			Confidential:    out.Verdict.IsConfidential,
			Enhanced:        out.Enhancement.ShouldEnhance,
			OriginalTokens:  out.OriginalTokens,
			TruncatedTokens: out.TruncatedTokens,
			MessagesRemoved: out.MessagesRemoved,
			LatencyMs:       p.LatencyMs,
			StatusCode:      p.StatusCode,
			ErrorClass:      p.ErrorClass,
		}))
	}

	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			Mode:         string(out.Mode),
			Model:        out.Request.Model,
			LatencyMs:    float64(p.LatencyMs),
			Success:      p.ErrorClass == "",
			Confidential: out.Verdict.IsConfidential,
			Enhanced:     out.Enhancement.ShouldEnhance,
		})
	}

	if d.EventBus != nil {
		requested := out.Request.Model
		if out.Recommendation != nil {
			requested = out.Recommendation.CurrentModel
		}
		d.EventBus.Publish(events.Event{
			Type:           eventType(p),
			RequestID:      p.RequestID,
			UserID:         p.UserID,
			SessionID:      p.SessionID,
			RequestedModel: requested,
			FinalModel:     out.Request.Model,
			Intent:         out.Decision.Intent,
			Complexity:     out.Decision.Complexity,
			Confidence:     out.Decision.Confidence,
			Reason:         out.Decision.Reason,
			LatencyMs:      float64(p.LatencyMs),
			ErrorMsg:       p.ErrorMsg,
			StatusCode:     p.StatusCode,
		})

		// Guard rejections get their own event so a drifting enhancer model
		// shows up on the dashboard immediately.
		if enh := out.Enhancement; !enh.ShouldEnhance && enh.Similarity < 1.0 && enh.Reason != "" {
			d.EventBus.Publish(events.Event{
				Type:       events.EventEnhancementRejected,
				RequestID:  p.RequestID,
				FinalModel: out.Request.Model,
				Reason:     enh.Reason,
			})
		}
	}
}
