package selector

import (
	"sort"
	"strings"

	"github.com/modelgate/modelgate/internal/registry"
)

// Alternative is a runner-up suggestion shown next to a recommendation.
type Alternative struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	RecommendedFor string `json:"recommended_for"`
}

// canonicalIntent folds the selector's verbose intent labels onto the
// short forms the affinity rules use.
func canonicalIntent(intent string) string {
	switch intent {
	case "code_generation", "code":
		return "code"
	case "creative_writing", "creative":
		return "creative"
	case "question_answering", "qa":
		return "qa"
	default:
		return intent
	}
}

// intentAffinity reports whether a model id looks like a good fit for the
// canonical intent.
func intentAffinity(intent, modelID string) bool {
	id := strings.ToLower(modelID)
	switch intent {
	case "code":
		return strings.Contains(id, "qwen") || strings.Contains(id, "code")
	case "creative":
		return strings.Contains(id, "llama") && strings.Contains(id, "70b")
	case "qa":
		return strings.Contains(id, "8b") || strings.Contains(id, "instant")
	case "analysis":
		return strings.Contains(id, "70b")
	}
	return false
}

// TopAlternatives scores every model other than the recommended one and
// returns the best two. Scoring: 50 base, +30 for intent affinity, +10 for
// a context window over 100k tokens. Ties keep registry order.
func TopAlternatives(intent, recommended string, models []registry.Model) []Alternative {
	const topN = 2
	intent = canonicalIntent(intent)

	type scored struct {
		model registry.Model
		score int
	}
	candidates := make([]scored, 0, len(models))
	for _, m := range models {
		if m.ID == recommended {
			continue
		}
		score := 50
		if intentAffinity(intent, m.ID) {
			score += 30
		}
		if m.ContextWindow > 100000 {
			score += 10
		}
		candidates = append(candidates, scored{model: m, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	out := make([]Alternative, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Alternative{
			ID:             c.model.ID,
			Name:           c.model.Name,
			RecommendedFor: intent,
		})
	}
	return out
}
