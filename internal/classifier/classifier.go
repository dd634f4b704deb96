// Package classifier decides whether a user query contains confidential
// material that must be pinned to an approved model.
package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/llm"
)

// Verdict is the classification outcome. The zero value is the safe
// verdict: not confidential.
type Verdict struct {
	IsConfidential bool     `json:"is_confidential"`
	Confidence     int      `json:"confidence"`
	Categories     []string `json:"categories,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

const minQueryLength = 5

const systemPrompt = `You are a privacy and data-security classifier. Your only job is to detect whether the user query contains confidential or sensitive information.

Categories to check:
- pii: personal data (names with identifying details, addresses, phone numbers, government IDs)
- credentials: passwords, API keys, tokens, private keys
- financial: account or card numbers, salaries, financial records
- medical: health conditions, diagnoses, prescriptions
- internal_business: internal documents, unreleased plans, trade secrets

IMPORTANT RULES:
- A query that ASKS ABOUT these topics (e.g. "what is an SSN?") is NOT confidential.
- A query that CONTAINS actual confidential values (e.g. "my SSN is 123-45-6789") IS confidential.
- General business questions, coding questions, and general knowledge are NOT confidential.
- Be conservative: only flag when you are highly confident actual sensitive data is present.

Respond with a JSON object:
{"is_confidential": true/false, "confidence": 0-100, "categories": ["..."], "reason": "one sentence"}

General questions, public knowledge, and code without secrets are NOT confidential. When unsure, answer false.`

// Detector classifies queries with an auxiliary model.
type Detector struct {
	client  *llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDetector builds a detector using the given classifier model id.
func NewDetector(client *llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{client: client, model: model, timeout: timeout, logger: logger}
}

// Detect classifies a query. It never returns an error: any failure yields
// the safe verdict so that routing continues.
func (d *Detector) Detect(ctx context.Context, query string) Verdict {
	if len(strings.TrimSpace(query)) < minQueryLength {
		return Verdict{}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	obj, err := d.client.CompleteObject(ctx, llm.Params{
		Model:       d.model,
		Temperature: 0,
		MaxTokens:   200,
	}, systemPrompt, query)
	if err != nil {
		d.logger.Warn("confidentiality check failed, assuming safe", "error", err)
		return Verdict{}
	}

	v := Verdict{
		IsConfidential: llm.BoolField(obj, "is_confidential", false),
		Confidence:     llm.ClampInt(llm.IntField(obj, "confidence", 0), 0, 100),
		Reason:         llm.StringField(obj, "reason", ""),
	}
	v.Categories = llm.StringSliceField(obj, "categories")
	return v
}
