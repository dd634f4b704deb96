// Package registry fetches the set of models available to the caller from
// the model registry service.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/llm"
)

// Model is a registry entry the selector can route to.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	OwnedBy       string   `json:"owned_by"`
	ContextWindow int      `json:"context_window"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// Client lists models from a registry endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a registry client. A nil httpClient gets a 5s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type listResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnedBy       string `json:"owned_by"`
	ContextWindow int    `json:"context_window"`
	Info          *struct {
		IsActive *bool `json:"is_active"`
		Meta     *struct {
			Capabilities map[string]bool `json:"capabilities"`
		} `json:"meta"`
	} `json:"info"`
}

// ListActiveModels fetches the registry's model list, forwarding the
// caller's Authorization header value when present. Inactive entries are
// dropped; entries without an explicit context window get one from the
// built-in limits table.
func (c *Client) ListActiveModels(ctx context.Context, authz string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if reqID := llm.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var list listResponse
	if err := json.Unmarshal(body, &list.Data); err != nil {
		// Not a bare array; try the {"data": [...]} envelope.
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode registry response: %w", err)
		}
	}

	models := make([]Model, 0, len(list.Data))
	for _, entry := range list.Data {
		if entry.ID == "" {
			continue
		}
		if entry.Info != nil && entry.Info.IsActive != nil && !*entry.Info.IsActive {
			continue
		}
		m := Model{
			ID:            entry.ID,
			Name:          entry.Name,
			OwnedBy:       entry.OwnedBy,
			ContextWindow: entry.ContextWindow,
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.ContextWindow == 0 {
			m.ContextWindow = conversation.TokenLimit(m.ID)
		}
		if entry.Info != nil && entry.Info.Meta != nil {
			for name, on := range entry.Info.Meta.Capabilities {
				if on {
					m.Capabilities = append(m.Capabilities, name)
				}
			}
		}
		models = append(models, m)
	}
	return models, nil
}

// Contains reports whether id is present in the model list.
func Contains(models []Model, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
