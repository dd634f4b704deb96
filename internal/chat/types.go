// Package chat defines the OpenAI-style chat envelope shared by the routing
// pipeline, the backend dispatcher, and the HTTP layer.
package chat

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the inbound chat completion envelope. Params carries optional
// sampling parameters forwarded to the backend verbatim; Metadata carries
// routing control flags and event plumbing ids.
type Request struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decision values carried in metadata under "slm_decision".
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// Clone returns a deep copy of the request. Messages and both maps are
// copied so the caller can mutate the clone freely.
func (r Request) Clone() Request {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Params != nil {
		out.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// LatestUserContent returns the content of the last user-role message.
func (r Request) LatestUserContent() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

// SetMeta sets a metadata key, allocating the map if needed. Returns the
// (possibly new) request value so callers can chain on a clone.
func (r *Request) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

func (r Request) metaBool(key string) bool {
	v, ok := r.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (r Request) metaString(key string) string {
	v, ok := r.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Processed reports whether the router has already handled this request.
// Once true, no further classifier/selector/enhancer calls are issued.
func (r Request) Processed() bool { return r.metaBool("slm_processed") }

// RoutingEnabled reports the client-side recommendation toggle.
func (r Request) RoutingEnabled() bool { return r.metaBool("slm_enabled") }

// Decision returns the user's accept/reject verdict on a prior
// recommendation, or "" when none was given.
func (r Request) Decision() string { return r.metaString("slm_decision") }

// Task returns the background task name ("" for interactive turns).
func (r Request) Task() string { return r.metaString("task") }

// BypassRouting reports whether the request must skip the routing pipeline
// entirely: image generation, video generation, or a background task such
// as title generation.
func (r Request) BypassRouting() bool {
	if r.metaBool("image_generation") || r.metaBool("video_generation") {
		return true
	}
	// Video generation may also arrive nested under metadata.features.
	if features, ok := r.Metadata["features"].(map[string]any); ok {
		if b, _ := features["video_generation"].(bool); b {
			return true
		}
	}
	return r.Task() != ""
}

// UserID and SessionID are event plumbing ids from metadata.
func (r Request) UserID() string    { return r.metaString("user_id") }
func (r Request) SessionID() string { return r.metaString("session_id") }
