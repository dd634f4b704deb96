package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/llm"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/routing"
	"github.com/modelgate/modelgate/internal/selector"
	"github.com/modelgate/modelgate/internal/store"
)

type fakeRouter struct {
	outcome routing.Outcome
	gotReq  chat.Request
	gotAuth string
}

func (f *fakeRouter) Route(_ context.Context, req chat.Request, authz string) routing.Outcome {
	f.gotReq = req
	f.gotAuth = authz
	if f.outcome.Mode == "" {
		out := routing.Outcome{Mode: routing.ModeForwarded, Request: req.Clone()}
		out.Request.SetMeta("slm_processed", true)
		return out
	}
	return f.outcome
}

type fakeDispatcher struct {
	resp      json.RawMessage
	stream    string
	err       error
	called    bool
	gotModel  string
	gotStream bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req chat.Request) (json.RawMessage, error) {
	f.called = true
	f.gotModel = req.Model
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeDispatcher) DispatchStream(_ context.Context, req chat.Request) (io.ReadCloser, error) {
	f.called = true
	f.gotModel = req.Model
	f.gotStream = req.Stream
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func newTestServer(t *testing.T, d Dependencies) *httptest.Server {
	t.Helper()
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	MountRoutes(r, d)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/chat/completions", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func chatBody(stream bool) chat.Request {
	return chat.Request{
		Model:  "llama-3.1-8b-instant",
		Stream: stream,
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "explain goroutine scheduling"},
		},
	}
}

func TestChatForwardsBackendResponse(t *testing.T) {
	rt := &fakeRouter{}
	disp := &fakeDispatcher{resp: json.RawMessage(`{"choices":[{"message":{"content":"hi"}}]}`)}
	srv := newTestServer(t, Dependencies{Router: rt, Dispatcher: disp})

	resp := postChat(t, srv, chatBody(false))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"content":"hi"`)) {
		t.Errorf("backend body not passed through: %s", body)
	}
	if resp.Header.Get("X-Routed-Model") != "llama-3.1-8b-instant" {
		t.Errorf("X-Routed-Model = %q", resp.Header.Get("X-Routed-Model"))
	}
	if !disp.called {
		t.Error("dispatcher not called")
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{}})

	resp := postChat(t, srv, chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "x"}}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing model: status = %d", resp.StatusCode)
	}

	resp = postChat(t, srv, chat.Request{Model: "m"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing messages: status = %d", resp.StatusCode)
	}
}

func TestChatRecommendationSkipsDispatch(t *testing.T) {
	req := chatBody(false)
	rt := &fakeRouter{outcome: routing.Outcome{
		Mode:    routing.ModeRecommended,
		Request: req,
		Recommendation: &routing.Recommendation{
			Type:             "model_recommendation",
			CurrentModel:     "llama-3.1-8b-instant",
			RecommendedModel: "qwen-coder-32b",
			Confidence:       82,
			Message:          "We recommend a different model for better results.",
		},
		Decision: selector.Decision{RecommendedModel: "qwen-coder-32b", Confidence: 82},
	}}
	disp := &fakeDispatcher{}
	srv := newTestServer(t, Dependencies{Router: rt, Dispatcher: disp})

	resp := postChat(t, srv, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env["type"] != "model_recommendation" || env["recommended_model"] != "qwen-coder-32b" {
		t.Errorf("envelope = %v", env)
	}
	if disp.called {
		t.Error("recommendation must not dispatch to the backend")
	}
}

func TestChatBackendStatusPassthrough(t *testing.T) {
	disp := &fakeDispatcher{err: &llm.StatusError{StatusCode: http.StatusTooManyRequests, Body: "rate limited"}}
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: disp})

	resp := postChat(t, srv, chatBody(false))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 passed through", resp.StatusCode)
	}
}

func TestChatTransportErrorIs502(t *testing.T) {
	disp := &fakeDispatcher{err: fmt.Errorf("connection refused")}
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: disp})

	resp := postChat(t, srv, chatBody(false))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatStreamProxiesSSE(t *testing.T) {
	sse := "data: {\"delta\":\"a\"}\n\ndata: [DONE]\n\n"
	disp := &fakeDispatcher{stream: sse}
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: disp})

	resp := postChat(t, srv, chatBody(true))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != sse {
		t.Errorf("stream body = %q", body)
	}
}

func TestChatAuthorizationForwardedToRouter(t *testing.T) {
	rt := &fakeRouter{}
	srv := newTestServer(t, Dependencies{Router: rt, Dispatcher: &fakeDispatcher{resp: json.RawMessage(`{}`)}})

	b, _ := json.Marshal(chatBody(false))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer user-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if rt.gotAuth != "Bearer user-token" {
		t.Errorf("authz = %q", rt.gotAuth)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{}})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestAdminAuthDisabledWithoutHash(t *testing.T) {
	srv := newTestServer(t, Dependencies{Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{}})
	resp, err := http.Get(srv.URL + "/admin/v1/decisions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no admin hash configured", resp.StatusCode)
	}
}

func TestAdminAuthToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, Dependencies{
		Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{},
		AdminTokenHash: string(hash),
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/v1/decisions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", resp.StatusCode)
	}

	req.Header.Set("X-Admin-Token", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", resp.StatusCode)
	}

	req.Header.Set("X-Admin-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["decisions"]; !ok {
		t.Errorf("body = %v", body)
	}
}

func TestDecisionsFromStore(t *testing.T) {
	st, err := store.NewSQLite("file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := st.LogDecision(context.Background(), store.DecisionRecord{
		Mode: "forwarded", RequestedModel: "a", FinalModel: "b", Confidence: 70,
	}); err != nil {
		t.Fatal(err)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	srv := newTestServer(t, Dependencies{
		Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{},
		Store: st, AdminTokenHash: string(hash),
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/v1/decisions?limit=10", nil)
	req.Header.Set("X-Admin-Token", "tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Decisions []store.DecisionRecord `json:"decisions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Decisions) != 1 || body.Decisions[0].FinalModel != "b" {
		t.Errorf("decisions = %+v", body.Decisions)
	}
}

func TestLogLevelValidation(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	srv := newTestServer(t, Dependencies{
		Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{},
		AdminTokenHash: string(hash),
	})

	put := func(level string) int {
		body := strings.NewReader(`{"level":"` + level + `"}`)
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/admin/v1/loglevel", body)
		req.Header.Set("X-Admin-Token", "tok")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put("debug"); code != http.StatusOK {
		t.Errorf("debug: status = %d", code)
	}
	if code := put("verbose"); code != http.StatusBadRequest {
		t.Errorf("verbose: status = %d", code)
	}
}

func TestEventsSSE(t *testing.T) {
	bus := events.NewBus()
	hash, _ := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	srv := newTestServer(t, Dependencies{
		Router: &fakeRouter{}, Dispatcher: &fakeDispatcher{},
		EventBus: bus, AdminTokenHash: string(hash),
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/v1/events", nil)
	req.Header.Set("X-Admin-Token", "tok")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "event: connected") {
		t.Errorf("first frame = %q", buf[:n])
	}
}
