// Package dispatch forwards finalized chat requests to the OpenAI-compatible
// backend and hands the response (unary or streaming) back untouched.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/llm"
)

// Dispatcher sends requests to the chat backend.
type Dispatcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewDispatcher builds a dispatcher for the backend base URL. A nil
// httpClient uses a default sized for long streaming responses.
func NewDispatcher(baseURL, apiKey string, httpClient *http.Client) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Dispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// payload flattens the request envelope into the backend's wire format:
// sampling params merge into the top level, metadata is forwarded as-is.
func payload(req chat.Request, stream bool) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}
	for k, v := range req.Params {
		body[k] = v
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}
	return body
}

func (d *Dispatcher) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	reqID := llm.GetRequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// Dispatch sends a unary completion and returns the backend's raw JSON
// response body.
func (d *Dispatcher) Dispatch(ctx context.Context, req chat.Request) (json.RawMessage, error) {
	ctx, span := otel.Tracer("modelgate.dispatch").Start(ctx, "dispatch.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", req.Model)),
	)
	defer span.End()

	body, err := json.Marshal(payload(req, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := d.newRequest(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, err
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		se := &llm.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return json.RawMessage(respBody), nil
}

// DispatchStream sends a streaming completion and returns the raw SSE body.
// The caller owns the ReadCloser; closing it ends the span.
func (d *Dispatcher) DispatchStream(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	ctx, span := otel.Tracer("modelgate.dispatch").Start(ctx, "dispatch.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", req.Model)),
	)

	body, err := json.Marshal(payload(req, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		span.End()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := d.newRequest(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		span.End()
		return nil, err
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		span.End()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			span.RecordError(readErr)
			span.SetStatus(codes.Error, "read error response failed")
			span.End()
			return nil, fmt.Errorf("failed to read backend error response: %w", readErr)
		}
		se := &llm.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.End()
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return &spanCloser{ReadCloser: resp.Body, span: span}, nil
}

// spanCloser ends the dispatch span when the stream is closed.
type spanCloser struct {
	io.ReadCloser
	span trace.Span
}

func (sc *spanCloser) Close() error {
	err := sc.ReadCloser.Close()
	sc.span.End()
	return err
}
