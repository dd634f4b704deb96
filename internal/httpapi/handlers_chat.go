package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/llm"
	"github.com/modelgate/modelgate/internal/routing"
)

// maxStreamBytes limits streaming response size to prevent memory exhaustion (100 MB).
const maxStreamBytes = 100 * 1024 * 1024

// ChatHandler routes a chat completion request and either returns a model
// recommendation envelope or proxies the backend response (unary or SSE).
func ChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		var req chat.Request
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			jsonError(w, "model required", http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			jsonError(w, "messages required", http.StatusBadRequest)
			return
		}

		ctx := llm.WithRequestID(r.Context(), reqID)
		outcome := d.Router.Route(ctx, req, r.Header.Get("Authorization"))

		// A recommendation goes back to the client instead of the backend.
		if outcome.Recommendation != nil {
			recordObservability(r, d, observeParams{
				Outcome:    outcome,
				RequestID:  reqID,
				UserID:     req.UserID(),
				SessionID:  req.SessionID(),
				LatencyMs:  time.Since(start).Milliseconds(),
				StatusCode: http.StatusOK,
			})
			writeJSON(w, http.StatusOK, outcome.Recommendation)
			return
		}

		if outcome.Request.Stream {
			streamBackend(w, r, d, outcome, reqID, start)
			return
		}

		resp, err := d.Dispatcher.Dispatch(ctx, outcome.Request)
		latencyMs := time.Since(start).Milliseconds()
		if err != nil {
			status, msg := backendError(err)
			recordObservability(r, d, observeParams{
				Outcome:    outcome,
				RequestID:  reqID,
				UserID:     req.UserID(),
				SessionID:  req.SessionID(),
				LatencyMs:  latencyMs,
				StatusCode: status,
				ErrorClass: "dispatch_failure",
				ErrorMsg:   msg,
			})
			jsonError(w, msg, status)
			return
		}

		recordObservability(r, d, observeParams{
			Outcome:    outcome,
			RequestID:  reqID,
			UserID:     req.UserID(),
			SessionID:  req.SessionID(),
			LatencyMs:  latencyMs,
			StatusCode: http.StatusOK,
		})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Routed-Model", outcome.Request.Model)
		_, _ = w.Write(resp)
	}
}

// streamBackend proxies the backend's SSE stream to the client verbatim.
func streamBackend(w http.ResponseWriter, r *http.Request, d Dependencies, outcome routing.Outcome, reqID string, start time.Time) {
	ctx := llm.WithRequestID(r.Context(), reqID)
	body, err := d.Dispatcher.DispatchStream(ctx, outcome.Request)
	if err != nil {
		status, msg := backendError(err)
		recordObservability(r, d, observeParams{
			Outcome:    outcome,
			RequestID:  reqID,
			LatencyMs:  time.Since(start).Milliseconds(),
			StatusCode: status,
			ErrorClass: "dispatch_failure",
			ErrorMsg:   msg,
		})
		jsonError(w, msg, status)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Routed-Model", outcome.Request.Model)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var totalBytes int64
	streamSuccess := true
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			totalBytes += int64(n)
			if totalBytes > maxStreamBytes {
				slog.Warn("stream: max size exceeded, terminating",
					slog.String("request_id", reqID),
					slog.String("model", outcome.Request.Model),
					slog.Int64("bytes", totalBytes))
				streamSuccess = false
				break
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				slog.Warn("stream: write error",
					slog.String("request_id", reqID),
					slog.String("error", writeErr.Error()))
				streamSuccess = false
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.Warn("stream: read error",
					slog.String("request_id", reqID),
					slog.String("model", outcome.Request.Model),
					slog.String("error", readErr.Error()))
				streamSuccess = false
			}
			break
		}
	}

	errClass := ""
	if !streamSuccess {
		errClass = "stream_error"
	}
	recordObservability(r, d, observeParams{
		Outcome:    outcome,
		RequestID:  reqID,
		LatencyMs:  time.Since(start).Milliseconds(),
		StatusCode: http.StatusOK,
		ErrorClass: errClass,
	})
}

// backendError maps a dispatch failure to a client-facing status and message.
// Backend status codes pass through; transport failures become 502.
func backendError(err error) (int, string) {
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, se.Body
	}
	return http.StatusBadGateway, err.Error()
}
