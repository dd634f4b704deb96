package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelgate/modelgate/internal/chat"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/routing"
	"github.com/modelgate/modelgate/internal/stats"
	"github.com/modelgate/modelgate/internal/store"
)

// Router runs the routing pipeline for one request.
type Router interface {
	Route(ctx context.Context, req chat.Request, authz string) routing.Outcome
}

// Dispatcher forwards a finalized request to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req chat.Request) (json.RawMessage, error)
	DispatchStream(ctx context.Context, req chat.Request) (io.ReadCloser, error)
}

type Dependencies struct {
	Router     Router
	Dispatcher Dispatcher
	Metrics    *metrics.Registry
	Store      store.Store
	EventBus   *events.Bus
	Stats      *stats.Collector

	// Bcrypt hash guarding /admin/v1; empty disables the admin surface.
	AdminTokenHash string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	// Both the bare and the OpenAI-prefixed path, so existing clients can
	// point at the gateway without changing their base URL.
	r.Post("/chat/completions", ChatHandler(d))
	r.Post("/v1/chat/completions", ChatHandler(d))

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(AdminAuth(d.AdminTokenHash))
		r.Get("/decisions", DecisionsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Put("/loglevel", LogLevelHandler())
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}
