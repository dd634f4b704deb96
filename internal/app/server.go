package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/modelgate/modelgate/internal/classifier"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/enhancer"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/httpapi"
	"github.com/modelgate/modelgate/internal/idempotency"
	"github.com/modelgate/modelgate/internal/llm"
	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/routing"
	"github.com/modelgate/modelgate/internal/selector"
	"github.com/modelgate/modelgate/internal/stats"
	"github.com/modelgate/modelgate/internal/store"
	"github.com/modelgate/modelgate/internal/tracing"
)

type Server struct {
	cfg Config

	r *chi.Mux

	store   store.Store
	limiter *ratelimit.Limiter
	idem    *idempotency.Cache
	logger  *slog.Logger

	shutdownTracing func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "modelgate",
		ServiceVersion: cfg.Version,
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	bus := events.NewBus()

	var db store.Store
	if cfg.DBDSN != "" {
		sq, err := store.NewSQLite(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		if err := sq.Migrate(context.Background()); err != nil {
			_ = sq.Close()
			return nil, err
		}
		logger.Info("decision log initialized", slog.String("dsn", cfg.DBDSN))
		db = sq
	}

	// Auxiliary model client; outgoing calls carry trace context.
	auxHTTP := &http.Client{
		Timeout:   30 * time.Second,
		Transport: tracing.HTTPTransport(nil),
	}
	aux := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, auxHTTP)

	detector := classifier.NewDetector(aux, cfg.ClassifierModel,
		time.Duration(cfg.ClassifierTimeoutSecs)*time.Second, logger)
	sel := selector.NewSelector(aux, cfg.SelectorModel,
		time.Duration(cfg.SelectorTimeoutSecs)*time.Second, logger)
	enh := enhancer.NewEnhancer(aux, cfg.EnhancerModel,
		time.Duration(cfg.EnhancerTimeoutSecs)*time.Second, logger)

	var summarizer routing.Summarizer
	if cfg.EnableSummarization {
		summarizer = routing.NewContextSummarizer(aux, cfg.SelectorModel,
			time.Duration(cfg.SelectorTimeoutSecs)*time.Second, logger)
	}

	reg := registry.NewClient(cfg.RegistryURL, &http.Client{
		Timeout:   time.Duration(cfg.RegistryTimeoutSecs) * time.Second,
		Transport: tracing.HTTPTransport(nil),
	})

	orch := routing.NewOrchestrator(routing.Config{
		ConfidentialModelID: cfg.ConfidentialModelID,
		TruncationStrategy:  conversation.Strategy(cfg.TruncationStrategy),
		EnableSummarization: cfg.EnableSummarization,
	}, detector, sel, enh, reg, summarizer, logger)

	disp := dispatch.NewDispatcher(cfg.BackendURL, cfg.BackendAPIKey, &http.Client{
		Timeout:   time.Duration(cfg.StreamTimeoutSecs) * time.Second,
		Transport: tracing.HTTPTransport(nil),
	})

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, m.RateLimited)
	idem := idempotency.New(time.Duration(cfg.IdempotencyTTLSecs)*time.Second, 1024)
	collector := stats.NewCollector()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Admin-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)
	r.Use(idempotency.Middleware(idem))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:         orch,
		Dispatcher:     disp,
		Metrics:        m,
		Store:          db,
		EventBus:       bus,
		Stats:          collector,
		AdminTokenHash: cfg.AdminTokenHash,
	})

	return &Server{
		cfg:             cfg,
		r:               r,
		store:           db,
		limiter:         limiter,
		idem:            idem,
		logger:          logger,
		shutdownTracing: shutdownTracing,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the reloadable subset of a new configuration. Only the log
// level changes at runtime; everything else needs a restart.
func (s *Server) Reload(cfg Config) {
	if cfg.LogLevel != s.cfg.LogLevel {
		logging.SetLevel(cfg.LogLevel)
		s.logger.Info("log level changed", slog.String("level", cfg.LogLevel))
		s.cfg.LogLevel = cfg.LogLevel
	}
}

func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.idem != nil {
		s.idem.Stop()
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.shutdownTracing(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
