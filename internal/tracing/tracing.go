// Package tracing provides opt-in OpenTelemetry trace propagation for the
// gateway. A single routed request spans the inbound handler plus up to four
// outbound calls (classifier, selector, enhancer, backend dispatch); tracing
// is what ties those legs together under one trace id.
//
// When disabled, Setup returns a no-op shutdown and the middleware/transport
// wrappers pass through with no global TracerProvider installed.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds the OTel tracing configuration.
type Config struct {
	Enabled        bool
	Endpoint       string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName    string // resource service name, e.g. "modelgate"
	ServiceVersion string // optional build version stamped on the resource
}

// Setup installs a TracerProvider backed by an OTLP HTTP exporter and sets
// the global TextMapPropagator to W3C TraceContext + Baggage, so outbound
// auxiliary and dispatch calls carry traceparent automatically.
//
// The returned shutdown function flushes pending spans; call it from the
// server Close path. With cfg.Enabled false it is a no-op.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // typical for local collectors
	)
	if err != nil {
		return nil, err
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Middleware instruments inbound requests. Spans are named by method and
// route; probe endpoints are filtered out so liveness checks and scrapes do
// not pollute the trace stream. Without a global TracerProvider the otelhttp
// handler is effectively a no-op.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "modelgate.request",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
			}),
		)
	}
}

// HTTPTransport wraps a base http.RoundTripper so outgoing calls propagate
// W3C trace headers. A nil base means http.DefaultTransport.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
