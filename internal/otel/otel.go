// Package otel wires sightcheck to an OTLP collector.
//
// Traces and metrics are exported over HTTP when an endpoint is configured
// (config file otel_endpoint or OTEL_EXPORTER_OTLP_ENDPOINT). Without one,
// the global no-op providers stay in place and every instrument is a no-op.
// Headers such as Langfuse basic auth come from otel_headers or
// OTEL_EXPORTER_OTLP_HEADERS.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "sightcheck"

// Version is reported as service.version. cmd overwrites it with the
// linker-injected build version.
var Version = "dev"

// Config holds the exporter settings and the resource description.
type Config struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:3000/api/public/otel"
	Headers  string // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// DefaultProvider and Model describe the judge this process talks to
	// unless a request overrides them. Empty values are left out.
	DefaultProvider string
	Model           string

	// ExportInterval is the metric push period; 0 means 15s.
	ExportInterval time.Duration
}

// Resource attribute keys.
const (
	attrDefaultProvider = "sightcheck.provider.default"
	attrDefaultModel    = "sightcheck.model.default"
)

// Telemetry holds the OTEL providers and metric instruments.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

// parseHeaders splits "key=value,key2=value2" (the OTEL_EXPORTER_OTLP_HEADERS
// format) into a map. Pairs without a key are ignored.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	if raw == "" {
		return headers
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.IndexByte(pair, '='); idx > 0 {
			key := strings.TrimSpace(pair[:idx])
			val := strings.TrimSpace(pair[idx+1:])
			if key != "" {
				headers[key] = val
			}
		}
	}
	return headers
}

// endpoint is an OTLP base URL split the way the HTTP exporters want it:
// host:port separately from the path, which gets the signal suffix.
type endpoint struct {
	host     string
	basePath string
	insecure bool
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("otel: endpoint %q has no host", raw)
	}
	return endpoint{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
	}, nil
}

func (e endpoint) path(signal string) string {
	return e.basePath + "/v1/" + signal
}

// resourceAttributes describes this process. OTEL_RESOURCE_ATTRIBUTES may
// add to it through resource.WithFromEnv.
func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	}
	if cfg.DefaultProvider != "" {
		attrs = append(attrs, attribute.String(attrDefaultProvider, cfg.DefaultProvider))
	}
	if cfg.Model != "" {
		attrs = append(attrs, attribute.String(attrDefaultModel, cfg.Model))
	}
	return attrs
}

// Init sets up OTLP HTTP exporters for traces and metrics.
// With an empty cfg.Endpoint the returned Telemetry exports nothing.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Endpoint != "" {
		ep, err := parseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithFromEnv(),
			resource.WithHost(),
			resource.WithAttributes(resourceAttributes(cfg)...),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
		if err := t.startExporters(ctx, ep, parseHeaders(cfg.Headers), res, cfg.ExportInterval); err != nil {
			return nil, err
		}
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	t.Tracer = otel.Tracer(serviceName)

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics

	return t, nil
}

func (t *Telemetry) startExporters(ctx context.Context, ep endpoint, headers map[string]string, res *resource.Resource, interval time.Duration) error {
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.host),
		otlptracehttp.WithURLPath(ep.path("traces")),
	}
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithURLPath(ep.path("metrics")),
	}
	if ep.insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	if len(headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(headers))
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("otel trace exporter: %w", err)
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return fmt.Errorf("otel metric exporter: %w", err)
	}

	if interval <= 0 {
		interval = 15 * time.Second
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	t.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	return nil
}

// Shutdown flushes pending spans and metrics. Safe on a nil Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}
