// Package metrics wires Prometheus (via an OpenTelemetry meter provider) the
// same way the rest of the pack does: one struct of typed counters built
// once at startup and threaded through the call graph, plus a side listener
// serving /metrics on its own port so it never shares the public mux.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/cdndepot")

	if m.RequestsTotal, err = meter.Int64Counter("requests_total", metric.WithDescription("Total number of requests handled by the orchestrator")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create requests_total counter: %w", err)
	}
	if m.CacheHitsTotal, err = meter.Int64Counter("cache_hits_total", metric.WithDescription("Total number of cache hits")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_hits_total counter: %w", err)
	}
	if m.CacheMissesTotal, err = meter.Int64Counter("cache_misses_total", metric.WithDescription("Total number of cache misses")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_misses_total counter: %w", err)
	}
	if m.InstallsTotal, err = meter.Int64Counter("installs_total", metric.WithDescription("Total number of package installs performed")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create installs_total counter: %w", err)
	}
	if m.InstallFailuresTotal, err = meter.Int64Counter("install_failures_total", metric.WithDescription("Total number of failed package installs")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create install_failures_total counter: %w", err)
	}
	if m.CompilesTotal, err = meter.Int64Counter("compiles_total", metric.WithDescription("Total number of component compiles performed")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create compiles_total counter: %w", err)
	}
	if m.RewriteDurationMs, err = meter.Int64Histogram("rewrite_duration_ms", metric.WithDescription("Duration of the AST rewrite step in milliseconds")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create rewrite_duration_ms histogram: %w", err)
	}
	if m.AccessCounterErrorsTotal, err = meter.Int64Counter("access_counter_errors_total", metric.WithDescription("Total number of access counter write errors")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create access_counter_errors_total counter: %w", err)
	}
	if m.AccessLogErrorsTotal, err = meter.Int64Counter("access_log_errors_total", metric.WithDescription("Total number of archive access log write errors")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create access_log_errors_total counter: %w", err)
	}

	return m, nil
}

type Metrics struct {
	RequestsTotal            metric.Int64Counter
	CacheHitsTotal           metric.Int64Counter
	CacheMissesTotal         metric.Int64Counter
	InstallsTotal            metric.Int64Counter
	InstallFailuresTotal     metric.Int64Counter
	CompilesTotal            metric.Int64Counter
	RewriteDurationMs        metric.Int64Histogram
	AccessCounterErrorsTotal metric.Int64Counter
	AccessLogErrorsTotal     metric.Int64Counter
}

// ListenAndServe serves the Prometheus exposition format on addr. It is
// intended to run on a port distinct from the public CDN listener.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) IncrementRequests(ctx context.Context, registry string, status int) {
	if m.RequestsTotal == nil {
		return
	}
	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("registry", registry),
		attribute.Int("status", status),
	))
}

func (m Metrics) IncrementCacheHit(ctx context.Context) {
	if m.CacheHitsTotal == nil {
		return
	}
	m.CacheHitsTotal.Add(ctx, 1)
}

func (m Metrics) IncrementCacheMiss(ctx context.Context) {
	if m.CacheMissesTotal == nil {
		return
	}
	m.CacheMissesTotal.Add(ctx, 1)
}

func (m Metrics) IncrementInstall(ctx context.Context, registry string, ok bool) {
	if ok {
		if m.InstallsTotal != nil {
			m.InstallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("registry", registry)))
		}
		return
	}
	if m.InstallFailuresTotal != nil {
		m.InstallFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("registry", registry)))
	}
}

func (m Metrics) IncrementCompile(ctx context.Context, version string) {
	if m.CompilesTotal == nil {
		return
	}
	m.CompilesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("compiler_version", version)))
}

func (m Metrics) ObserveRewriteDuration(ctx context.Context, ms int64) {
	if m.RewriteDurationMs == nil {
		return
	}
	m.RewriteDurationMs.Record(ctx, ms)
}

func (m Metrics) IncrementAccessCounterErrors(ctx context.Context, group string) {
	if m.AccessCounterErrorsTotal == nil {
		return
	}
	m.AccessCounterErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("group", group)))
}

func (m Metrics) IncrementAccessLogErrors(ctx context.Context) {
	if m.AccessLogErrorsTotal == nil {
		return
	}
	m.AccessLogErrorsTotal.Add(ctx, 1)
}
