// Package telemetry exposes pipeline and HTTP metrics through an
// OpenTelemetry meter backed by the Prometheus exporter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the meter provider and the pipeline's instruments. The nil
// receiver and the zero value are both safe no-ops, so callers never need to
// guard their recording calls.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	exporter      *prometheus.Exporter

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	resolutionsTotal metric.Int64Counter
	enrichmentsTotal metric.Int64Counter
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. When disabled it returns an inert
// instance whose recording methods do nothing.
func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}
	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordResolution counts a resolver outcome ("resolved" or "dropped").
func (t *Telemetry) RecordResolution(status string) {
	if t == nil || t.resolutionsTotal == nil {
		return
	}
	t.resolutionsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordEnrichment counts an enricher outcome ("enriched", "requeued" or
// "unavailable").
func (t *Telemetry) RecordEnrichment(status string) {
	if t == nil || t.enrichmentsTotal == nil {
		return
	}
	t.enrichmentsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordDownload records a finished transfer attempt and its duration.
func (t *Telemetry) RecordDownload(status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))
	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1, attrs)
	}
	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementActiveDownloads increments the in-flight download gauge.
func (t *Telemetry) IncrementActiveDownloads() {
	if t == nil || t.downloadsActive == nil {
		return
	}
	t.downloadsActive.Add(context.Background(), 1)
}

// DecrementActiveDownloads decrements the in-flight download gauge.
func (t *Telemetry) DecrementActiveDownloads() {
	if t == nil || t.downloadsActive == nil {
		return
	}
	t.downloadsActive.Add(context.Background(), -1)
}

// Handler returns the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return err
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	t.resolutionsTotal, err = t.meter.Int64Counter(
		"pipeline_resolutions_total",
		metric.WithDescription("Total number of intake items resolved or dropped"),
	)
	if err != nil {
		return err
	}

	t.enrichmentsTotal, err = t.meter.Int64Counter(
		"pipeline_enrichments_total",
		metric.WithDescription("Total number of enrichment attempts by outcome"),
	)
	if err != nil {
		return err
	}

	t.downloadsTotal, err = t.meter.Int64Counter(
		"pipeline_downloads_total",
		metric.WithDescription("Total number of finished transfer attempts by outcome"),
	)
	if err != nil {
		return err
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"pipeline_downloads_active",
		metric.WithDescription("Number of transfers currently in flight"),
	)
	if err != nil {
		return err
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"pipeline_download_duration_seconds",
		metric.WithDescription("Transfer duration in seconds"),
		metric.WithUnit("s"),
	)

	return err
}
