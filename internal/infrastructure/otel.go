package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts"
)

const (
	ServiceName = "luminex-pipeline"
	MeterName   = "github.com/DavoGrant/LuminexDataPipeline"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	TraceOutput    io.Writer
	EnableMetrics  bool
	SampleRatio    float64
}

// OTelConfigFrom maps the telemetry section of the application config.
// A configured trace file is opened by the caller and passed as TraceOutput.
func OTelConfigFrom(cfg config.TelemetryConfig) *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: contracts.Version,
		Environment:    env,
		TraceExporter:  cfg.TraceExporter,
		EnableMetrics:  cfg.EnableMetrics,
		SampleRatio:    cfg.SampleRatio,
	}
}

// OTelProviders holds the OpenTelemetry providers. Tracer and Meter are
// always usable; they are no-ops when the matching signal is disabled.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Registry       *prometheus.Registry
	Logger         *slog.Logger
}

// InitializeOTel initializes tracing and metrics for a pipeline run.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = OTelConfigFrom(config.Default().Telemetry)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  metricnoop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.TraceOutput != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.TraceOutput))
		}
		exporter, err = stdouttrace.New(opts...)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics registers an OpenTelemetry Prometheus exporter on a
// private registry so the run's metrics can be written as a textfile.
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.Registry = registry
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetMeterProvider(mp)

	providers.Logger.DebugContext(ctx, "Metrics initialized", slog.String("exporter", "prometheus"))
	return nil
}

// WriteMetrics writes the collected metrics in Prometheus text format.
// It is a no-op when metrics are disabled or path is empty.
func (p *OTelProviders) WriteMetrics(path string) error {
	if p.Registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// PipelineMetrics holds the instruments recorded by a pipeline run
type PipelineMetrics struct {
	TabsProcessed   metric.Int64Counter
	TabsSkipped     metric.Int64Counter
	SamplesInferred metric.Int64Counter
	GroupsFlushed   metric.Int64Counter
	FitDuration     metric.Float64Histogram
	FitRSquared     metric.Float64Histogram
	ReservoirSize   metric.Int64UpDownCounter
}

// CreatePipelineMetrics creates the pipeline instruments on meter
func CreatePipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	tabsProcessed, err := meter.Int64Counter(
		"luminex.tabs.processed",
		metric.WithDescription("Analyte tabs calibrated and quantified"),
	)
	if err != nil {
		return nil, err
	}

	tabsSkipped, err := meter.Int64Counter(
		"luminex.tabs.skipped",
		metric.WithDescription("Analyte tabs skipped after a tab-local error"),
	)
	if err != nil {
		return nil, err
	}

	samplesInferred, err := meter.Int64Counter(
		"luminex.samples.inferred",
		metric.WithDescription("Unknown samples quantified"),
	)
	if err != nil {
		return nil, err
	}

	groupsFlushed, err := meter.Int64Counter(
		"luminex.groups.flushed",
		metric.WithDescription("Replicate groups written to output workbooks"),
	)
	if err != nil {
		return nil, err
	}

	fitDuration, err := meter.Float64Histogram(
		"luminex.fit.duration",
		metric.WithDescription("Calibration fit duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	fitRSquared, err := meter.Float64Histogram(
		"luminex.fit.r_squared",
		metric.WithDescription("Coefficient of determination of calibration fits"),
		metric.WithExplicitBucketBoundaries(0.5, 0.8, 0.9, 0.95, 0.98, 0.99, 0.995, 0.999, 1),
	)
	if err != nil {
		return nil, err
	}

	reservoirSize, err := meter.Int64UpDownCounter(
		"luminex.reservoir.entries",
		metric.WithDescription("Tab results currently buffered in the reservoir"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		TabsProcessed:   tabsProcessed,
		TabsSkipped:     tabsSkipped,
		SamplesInferred: samplesInferred,
		GroupsFlushed:   groupsFlushed,
		FitDuration:     fitDuration,
		FitRSquared:     fitRSquared,
		ReservoirSize:   reservoirSize,
	}, nil
}

// RecordFit records one calibration fit
func (m *PipelineMetrics) RecordFit(ctx context.Context, analyte string, duration time.Duration, rSquared float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("analyte", analyte))
	m.FitDuration.Record(ctx, duration.Seconds(), attrs)
	m.FitRSquared.Record(ctx, rSquared, attrs)
}

// RecordTab records the outcome of one analyte tab
func (m *PipelineMetrics) RecordTab(ctx context.Context, analyte string, samples int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("analyte", analyte))
	if err != nil {
		m.TabsSkipped.Add(ctx, 1, attrs)
		return
	}
	m.TabsProcessed.Add(ctx, 1, attrs)
	m.SamplesInferred.Add(ctx, int64(samples), attrs)
}

// RecordFlush records flushed groups and the entries they released
func (m *PipelineMetrics) RecordFlush(ctx context.Context, groups, entries int) {
	if m == nil {
		return
	}
	m.GroupsFlushed.Add(ctx, int64(groups))
	m.ReservoirSize.Add(ctx, -int64(entries))
}

// RecordBuffered records a tab result entering the reservoir
func (m *PipelineMetrics) RecordBuffered(ctx context.Context) {
	if m == nil {
		return
	}
	m.ReservoirSize.Add(ctx, 1)
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.DebugContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
