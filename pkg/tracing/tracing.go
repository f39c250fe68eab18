// Package tracing wraps OpenTelemetry so pipeline stages can open one span
// per operation without every handler touching the SDK directly.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures distributed tracing for the pipeline process.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Exporter       string            `yaml:"exporter"` // "jaeger", "otlp", "console"
	Endpoint       string            `yaml:"endpoint"`
	SampleRate     float64           `yaml:"sample_rate"`
	// BatchTimeout is a time.ParseDuration string, e.g. "5s".
	BatchTimeout   string            `yaml:"batch_timeout"`
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
}

// DefaultConfig returns tracing defaults: disabled, OTLP-over-HTTP when on.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "entryproc",
		ServiceVersion: "v1.0.0",
		Environment:    "production",
		Exporter:       "otlp",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   "5s",
		MaxBatchSize:   512,
		Headers:        make(map[string]string),
	}
}

// Manager owns the tracer provider for the process lifetime.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager builds a Manager. When config.Enabled is false the returned
// Manager hands out a no-op tracer so every call site can stay unconditional.
func NewManager(config Config, logger *logrus.Logger) (*Manager, error) {
	if !config.Enabled {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}

	batchTimeout, err := time.ParseDuration(m.config.BatchTimeout)
	if err != nil {
		return fmt.Errorf("parse tracing.batch_timeout: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(batchTimeout),
			trace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.config.ServiceName,
		"exporter":     m.config.Exporter,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("distributed tracing initialized")

	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.Endpoint)))
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case "console":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint("http://localhost:4318"),
			otlptracehttp.WithInsecure(),
		))
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", m.config.Exporter)
	}
}

// Tracer returns the tracer stages should start spans from.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and closes the tracer provider. A no-op Manager (tracing
// disabled) has nothing to shut down.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// StartStageSpan opens one span for an operation entering a pipeline stage,
// tagged with the identity a reader would want to pivot an operation's
// trace on: the stage name, the entry id (once resolved), and the journal
// record index (for journal-sourced operations). Callers must End() the
// returned span.
func StartStageSpan(ctx context.Context, tracer oteltrace.Tracer, stage string, entryID string, recordIndex int64) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage)
	attrs := []attribute.KeyValue{attribute.String("pipeline.stage", stage)}
	if entryID != "" {
		attrs = append(attrs, attribute.String("pipeline.entry_id", entryID))
	}
	if recordIndex >= 0 {
		attrs = append(attrs, attribute.Int64("pipeline.record_index", recordIndex))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// RecordOutcome sets the span's final status from a handler's error.
func RecordOutcome(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
