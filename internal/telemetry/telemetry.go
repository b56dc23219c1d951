// Package telemetry records sync metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/livinlefevreloca/ghareport"

// Exporter types
const (
	ExporterNone     = "none"
	ExporterConsole  = "console"
	ExporterOTLPHTTP = "otlpHttp"
)

// Config selects where metrics are exported
type Config struct {
	Exporter    string        `toml:"exporter"`
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	Interval    time.Duration `toml:"interval"`
	ServiceName string        `toml:"service_name"`
}

// DefaultConfig returns telemetry disabled
func DefaultConfig() Config {
	return Config{
		Exporter:    ExporterNone,
		Interval:    30 * time.Second,
		ServiceName: "ghareport",
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterConsole, ExporterOTLPHTTP:
	default:
		return fmt.Errorf("unknown metrics exporter %q", c.Exporter)
	}
	if c.Exporter != "" && c.Exporter != ExporterNone && c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}

// Metrics holds the sync instruments. The zero exporter records into a noop
// provider.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	runs     metric.Int64Counter
	inserted metric.Int64Counter
	updated  metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates the meter provider for cfg and registers the instruments
func New(ctx context.Context, cfg Config, version string) (*Metrics, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return newMetrics(nil, noop.NewMeterProvider().Meter(meterName))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	return NewWithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)), res)
}

// NewWithReader creates metrics collected by reader
func NewWithReader(reader sdkmetric.Reader, res *resource.Resource) (*Metrics, error) {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	return newMetrics(provider, provider.Meter(meterName))
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterConsole:
		return stdoutmetric.New()
	case ExporterOTLPHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
}

func newMetrics(provider *sdkmetric.MeterProvider, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{provider: provider}
	var err error

	if m.runs, err = meter.Int64Counter("ghareport.sync.runs",
		metric.WithDescription("Report synchronizations by outcome")); err != nil {
		return nil, err
	}
	if m.inserted, err = meter.Int64Counter("ghareport.sync.rows_inserted",
		metric.WithDescription("Rows inserted into reports")); err != nil {
		return nil, err
	}
	if m.updated, err = meter.Int64Counter("ghareport.sync.rows_updated",
		metric.WithDescription("Rows rewritten in place")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("ghareport.sync.duration",
		metric.WithDescription("Time spent synchronizing one report"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSync records the outcome of one report synchronization
func (m *Metrics) RecordSync(ctx context.Context, report, status string, inserted, updated int, elapsed time.Duration) {
	if m == nil {
		return
	}
	reportAttr := metric.WithAttributes(attribute.String("report", report))

	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("report", report),
		attribute.String("status", status),
	))
	m.inserted.Add(ctx, int64(inserted), reportAttr)
	m.updated.Add(ctx, int64(updated), reportAttr)
	m.duration.Record(ctx, elapsed.Seconds(), reportAttr)
}

// Shutdown flushes pending metrics and stops the exporter
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
