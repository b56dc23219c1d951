package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordSync(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewWithReader(reader, nil)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSync(ctx, "run-summary", "succeeded", 2, 1, 3*time.Second)
	m.RecordSync(ctx, "run-summary", "failed", 0, 0, time.Second)
	m.RecordSync(ctx, "about", "succeeded", 0, 1, time.Second)

	metrics := collect(t, reader)

	runs, ok := metrics["ghareport.sync.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := make(map[string]int64)
	for _, dp := range runs.DataPoints {
		report, _ := dp.Attributes.Value(attribute.Key("report"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[report.AsString()+"/"+status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"run-summary/succeeded": 1,
		"run-summary/failed":    1,
		"about/succeeded":       1,
	}, counts)

	inserted, ok := metrics["ghareport.sync.rows_inserted"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range inserted.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	duration, ok := metrics["ghareport.sync.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var samples uint64
	for _, dp := range duration.DataPoints {
		samples += dp.Count
	}
	assert.Equal(t, uint64(3), samples)

	require.NoError(t, m.Shutdown(ctx))
}

func TestNew_NoneIsNoop(t *testing.T) {
	m, err := New(context.Background(), DefaultConfig(), "test")
	require.NoError(t, err)

	m.RecordSync(context.Background(), "about", "succeeded", 0, 1, time.Second)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordSync(context.Background(), "about", "succeeded", 0, 0, 0)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"console", Config{Exporter: ExporterConsole, Interval: time.Second}, false},
		{"otlp without interval", Config{Exporter: ExporterOTLPHTTP}, true},
		{"unknown", Config{Exporter: "grpc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
