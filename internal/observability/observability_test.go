package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTurn("completed")
	m.ObserveTurn("completed")
	m.ObserveTurn("halted")
	m.RecordPolicyEvent("input", "block")
	m.RecordToolEvent("grid.setFilter", "requested")
	m.ObserveStage("retrieval", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("halted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyEventsTotal.WithLabelValues("input", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolRunsTotal.WithLabelValues("grid.setFilter", "requested")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDurationSeconds))
}

func TestNewMetricsIsolatedPerRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestSetupTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing(TracingOptions{ServiceName: "fabrix-test", Stdout: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"unit"`)
}
