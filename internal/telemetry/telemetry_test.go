package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordRewrite("analyze", OutcomeMasked, 2*time.Millisecond)
	m.RecordRewrite("analyze", OutcomeMasked, time.Millisecond)
	m.RecordRewrite("copy", OutcomeFailed, time.Millisecond)
	m.RecordMaskedRelation()
	m.RecordResolution("found")
	m.RecordValidation("column", OutcomeWarning)
	m.RecordInterception("analyze", "pass")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rewritesTotal.WithLabelValues("analyze", OutcomeMasked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewritesTotal.WithLabelValues("copy", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relationsMasked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyResolutions.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.labelValidations.WithLabelValues("column", OutcomeWarning)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.interceptions.WithLabelValues("analyze", "pass")))

	n, err := testutil.GatherAndCount(m.Registry(), "veil_rewrite_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRewrite("analyze", OutcomeMasked, time.Millisecond)
		m.RecordMaskedRelation()
		m.RecordResolution("none")
		m.RecordValidation("role", OutcomeAccepted)
		m.RecordInterception("copy", "disabled")
	})
	assert.Nil(t, m.Registry())
}

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("tracer provider shutdown: %v", err)
		}
	})
	return recorder
}

func TestSpans(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartSpan(context.Background(), "veil.rewrite", attribute.String("veil.site", "analyze"))
	EndSpan(span, nil)
	_, span = StartSpan(context.Background(), "veil.validate")
	EndSpan(span, errors.New("type mismatch"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "veil.rewrite", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	attrs := attribute.NewSet(spans[0].Attributes()...)
	v, ok := attrs.Value("veil.site")
	require.True(t, ok)
	assert.Equal(t, "analyze", v.AsString())

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "type mismatch", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}
