package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserveCall(t *testing.T) {
	m := New()

	m.ObserveCall("start", "ok", 20*time.Millisecond)
	m.ObserveCall("start", "timed_out", time.Second)
	m.ObserveCall("invalidateDepTree", "ok", time.Millisecond)

	if got := metricCounterValue(t, m.rpcCalls.WithLabelValues("start", "ok")); got != 1 {
		t.Fatalf("rpc_calls_total(start, ok)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.rpcCalls.WithLabelValues("start", "timed_out")); got != 1 {
		t.Fatalf("rpc_calls_total(start, timed_out)=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.rpcDuration.WithLabelValues("start")); got != 2 {
		t.Fatalf("rpc_call_duration_seconds(start) count=%v, want 2", got)
	}
}

func TestWorkerState(t *testing.T) {
	m := New()
	m.SetWorkerState("starting")
	m.SetWorkerState("running")
	m.RecordRestart()
	m.RecordRestart()

	if got := metricGaugeValue(t, m.workerState.WithLabelValues("running")); got != 1 {
		t.Fatalf("worker_state(running)=%v, want 1", got)
	}
	if got := metricGaugeValue(t, m.workerState.WithLabelValues("starting")); got != 0 {
		t.Fatalf("worker_state(starting)=%v, want 0", got)
	}
	if got := metricCounterValue(t, m.workerRestarts); got != 2 {
		t.Fatalf("worker_restarts_total=%v, want 2", got)
	}
}

func TestHMRMetrics(t *testing.T) {
	m := New()
	m.HMRClientConnected()
	m.HMRClientConnected()
	m.HMRClientDisconnected()
	m.RecordHMRMessage("full-reload")
	m.RecordChange("leaf")

	if got := metricGaugeValue(t, m.hmrClients); got != 1 {
		t.Fatalf("hmr_clients=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.hmrMessages.WithLabelValues("full-reload")); got != 1 {
		t.Fatalf("hmr_messages_total(full-reload)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.changes.WithLabelValues("leaf")); got != 1 {
		t.Fatalf("file_changes_total(leaf)=%v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("start", "ok", time.Millisecond)
	m.RecordRestart()
	m.SetWorkerState("running")
	m.HMRClientConnected()
	m.HMRClientDisconnected()
	m.RecordHMRMessage("connected")
	m.RecordChange("entry")
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("photon_test"))
	m.RecordRestart()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "photon_test_worker_restarts_total 1") {
		t.Fatalf("metrics output missing restart counter:\n%s", body)
	}
	if m.Registry() != reg {
		t.Fatal("Registry() should return the configured registry")
	}
}

func TestSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "photon.test")
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil")
	}
	EndSpan(span, nil)

	_, span = StartSpan(context.Background(), "photon.test.err")
	EndSpan(span, errors.New("boom"))
}
