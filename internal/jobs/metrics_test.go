package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsSuccessAndFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if err := metrics.Track("mail:send").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantErr := errors.New("smtp down")
	if err := metrics.Track("mail:send").End(wantErr); !errors.Is(err, wantErr) {
		t.Fatalf("tracker must return the original error, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("mail:send", "success")); got != 1 {
		t.Fatalf("expected 1 success run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("mail:send", "failure")); got != 1 {
		t.Fatalf("expected 1 failure run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.failures.WithLabelValues("mail:send")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNilTrackerIsInert(t *testing.T) {
	var metrics *Metrics
	wantErr := errors.New("boom")
	if err := metrics.Track("anything").End(wantErr); !errors.Is(err, wantErr) {
		t.Fatalf("nil tracker must pass the error through, got %v", err)
	}
}
