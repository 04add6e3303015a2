package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveEnumerated("file")
	m.ObserveHashed(128)
	m.ObserveDedup(true)
	m.ObserveUpload("1", nil)
	m.ObserveUploadProgress("1", 128)
	m.ObserveRestoredBytes(128)
	m.ObserveIntegrityFailure()
}

func TestObserveUploadRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUploadProgress("1", 100)
	m.ObserveUpload("1", nil)
	m.ObserveUpload("1", errors.New("boom"))

	assert := testutil.ToFloat64(m.uploadsTotal.WithLabelValues("1", "success"))
	if assert != 1 {
		t.Fatalf("expected 1 success, got %v", assert)
	}
	failures := testutil.ToFloat64(m.uploadsTotal.WithLabelValues("1", "error"))
	if failures != 1 {
		t.Fatalf("expected 1 failure, got %v", failures)
	}
	bytes := testutil.ToFloat64(m.uploadBytes.WithLabelValues("1"))
	if bytes != 100 {
		t.Fatalf("expected 100 bytes recorded, got %v", bytes)
	}
}

func TestObserveDedup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDedup(true)
	m.ObserveDedup(false)
	m.ObserveDedup(false)

	if got := testutil.ToFloat64(m.dedupHits); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.dedupMisses); got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}
}
