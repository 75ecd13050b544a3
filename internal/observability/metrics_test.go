package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveState("recording")
	m.ObserveState("recording")
	m.ObserveTurnOutcome("reply", "success")
	m.ObserveCaptureError("permission_denied")
	m.ObserveEviction()
	m.RelayOpened()
	m.RelayOpened()
	m.RelayClosed()
	m.ObserveTurnLatency(1500 * time.Millisecond)

	if got := testutil.ToFloat64(m.StateTransitions.WithLabelValues("recording")); got != 2 {
		t.Errorf("Expected 2 recording transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnOutcomes.WithLabelValues("reply", "success")); got != 1 {
		t.Errorf("Expected 1 reply success, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioEvictions); got != 1 {
		t.Errorf("Expected 1 eviction, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveRelays); got != 1 {
		t.Errorf("Expected 1 active relay, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveState("idle")
	m.ObserveTurnOutcome("score", "failure")
	m.ObserveCaptureError("device_not_found")
	m.ObserveEviction()
	m.RelayOpened()
	m.RelayClosed()
	m.ObserveProviderError("gemini")
	m.ObserveTurnLatency(time.Second)
}
