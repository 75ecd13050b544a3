package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sp_academy"

// Metrics groups all Prometheus instruments of the practice core and backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StateTransitions *prometheus.CounterVec
	TurnOutcomes     *prometheus.CounterVec
	CaptureErrors    *prometheus.CounterVec
	AudioEvictions   prometheus.Counter
	ActiveRelays     prometheus.Gauge
	ProviderErrors   *prometheus.CounterVec
	TurnLatency      prometheus.Histogram
}

// NewMetrics registers the instruments on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_state_transitions_total",
			Help:      "Turn orchestrator state transitions by target state.",
		}, []string{"state"}),
		TurnOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Settled turns by call and outcome.",
		}, []string{"call", "outcome"}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Capture failures by reason.",
		}, []string{"reason"}),
		AudioEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_evictions_total",
			Help:      "Synthesized replies evicted from the playback cache.",
		}),
		ActiveRelays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcription_relays_active",
			Help:      "Number of open transcription relay connections.",
		}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider.",
		}, []string{"provider"}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_settle_latency_ms",
			Help:      "Time from final transcript to turn settlement in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}),
	}
}

func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveTurnOutcome(call, outcome string) {
	if m == nil {
		return
	}
	m.TurnOutcomes.WithLabelValues(call, outcome).Inc()
}

func (m *Metrics) ObserveCaptureError(reason string) {
	if m == nil {
		return
	}
	m.CaptureErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.AudioEvictions.Inc()
}

func (m *Metrics) RelayOpened() {
	if m == nil {
		return
	}
	m.ActiveRelays.Inc()
}

func (m *Metrics) RelayClosed() {
	if m == nil {
		return
	}
	m.ActiveRelays.Dec()
}

func (m *Metrics) ObserveProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

// MetricsHandler serves the instruments registered on gatherer
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
