package analysis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/julianshen/coverclient/pkg/cover"
)

const metricsNamespace = "cover"
const metricsSubsystem = "analysis"

// Metrics records polling and lifecycle activity. A nil *Metrics records
// nothing.
type Metrics struct {
	// PollsTotal counts result fetches. Labels: outcome (success, error).
	PollsTotal *prometheus.CounterVec
	// ResultsTotal counts results received.
	ResultsTotal prometheus.Counter
	// TransitionsTotal counts committed status changes. Labels: from, to.
	TransitionsTotal *prometheus.CounterVec
	// PollDuration measures result fetch latency.
	PollDuration prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "polls_total",
			Help:      "Result fetches by outcome.",
		}, []string{"outcome"}),
		ResultsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "results_total",
			Help:      "Results received from the service.",
		}),
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "status_transitions_total",
			Help:      "Analysis status changes.",
		}, []string{"from", "to"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "poll_duration_seconds",
			Help:      "Latency of result fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.PollsTotal.WithLabelValues(outcome).Inc()
	m.PollDuration.Observe(d.Seconds())
}

func (m *Metrics) addResults(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ResultsTotal.Add(float64(n))
}

func (m *Metrics) observeTransition(from, to cover.Status) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
