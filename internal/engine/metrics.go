package engine

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "relhist"

// Reconstruction results, used as the "result" label.
const (
	resultHit      = "hit"
	resultMiss     = "miss"
	resultExcluded = "excluded"
)

// Metrics holds the engine's Prometheus collectors.
//
// Collectors are created unregistered; NewMetrics registers them with the
// given registerer when it is non-nil.
type Metrics struct {
	Commits         prometheus.Counter
	Aborts          prometheus.Counter
	Restamps        prometheus.Counter
	Versions        *prometheus.CounterVec
	LedgerOps       *prometheus.CounterVec
	Collapsed       prometheus.Counter
	Reconstructions *prometheus.CounterVec
	CommitSeconds   prometheus.Histogram
	ReconstructSecs prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_total",
			Help:      "Units of work committed with at least one record.",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "aborts_total",
			Help:      "Units of work aborted, explicitly or by a failed commit.",
		}),
		Restamps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "restamps_total",
			Help:      "Units re-stamped because a later unit committed first.",
		}),
		Versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "versions_total",
			Help:      "Entity versions written, by operation.",
		}, []string{"operation"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_operations_total",
			Help:      "Net association operations written, by operation.",
		}, []string{"operation"}),
		Collapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_collapsed_total",
			Help:      "Staged association operations reversed by an opposite operation in the same unit.",
		}),
		Reconstructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconstructions_total",
			Help:      "Relationship reconstructions, by cache result.",
		}, []string{"result"}),
		CommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of durable commits.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ReconstructSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reconstruction_duration_seconds",
			Help:      "Duration of uncached relationship reconstructions.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Commits, m.Aborts, m.Restamps, m.Versions, m.LedgerOps,
			m.Collapsed, m.Reconstructions, m.CommitSeconds, m.ReconstructSecs,
		)
	}
	return m
}
