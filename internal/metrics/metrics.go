package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Turns             *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	LedgerTurns       prometheus.Gauge
	CredentialChanges *prometheus.CounterVec
	WorkerJobs        *prometheus.CounterVec
	UpdatesTotal      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process metrics, registered with the default registry on
// first use.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}

// New builds an unregistered set, for tests that assert on counter values.
func New() *Metrics {
	return &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "turns_total",
			Help:      "Utterances answered, by route (local or provider)",
		}, []string{"route"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "provider_calls_total",
			Help:      "Provider calls by outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jarvis",
			Name:      "provider_call_seconds",
			Help:      "Provider call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"provider"}),
		LedgerTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jarvis",
			Name:      "ledger_turns",
			Help:      "Turns currently held in the conversation ledger",
		}),
		CredentialChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "credential_changes_total",
			Help:      "Credential set and delete operations",
		}, []string{"provider", "action"}),
		WorkerJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "worker_jobs_total",
			Help:      "Turn jobs by status",
		}, []string{"status"}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Turns,
		m.ProviderCalls,
		m.ProviderLatency,
		m.LedgerTurns,
		m.CredentialChanges,
		m.WorkerJobs,
		m.UpdatesTotal,
	}
}
