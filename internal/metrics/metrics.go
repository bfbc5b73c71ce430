// Package metrics holds the prometheus collectors updated by the tuning,
// cache and promotion components. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of collectors exposed at /metrics.
type Metrics struct {
	pollTicks       *prometheus.CounterVec
	pollFailures    *prometheus.CounterVec
	classifications *prometheus.CounterVec
	promotions      *prometheus.CounterVec
	runState        *prometheus.GaugeVec
	bestSharpe      prometheus.Gauge
	localHistory    prometheus.Gauge
	cacheRefreshes  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunectl_poll_ticks_total",
				Help: "Status fetches delivered to a poll loop",
			},
			[]string{"job"},
		),
		pollFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunectl_poll_failures_total",
				Help: "Poll loops that ended after exhausting retries",
			},
			[]string{"job"},
		),
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunectl_trials_classified_total",
				Help: "Trials merged into history by verdict",
			},
			[]string{"class"},
		),
		promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunectl_live_promotions_total",
				Help: "Live configuration changes by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		// one labeled series per state, flipped between 0 and 1
		runState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tunectl_tuning_state",
				Help: "Current tuning controller state",
			},
			[]string{"state"},
		),
		bestSharpe: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunectl_tuning_best_sharpe",
				Help: "Best Sharpe ratio reported by the running search",
			},
		),
		localHistory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunectl_history_local_entries",
				Help: "Entries held in the local history tier",
			},
		),
		cacheRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunectl_cache_refreshes_total",
				Help: "Cache refresh cycles by phase",
			},
			[]string{"phase"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.pollTicks,
			m.pollFailures,
			m.classifications,
			m.promotions,
			m.runState,
			m.bestSharpe,
			m.localHistory,
			m.cacheRefreshes,
		)
	}
	return m
}

func (m *Metrics) PollTick(job string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(job).Inc()
}

func (m *Metrics) PollFailure(job string) {
	if m == nil {
		return
	}
	m.pollFailures.WithLabelValues(job).Inc()
}

func (m *Metrics) Classified(class string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(class).Inc()
}

func (m *Metrics) Promotion(source, outcome string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(source, outcome).Inc()
}

// SetRunState marks state as the only active controller state.
func (m *Metrics) SetRunState(state string) {
	if m == nil {
		return
	}
	m.runState.Reset()
	m.runState.WithLabelValues(state).Set(1)
}

func (m *Metrics) SetBestSharpe(v float64) {
	if m == nil {
		return
	}
	m.bestSharpe.Set(v)
}

func (m *Metrics) SetLocalHistory(n int) {
	if m == nil {
		return
	}
	m.localHistory.Set(float64(n))
}

func (m *Metrics) CacheRefresh(phase string) {
	if m == nil {
		return
	}
	m.cacheRefreshes.WithLabelValues(phase).Inc()
}
