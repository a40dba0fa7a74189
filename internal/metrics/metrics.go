// Package metrics defines the Prometheus collectors of the extraction engine and exposes an HTTP
// handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/order-extractor/internal/llm"
)

// Metrics holds all collectors.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	EscalationsTotal *prometheus.CounterVec
	LLMCallsTotal    *prometheus.CounterVec
	RepairsTotal     *prometheus.CounterVec
	GuardFlagsTotal  *prometheus.CounterVec
	LLMCostUSD       prometheus.Counter
	CacheLookups     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_runs_total",
				Help: "Terminal extraction runs by variant and status.",
			},
			[]string{"variant", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderex_run_duration_seconds",
				Help:    "Extraction run wall time in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"variant"},
		),
		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_escalations_total",
				Help: "Decision engine outcomes by strategy and reason.",
			},
			[]string{"strategy", "reason"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_llm_calls_total",
				Help: "Provider calls by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		RepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_repairs_total",
				Help: "Output repair round-trips by outcome.",
			},
			[]string{"outcome"},
		),
		GuardFlagsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_guard_flags_total",
				Help: "Hallucination guard findings by guard.",
			},
			[]string{"guard"},
		),
		LLMCostUSD: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderex_llm_cost_usd_total",
				Help: "Accumulated provider spend in USD.",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderex_cache_lookups_total",
				Help: "Result cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.EscalationsTotal,
		m.LLMCallsTotal,
		m.RepairsTotal,
		m.GuardFlagsTotal,
		m.LLMCostUSD,
		m.CacheLookups,
	)
	return m
}

func (m *Metrics) RunFinished(variant, status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(variant, status).Inc()
	m.RunDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func (m *Metrics) Escalation(strategy, reason string) {
	m.EscalationsTotal.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) GuardFlag(guard string, n int) {
	if n > 0 {
		m.GuardFlagsTotal.WithLabelValues(guard).Add(float64(n))
	}
}

func (m *Metrics) Cost(usd float64) {
	if usd > 0 {
		m.LLMCostUSD.Add(usd)
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// LLMCall implements llm.Observer.
func (m *Metrics) LLMCall(mode llm.Mode, outcome string) {
	m.LLMCallsTotal.WithLabelValues(string(mode), outcome).Inc()
}

// Repair implements llm.Observer.
func (m *Metrics) Repair(outcome string) {
	m.RepairsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
