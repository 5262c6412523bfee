// Package metrics exposes the Prometheus instrumentation surface named in
// SPEC_FULL.md §6 ("Metrics endpoint"): a private registry plus the four
// collectors refreshed from internal/site and internal/decision, following
// the package-level-collector-plus-MustRegister shape used across the
// pack's Prometheus-instrumented services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a private registry (not the global default) so tests can
// construct independent instances without collector-name collisions.
type Registry struct {
	reg *prometheus.Registry

	SiteNodes       *prometheus.GaugeVec
	Decisions       *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	RefreshFailures *prometheus.CounterVec
}

// New builds and registers all four collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		SiteNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshupd_site_nodes",
			Help: "Number of nodes in the most recently published policy graph, by policy state.",
		}, []string{"site", "branch", "policy"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshupd_decisions_total",
			Help: "Number of redirect decisions served, by outcome.",
		}, []string{"site", "branch", "result"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshupd_refresh_duration_seconds",
			Help:    "Wall-clock duration of one site refresh cycle (fetch + build).",
			Buckets: prometheus.DefBuckets,
		}, []string{"site", "branch"}),
		RefreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshupd_refresh_failures_total",
			Help: "Refresh cycles that failed to fetch or decode a snapshot and preserved the previous graph.",
		}, []string{"site", "branch"}),
	}

	r.reg.MustRegister(r.SiteNodes, r.Decisions, r.RefreshDuration, r.RefreshFailures)
	return r
}

// Handler returns the HTTP handler for GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetSiteNodeCounts replaces the per-policy gauge values for one site/branch
// with counts, zeroing any policy label not present in counts so a policy
// that drains to zero doesn't linger at its last nonzero reading.
func (r *Registry) SetSiteNodeCounts(site, branch string, counts map[string]int) {
	for _, policy := range []string{"pending", "ready", "finished", "broken"} {
		r.SiteNodes.WithLabelValues(site, branch, policy).Set(float64(counts[policy]))
	}
}
