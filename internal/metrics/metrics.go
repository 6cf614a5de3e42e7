// Package metrics instruments the pool with Prometheus gauges/histograms,
// exposed over promhttp. The pack's own use of prometheus/client_golang
// (EternisAI-enchanted-proxy/internal/fallback/service.go) is a query-side
// client against an existing Prometheus server; this package is the
// server-instrumentation half of the same library, deliberately extending
// beyond that one pack usage (see DESIGN.md).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leshchenko/tgpool/internal/pool"
)

// Registry holds the pool's Prometheus collectors.
type Registry struct {
	accountsAvailable prometheus.Gauge
	accountsParked    prometheus.Gauge
	accountsStarted   prometheus.Gauge
	checkoutWait      prometheus.Histogram
	checkoutFailures  prometheus.Counter
	floodWaits        prometheus.Counter
}

// NewRegistry constructs and registers the pool's collectors against the
// default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		accountsAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgpool_accounts_available",
			Help: "Accounts currently sitting in the checkout queue.",
		}),
		accountsParked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgpool_accounts_parked",
			Help: "Accounts currently parked under a flood-wait penalty.",
		}),
		accountsStarted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgpool_accounts_started",
			Help: "Accounts with a live connection to the messaging platform.",
		}),
		checkoutWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgpool_checkout_wait_seconds",
			Help:    "Time a caller waited to check out an Account.",
			Buckets: prometheus.DefBuckets,
		}),
		checkoutFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgpool_checkout_failures_total",
			Help: "Checkouts that failed with AllAccountsUnavailable.",
		}),
		floodWaits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgpool_flood_waits_total",
			Help: "Flood-wait penalties observed across all Accounts.",
		}),
	}
}

// ObserveCheckoutWait records how long a successful checkout waited.
func (r *Registry) ObserveCheckoutWait(seconds float64) { r.checkoutWait.Observe(seconds) }

// IncCheckoutFailure records an AllAccountsUnavailable failure.
func (r *Registry) IncCheckoutFailure() { r.checkoutFailures.Inc() }

// IncFloodWait records one Account entering a flood-wait penalty.
func (r *Registry) IncFloodWait() { r.floodWaits.Inc() }

// SamplePool copies p's current Status into the gauges. Call this on a
// ticker (main wires it on a short interval) since the pool does not push
// status changes itself.
func (r *Registry) SamplePool(p *pool.Pool) {
	status := p.Status()
	r.accountsAvailable.Set(float64(status.AvailableAccounts))
	r.accountsParked.Set(float64(status.ParkedAccounts))
	r.accountsStarted.Set(float64(status.StartedAccounts))
}

// Handler returns the promhttp handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
