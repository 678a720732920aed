package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// ReconcileOps counts reconciliation actions by outcome:
	// create, update, recreate, noop, retire, error.
	ReconcileOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "productdock_panel_reconcile_total",
		Help: "Panel reconciliation operations by action taken.",
	}, []string{"action"})

	// Downloads counts download button presses by result:
	// success, role_denied, not_found, disabled, file_unavailable, error.
	Downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "productdock_product_downloads_total",
		Help: "Product download attempts by result.",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(ReconcileOps, Downloads)
}

// Handler returns the HTTP handler serving the private metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
