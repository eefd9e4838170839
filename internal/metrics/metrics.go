package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring the production pipeline
var (
	ProductionPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "production_passes_total",
			Help: "Total number of lifecycle orchestrator passes run",
		},
	)

	ScenesTransitionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenes_transitioned_total",
			Help: "Total number of scene status transitions, by target status",
		},
		[]string{"status"},
	)

	StuckScenesRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stuck_scenes_recovered_total",
			Help: "Total number of in-flight scenes reset after the staleness threshold",
		},
	)

	RemotePushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_push_failures_total",
			Help: "Total number of failed status pushes to the inventory system",
		},
	)

	OrdersPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_purged_total",
			Help: "Total number of orders moved to purged status",
		},
	)

	OnlineCacheFreeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "online_cache_free_bytes",
			Help: "Free bytes on the distribution cache after the last purge run",
		},
	)

	ProductsHandedOffTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "products_handed_off_total",
			Help: "Total number of products returned to the compute fleet",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(ProductionPassesTotal)
	prometheus.MustRegister(ScenesTransitionedTotal)
	prometheus.MustRegister(StuckScenesRecoveredTotal)
	prometheus.MustRegister(RemotePushFailuresTotal)
	prometheus.MustRegister(OrdersPurgedTotal)
	prometheus.MustRegister(OnlineCacheFreeBytes)
	prometheus.MustRegister(ProductsHandedOffTotal)
}
