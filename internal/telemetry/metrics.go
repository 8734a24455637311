package telemetry

import "github.com/prometheus/client_golang/prometheus"

var AutoscalerScaleActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omniorchestrator",
		Subsystem: "autoscaler",
		Name:      "scale_actions_total",
		Help:      "Total number of scale-up/scale-down actions issued, by fleet and action.",
	},
	[]string{"fleet", "action"},
)

var AutoscalerCurrentWorkers = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "omniorchestrator",
		Subsystem: "autoscaler",
		Name:      "current_workers",
		Help:      "Current number of running worker units tracked by the autoscaler.",
	},
	[]string{"fleet"},
)

var AutoscalerBackendErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omniorchestrator",
		Subsystem: "autoscaler",
		Name:      "backend_errors_total",
		Help:      "Total number of backend call failures encountered during scaling.",
	},
	[]string{"fleet", "operation"},
)

var ClusterIsLeader = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "omniorchestrator",
		Subsystem: "cluster",
		Name:      "is_leader",
		Help:      "1 if the local node currently believes it is the cluster leader.",
	},
)

var ClusterSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "omniorchestrator",
		Subsystem: "cluster",
		Name:      "size",
		Help:      "Number of nodes known to the local cluster registry, including the local node.",
	},
)

var RecoveryJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omniorchestrator",
		Subsystem: "recovery",
		Name:      "jobs_total",
		Help:      "Total number of recovery component jobs dispatched, by stage and outcome.",
	},
	[]string{"stage", "outcome"},
)

var RecoveryStageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "omniorchestrator",
		Subsystem: "recovery",
		Name:      "stage_duration_seconds",
		Help:      "Time to complete a recovery stage, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"stage"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "omniorchestrator",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns all OmniOrchestrator metrics for registration with a
// prometheus.Registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		AutoscalerScaleActionsTotal,
		AutoscalerCurrentWorkers,
		AutoscalerBackendErrorsTotal,
		ClusterIsLeader,
		ClusterSize,
		RecoveryJobsTotal,
		RecoveryStageDuration,
		HTTPRequestDuration,
	}
}
