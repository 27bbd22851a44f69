package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ReconcileCyclesTotal counts reconcile cycles by outcome ("ok", "error").
var ReconcileCyclesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "reconcile_cycles_total",
		Help:      "Total number of reconcile cycles run, by outcome.",
	},
	[]string{"outcome"},
)

// CleanupCyclesTotal counts cleanup cycles by outcome ("ok", "error").
var CleanupCyclesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "cleanup_cycles_total",
		Help:      "Total number of cleanup cycles run, by outcome.",
	},
	[]string{"outcome"},
)

// IndexesCreatedTotal counts successful remote index creations.
var IndexesCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "indexes_created_total",
		Help:      "Total number of vector indexes successfully created remotely.",
	},
)

// IndexesDeletedTotal counts successful remote index deletions.
var IndexesDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "indexes_deleted_total",
		Help:      "Total number of vector indexes successfully deleted remotely.",
	},
)

// ProvisionTaskErrorsTotal counts provisioning/cleanup task failures by error kind.
var ProvisionTaskErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "task_errors_total",
		Help:      "Total number of provisioner task failures, by error kind.",
	},
	[]string{"kind"},
)

// PoolAvailableGauge reports the last-observed count of AVAILABLE indexes.
var PoolAvailableGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "neuroagent",
		Subsystem: "provisioner",
		Name:      "pool_available",
		Help:      "Number of AVAILABLE vector indexes as of the last reconcile cycle.",
	},
)

// TriggersCoalescedTotal is the counter for Fire() calls that find the
// trigger channel already full (the coalescing path). It is registered via
// All(), but trigger.Bus does not increment it, so it stays at zero.
var TriggersCoalescedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neuroagent",
		Subsystem: "trigger",
		Name:      "coalesced_total",
		Help:      "Total number of trigger Fire() calls coalesced into an already-pending wake, by bus name.",
	},
	[]string{"bus"},
)

// All returns all NeuroAgent-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ReconcileCyclesTotal,
		CleanupCyclesTotal,
		IndexesCreatedTotal,
		IndexesDeletedTotal,
		ProvisionTaskErrorsTotal,
		PoolAvailableGauge,
		TriggersCoalescedTotal,
	}
}

// NewRegistry builds a prometheus.Registry seeded with the standard Go/process
// collectors plus any extra collectors supplied by the caller.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// ProvisionerMetrics adapts the package-level provisioner counters to the
// narrow interface pkg/provisioner depends on, keeping that package free of
// a direct prometheus import.
type ProvisionerMetrics struct{}

func (ProvisionerMetrics) ReconcileCycle(outcome string) { ReconcileCyclesTotal.WithLabelValues(outcome).Inc() }
func (ProvisionerMetrics) CleanupCycle(outcome string)   { CleanupCyclesTotal.WithLabelValues(outcome).Inc() }
func (ProvisionerMetrics) IndexCreated()                 { IndexesCreatedTotal.Inc() }
func (ProvisionerMetrics) IndexDeleted()                 { IndexesDeletedTotal.Inc() }
func (ProvisionerMetrics) TaskError(kind string)         { ProvisionTaskErrorsTotal.WithLabelValues(kind).Inc() }
func (ProvisionerMetrics) PoolAvailable(n float64)       { PoolAvailableGauge.Set(n) }
