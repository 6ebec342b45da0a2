package engine

import "github.com/prometheus/client_golang/prometheus"

// Prometheus counters/gauges for the evaluation engine, registered once
// at package load the way intel-PerfSpect's cmd/metrics exporter
// registers its global gauge vectors.
var (
	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mps_engine_cycles_total",
		Help: "Total number of evaluation cycles run.",
	})
	faultTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mps_engine_fault_transitions_total",
		Help: "Number of times a fault's faulted flag changed value.",
	}, []string{"fault"})
	reloadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mps_engine_reload_requests_total",
		Help: "Number of firmware configuration reload requests raised.",
	})
	destinationAllowedClass = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mps_engine_destination_allowed_beam_class",
		Help: "Current allowed beam class number per destination.",
	}, []string{"destination"})
)

func init() {
	prometheus.MustRegister(cyclesTotal, faultTransitionsTotal, reloadRequestsTotal, destinationAllowedClass)
}
