// Package metrics defines the prometheus collectors the fleet exposes at
// /metrics, grounded on cklxx-elephant.ai's direct client_golang usage
// (the pack's only repo that imports it) rather than a hand-rolled counter
// map.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CyclesTotal counts completed cognitive cycles by terminal result
	// ("ok", or the failure category: business_rejected, model_output_error,
	// infrastructure_error).
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrunner_cycles_total",
		Help: "Completed cognitive cycles by terminal result.",
	}, []string{"result"})

	// RetryAttemptsTotal tallies retry.Do attempts, labeled by the call site
	// that wrapped the retried call (only infrastructure_error-classified
	// calls are ever retried).
	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrunner_retry_attempts_total",
		Help: "Attempts made by retry.Do, including the first.",
	}, []string{"caller"})

	// CircuitBreakerTripsTotal counts transitions into the tripped state.
	CircuitBreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrunner_circuit_breaker_trips_total",
		Help: "Per-agent circuit breaker trips.",
	}, []string{"token_id"})

	// FleetSize reports the number of enabled strategies last seen by
	// SelectRunnable's polling query.
	FleetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentrunner_fleet_size",
		Help: "Number of tokenIds returned by the last SelectRunnable poll.",
	})

	// InflightCycles reports cycles currently holding a scheduler
	// concurrency-semaphore slot.
	InflightCycles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentrunner_inflight_cycles",
		Help: "Cycles currently running under the scheduler's semaphore.",
	})
)

// Registry bundles the above into one prometheus.Registerer so main can
// register them once and hand the same registry to the /metrics handler.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(CyclesTotal, RetryAttemptsTotal, CircuitBreakerTripsTotal, FleetSize, InflightCycles)
	return reg
}
