/*
Package metrics provides Prometheus instrumentation for rookery.

All metrics are package-level collectors registered with the default registry
at init and exposed by Handler on /metrics.

# Metric Catalog

Leadership:

	rookery_is_leader                        gauge, 1 on the leader
	rookery_leadership_transitions_total     counter{transition="acquired|lost"}

Topology (exported by Collector on the leader):

	rookery_nodes_total                      gauge{state="primary|replica|unavailable"}
	rookery_failovers_total                  counter{reason="unreachable|manual|no_primary"}
	rookery_promotion_failures_total         counter
	rookery_discovery_failures_total         counter

Decisions and checks:

	rookery_health_reports_total             counter{state}
	rookery_decision_duration_seconds        histogram{verdict}
	rookery_check_duration_seconds           histogram

Reconciliation:

	rookery_reconciliation_cycles_total      counter
	rookery_reconciliation_duration_seconds  histogram
	rookery_nodes_repaired_total             counter

API:

	rookery_api_requests_total               counter{method,status}
	rookery_api_request_duration_seconds     histogram{method}

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckDuration)

# Component Health

RegisterComponent and UpdateComponent feed the /health and /ready handlers. A
manager is ready once the coordinator and monitor components are healthy;
readiness does not depend on holding leadership.
*/
package metrics
