/*
Package metrics defines the Prometheus collectors for the gateway.

All collectors are package-level variables registered in init and exposed
through Handler on the control listener's /metrics route. Naming follows
the hangar_ prefix with _total suffixes on counters.

Collectors cover the task worker (queue depth, task results, rejects),
the management API (request counts and latency), the user proxy (outcomes
and traffic wakes), the ACME driver (issues and renewal decisions), and
the build broker (active slots, queued builds).
*/
package metrics
