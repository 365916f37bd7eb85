/*
Package health provides the probes behind project and dependency health.

Two checkers exist:

  - TCPChecker: a single bounded connect attempt against a project
    container's target_ip:8000. The project FSM counts consecutive
    failures toward the idle threshold; the checker itself is stateless.
  - HTTPChecker: a status-range check against a downstream dependency
    (auth service, resource recorder), used by the gateway's status
    aggregator.

Both return a Result carrying the outcome, a message, and timing. The
periodic scheduler decides cadence; checkers only perform one probe.
*/
package health
