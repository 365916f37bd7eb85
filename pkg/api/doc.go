/*
Package api is the gateway's management surface and task interpreter.

# Architecture

The package splits into three layers:

  - Router: a chi mux serving the control listener. Routes are JWT
    authenticated and scope checked; admin routes additionally accept
    the shared admin secret. Every failure crossing the boundary is
    serialized as {code, message} from the error taxonomy.
  - Service: the business operations behind the routes. It owns project
    creation, wake, stop, and the strict delete flow, and it is the
    worker's StepRunner: every task step resolves back into a project
    FSM call whose result is committed under compare-and-set.
  - LoadMonitor and StatusAggregator: the build slot broker consulted
    by deployers before building, and the dependency health report
    served on the control root.

# Integration Points

  - pkg/worker executes the tasks the service enqueues.
  - pkg/project supplies the lifecycle transitions the steps run.
  - pkg/acme and pkg/resolver back the admin certificate routes.
  - pkg/client and pkg/resource implement the delete preconditions.
*/
package api
