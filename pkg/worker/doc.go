/*
Package worker executes project lifecycle tasks with bounded concurrency.

A task is a project name plus a sequence of steps drawn from a small
closure-free enum (refresh, run-until-done, start, stop, destroy,
recreate, start-idle-deploys, delete-project). The TaskWorker dequeues
tasks FIFO from a bounded queue and guarantees that at most one task per
project runs at any instant; tasks for a busy project park behind the
running one in arrival order.

Steps are interpreted by a StepRunner. Each poll yields one of:

	Pending    poll again after a short sleep
	TryAgain   poll again immediately (lost CAS race)
	Done       commit the returned state, advance to the next step
	Cancelled  abort without committing
	Err        commit Errored{message} and abort

Every task carries an awaitable Handle that resolves with the last
committed state when the task terminates, which is how API handlers and
the proxy's wake-on-traffic path block until a project is ready.

Queue headroom doubles as the gateway's load signal: HasCapacity is true
while remaining capacity exceeds the degraded threshold, and the health
scheduler skips its sweep when it is not.
*/
package worker
