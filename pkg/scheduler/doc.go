/*
Package scheduler drives the periodic health sweep over ready projects.

Every interval the scheduler lists projects in the ready state and
enqueues a refresh task for each, awaiting one before enqueueing the
next. The refresh probes the project container and walks the lifecycle
machine, which is where crash restarts and idle stops actually happen.

The sweep is skipped entirely when the task worker reports degraded
capacity, and ticks that fire during a slow sweep are dropped rather
than queued.
*/
package scheduler
