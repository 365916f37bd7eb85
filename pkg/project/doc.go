/*
Package project implements the per-project lifecycle state machine.

A project's state is a tagged variant persisted by the gateway store. This
package computes transitions: given the persisted record and the live
container runtime, Refresh performs exactly one reconcile step and returns
the next state. The task worker loops Refresh until the state is stable
and commits every hop with a compare-and-set, so racing writers lose
loudly instead of silently.

# State Diagram

	Creating ──ensure──▶ Starting{n} ──running+ip──▶ Started ──probe──▶ Ready
	   Starting{n} ──exited──▶ Restarting{n+1}   (n = max_restarts ⇒ Errored)
	   Ready ──idle_minutes failed probes──▶ Rebooting ──▶ Stopping ──▶ Stopped
	   Stopped ──start/wake──▶ Starting{0}
	   Errored/Destroyed ──start──▶ Recreating ──▶ Attaching ──▶ Starting{0}
	   any ──destroy──▶ Destroying ──gone──▶ Destroyed

Destroyed is terminal. Errored is stable but re-entrant: an explicit start
request recreates the container from scratch.

# Invariants

  - The runtime is re-inspected inside every step; the persisted snapshot
    is never trusted for container existence.
  - A container handle is carried only by states that need one.
  - Destroy and stop are idempotent: applying them to Destroyed or
    Stopped returns the same state.
  - cch-class projects idle after 5 failed probes regardless of the
    requested idle_minutes.
*/
package project
