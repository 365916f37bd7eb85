/*
Package types defines the core data structures shared by the Hangar gateway
and deployer.

This package contains the domain model for the whole control plane: project
records and their lifecycle states, deployment records, custom domains,
verified caller claims, build-load accounting, and the boundary error
taxonomy returned by every HTTP surface.

# Core Types

Project lifecycle:
  - Project: durable record owned by the ProjectStore
  - ProjectState: tagged variant (Kind plus variant fields) persisted as JSON
  - ProjectInfo: API representation returned by the gateway

Deployments:
  - Deployment: per-deployer record with monotonic LastUpdate
  - DeploymentState: queued, building, built, loading, running,
    completed, stopped, crashed, unknown

Identity and authorization:
  - Claim: verified caller identity (account, tier, scopes)
  - AccountTier / Scope enumerations

Errors:
  - Error: {code, message} boundary taxonomy with HTTP status mapping

All enumerations use typed string constants so that values are stable in
JSON and in the SQLite stores.

# State Machine

Project states follow a fixed diagram:

	Creating → Starting{n} → Started → Ready
	Ready → Rebooting → Stopping → Stopped → Starting{0}
	any → Destroying → Destroyed
	Starting{max} → Errored → (StartRequested) → Recreating

Transitions are computed in pkg/project and committed through the store's
compare-and-set update; this package only defines the shapes.

# Thread Safety

Types here are plain values. Mutation discipline is owned by the stores and
the task worker; nothing in this package synchronizes.
*/
package types
