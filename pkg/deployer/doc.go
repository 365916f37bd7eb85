// Package deployer is the per-project deploy service that runs inside
// each project container.
//
// # Architecture
//
// The package is built around four pieces:
//
//   - Store: sqlite persistence for services, deployments and log
//     lines. Deployment rows carry a monotonic last_update; stale
//     writers lose.
//   - Recorder: the single writer for deployment state. Every
//     transition is persisted, logged once, and fanned out to live log
//     subscribers.
//   - Manager: the pipeline queued, building, built, loading, running
//     into completed, stopped or crashed. Builds are serialized behind
//     the gateway's build-slot broker; running services are supervised
//     concurrently and report sentinel end-of-stream lines.
//   - Router: the HTTP surface the gateway calls. Deploy POST bodies
//     are MessagePack framed and capped at the create-service body
//     limit. Unmatched routes are user traffic and forwarded to the
//     running service.
//
// # Integration Points
//
//   - pkg/client: the gateway-side client of this API
//   - pkg/resource: passthrough to the external resource recorder
//   - pkg/api: the gateway's /stats/load broker grants build slots
//   - pkg/types: deployment states, sentinel lines and wire limits
package deployer
