// Package proxy is the user-facing data plane of the gateway.
//
// Two handlers share this package. The Bouncer listens on the
// plaintext port: it answers ACME HTTP-01 challenges from the in-memory
// challenge map and 301-redirects every known host to https. The
// UserProxy terminates TLS and forwards each request to the project
// container that owns the Host header.
//
// # Architecture
//
// Host resolution is two-tiered. A host under the wildcard domain
// ("{project}.{proxy-fqdn}") names its project directly; any other host
// is looked up in the custom-domain store. Hosts matching neither are
// rejected with 404 before any project state is touched.
//
// Stopped projects wake on demand. The proxy asks the control plane to
// wake the target and blocks the request on the returned task handle,
// bounded by a wake timeout. Only a project that settles in the ready
// state with a known address is forwarded to; anything else is a 503
// so the client can retry.
//
// # Integration Points
//
//   - pkg/api: the gateway service implements Waker
//   - pkg/acme: the shared ChallengeMap serves HTTP-01 tokens
//   - pkg/storage: custom-domain lookups for host classification
//   - pkg/resolver: supplies the TLS config the listener runs with
package proxy
