/*
Package resolver dispatches TLS certificates by SNI.

Two tiers: per-fqdn certificates installed for custom domains, and one
default certificate covering the gateway's wildcard. ServePEM and
ServeDefault swap bindings atomically under a read-write lock, so
in-flight handshakes always see either the old or the new certificate
and never none. Warm preloads every certificate persisted in the custom
domain store at startup.
*/
package resolver
