/*
Package acme issues and renews TLS certificates through an ACME
directory using lego.

Account credentials (email, EC account key, registration) are persisted
as a JSON blob in the gateway store and passed back for every order, so
a restarted gateway reuses its registration. Orders run the HTTP-01
challenge: the driver publishes token -> key-authorization pairs on a
ChallengeMap shared with the bouncer proxy, which answers the
directory's validation requests on port 80.

Renewal policy is a pure decision: a chain expiring within 30 days (or
one that cannot be parsed) renews, anything else is skipped with the
days remaining reported to the caller.
*/
package acme
