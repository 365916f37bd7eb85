/*
Package auth verifies bearer tokens and enforces route scopes.

The gateway never issues tokens. It verifies RS256 JWTs signed by the
external auth service against that service's public key, fetched from
{auth-uri}/public-key and cached with a short TTL. A verified token
becomes a Claim on the request context; route middleware then checks
scopes per route, and admin routes additionally accept a shared secret
header in place of an admin-scoped token.
*/
package auth
