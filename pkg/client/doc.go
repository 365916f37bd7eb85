/*
Package client is the gateway's HTTP client for per-project deployers.

Each project container runs a deployer listening on the user service
port; the gateway resolves its address from the project's persisted
state on every call. Normal operations use a 60 second timeout, while
the delete path gets 5 minutes because stopping a deployment may have
to wait out a build.

Failures map into the boundary taxonomy (upstream, project_not_found)
so router handlers can return them directly.
*/
package client
