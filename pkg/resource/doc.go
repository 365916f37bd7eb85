// Package resource forwards list, get, and delete calls to the external
// resource recorder. The recorder owns provisioned resources; the
// gateway only needs the resource type for delete ordering and reports
// the types it failed to remove during project deletion.
package resource
