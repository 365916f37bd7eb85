/*
Package admission gates project creation and container starts.

Two independent checks compose: a per-account project count compared
against the caller's tier limit, and a global running-container budget
read live from the runtime. CCH projects (reserved cch name prefix)
bypass the account count entirely but consume a separate cch budget, so
ephemeral sandboxes never push a paying account over its limit and never
starve the fleet.

Rejections surface as the project_limit_exceeded and capacity_exhausted
taxonomy kinds, which the router maps to 403 and 503.
*/
package admission
