package types

// AccountTier orders accounts by what capacity they may consume.
type AccountTier string

const (
	TierBasic AccountTier = "basic"
	TierPro   AccountTier = "pro"
	TierAdmin AccountTier = "admin"
)

// Scope is a named capability a claim may carry.
type Scope string

const (
	ScopeAdmin           Scope = "admin"
	ScopeAcme            Scope = "acme"
	ScopeProject         Scope = "project"
	ScopeProjectWrite    Scope = "project:write"
	ScopeDeployment      Scope = "deployment"
	ScopeDeploymentWrite Scope = "deployment:write"
	ScopeService         Scope = "service"
	ScopeServiceWrite    Scope = "service:write"
	ScopeLogs            Scope = "logs"
	ScopeResources       Scope = "resources"
	ScopeResourcesWrite  Scope = "resources:write"
)

// Claim is the verified caller identity attached to a request after the
// auth layer has checked the bearer token. It is never persisted.
type Claim struct {
	// Sub is the account name.
	Sub    string      `json:"sub"`
	Tier   AccountTier `json:"tier"`
	Scopes []Scope     `json:"scopes"`
}

// HasScope reports whether the claim carries the given scope. Admin
// implies everything.
func (c *Claim) HasScope(s Scope) bool {
	for _, have := range c.Scopes {
		if have == s || have == ScopeAdmin {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the claim is admin tier or carries the admin
// scope.
func (c *Claim) IsAdmin() bool {
	return c.Tier == TierAdmin || c.HasScope(ScopeAdmin)
}

// ProjectLimit returns the per-account project cap for this claim's tier.
func (c *Claim) ProjectLimit() int {
	switch c.Tier {
	case TierPro, TierAdmin:
		return MaxProjectsExtra
	default:
		return MaxProjectsDefault
	}
}
