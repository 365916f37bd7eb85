package types

// CustomDomain maps a user-owned FQDN to a project together with the PEM
// material needed to serve it. The durable copy in the store is
// authoritative; the CertResolver holds an in-memory copy for handshakes.
type CustomDomain struct {
	FQDN         string `db:"fqdn" json:"fqdn"`
	ProjectName  string `db:"project_name" json:"project_name"`
	Certificate  string `db:"certificate" json:"-"`
	PrivateKey   string `db:"private_key" json:"-"`
	AccountCreds string `db:"account_creds" json:"-"`
}

// VersionInfo is the tuple returned by GET /versions.
type VersionInfo struct {
	Gateway  string `json:"gateway"`
	CLI      string `json:"cli"`
	Deployer string `json:"deployer"`
	Runtime  string `json:"runtime"`
}

// LoadRequest records or clears one in-flight build slot.
type LoadRequest struct {
	ID string `json:"id"`
}

// LoadResponse reports whether the build broker granted the slot.
type LoadResponse struct {
	HasCapacity bool `json:"has_capacity"`
}

// Resource is one provisioned resource as reported by the external
// resource recorder; the gateway passes these through untouched apart
// from the type field it needs for delete ordering.
type Resource struct {
	Type   string `json:"type"`
	Config any    `json:"config,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ComponentStatus is one entry of the gateway's aggregated status report.
type ComponentStatus struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Message   string `json:"message,omitempty"`
}

// StatusResponse is the body of GET / on the gateway control plane.
type StatusResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components"`
}
