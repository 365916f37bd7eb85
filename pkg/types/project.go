package types

import "time"

// StateKind identifies a project lifecycle state.
type StateKind string

const (
	StateCreating   StateKind = "creating"
	StateAttaching  StateKind = "attaching"
	StateRecreating StateKind = "recreating"
	StateStarting   StateKind = "starting"
	StateRestarting StateKind = "restarting"
	StateStarted    StateKind = "started"
	StateReady      StateKind = "ready"
	StateRebooting  StateKind = "rebooting"
	StateStopping   StateKind = "stopping"
	StateStopped    StateKind = "stopped"
	StateDestroying StateKind = "destroying"
	StateDestroyed  StateKind = "destroyed"
	StateErrored    StateKind = "errored"
)

// ProjectState is the tagged state variant persisted with each project.
// Kind selects the variant; the remaining fields are only meaningful for
// the variants that use them and stay zero otherwise.
type ProjectState struct {
	Kind StateKind `json:"kind"`

	// Container is the runtime handle. Set iff the state requires a
	// container (see RequiresContainer).
	Container string `json:"container,omitempty"`

	// TargetIP is the container's address once the runtime reports it.
	TargetIP string `json:"target_ip,omitempty"`

	// Restarts counts start attempts for Starting/Restarting.
	Restarts int `json:"restarts,omitempty"`

	// Recreates counts recreate attempts for Attaching/Recreating.
	Recreates int `json:"recreates,omitempty"`

	// FailedChecks counts consecutive failed health probes while Ready.
	FailedChecks int `json:"failed_checks,omitempty"`

	// Message holds the failure description for Errored.
	Message string `json:"message,omitempty"`
}

// NewStateCreating returns the initial state for a fresh project.
func NewStateCreating() ProjectState {
	return ProjectState{Kind: StateCreating}
}

// NewStateStarting returns a Starting state bound to a container handle.
func NewStateStarting(container string, restarts int) ProjectState {
	return ProjectState{Kind: StateStarting, Container: container, Restarts: restarts}
}

// NewStateErrored returns an Errored state carrying a message.
func NewStateErrored(message string) ProjectState {
	return ProjectState{Kind: StateErrored, Message: message}
}

// RequiresContainer reports whether this state must carry a runtime handle.
func (s ProjectState) RequiresContainer() bool {
	switch s.Kind {
	case StateAttaching, StateRecreating, StateStarting, StateRestarting,
		StateStarted, StateReady, StateRebooting, StateStopping, StateDestroying:
		return true
	}
	return false
}

// IsDestroyed reports whether the project has reached its terminal state.
func (s ProjectState) IsDestroyed() bool {
	return s.Kind == StateDestroyed
}

// IsStable reports whether the refresh loop has nothing left to drive.
// Errored counts as stable; it only leaves via an explicit start request.
func (s ProjectState) IsStable() bool {
	switch s.Kind {
	case StateReady, StateStopped, StateDestroyed, StateErrored:
		return true
	}
	return false
}

// Project is the durable record owned by the ProjectStore.
type Project struct {
	Name        string       `db:"project_name"`
	Owner       string       `db:"account_name"`
	ProjectID   string       `db:"project_id"`
	InitialKey  string       `db:"initial_key"`
	FQDN        string       `db:"fqdn"`
	IdleMinutes uint64       `db:"idle_minutes"`
	CreatedAt   time.Time    `db:"created_at"`
	State       ProjectState `db:"-"`
}

// IsCCH reports whether the project belongs to the restricted cch class.
func (p *Project) IsCCH() bool {
	return IsCCHProject(p.Name)
}

// EffectiveIdleMinutes applies the fixed cch idle override.
func (p *Project) EffectiveIdleMinutes() uint64 {
	if p.IsCCH() {
		return CCHIdleMinutes
	}
	return p.IdleMinutes
}

// ProjectInfo is the API representation of a project.
type ProjectInfo struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Message     string `json:"message,omitempty"`
	IdleMinutes uint64 `json:"idle_minutes"`
}

// Info converts the record into its API representation.
func (p *Project) Info() ProjectInfo {
	return ProjectInfo{
		Name:        p.Name,
		State:       string(p.State.Kind),
		Message:     p.State.Message,
		IdleMinutes: p.IdleMinutes,
	}
}

// AdminProjectEntry pairs a project with its owning account for admin
// listings.
type AdminProjectEntry struct {
	ProjectName string `json:"project_name" db:"project_name"`
	AccountName string `json:"account_name" db:"account_name"`
}
