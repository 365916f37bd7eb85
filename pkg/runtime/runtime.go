package runtime

import (
	"context"
	"time"
)

// Status mirrors the container states the engine reports, plus NotFound
// for handles whose container no longer exists.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusPaused     Status = "paused"
	StatusExited     Status = "exited"
	StatusDead       Status = "dead"
	StatusNotFound   Status = "not_found"
)

// Inspection is the runtime's view of one project container. The runtime
// is authoritative; the project FSM reconciles persisted state to it.
type Inspection struct {
	Status      Status
	TargetIP    string
	StartedAt   *time.Time
	ProjectID   string
	ProjectName string
	IdleMinutes uint64
}

// EnsureOptions describes the container a project needs.
type EnsureOptions struct {
	ProjectID   string
	ProjectName string
	Image       string
	Env         []string
	Labels      map[string]string
	IdleMinutes uint64

	// StateMount is the container path backed by a per-project named
	// volume, so deployer state outlives destroy and recreate cycles.
	// Empty disables the mount.
	StateMount string
}

// Counts reports how many managed containers are running, split out for
// the cch class because admission budgets them separately.
type Counts struct {
	Running    int
	RunningCCH int
}

// ContainerRuntime is the abstract driver the project FSM reconciles
// against. Handles are opaque; callers persist them but never parse them.
type ContainerRuntime interface {
	// Ensure creates the container if it does not exist and returns its
	// handle. Idempotent: an existing container for the same project is
	// reused.
	Ensure(ctx context.Context, opts EnsureOptions) (string, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, handle string) error

	// Stop stops the container, escalating to a kill after timeout.
	Stop(ctx context.Context, handle string, timeout time.Duration) error

	// Destroy force-removes the container. Destroying a missing
	// container is not an error.
	Destroy(ctx context.Context, handle string) error

	// Inspect returns the current view of the container. A missing
	// container yields Status NotFound, not an error.
	Inspect(ctx context.Context, handle string) (*Inspection, error)

	// Exec runs argv inside the container and returns combined output.
	// Used for liveness probes during local provisioning only.
	Exec(ctx context.Context, handle string, argv []string) (string, error)

	// ManagedCounts counts running containers this runtime manages.
	ManagedCounts(ctx context.Context) (Counts, error)
}
