package types

import "time"

// Account and capacity limits
const (
	// MaxProjectsDefault is the soft per-account project limit applied to
	// Basic tier accounts.
	MaxProjectsDefault = 3

	// MaxProjectsExtra is the hard per-account project limit applied to
	// Pro and Admin tier accounts.
	MaxProjectsExtra = 15

	// MaxRestarts is how many times a container is restarted before the
	// project is marked errored.
	MaxRestarts = 3

	// CCHIdleMinutes is the fixed idle threshold for cch-class projects,
	// applied regardless of what the create request asked for.
	CCHIdleMinutes = 5

	// DefaultIdleMinutes is used when a create request omits idle_minutes.
	DefaultIdleMinutes = 30
)

// Worker and scheduler tuning
const (
	// WorkerQueueSize is the capacity of the task worker's queue.
	WorkerQueueSize = 2048

	// SvcDegradedThreshold is the queue headroom below which the gateway
	// reports itself degraded and the health scheduler skips its sweep.
	SvcDegradedThreshold = 128

	// HealthCheckInterval is the cadence of the health scheduler.
	HealthCheckInterval = 60 * time.Second
)

// Wire-level limits and addressing
const (
	// CreateServiceBodyLimit bounds the MessagePack-framed deploy body.
	CreateServiceBodyLimit = 50_000_000

	// GitStringsMaxLength truncates git commit id, summary and branch
	// on the sender side.
	GitStringsMaxLength = 80

	// UserServicePort is the fixed port a project's deployer listens on;
	// the proxy forwards to target_ip:UserServicePort.
	UserServicePort = 8000

	// InitialKeyLength is the length of the per-project secret generated
	// at create time and injected into the container environment.
	InitialKeyLength = 16

	// ProjectHeader carries the resolved project name on proxied requests.
	ProjectHeader = "X-Hangar-Project"

	// DeployerStateDir is where a deployer keeps its database and build
	// artifacts inside the project container. The runtime mounts a named
	// volume there so deployments survive container recreation.
	DeployerStateDir = "/var/lib/hangar-deployer"
)

// Certificate renewal
const (
	// RenewalThreshold is how close to expiry a certificate must be
	// before renew_if_needed actually renews it.
	RenewalThreshold = 30 * 24 * time.Hour
)

// Build queue
const (
	// BuildGrantTTL bounds how long a build slot stays held without a
	// release, so slots leaked by crashed deployers expire.
	BuildGrantTTL = 60 * 10 * time.Second
)

// End-of-stream sentinel lines emitted by a deployer at the tail of a log
// stream. Clients treat the first three as failure and the last two as
// success.
const (
	EndMsgBuildErr   = "Service build failed"
	EndMsgStartupErr = "Service startup failed"
	EndMsgCrashed    = "Service encountered an error and crashed"
	EndMsgStopped    = "Service was stopped by the deployer"
	EndMsgCompleted  = "Service finished running all on its own"

	// RuntimeStartResponse is emitted once the user runtime acknowledges
	// the start RPC.
	RuntimeStartResponse = "Runtime started successfully"
)
