package types

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentState identifies a deployment lifecycle state inside a deployer.
type DeploymentState string

const (
	DeploymentQueued    DeploymentState = "queued"
	DeploymentBuilding  DeploymentState = "building"
	DeploymentBuilt     DeploymentState = "built"
	DeploymentLoading   DeploymentState = "loading"
	DeploymentRunning   DeploymentState = "running"
	DeploymentCompleted DeploymentState = "completed"
	DeploymentStopped   DeploymentState = "stopped"
	DeploymentCrashed   DeploymentState = "crashed"
	DeploymentUnknown   DeploymentState = "unknown"
)

// IsFinished reports whether the deployment can no longer make progress.
// A project may only be deleted once every deployment satisfies
// IsFinished or is Running (running ones are stopped first).
func (s DeploymentState) IsFinished() bool {
	switch s {
	case DeploymentCompleted, DeploymentStopped, DeploymentCrashed:
		return true
	}
	return false
}

// IsRunnable reports whether the deployment has a built executable that
// can be started again. Queued and building deployments have nothing to
// run yet; everything past building does, including records a destroyed
// container left behind in running.
func (s DeploymentState) IsRunnable() bool {
	switch s {
	case DeploymentBuilt, DeploymentLoading, DeploymentRunning,
		DeploymentCompleted, DeploymentStopped, DeploymentCrashed:
		return true
	}
	return false
}

// IsActive reports whether the deployment still occupies build or runtime
// capacity.
func (s DeploymentState) IsActive() bool {
	switch s {
	case DeploymentQueued, DeploymentBuilding, DeploymentBuilt, DeploymentLoading:
		return true
	}
	return false
}

// Deployment is the per-deployer record of one deploy attempt. LastUpdate
// is monotonic within a record; the recorder enforces it.
type Deployment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ServiceID  uuid.UUID       `db:"service_id" json:"service_id"`
	State      DeploymentState `db:"state" json:"state"`
	LastUpdate time.Time       `db:"last_update" json:"last_update"`
	Address    string          `db:"address" json:"address,omitempty"`

	GitCommitID      string `db:"git_commit_id" json:"git_commit_id,omitempty"`
	GitCommitMsg     string `db:"git_commit_msg" json:"git_commit_msg,omitempty"`
	GitBranch        string `db:"git_branch" json:"git_branch,omitempty"`
	GitDirty         bool   `db:"git_dirty" json:"git_dirty,omitempty"`
}

// Service is a named unit a project deploys into. Today each project has
// exactly one service carrying the project's name.
type Service struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}

// ServiceSummary is the deployer's service detail response.
type ServiceSummary struct {
	Name       string      `json:"name"`
	Deployment *Deployment `json:"deployment,omitempty"`
	URI        string      `json:"uri"`
}

// DeploymentMeta is the optional git metadata attached to a deploy request.
// All strings are truncated at GitStringsMaxLength by TruncateGitStrings.
type DeploymentMeta struct {
	GitCommitID  string `json:"git_commit_id,omitempty" msgpack:"git_commit_id"`
	GitCommitMsg string `json:"git_commit_msg,omitempty" msgpack:"git_commit_msg"`
	GitBranch    string `json:"git_branch,omitempty" msgpack:"git_branch"`
	GitDirty     bool   `json:"git_dirty,omitempty" msgpack:"git_dirty"`
}

// TruncateGitStrings caps every git string at GitStringsMaxLength runes.
func (m *DeploymentMeta) TruncateGitStrings() {
	m.GitCommitID = truncate(m.GitCommitID, GitStringsMaxLength)
	m.GitCommitMsg = truncate(m.GitCommitMsg, GitStringsMaxLength)
	m.GitBranch = truncate(m.GitBranch, GitStringsMaxLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// LogItem is one line produced by a build or a running service, streamed
// over the deployer's log endpoints.
type LogItem struct {
	DeploymentID uuid.UUID `json:"id" db:"deployment_id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Line         string    `json:"line" db:"line"`
}
