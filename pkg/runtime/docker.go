package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/types"
)

// Labels stamped on every container this runtime manages.
const (
	LabelManaged     = "dev.hangar.managed"
	LabelProjectID   = "dev.hangar.project.id"
	LabelProjectName = "dev.hangar.project.name"
	LabelIdleMinutes = "dev.hangar.idle-minutes"
)

// DockerRuntime implements ContainerRuntime against the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
	prefix string
}

// NewDockerRuntime connects to the engine using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: cli, prefix: "hangar"}, nil
}

// containerName builds the stable name for a project's container, so
// Ensure can find it again after a gateway restart.
func (r *DockerRuntime) containerName(projectName string) string {
	return fmt.Sprintf("%s-%s-run", r.prefix, projectName)
}

// volumeName builds the stable name for a project's state volume.
// Destroy leaves the volume behind so a recreated container finds its
// deployer state again.
func (r *DockerRuntime) volumeName(projectName string) string {
	return fmt.Sprintf("%s-%s-vol", r.prefix, projectName)
}

// Ensure creates the container if needed and returns its handle.
func (r *DockerRuntime) Ensure(ctx context.Context, opts EnsureOptions) (string, error) {
	name := r.containerName(opts.ProjectName)

	// Reuse an existing container for the project if one survives
	if existing, err := r.client.ContainerInspect(ctx, name); err == nil {
		return existing.ID, nil
	} else if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	labels := map[string]string{
		LabelManaged:     "true",
		LabelProjectID:   opts.ProjectID,
		LabelProjectName: opts.ProjectName,
		LabelIdleMinutes: strconv.FormatUint(opts.IdleMinutes, 10),
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	if opts.StateMount != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: r.volumeName(opts.ProjectName),
			Target: opts.StateMount,
		}}
	}

	created, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:  opts.Image,
		Env:    opts.Env,
		Labels: labels,
	}, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}

	log.WithComponent("runtime").Info().
		Str("project", opts.ProjectName).
		Str("container", created.ID[:12]).
		Msg("Container created")
	return created.ID, nil
}

// Start starts a created or stopped container.
func (r *DockerRuntime) Start(ctx context.Context, handle string) error {
	if err := r.client.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop stops the container; the engine escalates SIGTERM to SIGKILL after
// the timeout.
func (r *DockerRuntime) Stop(ctx context.Context, handle string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Destroy force-removes the container. Missing containers are fine.
func (r *DockerRuntime) Destroy(ctx context.Context, handle string) error {
	err := r.client.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Inspect returns the runtime's current view of the container.
func (r *DockerRuntime) Inspect(ctx context.Context, handle string) (*Inspection, error) {
	info, err := r.client.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &Inspection{Status: StatusNotFound}, nil
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	inspection := &Inspection{
		Status: mapStatus(info.State.Status),
	}

	if info.NetworkSettings != nil {
		inspection.TargetIP = info.NetworkSettings.IPAddress
		// Fall back to the first attached network
		if inspection.TargetIP == "" {
			for _, n := range info.NetworkSettings.Networks {
				if n.IPAddress != "" {
					inspection.TargetIP = n.IPAddress
					break
				}
			}
		}
	}

	if info.State.StartedAt != "" {
		if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil && !started.IsZero() {
			inspection.StartedAt = &started
		}
	}

	if info.Config != nil {
		inspection.ProjectID = info.Config.Labels[LabelProjectID]
		inspection.ProjectName = info.Config.Labels[LabelProjectName]
		if raw, ok := info.Config.Labels[LabelIdleMinutes]; ok {
			if idle, err := strconv.ParseUint(raw, 10, 64); err == nil {
				inspection.IdleMinutes = idle
			}
		}
	}

	return inspection, nil
}

// Exec runs argv inside the container and returns combined output.
func (r *DockerRuntime) Exec(ctx context.Context, handle string, argv []string) (string, error) {
	exec, err := r.client.ContainerExecCreate(ctx, handle, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := r.client.ContainerExecAttach(ctx, exec.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, resp.Reader); err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}
	return out.String(), nil
}

// ManagedCounts counts running containers stamped with the managed label.
func (r *DockerRuntime) ManagedCounts(ctx context.Context) (Counts, error) {
	list, err := r.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManaged+"=true"),
			filters.Arg("status", "running"),
		),
	})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to list containers: %w", err)
	}

	counts := Counts{Running: len(list)}
	for _, c := range list {
		if types.IsCCHProject(c.Labels[LabelProjectName]) {
			counts.RunningCCH++
		}
	}
	return counts, nil
}

func mapStatus(status string) Status {
	switch status {
	case "created":
		return StatusCreated
	case "running":
		return StatusRunning
	case "restarting":
		return StatusRestarting
	case "paused":
		return StatusPaused
	case "exited":
		return StatusExited
	case "dead":
		return StatusDead
	default:
		return StatusNotFound
	}
}
