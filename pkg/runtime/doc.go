/*
Package runtime provides the container driver behind the project lifecycle.

The runtime package defines the ContainerRuntime interface the project FSM
reconciles against, plus a Docker Engine implementation. Every project
materializes as exactly one container; the runtime is the source of truth
for whether that container exists, its state, and its address.

# Core Operations

  - Ensure: create-or-reuse the project's container; returns a handle
  - Start / Stop / Destroy: lifecycle, with Stop escalating to SIGKILL
    after the timeout
  - Inspect: state, target IP, started-at, and project labels; a missing
    container is reported as StatusNotFound rather than an error
  - Exec: run a command inside the container (local provisioning probes)
  - ManagedCounts: running containers under management, split by class

# Labels

Containers carry dev.hangar.* labels identifying the project, its id and
its idle threshold, so a restarted gateway can re-attach to containers it
did not create in this process lifetime.

# Usage

	rt, err := runtime.NewDockerRuntime()
	handle, err := rt.Ensure(ctx, runtime.EnsureOptions{
		ProjectID:   project.ProjectID,
		ProjectName: project.Name,
		Image:       image,
		Env:         env,
		IdleMinutes: project.EffectiveIdleMinutes(),
	})
	inspection, err := rt.Inspect(ctx, handle)
*/
package runtime
