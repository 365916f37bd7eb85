package project

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hangarlabs/hangar/pkg/health"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/runtime"
	"github.com/hangarlabs/hangar/pkg/types"
)

// Config carries everything a project container needs at creation time.
type Config struct {
	// Image is the deployer image every project container runs.
	Image string

	// ProxyFQDN is the public wildcard domain, e.g. "hangarapp.dev".
	ProxyFQDN string

	// AuthURI is the auth service address handed to the deployer.
	AuthURI string

	// APIAddress is the gateway control address handed to the deployer.
	APIAddress string

	// StopTimeout bounds graceful container stops.
	StopTimeout time.Duration

	// ProbeTimeout bounds the single TCP connect of a health probe.
	ProbeTimeout time.Duration

	// UserPort is the port a project's service listens on.
	UserPort int

	// StateMount is the container path where the deployer keeps its
	// database and build artifacts, backed by a per-project volume.
	StateMount string
}

// DefaultConfig fills the timeouts and port; callers set the addresses.
func DefaultConfig() Config {
	return Config{
		StopTimeout:  30 * time.Second,
		ProbeTimeout: 5 * time.Second,
		UserPort:     types.UserServicePort,
		StateMount:   types.DeployerStateDir,
	}
}

// Env bundles the collaborators a transition may touch. Steps executed by
// the task worker hold only a project name and look the record up by
// name, so nothing here refers back to tasks.
type Env struct {
	Runtime runtime.ContainerRuntime
	Config  Config
}

// containerEnv builds the environment injected into a project container.
func (e *Env) containerEnv(p *types.Project) []string {
	return []string{
		"HANGAR_PROJECT_NAME=" + p.Name,
		"HANGAR_PROJECT_ID=" + p.ProjectID,
		"HANGAR_INITIAL_KEY=" + p.InitialKey,
		"HANGAR_PROXY_FQDN=" + e.Config.ProxyFQDN,
		"HANGAR_AUTH_URI=" + e.Config.AuthURI,
		"HANGAR_API=" + e.Config.APIAddress,
		"HANGAR_FQDN=" + p.FQDN,
	}
}

func (e *Env) ensure(ctx context.Context, p *types.Project) (string, error) {
	return e.Runtime.Ensure(ctx, runtime.EnsureOptions{
		ProjectID:   p.ProjectID,
		ProjectName: p.Name,
		Image:       e.Config.Image,
		Env:         e.containerEnv(p),
		IdleMinutes: p.EffectiveIdleMinutes(),
		StateMount:  e.Config.StateMount,
	})
}

// Refresh advances the project by exactly one reconcile step and returns
// the next state. The runtime is re-read inside the step, never trusted
// from the persisted snapshot. Callers commit the result with a
// compare-and-set so racing writers are detected.
func Refresh(ctx context.Context, p *types.Project, env *Env) (types.ProjectState, error) {
	s := p.State

	switch s.Kind {
	case types.StateCreating:
		handle, err := env.ensure(ctx, p)
		if err != nil {
			return errored(p, "failed to create container", err), nil
		}
		return types.NewStateStarting(handle, 0), nil

	case types.StateAttaching:
		inspection, err := env.Runtime.Inspect(ctx, s.Container)
		if err != nil {
			return s, err
		}
		if inspection.Status == runtime.StatusNotFound {
			next := s
			next.Kind = types.StateRecreating
			next.Recreates = s.Recreates + 1
			return next, nil
		}
		return types.NewStateStarting(s.Container, 0), nil

	case types.StateRecreating:
		if s.Recreates > types.MaxRestarts {
			return errored(p, "container could not be recreated", nil), nil
		}
		if s.Container != "" {
			if err := env.Runtime.Destroy(ctx, s.Container); err != nil {
				return s, err
			}
		}
		handle, err := env.ensure(ctx, p)
		if err != nil {
			return errored(p, "failed to recreate container", err), nil
		}
		next := s
		next.Kind = types.StateAttaching
		next.Container = handle
		return next, nil

	case types.StateStarting, types.StateRestarting:
		return refreshStarting(ctx, p, s, env)

	case types.StateStarted:
		return refreshStarted(ctx, p, s, env)

	case types.StateReady:
		return refreshReady(ctx, p, s, env)

	case types.StateRebooting:
		if err := env.Runtime.Stop(ctx, s.Container, env.Config.StopTimeout); err != nil {
			return s, err
		}
		next := s
		next.Kind = types.StateStopping
		return next, nil

	case types.StateStopping:
		inspection, err := env.Runtime.Inspect(ctx, s.Container)
		if err != nil {
			return s, err
		}
		switch inspection.Status {
		case runtime.StatusExited, runtime.StatusCreated, runtime.StatusDead, runtime.StatusNotFound:
			return types.ProjectState{Kind: types.StateStopped}, nil
		default:
			// still winding down
			return s, nil
		}

	case types.StateDestroying:
		if err := env.Runtime.Destroy(ctx, s.Container); err != nil {
			return s, err
		}
		inspection, err := env.Runtime.Inspect(ctx, s.Container)
		if err != nil {
			return s, err
		}
		if inspection.Status == runtime.StatusNotFound {
			return types.ProjectState{Kind: types.StateDestroyed}, nil
		}
		return s, nil

	case types.StateStopped, types.StateDestroyed, types.StateErrored:
		// stable until an explicit request arrives
		return s, nil

	default:
		return errored(p, fmt.Sprintf("unknown state %q", s.Kind), nil), nil
	}
}

func refreshStarting(ctx context.Context, p *types.Project, s types.ProjectState, env *Env) (types.ProjectState, error) {
	inspection, err := env.Runtime.Inspect(ctx, s.Container)
	if err != nil {
		return s, err
	}

	switch inspection.Status {
	case runtime.StatusRunning:
		if inspection.TargetIP == "" {
			// running but no address yet
			return s, nil
		}
		next := s
		next.Kind = types.StateStarted
		next.TargetIP = inspection.TargetIP
		return next, nil

	case runtime.StatusCreated, runtime.StatusExited:
		if s.Kind == types.StateStarting && inspection.Status == runtime.StatusExited {
			// exited before it ever became ready
			if s.Restarts >= types.MaxRestarts {
				return errored(p, fmt.Sprintf("container exited %d times before becoming ready", s.Restarts+1), nil), nil
			}
			next := s
			next.Kind = types.StateRestarting
			next.Restarts = s.Restarts + 1
			return next, nil
		}
		if err := env.Runtime.Start(ctx, s.Container); err != nil {
			if s.Restarts >= types.MaxRestarts {
				return errored(p, "container failed to start", err), nil
			}
			next := s
			next.Kind = types.StateRestarting
			next.Restarts = s.Restarts + 1
			return next, nil
		}
		next := s
		next.Kind = types.StateStarting
		return next, nil

	case runtime.StatusNotFound:
		return errored(p, "container disappeared while starting", nil), nil

	default:
		return s, nil
	}
}

func refreshStarted(ctx context.Context, p *types.Project, s types.ProjectState, env *Env) (types.ProjectState, error) {
	inspection, err := env.Runtime.Inspect(ctx, s.Container)
	if err != nil {
		return s, err
	}

	switch inspection.Status {
	case runtime.StatusRunning:
		if probe(ctx, s.TargetIP, env.Config.UserPort, env.Config.ProbeTimeout) {
			next := s
			next.Kind = types.StateReady
			next.FailedChecks = 0
			log.WithProject(p.Name).Info().Msg("Project is ready")
			return next, nil
		}
		// service not answering yet
		return s, nil

	case runtime.StatusExited:
		if s.Restarts >= types.MaxRestarts {
			return errored(p, "container kept exiting before ready", nil), nil
		}
		next := s
		next.Kind = types.StateRestarting
		next.Restarts = s.Restarts + 1
		return next, nil

	case runtime.StatusNotFound:
		return errored(p, "container disappeared after start", nil), nil

	default:
		return s, nil
	}
}

func refreshReady(ctx context.Context, p *types.Project, s types.ProjectState, env *Env) (types.ProjectState, error) {
	inspection, err := env.Runtime.Inspect(ctx, s.Container)
	if err != nil {
		return s, err
	}

	switch inspection.Status {
	case runtime.StatusNotFound:
		return errored(p, "container disappeared while ready", nil), nil

	case runtime.StatusExited, runtime.StatusDead:
		return types.ProjectState{Kind: types.StateStopped}, nil
	}

	if probe(ctx, s.TargetIP, env.Config.UserPort, env.Config.ProbeTimeout) {
		if s.FailedChecks != 0 {
			next := s
			next.FailedChecks = 0
			return next, nil
		}
		return s, nil
	}

	next := s
	next.FailedChecks = s.FailedChecks + 1
	idle := p.EffectiveIdleMinutes()
	if idle > 0 && uint64(next.FailedChecks) >= idle {
		log.WithProject(p.Name).Info().
			Int("failed_checks", next.FailedChecks).
			Msg("Project is idle, stopping")
		next.Kind = types.StateRebooting
		next.FailedChecks = 0
	}
	return next, nil
}

// RequestStart handles an explicit start (API or traffic wake). Stopped
// projects get their container back and start counting restarts from
// zero; errored or destroyed projects go through a full recreate.
func RequestStart(ctx context.Context, p *types.Project, env *Env) (types.ProjectState, error) {
	s := p.State
	switch s.Kind {
	case types.StateStopped:
		handle, err := env.ensure(ctx, p)
		if err != nil {
			return errored(p, "failed to revive container", err), nil
		}
		if err := env.Runtime.Start(ctx, handle); err != nil {
			return errored(p, "failed to start container", err), nil
		}
		return types.NewStateStarting(handle, 0), nil

	case types.StateErrored, types.StateDestroyed:
		return types.ProjectState{Kind: types.StateRecreating, Container: s.Container}, nil

	default:
		// already on its way up, or being torn down; leave it alone
		return s, nil
	}
}

// RequestStop moves a live project toward Stopped. Stopping a stopped
// project is a no-op.
func RequestStop(ctx context.Context, p *types.Project, env *Env) (types.ProjectState, error) {
	s := p.State
	switch s.Kind {
	case types.StateStopped, types.StateDestroyed, types.StateErrored, types.StateCreating:
		return s, nil
	default:
		next := s
		next.Kind = types.StateRebooting
		next.FailedChecks = 0
		return next, nil
	}
}

// RequestDestroy moves any project toward Destroyed. Destroying a
// destroyed project is a no-op.
func RequestDestroy(ctx context.Context, p *types.Project, env *Env) (types.ProjectState, error) {
	s := p.State
	if s.Kind == types.StateDestroyed {
		return s, nil
	}
	if s.Container == "" {
		// nothing to tear down
		return types.ProjectState{Kind: types.StateDestroyed}, nil
	}
	next := s
	next.Kind = types.StateDestroying
	return next, nil
}

func errored(p *types.Project, message string, cause error) types.ProjectState {
	evt := log.WithProject(p.Name).Error()
	if cause != nil {
		evt = evt.Err(cause)
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	evt.Msg("Project errored: " + message)
	return types.NewStateErrored(message)
}

func probe(ctx context.Context, targetIP string, port int, timeout time.Duration) bool {
	if targetIP == "" {
		return false
	}
	addr := net.JoinHostPort(targetIP, strconv.Itoa(port))
	checker := health.NewTCPChecker(addr).WithTimeout(timeout)
	return checker.Check(ctx).Healthy
}
