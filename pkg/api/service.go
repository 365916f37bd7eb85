package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hangarlabs/hangar/pkg/admission"
	"github.com/hangarlabs/hangar/pkg/client"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/project"
	"github.com/hangarlabs/hangar/pkg/resource"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

// Service executes gateway business operations and interprets task
// steps for the worker. Handlers validate and enqueue; the service owns
// every state transition.
type Service struct {
	store     storage.Store
	env       *project.Env
	admission *admission.Controller
	deployer  *client.DeployerClient
	resources *resource.Broker
	proxyFQDN string

	// worker is bound after construction; the worker needs the service
	// as its StepRunner.
	worker *worker.TaskWorker
}

// NewService wires the gateway service. Call BindWorker before serving.
func NewService(store storage.Store, env *project.Env, adm *admission.Controller, deployer *client.DeployerClient, resources *resource.Broker, proxyFQDN string) *Service {
	return &Service{
		store:     store,
		env:       env,
		admission: adm,
		deployer:  deployer,
		resources: resources,
		proxyFQDN: proxyFQDN,
	}
}

// BindWorker attaches the task worker once it exists.
func (s *Service) BindWorker(w *worker.TaskWorker) {
	s.worker = w
}

// RunStep interprets one task step against one project. Commits go
// through the store with a compare-and-set on the observed state kind;
// a lost race surfaces as TryAgain and the step re-reads on the next
// poll.
func (s *Service) RunStep(ctx context.Context, projectName string, step worker.Step) worker.StepResult {
	p, err := s.store.FindProject(ctx, projectName)
	if errors.Is(err, storage.ErrNotFound) {
		// the row vanished under the task; nothing left to drive
		return worker.DoneNoCommit()
	}
	if err != nil {
		return worker.Errf(fmt.Sprintf("failed to load project: %v", err))
	}

	switch step.Kind {
	case worker.StepRefresh:
		return s.stepRefresh(ctx, p)

	case worker.StepRunUntilDone:
		return s.stepRunUntilDone(ctx, p)

	case worker.StepStart:
		next, err := project.RequestStart(ctx, p, s.env)
		if err != nil {
			return worker.Errf(err.Error())
		}
		return s.commitCAS(ctx, p, next)

	case worker.StepStop:
		next, err := project.RequestStop(ctx, p, s.env)
		if err != nil {
			return worker.Errf(err.Error())
		}
		return s.commitCAS(ctx, p, next)

	case worker.StepDestroy:
		next, err := project.RequestDestroy(ctx, p, s.env)
		if err != nil {
			return worker.Errf(err.Error())
		}
		return s.commitCAS(ctx, p, next)

	case worker.StepRecreate:
		return s.stepRecreate(ctx, p, step.FQDN)

	case worker.StepStartIdleDeploys:
		return s.stepStartIdleDeploys(ctx, p)

	case worker.StepDeleteProject:
		if err := s.store.DeleteProject(ctx, projectName); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return worker.Errf(fmt.Sprintf("failed to delete project row: %v", err))
		}
		return worker.DoneNoCommit()

	default:
		return worker.Errf(fmt.Sprintf("unknown step kind %d", step.Kind))
	}
}

func (s *Service) stepRefresh(ctx context.Context, p *types.Project) worker.StepResult {
	next, err := project.Refresh(ctx, p, s.env)
	if err != nil {
		// transient runtime failure; keep the slot and retry shortly
		log.WithProject(p.Name).Warn().Err(err).Msg("Refresh hit a transient runtime error")
		return worker.Pending()
	}
	return s.commitCAS(ctx, p, next)
}

func (s *Service) stepRunUntilDone(ctx context.Context, p *types.Project) worker.StepResult {
	next, err := project.Refresh(ctx, p, s.env)
	if err != nil {
		log.WithProject(p.Name).Warn().Err(err).Msg("Refresh hit a transient runtime error")
		return worker.Pending()
	}

	result := s.commitCAS(ctx, p, next)
	if result.Kind != worker.ResultDone {
		return result
	}
	// Started counts as settled here: the container is up and only the
	// service's own readiness is pending, which the health sweep tracks.
	if next.IsStable() || next.Kind == types.StateStarted {
		return result
	}
	return worker.Pending()
}

func (s *Service) stepRecreate(ctx context.Context, p *types.Project, fqdn string) worker.StepResult {
	if fqdn != "" && fqdn != p.FQDN {
		if err := s.store.UpdateProjectFQDN(ctx, p.Name, fqdn); err != nil {
			return worker.Errf(fmt.Sprintf("failed to update fqdn: %v", err))
		}
		log.WithProject(p.Name).Info().Str("fqdn", fqdn).Msg("Project fqdn updated")
	}
	return s.commitCAS(ctx, p, types.NewStateCreating())
}

func (s *Service) stepStartIdleDeploys(ctx context.Context, p *types.Project) worker.StepResult {
	if p.State.Kind != types.StateReady || p.State.TargetIP == "" {
		log.WithProject(p.Name).Warn().
			Str("state", string(p.State.Kind)).
			Msg("Skipping deploy replay, project is not ready")
		return worker.DoneNoCommit()
	}
	if err := s.deployer.StartIdleDeploys(ctx, p.State.TargetIP, p.Name); err != nil {
		// replay is best effort; the user can redeploy
		log.WithProject(p.Name).Warn().Err(err).Msg("Failed to replay idle deployment")
	}
	return worker.DoneNoCommit()
}

// commitCAS persists next guarded by the state kind the step observed.
func (s *Service) commitCAS(ctx context.Context, p *types.Project, next types.ProjectState) worker.StepResult {
	prev := p.State.Kind
	err := s.store.UpdateProjectState(ctx, p.Name, &prev, next)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return worker.TryAgain()
	case errors.Is(err, storage.ErrNotFound):
		return worker.DoneNoCommit()
	case err != nil:
		return worker.Errf(fmt.Sprintf("failed to commit state: %v", err))
	}
	return worker.Committed(next)
}

// CreateProject validates, admits, and persists a new project, then
// enqueues the task that drives it to Ready. Recreating a project the
// caller already owns in a destroyed or errored state revives it
// instead.
func (s *Service) CreateProject(ctx context.Context, claim *types.Claim, name string, idleMinutes uint64) (*types.Project, *worker.Handle, error) {
	if err := types.ValidateProjectName(name); err != nil {
		return nil, nil, types.NewError(types.KindInvalidProjectName)
	}
	if types.IsCCHProject(name) && !claim.IsAdmin() && !claim.HasScope(types.ScopeAdmin) {
		// only the platform itself provisions cch sandboxes by name
		return nil, nil, types.NewError(types.KindInvalidProjectName)
	}

	if existing, err := s.store.FindProject(ctx, name); err == nil {
		if existing.Owner != claim.Sub {
			return nil, nil, types.NewError(types.KindProjectAlreadyExists)
		}
		if !existing.State.IsDestroyed() && existing.State.Kind != types.StateErrored {
			return nil, nil, types.NewError(types.KindProjectAlreadyExists)
		}
		// revive the owner's dead project under the same record
		if err := s.admission.AdmitStart(ctx, name); err != nil {
			return nil, nil, err
		}
		handle, err := s.enqueue(worker.NewTask(name).Start().RunUntilDone())
		if err != nil {
			return nil, nil, err
		}
		return existing, handle, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	if err := s.admission.AdmitCreate(ctx, claim, name); err != nil {
		return nil, nil, err
	}

	initialKey, err := types.GenerateInitialKey()
	if err != nil {
		return nil, nil, err
	}
	projectID, err := types.NewProjectID()
	if err != nil {
		return nil, nil, err
	}
	p := &types.Project{
		Name:        name,
		Owner:       claim.Sub,
		ProjectID:   projectID,
		InitialKey:  initialKey,
		FQDN:        fmt.Sprintf("%s.%s", name, s.proxyFQDN),
		IdleMinutes: idleMinutes,
		CreatedAt:   time.Now().UTC(),
		State:       types.NewStateCreating(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, types.NewError(types.KindProjectAlreadyExists)
		}
		return nil, nil, err
	}

	log.WithProject(name).Info().
		Str("account", claim.Sub).
		Uint64("idle_minutes", idleMinutes).
		Msg("Project created")

	handle, err := s.enqueue(worker.NewTask(name).RunUntilDone())
	if err != nil {
		return nil, nil, err
	}
	return p, handle, nil
}

// FindProject returns the caller's project or the taxonomy NotFound.
func (s *Service) FindProject(ctx context.Context, claim *types.Claim, name string) (*types.Project, error) {
	p, err := s.store.FindProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewError(types.KindProjectNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.Owner != claim.Sub && !claim.IsAdmin() {
		// do not reveal other accounts' project names
		return nil, types.NewError(types.KindProjectNotFound)
	}
	return p, nil
}

// ListProjects returns one page of the caller's projects.
func (s *Service) ListProjects(ctx context.Context, claim *types.Claim, page, limit uint32) ([]types.ProjectInfo, error) {
	projects, err := s.store.FindProjectsByOwner(ctx, claim.Sub, page*limit, limit)
	if err != nil {
		return nil, err
	}
	infos := make([]types.ProjectInfo, 0, len(projects))
	for _, p := range projects {
		infos = append(infos, p.Info())
	}
	return infos, nil
}

// StopProject winds the caller's project down to Stopped.
func (s *Service) StopProject(ctx context.Context, claim *types.Claim, name string) (*worker.Handle, error) {
	if _, err := s.FindProject(ctx, claim, name); err != nil {
		return nil, err
	}
	return s.enqueue(worker.NewTask(name).Stop().RunUntilDone())
}

// WakeProject drives a stopped or errored project back toward Ready,
// used by both the management API and the proxy's wake-on-traffic path.
// The returned handle resolves when the project settles; a nil handle
// means no work was needed.
func (s *Service) WakeProject(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
	p, err := s.store.FindProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, types.NewError(types.KindProjectNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	switch p.State.Kind {
	case types.StateReady:
		return p, nil, nil
	case types.StateStopped, types.StateErrored, types.StateDestroyed:
		if err := s.admission.AdmitStart(ctx, name); err != nil {
			return nil, nil, err
		}
		metrics.ProjectWakes.Inc()
		log.WithProject(name).Info().Str("state", string(p.State.Kind)).Msg("Waking project")
		handle, err := s.enqueue(worker.NewTask(name).Start().RunUntilDone())
		if err != nil {
			return nil, nil, err
		}
		return p, handle, nil
	default:
		// in motion already; follow it with a refresh loop
		handle, err := s.enqueue(worker.NewTask(name).RunUntilDone())
		if err != nil {
			return nil, nil, err
		}
		return p, handle, nil
	}
}

// DeleteProject implements the strict full-delete flow: every
// deployment must be finished or running, running ones are stopped,
// resources are removed, and only then is the container destroyed and
// the row dropped.
func (s *Service) DeleteProject(ctx context.Context, claim *types.Claim, name string) (*worker.Handle, error) {
	p, err := s.FindProject(ctx, claim, name)
	if err != nil {
		return nil, err
	}

	if p.State.Kind == types.StateReady && p.State.TargetIP != "" {
		if err := s.drainDeployments(ctx, p); err != nil {
			return nil, err
		}
		failed, err := s.resources.DeleteAll(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			return nil, types.ProjectHasResources(failed)
		}
	}

	return s.enqueue(worker.NewTask(name).Destroy().RunUntilDone().DeleteProject())
}

// drainDeployments verifies delete preconditions and stops running
// deployments.
func (s *Service) drainDeployments(ctx context.Context, p *types.Project) error {
	deployments, err := s.deployer.GetDeployments(ctx, p.State.TargetIP, p.Name, 0, 200)
	if err != nil {
		var taxErr *types.Error
		if errors.As(err, &taxErr) && taxErr.Kind == types.KindProjectNotFound {
			// deployer knows nothing about this project yet
			return nil
		}
		return err
	}

	for _, d := range deployments {
		switch {
		case d.State.IsFinished():
		case d.State == types.DeploymentRunning:
			if err := s.deployer.StopDeployment(ctx, p.State.TargetIP, p.Name, d.ID.String()); err != nil {
				return types.NewError(types.KindProjectHasRunningDeployment)
			}
		default:
			return types.NewError(types.KindProjectHasBuildingDeployment)
		}
	}
	return nil
}

func (s *Service) enqueue(task *worker.Task) (*worker.Handle, error) {
	handle, err := s.worker.Enqueue(task)
	if errors.Is(err, worker.ErrQueueFull) {
		return nil, types.NewError(types.KindCapacityExhausted)
	}
	return handle, err
}
