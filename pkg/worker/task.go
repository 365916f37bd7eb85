package worker

import (
	"context"

	"github.com/hangarlabs/hangar/pkg/types"
)

// StepKind enumerates every operation a task may perform. Steps carry no
// closures; the runner interprets the kind against the project by name.
type StepKind int

const (
	// StepRefresh performs one reconcile hop of the project FSM.
	StepRefresh StepKind = iota

	// StepRunUntilDone loops refresh hops until the state is stable.
	StepRunUntilDone

	// StepStart handles an explicit start or traffic wake.
	StepStart

	// StepStop winds the project down to Stopped.
	StepStop

	// StepDestroy winds the project down to Destroyed.
	StepDestroy

	// StepRecreate destroys and recreates the container, optionally with
	// a new FQDN baked into the environment.
	StepRecreate

	// StepStartIdleDeploys asks the deployer to restart its latest
	// runnable deployment.
	StepStartIdleDeploys

	// StepDeleteProject removes the project row once teardown finished.
	StepDeleteProject
)

func (k StepKind) String() string {
	switch k {
	case StepRefresh:
		return "refresh"
	case StepRunUntilDone:
		return "run_until_done"
	case StepStart:
		return "start"
	case StepStop:
		return "stop"
	case StepDestroy:
		return "destroy"
	case StepRecreate:
		return "recreate"
	case StepStartIdleDeploys:
		return "start_idle_deploys"
	case StepDeleteProject:
		return "delete_project"
	default:
		return "unknown"
	}
}

// Step is one unit of a task's step sequence.
type Step struct {
	Kind StepKind

	// FQDN is only read by StepRecreate.
	FQDN string
}

// ResultKind classifies the outcome of polling one step.
type ResultKind int

const (
	// ResultPending means the step made no terminal progress; poll again
	// after a short sleep.
	ResultPending ResultKind = iota

	// ResultDone means the step finished; State, when set, is committed.
	ResultDone

	// ResultTryAgain means poll again immediately (a CAS race lost).
	ResultTryAgain

	// ResultCancelled aborts the task without committing anything.
	ResultCancelled

	// ResultErr aborts the task and commits Errored with the message.
	ResultErr
)

// StepResult is what a runner returns for one poll of one step.
type StepResult struct {
	Kind    ResultKind
	State   *types.ProjectState
	Message string

	// committed marks states the runner already persisted itself, e.g.
	// under a compare-and-set; the worker must not write them again.
	committed bool
}

// Done builds a successful result carrying the state to commit.
func Done(state types.ProjectState) StepResult {
	return StepResult{Kind: ResultDone, State: &state}
}

// Committed builds a successful result whose state the runner already
// persisted.
func Committed(state types.ProjectState) StepResult {
	return StepResult{Kind: ResultDone, State: &state, committed: true}
}

// TryAgain builds an immediate-retry result for lost CAS races.
func TryAgain() StepResult {
	return StepResult{Kind: ResultTryAgain}
}

// DoneNoCommit builds a successful result with nothing to persist.
func DoneNoCommit() StepResult {
	return StepResult{Kind: ResultDone}
}

// Pending builds a poll-again-later result.
func Pending() StepResult {
	return StepResult{Kind: ResultPending}
}

// Errf builds a failure result; the worker commits Errored{message}.
func Errf(message string) StepResult {
	return StepResult{Kind: ResultErr, Message: message}
}

// StepRunner interprets one step against one project. Implementations
// look the record up by name; tasks never hold record references.
type StepRunner interface {
	RunStep(ctx context.Context, projectName string, step Step) StepResult
}

// Task is a project-scoped sequence of steps. Tasks are transient; on
// gateway restart they are rebuilt from persisted project state.
type Task struct {
	Project string
	steps   []Step
	idx     int
	handle  *Handle
}

// NewTask starts a builder for the named project.
func NewTask(project string) *Task {
	return &Task{Project: project, handle: newHandle()}
}

// AndThen appends a step and returns the task for chaining.
func (t *Task) AndThen(step Step) *Task {
	t.steps = append(t.steps, step)
	return t
}

// Refresh appends a single reconcile hop.
func (t *Task) Refresh() *Task {
	return t.AndThen(Step{Kind: StepRefresh})
}

// RunUntilDone appends a loop of reconcile hops until stable.
func (t *Task) RunUntilDone() *Task {
	return t.AndThen(Step{Kind: StepRunUntilDone})
}

// Start appends an explicit start request.
func (t *Task) Start() *Task {
	return t.AndThen(Step{Kind: StepStart})
}

// Stop appends an explicit stop request.
func (t *Task) Stop() *Task {
	return t.AndThen(Step{Kind: StepStop})
}

// Destroy appends a teardown request.
func (t *Task) Destroy() *Task {
	return t.AndThen(Step{Kind: StepDestroy})
}

// Recreate appends a destroy-and-recreate with a new fqdn.
func (t *Task) Recreate(fqdn string) *Task {
	return t.AndThen(Step{Kind: StepRecreate, FQDN: fqdn})
}

// StartIdleDeploys appends a deploy replay request.
func (t *Task) StartIdleDeploys() *Task {
	return t.AndThen(Step{Kind: StepStartIdleDeploys})
}

// DeleteProject appends the final row removal.
func (t *Task) DeleteProject() *Task {
	return t.AndThen(Step{Kind: StepDeleteProject})
}

// Handle returns the awaitable tied to this task.
func (t *Task) Handle() *Handle {
	return t.handle
}

// Handle resolves when its task terminates.
type Handle struct {
	done  chan struct{}
	state types.ProjectState
	err   error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(state types.ProjectState, err error) {
	h.state = state
	h.err = err
	close(h.done)
}

// Wait blocks until the task terminates or the context is done. It
// returns the last committed state.
func (h *Handle) Wait(ctx context.Context) (types.ProjectState, error) {
	select {
	case <-h.done:
		return h.state, h.err
	case <-ctx.Done():
		return types.ProjectState{}, ctx.Err()
	}
}

// Done exposes the completion channel for select loops.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
