package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

var (
	// ErrQueueFull is returned by Enqueue when the worker is saturated.
	ErrQueueFull = errors.New("task queue is full")

	// ErrCancelled resolves handles of tasks aborted by shutdown.
	ErrCancelled = errors.New("task cancelled")
)

// TaskWorker executes project-scoped tasks from a bounded FIFO queue.
// At most one task runs per project at a time; tasks for a busy project
// queue behind the running one in arrival order.
type TaskWorker struct {
	runner StepRunner
	store  storage.ProjectStore

	queue  chan *Task
	stopCh chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	busy    map[string]bool
	waiting map[string][]*Task

	pollInterval time.Duration
}

// NewTaskWorker creates a worker with the standard queue capacity.
func NewTaskWorker(runner StepRunner, store storage.ProjectStore) *TaskWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskWorker{
		runner:       runner,
		store:        store,
		queue:        make(chan *Task, types.WorkerQueueSize),
		stopCh:       make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		busy:         make(map[string]bool),
		waiting:      make(map[string][]*Task),
		pollInterval: 100 * time.Millisecond,
	}
}

// Start launches the dispatch loop.
func (w *TaskWorker) Start() {
	w.wg.Add(1)
	go w.dispatch()
	log.WithComponent("worker").Info().
		Int("capacity", cap(w.queue)).
		Msg("Task worker started")
}

// Stop cancels running tasks and waits for the worker to drain.
func (w *TaskWorker) Stop() {
	close(w.stopCh)
	w.cancel()
	w.wg.Wait()
	log.WithComponent("worker").Info().Msg("Task worker stopped")
}

// Enqueue submits a task without blocking. The returned handle resolves
// when the task terminates.
func (w *TaskWorker) Enqueue(task *Task) (*Handle, error) {
	if len(task.steps) == 0 {
		return nil, fmt.Errorf("task for %s has no steps", task.Project)
	}
	select {
	case w.queue <- task:
		metrics.WorkerQueueDepth.Set(float64(len(w.queue)))
		return task.handle, nil
	default:
		metrics.TasksRejected.Inc()
		return nil, ErrQueueFull
	}
}

// QueueRemaining reports free queue slots.
func (w *TaskWorker) QueueRemaining() int {
	return cap(w.queue) - len(w.queue)
}

// HasCapacity reports whether the worker is comfortably below saturation.
func (w *TaskWorker) HasCapacity() bool {
	return w.QueueRemaining() > types.SvcDegradedThreshold
}

func (w *TaskWorker) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.queue:
			metrics.WorkerQueueDepth.Set(float64(len(w.queue)))
			w.admit(task)
		}
	}
}

// admit runs the task now or parks it behind the project's running task.
func (w *TaskWorker) admit(task *Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy[task.Project] {
		w.waiting[task.Project] = append(w.waiting[task.Project], task)
		return
	}
	w.busy[task.Project] = true
	w.wg.Add(1)
	go w.run(task)
}

// release frees the project slot and promotes the next parked task.
func (w *TaskWorker) release(project string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	queued := w.waiting[project]
	if len(queued) == 0 {
		delete(w.busy, project)
		delete(w.waiting, project)
		return
	}
	next := queued[0]
	w.waiting[project] = queued[1:]
	w.wg.Add(1)
	go w.run(next)
}

func (w *TaskWorker) run(task *Task) {
	defer w.wg.Done()
	defer w.release(task.Project)

	logger := log.WithProject(task.Project)
	var lastState types.ProjectState

	for ; task.idx < len(task.steps); task.idx++ {
		step := task.steps[task.idx]
	poll:
		for {
			if w.ctx.Err() != nil {
				metrics.TasksTotal.WithLabelValues("cancelled").Inc()
				task.handle.resolve(lastState, ErrCancelled)
				return
			}

			result := w.runner.RunStep(w.ctx, task.Project, step)
			switch result.Kind {
			case ResultPending:
				select {
				case <-time.After(w.pollInterval):
				case <-w.ctx.Done():
				}

			case ResultTryAgain:
				// lost a CAS race; re-read and retry immediately

			case ResultDone:
				if result.State != nil {
					if err := w.commitResult(task.Project, result); err != nil {
						logger.Error().Err(err).
							Str("step", step.Kind.String()).
							Msg("Failed to commit task state")
						metrics.TasksTotal.WithLabelValues("error").Inc()
						task.handle.resolve(lastState, err)
						return
					}
					lastState = *result.State
				}
				break poll

			case ResultCancelled:
				metrics.TasksTotal.WithLabelValues("cancelled").Inc()
				task.handle.resolve(lastState, ErrCancelled)
				return

			case ResultErr:
				logger.Error().
					Str("step", step.Kind.String()).
					Str("message", result.Message).
					Msg("Task step failed")
				errored := types.NewStateErrored(result.Message)
				if err := w.commit(task.Project, errored); err != nil {
					logger.Error().Err(err).Msg("Failed to commit errored state")
				}
				metrics.TasksTotal.WithLabelValues("error").Inc()
				task.handle.resolve(errored, fmt.Errorf("step %s failed: %s", step.Kind, result.Message))
				return
			}
		}
	}

	metrics.TasksTotal.WithLabelValues("done").Inc()
	task.handle.resolve(lastState, nil)
}

// commitResult persists a Done state unless the runner already did.
func (w *TaskWorker) commitResult(project string, result StepResult) error {
	if result.committed {
		return nil
	}
	return w.commit(project, *result.State)
}

// commit writes a state blindly; steps that care about races return
// TryAgain from their own CAS instead.
func (w *TaskWorker) commit(project string, state types.ProjectState) error {
	err := w.store.UpdateProjectState(w.ctx, project, nil, state)
	if errors.Is(err, storage.ErrNotFound) {
		// the project row was deleted under the task; nothing to record
		return nil
	}
	return err
}
