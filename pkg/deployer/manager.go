package deployer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

// ErrQueueFull is returned by Queue when the build queue is saturated.
var ErrQueueFull = errors.New("build queue is full")

// buildQueueSize bounds deploys waiting for a build slot.
const buildQueueSize = 64

// Builder turns an uploaded archive into a runnable workdir.
type Builder interface {
	Build(ctx context.Context, workdir string, archive []byte, logf func(string)) error
}

// Runner starts a built service and reports its bound address. The
// returned wait func blocks until the service exits.
type Runner interface {
	Start(ctx context.Context, deployment *types.Deployment, workdir string, logf func(string)) (address string, wait func() error, err error)
}

// Manager drives deployments through the pipeline
// queued, building, built, loading, running and into one of the
// terminal states. Builds are serialized; running services are
// supervised concurrently.
type Manager struct {
	store    *Store
	recorder *Recorder
	slots    SlotBroker
	builder  Builder
	runner   Runner
	workRoot string

	queue  chan *buildJob
	stopCh chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	killed  map[uuid.UUID]bool

	slotRetryInterval time.Duration
}

type buildJob struct {
	deployment *types.Deployment
	archive    []byte
}

// NewManager creates the pipeline around its collaborators. workRoot is
// where per-deployment workdirs are created.
func NewManager(store *Store, recorder *Recorder, slots SlotBroker, builder Builder, runner Runner, workRoot string) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:             store,
		recorder:          recorder,
		slots:             slots,
		builder:           builder,
		runner:            runner,
		workRoot:          workRoot,
		queue:             make(chan *buildJob, buildQueueSize),
		stopCh:            make(chan struct{}),
		ctx:               ctx,
		cancel:            cancel,
		running:           make(map[uuid.UUID]context.CancelFunc),
		killed:            make(map[uuid.UUID]bool),
		slotRetryInterval: 5 * time.Second,
	}
}

// Start launches the build loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
	log.WithComponent("deployer").Info().Msg("Deployment manager started")
}

// Stop cancels running services and waits for the build loop to drain.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.cancel()
	m.wg.Wait()
	log.WithComponent("deployer").Info().Msg("Deployment manager stopped")
}

// Queue accepts a freshly persisted deployment for building.
func (m *Manager) Queue(d *types.Deployment, archive []byte) error {
	select {
	case m.queue <- &buildJob{deployment: d, archive: archive}:
		metrics.BuildsQueued.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Kill stops a running deployment. It reports whether anything was
// running under the id.
func (m *Manager) Kill(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[id]
	if !ok {
		return false
	}
	m.killed[id] = true
	cancel()
	return true
}

// IsRunning reports whether the deployment's process is supervised
// right now.
func (m *Manager) IsRunning(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Restart reruns an already built deployment without rebuilding, used
// when a recreated container should pick up where it left off.
func (m *Manager) Restart(ctx context.Context, id uuid.UUID) error {
	if m.IsRunning(id) {
		return nil
	}
	d, err := m.store.FindDeployment(ctx, id)
	if err != nil {
		return err
	}
	if !d.State.IsRunnable() {
		// nothing built yet, there is no executable to start
		return mapStoreErr(storage.ErrNotFound)
	}
	return m.launch(d)
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case job := <-m.queue:
			m.build(job)
		}
	}
}

func (m *Manager) build(job *buildJob) {
	d := job.deployment
	logf := func(line string) { m.recorder.Log(m.ctx, d.ID, line) }

	if err := m.acquireSlot(m.ctx, d.ID.String()); err != nil {
		// shutdown while waiting; the row stays queued for recovery
		return
	}
	defer m.releaseSlot(d.ID.String())

	m.recorder.RecordState(m.ctx, d.ID, types.DeploymentBuilding, "")
	workdir := m.workdir(d.ID)
	if err := m.builder.Build(m.ctx, workdir, job.archive, logf); err != nil {
		log.WithDeployment(d.ID.String()).Warn().Err(err).Msg("Build failed")
		logf(types.EndMsgBuildErr)
		m.recorder.RecordState(m.ctx, d.ID, types.DeploymentCrashed, "")
		return
	}
	m.recorder.RecordState(m.ctx, d.ID, types.DeploymentBuilt, "")

	if err := m.launch(d); err != nil {
		log.WithDeployment(d.ID.String()).Warn().Err(err).Msg("Startup failed")
	}
}

// launch takes a built deployment through loading into running and
// supervises it until exit.
func (m *Manager) launch(d *types.Deployment) error {
	m.recorder.RecordState(m.ctx, d.ID, types.DeploymentLoading, "")

	runCtx, cancel := context.WithCancel(m.ctx)
	logf := func(line string) { m.recorder.Log(m.ctx, d.ID, line) }

	address, wait, err := m.runner.Start(runCtx, d, m.workdir(d.ID), logf)
	if err != nil {
		cancel()
		logf(types.EndMsgStartupErr)
		m.recorder.RecordState(m.ctx, d.ID, types.DeploymentCrashed, "")
		return err
	}

	m.mu.Lock()
	m.running[d.ID] = cancel
	m.mu.Unlock()

	m.recorder.RecordState(m.ctx, d.ID, types.DeploymentRunning, address)
	logf(types.RuntimeStartResponse)

	m.wg.Add(1)
	go m.supervise(d.ID, wait)
	return nil
}

func (m *Manager) supervise(id uuid.UUID, wait func() error) {
	defer m.wg.Done()
	err := wait()

	m.mu.Lock()
	killed := m.killed[id]
	delete(m.killed, id)
	delete(m.running, id)
	m.mu.Unlock()

	// Stop cancels every run context; treat shutdown like a kill so the
	// row does not land in crashed.
	select {
	case <-m.stopCh:
		killed = true
	default:
	}

	ctx := context.Background()
	switch {
	case killed:
		m.recorder.Log(ctx, id, types.EndMsgStopped)
		m.recorder.RecordState(ctx, id, types.DeploymentStopped, "")
	case err != nil:
		m.recorder.Log(ctx, id, types.EndMsgCrashed)
		m.recorder.RecordState(ctx, id, types.DeploymentCrashed, "")
	default:
		m.recorder.Log(ctx, id, types.EndMsgCompleted)
		m.recorder.RecordState(ctx, id, types.DeploymentCompleted, "")
	}
}

func (m *Manager) acquireSlot(ctx context.Context, id string) error {
	for {
		granted, err := m.slots.Acquire(ctx, id)
		if err != nil {
			log.WithDeployment(id).Warn().Err(err).Msg("Build slot request failed, retrying")
		} else if granted {
			metrics.BuildSlotsActive.Inc()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.slotRetryInterval):
		}
	}
}

func (m *Manager) releaseSlot(id string) {
	metrics.BuildSlotsActive.Dec()
	// release on a fresh context so shutdown does not leak the grant
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.slots.Release(ctx, id); err != nil {
		log.WithDeployment(id).Warn().Err(err).Msg("Failed to release build slot, the grant will expire")
	}
}

func (m *Manager) workdir(id uuid.UUID) string {
	return filepath.Join(m.workRoot, id.String())
}
