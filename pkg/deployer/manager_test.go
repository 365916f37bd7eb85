package deployer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/types"
)

type stubSlots struct {
	denials  int32
	acquires int32
	releases int32
}

func (s *stubSlots) Acquire(ctx context.Context, id string) (bool, error) {
	atomic.AddInt32(&s.acquires, 1)
	if atomic.AddInt32(&s.denials, -1) >= 0 {
		return false, nil
	}
	return true, nil
}

func (s *stubSlots) Release(ctx context.Context, id string) error {
	atomic.AddInt32(&s.releases, 1)
	return nil
}

type stubBuilder struct {
	err error
}

func (b *stubBuilder) Build(ctx context.Context, workdir string, archive []byte, logf func(string)) error {
	return b.err
}

type stubRunner struct {
	startErr error
	runErr   error
	// block keeps the service "running" until closed; nil exits at once.
	block chan struct{}
}

func (r *stubRunner) Start(ctx context.Context, d *types.Deployment, workdir string, logf func(string)) (string, func() error, error) {
	if r.startErr != nil {
		return "", nil, r.startErr
	}
	wait := func() error {
		if r.block != nil {
			select {
			case <-r.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return r.runErr
	}
	return "127.0.0.1:9000", wait, nil
}

type managerFixture struct {
	manager  *Manager
	store    *Store
	slots    *stubSlots
	deployed *types.Deployment
}

func newManagerFixture(t *testing.T, builder Builder, runner Runner, slots *stubSlots) *managerFixture {
	t.Helper()
	s := testStore(t)
	rec := NewRecorder(s)
	m := NewManager(s, rec, slots, builder, runner, t.TempDir())
	m.slotRetryInterval = 5 * time.Millisecond
	m.Start()
	t.Cleanup(m.Stop)

	svc, err := s.GetOrCreateService(context.Background(), "myapp")
	require.NoError(t, err)
	d := seedDeployment(t, s, svc.ID, types.DeploymentQueued, time.Now().UTC().Add(-time.Minute))

	return &managerFixture{manager: m, store: s, slots: slots, deployed: d}
}

func (f *managerFixture) eventuallyState(t *testing.T, want types.DeploymentState) {
	t.Helper()
	require.Eventually(t, func() bool {
		d, err := f.store.FindDeployment(context.Background(), f.deployed.ID)
		return err == nil && d.State == want
	}, 5*time.Second, 10*time.Millisecond, "deployment never reached %s", want)
}

func (f *managerFixture) logLines(t *testing.T) []string {
	t.Helper()
	items, err := f.store.Logs(context.Background(), f.deployed.ID)
	require.NoError(t, err)
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Line)
	}
	return lines
}

func TestPipelineCompletes(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentCompleted)
	assert.Contains(t, f.logLines(t), types.RuntimeStartResponse)
	assert.Contains(t, f.logLines(t), types.EndMsgCompleted)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.slots.releases), "build slot released")
}

func TestPipelineBuildFailure(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{err: errors.New("compile error")}, &stubRunner{}, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentCrashed)
	assert.Contains(t, f.logLines(t), types.EndMsgBuildErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.slots.releases), "slot released on failure too")
}

func TestPipelineStartupFailure(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{startErr: errors.New("exec format error")}, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentCrashed)
	assert.Contains(t, f.logLines(t), types.EndMsgStartupErr)
}

func TestPipelineRuntimeCrash(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{runErr: errors.New("segfault")}, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentCrashed)
	assert.Contains(t, f.logLines(t), types.EndMsgCrashed)
}

func TestKillStopsRunningDeployment(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	f := newManagerFixture(t, &stubBuilder{}, runner, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentRunning)
	require.True(t, f.manager.Kill(f.deployed.ID))

	f.eventuallyState(t, types.DeploymentStopped)
	assert.Contains(t, f.logLines(t), types.EndMsgStopped)
	assert.False(t, f.manager.IsRunning(f.deployed.ID))
}

func TestKillUnknownDeployment(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, &stubSlots{})
	assert.False(t, f.manager.Kill(uuid.New()))
}

func TestBuildWaitsForSlotGrant(t *testing.T) {
	slots := &stubSlots{denials: 2}
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, slots)
	require.NoError(t, f.manager.Queue(f.deployed, nil))

	f.eventuallyState(t, types.DeploymentCompleted)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&slots.acquires), int32(3), "denied grants are retried")
}

func TestRestartRerunsBuiltDeployment(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, &stubSlots{})
	require.NoError(t, f.manager.Queue(f.deployed, nil))
	f.eventuallyState(t, types.DeploymentCompleted)

	require.NoError(t, f.manager.Restart(context.Background(), f.deployed.ID))

	// the rerun goes through loading and running again
	require.Eventually(t, func() bool {
		var completions int
		for _, line := range f.logLines(t) {
			if line == types.EndMsgCompleted {
				completions++
			}
		}
		return completions == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRestartUnknownDeployment(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, &stubSlots{})
	assert.Error(t, f.manager.Restart(context.Background(), uuid.New()))
}

func TestRestartQueuedDeploymentErrors(t *testing.T) {
	f := newManagerFixture(t, &stubBuilder{}, &stubRunner{}, &stubSlots{})

	// the seeded deployment is still queued, nothing has been built
	assert.Error(t, f.manager.Restart(context.Background(), f.deployed.ID))
}

func TestQueueFull(t *testing.T) {
	// a manager that was never started consumes nothing
	s := testStore(t)
	m := NewManager(s, NewRecorder(s), &stubSlots{}, &stubBuilder{}, &stubRunner{}, t.TempDir())

	d := &types.Deployment{ID: uuid.New()}
	for i := 0; i < buildQueueSize; i++ {
		require.NoError(t, m.Queue(d, nil))
	}
	assert.ErrorIs(t, m.Queue(d, nil), ErrQueueFull)
}
