package deployer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/types"
)

func testRecorder(t *testing.T) (*Recorder, *Store) {
	t.Helper()
	s := testStore(t)
	return NewRecorder(s), s
}

func TestRecorderPersistsTransition(t *testing.T) {
	r, s := testRecorder(t)
	ctx := context.Background()

	svc, err := s.GetOrCreateService(ctx, "myapp")
	require.NoError(t, err)
	d := seedDeployment(t, s, svc.ID, types.DeploymentQueued, time.Now().UTC().Add(-time.Minute))

	r.RecordState(ctx, d.ID, types.DeploymentBuilding, "")

	got, err := s.FindDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentBuilding, got.State)
}

func TestRecorderDropsNilDeploymentID(t *testing.T) {
	r, _ := testRecorder(t)

	// must not panic and must not persist anything
	r.RecordState(context.Background(), uuid.Nil, types.DeploymentRunning, "")
}

func TestRecorderDropsUnknownDeployment(t *testing.T) {
	r, _ := testRecorder(t)

	r.RecordState(context.Background(), uuid.New(), types.DeploymentRunning, "")
}

func TestRecorderFansOutLogLines(t *testing.T) {
	r, s := testRecorder(t)
	ctx := context.Background()

	svc, err := s.GetOrCreateService(ctx, "myapp")
	require.NoError(t, err)
	d := seedDeployment(t, s, svc.ID, types.DeploymentBuilding, time.Now().UTC())

	live, cancel := r.Subscribe(d.ID)
	defer cancel()

	r.Log(ctx, d.ID, "compiling")

	select {
	case item := <-live:
		assert.Equal(t, "compiling", item.Line)
		assert.Equal(t, d.ID, item.DeploymentID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the log line")
	}

	stored, err := s.Logs(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "compiling", stored[0].Line)
}

func TestRecorderUnsubscribeStopsDelivery(t *testing.T) {
	r, s := testRecorder(t)
	ctx := context.Background()

	svc, err := s.GetOrCreateService(ctx, "myapp")
	require.NoError(t, err)
	d := seedDeployment(t, s, svc.ID, types.DeploymentBuilding, time.Now().UTC())

	live, cancel := r.Subscribe(d.ID)
	cancel()

	r.Log(ctx, d.ID, "after cancel")

	select {
	case item := <-live:
		t.Fatalf("received %q after unsubscribe", item.Line)
	default:
	}
}
