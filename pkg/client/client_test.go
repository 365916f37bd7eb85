package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/types"
)

// testDeployer runs an httptest server and points the client's port at it.
func testDeployer(t *testing.T, handler http.Handler) (*DeployerClient, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewDeployerClient()
	c.port = port
	return c, host
}

func TestGetDeployments(t *testing.T) {
	want := []types.Deployment{
		{ID: uuid.New(), State: types.DeploymentRunning, LastUpdate: time.Now().UTC().Truncate(time.Second)},
		{ID: uuid.New(), State: types.DeploymentCompleted, LastUpdate: time.Now().UTC().Truncate(time.Second)},
	}
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/matrix/deployments", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(want)
	}))

	got, err := c.GetDeployments(context.Background(), host, "matrix", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.Equal(t, types.DeploymentRunning, got[0].State)
}

func TestStopDeployment(t *testing.T) {
	id := uuid.New()
	var gotMethod, gotPath string
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.StopDeployment(context.Background(), host, "matrix", id.String()))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/projects/matrix/deployments/"+id.String(), gotPath)
}

func TestUpstreamErrorsCarryTaxonomy(t *testing.T) {
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.GetDeployments(context.Background(), host, "matrix", 0, 10)
	var taxErr *types.Error
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, types.KindUpstream, taxErr.Kind)
}

func TestNotFoundMapsToProjectNotFound(t *testing.T) {
	c, host := testDeployer(t, http.NotFoundHandler())

	_, err := c.GetService(context.Background(), host, "matrix")
	var taxErr *types.Error
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, types.KindProjectNotFound, taxErr.Kind)
}

func TestStartIdleDeploysRestartsLatestRunnable(t *testing.T) {
	// a destroyed container leaves its long-running service behind as
	// running; that record is the one to replay
	latest := types.Deployment{ID: uuid.New(), State: types.DeploymentRunning}
	older := types.Deployment{ID: uuid.New(), State: types.DeploymentCompleted}
	var restarted string
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]types.Deployment{latest, older})
		case r.Method == http.MethodPut:
			restarted = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, c.StartIdleDeploys(context.Background(), host, "matrix"))
	assert.Equal(t, "/projects/matrix/deployments/"+latest.ID.String(), restarted)
}

func TestStartIdleDeploysSkipsPastBuildingRecords(t *testing.T) {
	building := types.Deployment{ID: uuid.New(), State: types.DeploymentBuilding}
	stopped := types.Deployment{ID: uuid.New(), State: types.DeploymentStopped}
	var restarted string
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]types.Deployment{building, stopped})
		case r.Method == http.MethodPut:
			restarted = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, c.StartIdleDeploys(context.Background(), host, "matrix"))
	assert.Equal(t, "/projects/matrix/deployments/"+stopped.ID.String(), restarted)
}

func TestStartIdleDeploysNoRunnableIsNoop(t *testing.T) {
	queued := types.Deployment{ID: uuid.New(), State: types.DeploymentQueued}
	c, host := testDeployer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			t.Error("a queued deployment must not be restarted")
		}
		json.NewEncoder(w).Encode([]types.Deployment{queued})
	}))

	require.NoError(t, c.StartIdleDeploys(context.Background(), host, "matrix"))
}
