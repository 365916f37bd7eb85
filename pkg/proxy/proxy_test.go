package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

type stubWaker struct {
	fn func(ctx context.Context, name string) (*types.Project, *worker.Handle, error)
}

func (s *stubWaker) WakeProject(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
	return s.fn(ctx, name)
}

func seedProject(t *testing.T, store storage.Store, name string) *types.Project {
	t.Helper()
	p := &types.Project{
		Name:        name,
		Owner:       "tester",
		ProjectID:   uuid.NewString(),
		InitialKey:  uuid.NewString(),
		FQDN:        name + ".hangar.dev",
		IdleMinutes: types.DefaultIdleMinutes,
		State:       types.NewStateCreating(),
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

// upstream spins up a backend and returns it with its port, so tests
// can point the proxy's fixed user port at it.
func upstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, port
}

func readyProject(name, targetIP string) *types.Project {
	return &types.Project{
		Name: name,
		State: types.ProjectState{
			Kind:     types.StateReady,
			TargetIP: targetIP,
		},
	}
}

func testProxy(t *testing.T, waker Waker, port int) (*UserProxy, storage.Store) {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	p := NewUserProxy(waker, store, "hangar.dev")
	p.userPort = port
	p.wakeTimeout = 2 * time.Second
	return p, store
}

func proxyRequest(p *UserProxy, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestProxyForwardsToReadyProject(t *testing.T) {
	var gotProject, gotHost string
	_, port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotProject = r.Header.Get(types.ProjectHeader)
		gotHost = r.Host
		fmt.Fprint(w, "hello from app")
	})

	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		return readyProject(name, "127.0.0.1"), nil, nil
	}}
	p, _ := testProxy(t, waker, port)

	rec := proxyRequest(p, "myapp.hangar.dev", "/greet")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from app", rec.Body.String())
	assert.Equal(t, "myapp", gotProject)
	assert.Equal(t, "myapp.hangar.dev", gotHost, "original host forwarded to the app")
}

func TestProxyResolvesCustomDomains(t *testing.T) {
	var gotProject string
	_, port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotProject = r.Header.Get(types.ProjectHeader)
	})

	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		return readyProject(name, "127.0.0.1"), nil, nil
	}}
	p, store := testProxy(t, waker, port)

	seeded := seedProject(t, store, "shop")
	require.NoError(t, store.UpsertCustomDomain(context.Background(), &types.CustomDomain{
		FQDN:        "shop.example.com",
		ProjectName: seeded.Name,
	}))

	rec := proxyRequest(p, "shop.example.com", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shop", gotProject)
}

func TestProxyWakesStoppedProject(t *testing.T) {
	_, port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// the wake handle resolves through a real worker run
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	ready := types.ProjectState{Kind: types.StateReady, TargetIP: "127.0.0.1"}
	runner := runnerFunc(func(ctx context.Context, project string, step worker.Step) worker.StepResult {
		return worker.Committed(ready)
	})
	tw := worker.NewTaskWorker(runner, store)
	tw.Start()
	t.Cleanup(tw.Stop)

	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		handle, err := tw.Enqueue(worker.NewTask(name).Start())
		require.NoError(t, err)
		return &types.Project{Name: name, State: types.ProjectState{Kind: types.StateStopped}}, handle, nil
	}}
	p, _ := testProxy(t, waker, port)

	rec := proxyRequest(p, "sleepy.hangar.dev", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxyWakeEndingOffReadyIs503(t *testing.T) {
	errored := types.NewStateErrored("container exited")
	runner := runnerFunc(func(ctx context.Context, project string, step worker.Step) worker.StepResult {
		return worker.Committed(errored)
	})
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	tw := worker.NewTaskWorker(runner, store)
	tw.Start()
	t.Cleanup(tw.Stop)

	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		handle, err := tw.Enqueue(worker.NewTask(name).Start())
		require.NoError(t, err)
		return &types.Project{Name: name}, handle, nil
	}}
	p, _ := testProxy(t, waker, 1)

	rec := proxyRequest(p, "broken.hangar.dev", "/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "project_not_ready", errorCode(t, rec))
}

func TestProxyUnknownHostIs404(t *testing.T) {
	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		t.Fatal("waker must not be consulted for unknown hosts")
		return nil, nil, nil
	}}
	p, _ := testProxy(t, waker, 1)

	rec := proxyRequest(p, "stranger.example.com", "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "bad_host", errorCode(t, rec))
}

func TestProxyPropagatesWakerErrors(t *testing.T) {
	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		return nil, nil, types.NewError(types.KindProjectNotFound)
	}}
	p, _ := testProxy(t, waker, 1)

	rec := proxyRequest(p, "ghost.hangar.dev", "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "project_not_found", errorCode(t, rec))
}

func TestProxyUpstreamFailureIs502(t *testing.T) {
	waker := &stubWaker{fn: func(ctx context.Context, name string) (*types.Project, *worker.Handle, error) {
		// nothing listens on this port
		return readyProject(name, "127.0.0.1"), nil, nil
	}}
	p, _ := testProxy(t, waker, 1)

	rec := proxyRequest(p, "myapp.hangar.dev", "/")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type runnerFunc func(ctx context.Context, project string, step worker.Step) worker.StepResult

func (f runnerFunc) RunStep(ctx context.Context, project string, step worker.Step) worker.StepResult {
	return f(ctx, project, step)
}
