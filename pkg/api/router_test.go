package api

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/acme"
	"github.com/hangarlabs/hangar/pkg/admission"
	"github.com/hangarlabs/hangar/pkg/auth"
	"github.com/hangarlabs/hangar/pkg/client"
	"github.com/hangarlabs/hangar/pkg/project"
	"github.com/hangarlabs/hangar/pkg/resolver"
	"github.com/hangarlabs/hangar/pkg/resource"
	"github.com/hangarlabs/hangar/pkg/runtime"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

// fakeRuntime keeps containers in a map; every container reports
// running with a loopback target address.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]runtime.Status
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]runtime.Status)}
}

func (f *fakeRuntime) Ensure(ctx context.Context, opts runtime.EnsureOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := "ctr-" + opts.ProjectName
	if _, ok := f.containers[handle]; !ok {
		f.containers[handle] = runtime.StatusCreated
	}
	return handle, nil
}

func (f *fakeRuntime) Start(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[handle] = runtime.StatusRunning
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, handle string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[handle] = runtime.StatusExited
	return nil
}

func (f *fakeRuntime) Destroy(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, handle)
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, handle string) (*runtime.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.containers[handle]
	if !ok {
		return &runtime.Inspection{Status: runtime.StatusNotFound}, nil
	}
	insp := &runtime.Inspection{Status: status}
	if status == runtime.StatusRunning {
		insp.TargetIP = "127.0.0.1"
	}
	return insp, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, handle string, argv []string) (string, error) {
	return "", nil
}

func (f *fakeRuntime) ManagedCounts(ctx context.Context) (runtime.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := runtime.Counts{}
	for handle, status := range f.containers {
		if status != runtime.StatusRunning {
			continue
		}
		counts.Running++
		if strings.HasPrefix(handle, "ctr-cch") {
			counts.RunningCCH++
		}
	}
	return counts, nil
}

type gatewayFixture struct {
	store   storage.Store
	runtime *fakeRuntime
	service *Service
	worker  *worker.TaskWorker
	server  *httptest.Server
	signer  *rsa.PrivateKey
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := newFakeRuntime()
	env := &project.Env{
		Runtime: rt,
		Config: project.Config{
			Image:        "hangar/deployer:test",
			ProxyFQDN:    "hangar.test",
			StopTimeout:  time.Second,
			ProbeTimeout: 100 * time.Millisecond,
			UserPort:     1, // probes fail; projects settle in Started
		},
	}
	adm := admission.NewController(store, rt, admission.Config{})
	service := NewService(store, env, adm, client.NewDeployerClient(), resource.NewBroker("http://recorder.test"), "hangar.test")

	w := worker.NewTaskWorker(service, store)
	service.BindWorker(w)
	w.Start()
	t.Cleanup(w.Stop)

	signer, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier := auth.NewVerifier(auth.StaticKey{Key: &signer.PublicKey})

	status := NewStatusAggregator()
	router := NewRouter(service, store, verifier,
		acme.NewDriver(store, acme.NewChallengeMap()),
		resolver.NewCertResolver(), NewLoadMonitor(), status, "admin-key", nil)

	server := httptest.NewServer(router.Handler())
	t.Cleanup(server.Close)

	return &gatewayFixture{
		store: store, runtime: rt, service: service,
		worker: w, server: server, signer: signer,
	}
}

func (f *gatewayFixture) token(t *testing.T, sub string, tier types.AccountTier, scopes ...types.Scope) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":    sub,
		"tier":   tier,
		"scopes": scopes,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.signer)
	require.NoError(t, err)
	return signed
}

func (f *gatewayFixture) do(t *testing.T, method, path, token string, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestGetVersions(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.do(t, http.MethodGet, "/versions", "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var versions types.VersionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	assert.Equal(t, Version, versions.Gateway)
}

func TestProjectRoutesRequireAuth(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.do(t, http.MethodGet, "/projects", "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetProject(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)

	resp := f.do(t, http.MethodPost, "/projects/matrix", token, `{"idle_minutes": 30}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info types.ProjectInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "matrix", info.Name)
	assert.Equal(t, uint64(30), info.IdleMinutes)

	resp = f.do(t, http.MethodGet, "/projects/matrix", token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := f.store.FindProject(context.Background(), "matrix")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ProjectID)
	assert.NotEmpty(t, stored.InitialKey)
}

func TestCreateProjectInvalidName(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProjectWrite)

	for _, name := range []string{"Matrix", "-matrix", "ab", "cch-reserved"} {
		resp := f.do(t, http.MethodPost, "/projects/"+name, token, `{}`)
		var body types.Error
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Equal(t, types.KindInvalidProjectName, body.Kind, name)
	}
}

func TestCreateProjectAccountLimit(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProjectWrite)

	for i := 0; i < types.MaxProjectsDefault; i++ {
		resp := f.do(t, http.MethodPost, fmt.Sprintf("/projects/matrix-%d", i), token, `{}`)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := f.do(t, http.MethodPost, "/projects/one-too-many", token, `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body types.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, types.KindProjectLimitExceeded, body.Kind)
}

func TestProjectsAreOwnerScoped(t *testing.T) {
	f := newGatewayFixture(t)
	neo := f.token(t, "neo", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)
	smith := f.token(t, "smith", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)

	resp := f.do(t, http.MethodPost, "/projects/matrix", neo, `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// another account neither sees the project nor may claim the name
	resp = f.do(t, http.MethodGet, "/projects/matrix", smith, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/projects/matrix", smith, `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body types.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, types.KindProjectAlreadyExists, body.Kind)
}

func TestCheckProjectName(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)

	resp := f.do(t, http.MethodGet, "/projects/name/matrix", token, "")
	var available bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&available))
	resp.Body.Close()
	assert.True(t, available)

	resp = f.do(t, http.MethodPost, "/projects/matrix", token, `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/projects/name/matrix", token, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&available))
	resp.Body.Close()
	assert.False(t, available)
}

func TestListProjectsPaginated(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierPro, types.ScopeProject, types.ScopeProjectWrite)

	for i := 0; i < 5; i++ {
		resp := f.do(t, http.MethodPost, fmt.Sprintf("/projects/matrix-%d", i), token, `{}`)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := f.do(t, http.MethodGet, "/projects?page=0&limit=3", token, "")
	var infos []types.ProjectInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	assert.Len(t, infos, 3)

	resp = f.do(t, http.MethodGet, "/projects?page=1&limit=3", token, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	assert.Len(t, infos, 2)
}

func TestScopeEnforcement(t *testing.T) {
	f := newGatewayFixture(t)
	readOnly := f.token(t, "neo", types.TierBasic, types.ScopeProject)

	resp := f.do(t, http.MethodPost, "/projects/matrix", readOnly, `{}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatsLoad(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "deployer", types.TierBasic, types.ScopeDeploymentWrite)

	resp := f.do(t, http.MethodPost, "/stats/load", token, `{"id": "deploy-1"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var load types.LoadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&load))

	resp = f.do(t, http.MethodDelete, "/stats/load", token, `{"id": "deploy-1"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesNeedSecret(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProject)

	resp := f.do(t, http.MethodGet, "/admin/stats/load", token, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/admin/stats/load", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(auth.AdminSecretHeader, "admin-key")
	adminResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	adminResp.Body.Close()
	assert.Equal(t, http.StatusOK, adminResp.StatusCode)
}

func TestDeleteStoppedProject(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)

	resp := f.do(t, http.MethodPost, "/projects/matrix", token, `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/projects/matrix/delete", token, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/projects/matrix", token, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRenewCertificateSkippedQuotesValidity(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "neo", types.TierBasic, types.ScopeProject, types.ScopeProjectWrite)

	resp := f.do(t, http.MethodPost, "/projects/matrix", token, `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.store.UpsertCustomDomain(context.Background(), &types.CustomDomain{
		FQDN:        "example.com",
		ProjectName: "matrix",
		Certificate: string(selfSignedPEM(t, time.Now().Add(90*24*time.Hour))),
	}))

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/admin/acme/renew/matrix/example.com", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(auth.AdminSecretHeader, "admin-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "Certificate renewal skipped, matrix project certificate still valid for")
}

// selfSignedPEM issues a throwaway certificate expiring at notAfter.
func selfSignedPEM(t *testing.T, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
