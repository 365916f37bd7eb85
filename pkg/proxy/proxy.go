package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

// Waker resolves a project by name and, when it is not running, starts
// it and hands back a handle that resolves on readiness.
type Waker interface {
	WakeProject(ctx context.Context, name string) (*types.Project, *worker.Handle, error)
}

// UserProxy terminates TLS for user traffic, resolves the Host header
// to a project, wakes stopped projects on demand, and forwards the
// request to the project container.
type UserProxy struct {
	waker     Waker
	domains   storage.CustomDomainStore
	proxyFQDN string
	userPort  int

	// wakeTimeout bounds how long one request waits for a cold project.
	wakeTimeout time.Duration

	transport http.RoundTripper
}

// NewUserProxy creates the user-facing proxy for the wildcard domain.
func NewUserProxy(waker Waker, domains storage.CustomDomainStore, proxyFQDN string) *UserProxy {
	return &UserProxy{
		waker:       waker,
		domains:     domains,
		proxyFQDN:   strings.ToLower(proxyFQDN),
		userPort:    types.UserServicePort,
		wakeTimeout: 60 * time.Second,
		transport:   http.DefaultTransport,
	}
}

func (p *UserProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectName, err := p.resolveHost(r.Context(), stripPort(r.Host))
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("bad_host").Inc()
		writeError(w, err)
		return
	}

	targetIP, err := p.findOrStart(r.Context(), projectName)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("not_ready").Inc()
		writeError(w, err)
		return
	}

	p.forward(w, r, projectName, targetIP)
}

// resolveHost classifies the host as a wildcard subdomain or a custom
// domain and returns the owning project name.
func (p *UserProxy) resolveHost(ctx context.Context, host string) (string, error) {
	if host == "" {
		return "", types.NewError(types.KindBadHost)
	}

	if name, ok := strings.CutSuffix(host, "."+p.proxyFQDN); ok {
		if types.ValidateProjectName(name) != nil {
			return "", types.NewError(types.KindBadHost)
		}
		return name, nil
	}

	domain, err := p.domains.FindCustomDomain(ctx, host)
	if err != nil {
		return "", types.NewError(types.KindBadHost)
	}
	return domain.ProjectName, nil
}

// findOrStart returns the address of a ready project, waking it first
// when necessary. The caller's request blocks for the wake.
func (p *UserProxy) findOrStart(ctx context.Context, projectName string) (string, error) {
	project, handle, err := p.waker.WakeProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	if handle == nil {
		// already ready
		return project.State.TargetIP, nil
	}

	metrics.ProxyRequestsTotal.WithLabelValues("wake").Inc()
	waitCtx, cancel := context.WithTimeout(ctx, p.wakeTimeout)
	defer cancel()

	state, err := handle.Wait(waitCtx)
	if err != nil {
		log.WithProject(projectName).Warn().Err(err).Msg("Wake did not complete in time")
		return "", types.NewError(types.KindProjectNotReady)
	}
	if state.Kind != types.StateReady || state.TargetIP == "" {
		return "", types.NewError(types.KindProjectNotReady)
	}
	return state.TargetIP, nil
}

func (p *UserProxy) forward(w http.ResponseWriter, r *http.Request, projectName, targetIP string) {
	target := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(targetIP, fmt.Sprint(p.userPort)),
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = r.Host
			pr.Out.Header.Set(types.ProjectHeader, projectName)
			otel.GetTextMapPropagator().Inject(pr.In.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			// upstream failures never mutate project state; the health
			// sweep reconciles
			metrics.ProxyRequestsTotal.WithLabelValues("upstream_error").Inc()
			log.WithProject(projectName).Warn().Err(err).Msg("Upstream request failed")
			writeError(w, types.NewError(types.KindUpstream))
		},
	}

	metrics.ProxyRequestsTotal.WithLabelValues("forwarded").Inc()
	proxy.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, err error) {
	taxErr, ok := err.(*types.Error)
	if !ok {
		taxErr = types.WrapError(types.KindInternal, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(taxErr.Status())
	fmt.Fprintf(w, `{"code":%q,"message":%q}`, taxErr.Kind, taxErr.Message)
}
