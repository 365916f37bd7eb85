package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hangarlabs/hangar/pkg/acme"
	"github.com/hangarlabs/hangar/pkg/auth"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/resolver"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

// Version is stamped at build time.
var Version = "0.0.0-dev"

// Router serves the gateway management API on the control listener.
type Router struct {
	service  *Service
	store    storage.Store
	verifier *auth.Verifier
	acme     *acme.Driver
	resolver *resolver.CertResolver
	load     *LoadMonitor
	status   *StatusAggregator
	admin    string
	proxyTo  http.Handler
}

// NewRouter wires the management surface. proxyTo handles the catch-all
// forwarding of /projects/{name}/* into the project's deployer; nil
// disables it.
func NewRouter(service *Service, store storage.Store, verifier *auth.Verifier, acmeDriver *acme.Driver, certs *resolver.CertResolver, load *LoadMonitor, status *StatusAggregator, adminKey string, proxyTo http.Handler) *Router {
	return &Router{
		service:  service,
		store:    store,
		verifier: verifier,
		acme:     acmeDriver,
		resolver: certs,
		load:     load,
		status:   status,
		admin:    adminKey,
		proxyTo:  proxyTo,
	}
}

// Handler builds the chi mux.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestMetrics)
	r.Use(requestLogger)

	r.Get("/", rt.getStatus)
	r.Get("/versions", rt.getVersions)
	r.Get("/version/cli", rt.getCLIVersion)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.JWT(rt.verifier))

		r.With(auth.Scoped(types.ScopeProject)).Get("/projects", rt.listProjects)
		r.With(auth.Scoped(types.ScopeProject)).Get("/projects/name/{name}", rt.checkProjectName)
		r.With(auth.Scoped(types.ScopeProject)).Get("/projects/{name}", rt.getProject)
		r.With(auth.Scoped(types.ScopeProjectWrite)).Post("/projects/{name}", rt.createProject)
		r.With(auth.Scoped(types.ScopeProjectWrite)).Delete("/projects/{name}", rt.stopProject)
		r.With(auth.Scoped(types.ScopeProjectWrite)).Delete("/projects/{name}/delete", rt.deleteProject)

		r.With(auth.Scoped(types.ScopeDeploymentWrite)).Post("/stats/load", rt.recordLoad)
		r.With(auth.Scoped(types.ScopeDeploymentWrite)).Delete("/stats/load", rt.clearLoad)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AdminSecret(rt.admin))

			r.Get("/projects", rt.adminListProjects)
			r.Post("/revive", rt.adminRevive)
			r.Post("/destroy", rt.adminDestroy)
			r.Post("/idle-cch", rt.adminIdleCCH)
			r.Get("/stats/load", rt.adminGetLoad)
			r.Delete("/stats/load", rt.adminClearLoad)
			r.Post("/acme/{email}", rt.adminCreateAcmeAccount)
			r.Post("/acme/request/{project}/{fqdn}", rt.adminRequestCertificate)
			r.Post("/acme/renew/{project}/{fqdn}", rt.adminRenewCertificate)
			r.Post("/acme/gateway/renew", rt.adminRenewGateway)
		})

		if rt.proxyTo != nil {
			r.Handle("/projects/{name}/*", rt.proxyTo)
		}
	})

	return r
}

// writeJSON serializes a 2xx response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps any error onto the boundary taxonomy and serializes
// it as {code, message}.
func writeError(w http.ResponseWriter, err error) {
	var taxErr *types.Error
	if !errors.As(err, &taxErr) {
		log.WithComponent("api").Error().Err(err).Msg("Internal error")
		taxErr = types.WrapError(types.KindInternal, err)
	}
	writeJSON(w, taxErr.Status(), taxErr)
}

// pageParams parses zero-based ?page and ?limit with sane bounds.
func pageParams(r *http.Request) (page, limit uint32) {
	page64, _ := strconv.ParseUint(r.URL.Query().Get("page"), 10, 32)
	limit64, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 32)
	if err != nil || limit64 == 0 {
		limit64 = 32
	}
	if limit64 > 100 {
		limit64 = 100
	}
	return uint32(page64), uint32(limit64)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
