package deployer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/resource"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

// deployRequest is the MessagePack-framed body of a deploy POST.
type deployRequest struct {
	Data []byte               `msgpack:"data"`
	Meta types.DeploymentMeta `msgpack:"meta"`
}

// Router serves one project's deploy API and forwards everything else
// to the running service. The gateway fronts this listener; there is no
// authentication layer here.
type Router struct {
	store     *Store
	manager   *Manager
	recorder  *Recorder
	resources *resource.Broker
	project   string
	proxyFQDN string

	upgrader websocket.Upgrader
}

// NewRouter wires the deploy surface for the named project.
func NewRouter(store *Store, manager *Manager, recorder *Recorder, resources *resource.Broker, project, proxyFQDN string) *Router {
	return &Router{
		store:     store,
		manager:   manager,
		recorder:  recorder,
		resources: resources,
		project:   project,
		proxyFQDN: proxyFQDN,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Handler builds the chi mux.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestLogger)

	r.Route("/projects/{project}", func(r chi.Router) {
		r.Get("/status", rt.getStatus)
		r.Post("/clean", rt.postClean)
		r.Get("/services", rt.listServices)

		r.Route("/services/{service}", func(r chi.Router) {
			r.Post("/", rt.postService)
			r.Get("/", rt.getService)
			r.Delete("/", rt.deleteService)
			r.Get("/resources", rt.getResources)
			r.Delete("/resources/{type}", rt.deleteResource)
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", rt.getDeployments)
			r.Get("/{id}", rt.getDeployment)
			r.Delete("/{id}", rt.deleteDeployment)
			r.Put("/{id}", rt.putDeployment)
			r.Get("/{id}/logs", rt.getLogs)
		})
	})
	r.Get("/ws/deployments/{id}/logs", rt.wsLogs)

	// anything else is user traffic for the running service
	r.NotFound(rt.proxyUser)

	return r
}

func (rt *Router) postService(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, types.CreateServiceBodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, types.NewError(types.KindPayloadTooLarge))
			return
		}
		writeError(w, types.WrapError(types.KindBadRequest, err))
		return
	}

	var req deployRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		writeError(w, types.WrapError(types.KindBadRequest, err))
		return
	}
	req.Meta.TruncateGitStrings()

	svc, err := rt.store.GetOrCreateService(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, err)
		return
	}

	d := &types.Deployment{
		ID:           uuid.New(),
		ServiceID:    svc.ID,
		State:        types.DeploymentQueued,
		LastUpdate:   time.Now(),
		GitCommitID:  req.Meta.GitCommitID,
		GitCommitMsg: req.Meta.GitCommitMsg,
		GitBranch:    req.Meta.GitBranch,
		GitDirty:     req.Meta.GitDirty,
	}
	if err := rt.store.InsertDeployment(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.manager.Queue(d, req.Data); err != nil {
		writeError(w, types.WrapError(types.KindCapacityExhausted, err))
		return
	}

	log.WithDeployment(d.ID.String()).Info().
		Str("service", svc.Name).
		Int("archive_bytes", len(req.Data)).
		Msg("Deployment accepted")
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := rt.store.Services(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (rt *Router) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := rt.findService(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, err)
		return
	}

	summary := types.ServiceSummary{
		Name: svc.Name,
		URI:  fmt.Sprintf("https://%s.%s", rt.project, rt.proxyFQDN),
	}
	deployments, err := rt.store.Deployments(r.Context(), svc.ID, 0, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(deployments) > 0 {
		summary.Deployment = &deployments[0]
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) deleteService(w http.ResponseWriter, r *http.Request) {
	svc, err := rt.findService(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, err)
		return
	}

	running, err := rt.store.RunningDeployments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, d := range running {
		if d.ServiceID == svc.ID {
			rt.manager.Kill(d.ID)
		}
	}

	if err := rt.store.DeleteService(r.Context(), svc.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": svc.Name, "status": "deleted"})
}

func (rt *Router) getResources(w http.ResponseWriter, r *http.Request) {
	resources, err := rt.resources.List(r.Context(), rt.project)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

func (rt *Router) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := rt.resources.Delete(r.Context(), rt.project, chi.URLParam(r, "type")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (rt *Router) getDeployments(w http.ResponseWriter, r *http.Request) {
	svc, err := rt.findService(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit := pageParams(r)
	deployments, err := rt.store.Deployments(r.Context(), svc.ID, page*limit, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (rt *Router) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := rt.findDeployment(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := rt.findDeployment(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.manager.Kill(d.ID)
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) putDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := rt.findDeployment(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rt.manager.Restart(r.Context(), d.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": d.ID.String(), "status": "restarting"})
}

func (rt *Router) getLogs(w http.ResponseWriter, r *http.Request) {
	d, err := rt.findDeployment(r)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := rt.store.Logs(r.Context(), d.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// wsLogs replays the stored stream and then tails live lines until the
// client goes away.
func (rt *Router) wsLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}
	if _, err := rt.store.FindDeployment(r.Context(), id); err != nil {
		writeError(w, mapStoreErr(err))
		return
	}

	live, cancel := rt.recorder.Subscribe(id)
	defer cancel()

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	backlog, err := rt.store.Logs(r.Context(), id)
	if err != nil {
		return
	}
	for _, item := range backlog {
		if err := conn.WriteJSON(item); err != nil {
			return
		}
	}

	// reads only surface the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case item := <-live:
			if err := conn.WriteJSON(item); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (rt *Router) postClean(w http.ResponseWriter, r *http.Request) {
	svc, err := rt.findService(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := rt.store.CleanLogs(r.Context(), svc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithComponent("deployer").Info().Int64("lines", n).Msg("Cleaned finished deployment logs")
	writeJSON(w, http.StatusOK, map[string]int64{"cleaned": n})
}

func (rt *Router) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// proxyUser forwards user traffic to the most recent running
// deployment's bound address.
func (rt *Router) proxyUser(w http.ResponseWriter, r *http.Request) {
	running, err := rt.store.RunningDeployments(r.Context())
	if err != nil || len(running) == 0 {
		writeError(w, types.NewError(types.KindProjectNotReady))
		return
	}
	latest := running[0]
	for _, d := range running[1:] {
		if d.LastUpdate.After(latest.LastUpdate) {
			latest = d
		}
	}

	target := &url.URL{Scheme: "http", Host: latest.Address}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, types.NewError(types.KindUpstream))
	}
	proxy.ServeHTTP(w, r)
}

func (rt *Router) findService(ctx context.Context, name string) (*types.Service, error) {
	svc, err := rt.store.FindService(ctx, name)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return svc, nil
}

func (rt *Router) findDeployment(r *http.Request) (*types.Deployment, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, types.NewError(types.KindBadRequest)
	}
	d, err := rt.store.FindDeployment(r.Context(), id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return d, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewError(types.KindProjectNotFound)
	}
	return err
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
		log.WithComponent("deployer").Error().Err(err).Msg("Internal error")
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

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithComponent("deployer").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
