package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hangarlabs/hangar/pkg/auth"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

func (rt *Router) getStatus(w http.ResponseWriter, r *http.Request) {
	report := rt.status.Report(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (rt *Router) getVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.VersionInfo{
		Gateway:  Version,
		CLI:      Version,
		Deployer: Version,
		Runtime:  Version,
	})
}

func (rt *Router) getCLIVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(Version))
}

// checkProjectName reports whether the name is valid and unclaimed.
func (rt *Router) checkProjectName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := types.ValidateProjectName(name); err != nil {
		writeError(w, types.NewError(types.KindInvalidProjectName))
		return
	}

	_, err := rt.store.FindProject(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusOK, true)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, false)
	}
}

type createProjectRequest struct {
	IdleMinutes *uint64 `json:"idle_minutes"`
}

func (rt *Router) createProject(w http.ResponseWriter, r *http.Request) {
	claim := auth.ClaimFromContext(r.Context())
	name := chi.URLParam(r, "name")

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}
	idle := uint64(types.DefaultIdleMinutes)
	if req.IdleMinutes != nil {
		idle = *req.IdleMinutes
	}

	p, _, err := rt.service.CreateProject(r.Context(), claim, name, idle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

func (rt *Router) getProject(w http.ResponseWriter, r *http.Request) {
	claim := auth.ClaimFromContext(r.Context())
	p, err := rt.service.FindProject(r.Context(), claim, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

func (rt *Router) listProjects(w http.ResponseWriter, r *http.Request) {
	claim := auth.ClaimFromContext(r.Context())
	page, limit := pageParams(r)

	infos, err := rt.service.ListProjects(r.Context(), claim, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (rt *Router) stopProject(w http.ResponseWriter, r *http.Request) {
	claim := auth.ClaimFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if _, err := rt.service.StopProject(r.Context(), claim, name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": string(types.StateStopping)})
}

func (rt *Router) deleteProject(w http.ResponseWriter, r *http.Request) {
	claim := auth.ClaimFromContext(r.Context())
	name := chi.URLParam(r, "name")

	// the dry_run query flag is accepted for older clients but ignored
	handle, err := rt.service.DeleteProject(r.Context(), claim, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := handle.Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "project successfully deleted")
}

func (rt *Router) recordLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}
	granted := rt.load.Acquire(req.ID)
	writeJSON(w, http.StatusOK, types.LoadResponse{HasCapacity: granted})
}

func (rt *Router) clearLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}
	rt.load.Release(req.ID)
	writeJSON(w, http.StatusOK, types.LoadResponse{HasCapacity: rt.load.HasCapacity()})
}
