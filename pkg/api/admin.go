package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

func (rt *Router) adminListProjects(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.store.AdminProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// adminRevive re-enqueues start tasks for every errored project,
// typically after a gateway host reboot lost the container fleet.
func (rt *Router) adminRevive(w http.ResponseWriter, r *http.Request) {
	projects, err := rt.store.AllProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	revived := 0
	for _, p := range projects {
		if p.State.Kind != types.StateErrored {
			continue
		}
		if _, err := rt.service.enqueue(worker.NewTask(p.Name).Start().RunUntilDone()); err != nil {
			log.WithProject(p.Name).Warn().Err(err).Msg("Failed to enqueue revive")
			continue
		}
		revived++
	}

	log.WithComponent("admin").Info().Int("revived", revived).Msg("Revive sweep enqueued")
	writeJSON(w, http.StatusOK, map[string]int{"revived": revived})
}

type adminDestroyRequest struct {
	Projects []string `json:"projects"`
}

func (rt *Router) adminDestroy(w http.ResponseWriter, r *http.Request) {
	var req adminDestroyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Projects) == 0 {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}

	destroyed := 0
	for _, name := range req.Projects {
		if _, err := rt.store.FindProject(r.Context(), name); err != nil {
			continue
		}
		if _, err := rt.service.enqueue(worker.NewTask(name).Destroy().RunUntilDone()); err != nil {
			log.WithProject(name).Warn().Err(err).Msg("Failed to enqueue destroy")
			continue
		}
		destroyed++
	}
	writeJSON(w, http.StatusOK, map[string]int{"destroyed": destroyed})
}

// adminIdleCCH force-stops every running cch sandbox.
func (rt *Router) adminIdleCCH(w http.ResponseWriter, r *http.Request) {
	projects, err := rt.store.AllProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	stopped := 0
	for _, p := range projects {
		if !p.IsCCH() || p.State.Kind != types.StateReady {
			continue
		}
		if _, err := rt.service.enqueue(worker.NewTask(p.Name).Stop().RunUntilDone()); err != nil {
			log.WithProject(p.Name).Warn().Err(err).Msg("Failed to enqueue cch stop")
			continue
		}
		stopped++
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (rt *Router) adminGetLoad(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":       rt.load.Active(),
		"has_capacity": rt.load.HasCapacity(),
	})
}

func (rt *Router) adminClearLoad(w http.ResponseWriter, r *http.Request) {
	rt.load.Clear()
	writeJSON(w, http.StatusOK, types.LoadResponse{HasCapacity: true})
}

type acmeAccountRequest struct {
	DirectoryURL string `json:"directory_url,omitempty"`
}

func (rt *Router) adminCreateAcmeAccount(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	var req acmeAccountRequest
	// body is optional; a missing one means the default directory
	_ = json.NewDecoder(r.Body).Decode(&req)

	creds, err := rt.acme.CreateAccount(r.Context(), email, req.DirectoryURL)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(creds))
}

type acmeOrderRequest struct {
	Email string `json:"email"`
}

// adminRequestCertificate issues a certificate for a custom domain and
// rebuilds the project container with the new fqdn baked in.
func (rt *Router) adminRequestCertificate(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "project")
	fqdn := chi.URLParam(r, "fqdn")

	var req acmeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}
	if _, err := rt.store.FindProject(r.Context(), projectName); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, types.NewError(types.KindProjectNotFound))
		} else {
			writeError(w, err)
		}
		return
	}

	creds, err := rt.acme.FindAccount(r.Context(), req.Email)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}

	cert, err := rt.acme.Issue(r.Context(), fqdn, creds)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}

	domain := &types.CustomDomain{
		FQDN:         fqdn,
		ProjectName:  projectName,
		Certificate:  string(cert.ChainPEM),
		PrivateKey:   string(cert.KeyPEM),
		AccountCreds: creds,
	}
	if err := rt.store.UpsertCustomDomain(r.Context(), domain); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.resolver.ServePEM(fqdn, cert.ChainPEM, cert.KeyPEM); err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}

	// rebuild the container so the new fqdn reaches the deployer, then
	// replay the last deployment
	task := worker.NewTask(projectName).
		Destroy().RunUntilDone().
		Recreate(fqdn).RunUntilDone().
		StartIdleDeploys()
	if _, err := rt.service.enqueue(task); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fmt.Sprintf("New certificate created for %s project.", projectName))
}

func (rt *Router) adminRenewCertificate(w http.ResponseWriter, r *http.Request) {
	fqdn := chi.URLParam(r, "fqdn")

	domain, err := rt.store.FindCustomDomain(r.Context(), fqdn)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, types.NewError(types.KindCustomDomainNotFound))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	renewal, err := rt.acme.RenewIfNeeded(r.Context(), domain)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}
	if !renewal.Renewed {
		writeJSON(w, http.StatusOK, fmt.Sprintf(
			"Certificate renewal skipped, %s project certificate still valid for %d days.",
			domain.ProjectName, renewal.DaysRemaining))
		return
	}

	domain.Certificate = string(renewal.Certificate.ChainPEM)
	domain.PrivateKey = string(renewal.Certificate.KeyPEM)
	if err := rt.store.UpsertCustomDomain(r.Context(), domain); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.resolver.ServePEM(fqdn, renewal.Certificate.ChainPEM, renewal.Certificate.KeyPEM); err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf("Certificate renewed for %s project.", domain.ProjectName))
}

// adminRenewGateway re-issues the wildcard default certificate and
// swaps it into the resolver. The returned PEM chain is the caller's to
// persist.
func (rt *Router) adminRenewGateway(w http.ResponseWriter, r *http.Request) {
	var req acmeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, types.NewError(types.KindBadRequest))
		return
	}

	creds, err := rt.acme.FindAccount(r.Context(), req.Email)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}

	cert, err := rt.acme.Issue(r.Context(), rt.service.proxyFQDN, creds)
	if err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}
	if err := rt.resolver.ServeDefault(cert.ChainPEM, cert.KeyPEM); err != nil {
		writeError(w, types.WrapError(types.KindInternal, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"fqdn":        rt.service.proxyFQDN,
		"certificate": string(cert.ChainPEM),
	})
}
