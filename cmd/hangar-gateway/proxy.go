package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hangarlabs/hangar/pkg/api"
	"github.com/hangarlabs/hangar/pkg/types"
)

// newDeployerProxy forwards control-plane calls under /projects/{name}/*
// into the project's deployer, waking the project first when needed.
func newDeployerProxy(service *api.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		project, handle, err := service.WakeProject(r.Context(), name)
		if err != nil {
			writeProxyError(w, err)
			return
		}

		targetIP := project.State.TargetIP
		if handle != nil {
			waitCtx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
			defer cancel()
			state, err := handle.Wait(waitCtx)
			if err != nil || state.Kind != types.StateReady || state.TargetIP == "" {
				writeProxyError(w, types.NewError(types.KindProjectNotReady))
				return
			}
			targetIP = state.TargetIP
		}

		target := &url.URL{
			Scheme: "http",
			Host:   net.JoinHostPort(targetIP, fmt.Sprint(types.UserServicePort)),
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			writeProxyError(w, types.WrapError(types.KindUpstream, err))
		}
		proxy.ServeHTTP(w, r)
	})
}

func writeProxyError(w http.ResponseWriter, err error) {
	var taxErr *types.Error
	if !errors.As(err, &taxErr) {
		taxErr = types.WrapError(types.KindInternal, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(taxErr.Status())
	json.NewEncoder(w).Encode(taxErr)
}
