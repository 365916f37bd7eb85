package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hangarlabs/hangar/pkg/health"
	"github.com/hangarlabs/hangar/pkg/types"
)

// CheckFunc probes one downstream dependency.
type CheckFunc func(ctx context.Context) health.Result

// StatusAggregator polls named dependencies and reports component
// health on the control plane root.
type StatusAggregator struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
}

// NewStatusAggregator creates an empty aggregator.
func NewStatusAggregator() *StatusAggregator {
	return &StatusAggregator{checks: make(map[string]CheckFunc)}
}

// Register adds a dependency check under a component name.
func (a *StatusAggregator) Register(component string, check CheckFunc) {
	a.mu.Lock()
	a.checks[component] = check
	a.mu.Unlock()
}

// RegisterHTTP adds an HTTP GET check against a URL.
func (a *StatusAggregator) RegisterHTTP(component, url string) {
	checker := health.NewHTTPChecker(url).WithTimeout(5 * time.Second)
	a.Register(component, checker.Check)
}

// Report runs every check and aggregates the outcome. Overall status is
// degraded as soon as one component is unhealthy.
func (a *StatusAggregator) Report(ctx context.Context) types.StatusResponse {
	a.mu.Lock()
	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(a.checks))
	for name, check := range a.checks {
		checks[name] = check
	}
	a.mu.Unlock()
	sort.Strings(names)

	resp := types.StatusResponse{Status: "ok"}
	for _, name := range names {
		result := checks[name](ctx)
		entry := types.ComponentStatus{Component: name, Healthy: result.Healthy}
		if !result.Healthy {
			entry.Message = result.Message
			resp.Status = "degraded"
		}
		resp.Components = append(resp.Components, entry)
	}
	return resp
}
