package api

import (
	"runtime"
	"sync"
	"time"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/types"
)

// LoadMonitor tracks in-flight builds across every deployer. Grants are
// TTL-bounded so a deployer that crashes mid-build cannot leak its slot
// forever.
type LoadMonitor struct {
	mu       sync.Mutex
	builds   map[string]time.Time
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// BuildCapacity derives the build slot count from the host CPUs.
func BuildCapacity() int {
	c := runtime.NumCPU() * 3 / 4 / 4
	if c < 1 {
		return 1
	}
	return c
}

// NewLoadMonitor creates a monitor with the derived capacity.
func NewLoadMonitor() *LoadMonitor {
	return &LoadMonitor{
		builds:   make(map[string]time.Time),
		capacity: BuildCapacity(),
		ttl:      types.BuildGrantTTL,
		now:      time.Now,
	}
}

// Acquire grants a build slot to the deployment when capacity remains.
// A denied acquire records nothing; a granted re-acquire refreshes the
// TTL.
func (m *LoadMonitor) Acquire(deploymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()

	granted := len(m.builds) < m.capacity
	if granted {
		m.builds[deploymentID] = m.now()
		metrics.BuildSlotsActive.Set(float64(len(m.builds)))
	}

	log.WithComponent("load").Debug().
		Str("deployment", deploymentID).
		Int("active", len(m.builds)).
		Int("capacity", m.capacity).
		Bool("has_capacity", granted).
		Msg("Build slot requested")
	return granted
}

// Release clears the deployment's slot.
func (m *LoadMonitor) Release(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.builds, deploymentID)
	m.expireLocked()
	metrics.BuildSlotsActive.Set(float64(len(m.builds)))
}

// HasCapacity reports whether a new build may start right now.
func (m *LoadMonitor) HasCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return len(m.builds) < m.capacity
}

// Active returns the current in-flight build count.
func (m *LoadMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return len(m.builds)
}

// Clear drops every slot, the admin escape hatch for stuck builds.
func (m *LoadMonitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds = make(map[string]time.Time)
	metrics.BuildSlotsActive.Set(0)
	log.WithComponent("load").Info().Msg("Build slots cleared")
}

func (m *LoadMonitor) expireLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, at := range m.builds {
		if at.Before(cutoff) {
			delete(m.builds, id)
			log.WithComponent("load").Warn().
				Str("deployment", id).
				Msg("Expired leaked build slot")
		}
	}
}
