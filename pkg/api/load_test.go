package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLoadMonitor(capacity int) (*LoadMonitor, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewLoadMonitor()
	m.capacity = capacity
	m.now = func() time.Time { return now }
	return m, &now
}

func TestLoadMonitorCapacity(t *testing.T) {
	m, _ := testLoadMonitor(2)

	assert.True(t, m.HasCapacity())
	assert.True(t, m.Acquire("d1"), "first slot free")
	assert.True(t, m.Acquire("d2"), "second slot free")
	assert.False(t, m.Acquire("d3"), "both slots used")
	assert.False(t, m.HasCapacity())

	m.Release("d1")
	assert.True(t, m.HasCapacity())
}

func TestLoadMonitorSingleSlotGrantsFirstBuild(t *testing.T) {
	m, _ := testLoadMonitor(1)

	assert.True(t, m.Acquire("d1"), "a lone slot must still admit a build")
	assert.False(t, m.Acquire("d2"))
	assert.Equal(t, 1, m.Active(), "a denied acquire must not hold a slot")

	m.Release("d1")
	assert.True(t, m.Acquire("d2"))
}

func TestLoadMonitorReacquireIsIdempotent(t *testing.T) {
	m, _ := testLoadMonitor(2)

	m.Acquire("d1")
	m.Acquire("d1")
	assert.Equal(t, 1, m.Active())
}

func TestLoadMonitorExpiresLeakedSlots(t *testing.T) {
	m, now := testLoadMonitor(1)

	assert.True(t, m.Acquire("crashed"))
	assert.False(t, m.HasCapacity())

	*now = now.Add(m.ttl + time.Second)
	assert.True(t, m.HasCapacity(), "leaked slot should expire after the ttl")
	assert.Equal(t, 0, m.Active())
}

func TestLoadMonitorClear(t *testing.T) {
	m, _ := testLoadMonitor(3)
	m.Acquire("d1")
	m.Acquire("d2")

	m.Clear()
	assert.Equal(t, 0, m.Active())
}

func TestBuildCapacityIsAtLeastOne(t *testing.T) {
	assert.GreaterOrEqual(t, BuildCapacity(), 1)
}
