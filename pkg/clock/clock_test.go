package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/posyncd/pkg/storage"
)

func TestNew_GeneratesAndPersistsDeviceID(t *testing.T) {
	backing := storage.NewMemoryStore()

	c, err := New(backing)
	require.NoError(t, err)
	assert.NotEmpty(t, c.DeviceID())

	reopened, err := New(backing)
	require.NoError(t, err)
	assert.Equal(t, c.DeviceID(), reopened.DeviceID())
}

func TestIncrement_BumpsOwnCounterAndPersists(t *testing.T) {
	backing := storage.NewMemoryStore()
	c, err := New(backing)
	require.NoError(t, err)

	counter, snap, err := c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 1, counter)
	assert.Equal(t, 1, snap[c.DeviceID()])

	counter, snap, err = c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 2, counter)
	assert.Equal(t, 2, snap[c.DeviceID()])

	reopened, err := New(backing)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Snapshot()[c.DeviceID()])
}

func TestObserve_TakesPerDeviceMax(t *testing.T) {
	backing := storage.NewMemoryStore()
	c, err := New(backing)
	require.NoError(t, err)
	_, _, err = c.Increment()
	require.NoError(t, err)

	other := "device-b"
	require.NoError(t, c.Observe(map[string]int{other: 5, c.DeviceID(): 0}))

	snap := c.Snapshot()
	assert.Equal(t, 5, snap[other])
	assert.Equal(t, 1, snap[c.DeviceID()], "observe must never overwrite this device's own counter downward")
}

func TestObserve_IgnoresLowerCounts(t *testing.T) {
	backing := storage.NewMemoryStore()
	c, err := New(backing)
	require.NoError(t, err)
	require.NoError(t, c.Observe(map[string]int{"device-b": 10}))
	require.NoError(t, c.Observe(map[string]int{"device-b": 3}))

	assert.Equal(t, 10, c.Snapshot()["device-b"])
}

func TestDominates(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]int
		want bool
	}{
		{"strictly greater on every device", map[string]int{"d1": 2, "d2": 3}, map[string]int{"d1": 1, "d2": 2}, true},
		{"equal clocks do not dominate", map[string]int{"d1": 2}, map[string]int{"d1": 2}, false},
		{"missing device treated as zero", map[string]int{"d1": 1, "d2": 1}, map[string]int{"d1": 1}, true},
		{"mixed ordering is not dominance", map[string]int{"d1": 2, "d2": 0}, map[string]int{"d1": 1, "d2": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dominates(tt.a, tt.b))
		})
	}
}

func TestConcurrent(t *testing.T) {
	a := map[string]int{"d1": 2, "d2": 0}
	b := map[string]int{"d1": 1, "d2": 1}
	assert.True(t, Concurrent(a, b))
	assert.False(t, Concurrent(a, a))
}

func TestCounterSum(t *testing.T) {
	assert.Equal(t, 6, CounterSum(map[string]int{"d1": 1, "d2": 2, "d3": 3}))
	assert.Equal(t, 0, CounterSum(nil))
}
