// Package clock implements device identity and the monotonic vector
// clock that anchors causal ordering across devices sharing an
// organization.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister is the narrow slice of durable storage the clock needs:
// a single blob keyed by name, read at startup and rewritten after
// every bump. pkg/storage.Store satisfies this.
type Persister interface {
	LoadBlob(key string) ([]byte, bool, error)
	SaveBlob(key string, data []byte) error
}

const (
	keyDeviceID    = "device_id"
	keyVectorClock = "vector_clock"
)

// Clock owns this device's identity and vector clock. It is safe for
// concurrent use; every mutation is persisted before it returns.
type Clock struct {
	mu       sync.Mutex
	store    Persister
	deviceID string
	vc       map[string]int
}

// New loads (or creates and persists) the device ID and vector clock
// from store.
func New(store Persister) (*Clock, error) {
	c := &Clock{store: store, vc: make(map[string]int)}

	if raw, ok, err := store.LoadBlob(keyDeviceID); err != nil {
		return nil, err
	} else if ok {
		c.deviceID = string(raw)
	} else {
		c.deviceID = uuid.NewString()
		if err := store.SaveBlob(keyDeviceID, []byte(c.deviceID)); err != nil {
			return nil, err
		}
	}

	if raw, ok, err := decodeVectorClock(store); err != nil {
		return nil, err
	} else if ok {
		c.vc = raw
	}
	c.vc[c.deviceID] += 0 // ensure this device has an entry

	return c, nil
}

// DeviceID returns this install's stable device identifier.
func (c *Clock) DeviceID() string {
	return c.deviceID
}

// Snapshot returns a defensive copy of the current vector clock.
func (c *Clock) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneClock(c.vc)
}

// Increment atomically bumps this device's counter, persists the new
// clock, and returns the post-bump counter value plus a snapshot of
// the full vector clock — ready to stamp onto a new operation.
func (c *Clock) Increment() (counter int, snapshot map[string]int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vc[c.deviceID]++
	if err := c.persistLocked(); err != nil {
		c.vc[c.deviceID]-- // roll back on persistence failure
		return 0, nil, err
	}
	return c.vc[c.deviceID], cloneClock(c.vc), nil
}

// Observe merges an incoming vector clock into this device's own,
// taking the per-device max (standard vector-clock merge on receipt).
// It does not bump this device's own counter.
func (c *Clock) Observe(incoming map[string]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for device, count := range incoming {
		if count > c.vc[device] {
			c.vc[device] = count
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.persistLocked()
}

func (c *Clock) persistLocked() error {
	data, err := encodeVectorClock(c.vc)
	if err != nil {
		return err
	}
	return c.store.SaveBlob(keyVectorClock, data)
}

// NowMS returns the current wall-clock time in milliseconds. The
// source need not be monotonic; the vector clock compensates.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// NewOpID returns a fresh UUIDv4 for an Operation or Bundle.
func NewOpID() string {
	return uuid.NewString()
}

func cloneClock(vc map[string]int) map[string]int {
	out := make(map[string]int, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Dominates reports whether a dominates b: a[d] >= b[d] for every
// device d, with strict inequality for at least one.
func Dominates(a, b map[string]int) bool {
	strictlyGreater := false
	devices := make(map[string]struct{}, len(a)+len(b))
	for d := range a {
		devices[d] = struct{}{}
	}
	for d := range b {
		devices[d] = struct{}{}
	}
	for d := range devices {
		if a[d] < b[d] {
			return false
		}
		if a[d] > b[d] {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// Concurrent reports whether neither vector clock dominates the other.
func Concurrent(a, b map[string]int) bool {
	return !Dominates(a, b) && !Dominates(b, a)
}

// CounterSum sums every device's counter — the approximate tie-break
// used by the resolver when two vector clocks are truly concurrent and
// timestamps are equal. This is an approximation, not a true causal
// tie-break.
func CounterSum(vc map[string]int) int {
	sum := 0
	for _, v := range vc {
		sum += v
	}
	return sum
}
