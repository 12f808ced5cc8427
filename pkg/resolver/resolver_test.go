package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/posyncd/pkg/types"
)

func TestResolve_ForceServerAlwaysWins(t *testing.T) {
	d := Resolve(Input{
		ForceServer: true,
		Current:     Side{Fields: map[string]any{"name": "old"}, TimestampMS: 1000},
		Incoming:    Side{Fields: map[string]any{"name": "new"}, TimestampMS: 1},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleForceServer, d.Rule)
	assert.Equal(t, "new", d.Fields["name"])
}

func TestResolve_ServerSourceNewerWins(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{TimestampMS: 100},
		Incoming: Side{TimestampMS: 200, Source: types.SourceServer, Fields: map[string]any{"name": "server"}},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleServerNewer, d.Rule)
}

func TestResolve_ServerSourceOlderLoses(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{TimestampMS: 500},
		Incoming: Side{TimestampMS: 100, Source: types.SourceServer},
	})
	assert.False(t, d.Accept)
	assert.Equal(t, RuleServerOlder, d.Rule)
}

func TestResolve_AdditiveMerge_StockTakesMax(t *testing.T) {
	now := int64(1_000_000)
	d := Resolve(Input{
		Current:  Side{Fields: map[string]any{"stock": int64(7)}, TimestampMS: now},
		Incoming: Side{Fields: map[string]any{"stock": int64(9)}, TimestampMS: now + 1000, Source: types.SourceLocal},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleAdditiveMerge, d.Rule)
	assert.Equal(t, int64(9), d.Fields["stock"])
}

func TestResolve_AdditiveMerge_BalanceTakesMin(t *testing.T) {
	now := int64(1_000_000)
	d := Resolve(Input{
		Current:  Side{Fields: map[string]any{"balance": int64(10)}, TimestampMS: now},
		Incoming: Side{Fields: map[string]any{"balance": int64(4)}, TimestampMS: now + 1000, Source: types.SourceLocal},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleAdditiveMerge, d.Rule)
	assert.Equal(t, int64(4), d.Fields["balance"], "the lower candidate wins regardless of which side is current vs incoming")

	d2 := Resolve(Input{
		Current:  Side{Fields: map[string]any{"balance": int64(4)}, TimestampMS: now},
		Incoming: Side{Fields: map[string]any{"balance": int64(10)}, TimestampMS: now + 1000, Source: types.SourceLocal},
	})
	assert.True(t, d2.Accept)
	assert.Equal(t, int64(4), d2.Fields["balance"])
}

func TestResolve_AdditiveMerge_OutsideWindowFallsThrough(t *testing.T) {
	now := int64(1_000_000)
	d := Resolve(Input{
		Current:  Side{Fields: map[string]any{"stock": int64(7)}, TimestampMS: now},
		Incoming: Side{Fields: map[string]any{"stock": int64(9)}, TimestampMS: now + concurrentWindow.Milliseconds() + 1, Source: types.SourceLocal},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleStrictNewer, d.Rule, "updates outside the concurrent window should fall through to strict-newer")
}

func TestResolve_StrictNewerWinsForNonNumericFields(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{Fields: map[string]any{"name": "old"}, TimestampMS: 100},
		Incoming: Side{Fields: map[string]any{"name": "new"}, TimestampMS: 100 + concurrentWindow.Milliseconds() + 1},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleStrictNewer, d.Rule)
}

func TestResolve_OlderTimestampRejectedWhenNotAdditive(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{Fields: map[string]any{"name": "old"}, TimestampMS: 100 + concurrentWindow.Milliseconds() + 1},
		Incoming: Side{Fields: map[string]any{"name": "new"}, TimestampMS: 100},
	})
	assert.False(t, d.Accept)
	assert.Equal(t, RuleReject, d.Rule)
}

func TestResolve_EqualTimestamps_VectorClockDominanceDecides(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 1}},
		Incoming: Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 2}, Fields: map[string]any{"name": "new"}},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleVectorClock, d.Rule)
}

func TestResolve_EqualTimestamps_ConcurrentClocksUseCounterSum(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 2, "d2": 0}},
		Incoming: Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 0, "d2": 5}, Fields: map[string]any{"name": "new"}},
	})
	assert.True(t, d.Accept)
	assert.Equal(t, RuleCounterTieBreak, d.Rule)
}

func TestResolve_EqualTimestamps_ConcurrentClocksLowerCounterSumLoses(t *testing.T) {
	d := Resolve(Input{
		Current:  Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 0, "d2": 5}},
		Incoming: Side{TimestampMS: 100, VectorClock: map[string]int{"d1": 2, "d2": 0}},
	})
	assert.False(t, d.Accept)
	assert.Equal(t, RuleCounterTieBreak, d.Rule)
}
