package bundle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

func newCommitter(t *testing.T) (*Committer, *Engine, *storage.Cache, remote.Store) {
	t.Helper()
	backing := storage.NewMemoryStore()
	c, err := clock.New(backing)
	require.NoError(t, err)
	p, err := provisional.Load(backing)
	require.NoError(t, err)
	cache := storage.NewCache(backing)
	store := remote.NewMemoryStore()
	return NewCommitter(store, cache, p), New(c, p), cache, store
}

func TestCommit_AppliesChargeBundleOnce(t *testing.T) {
	committer, engine, cache, store := newCommitter(t)

	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionPlayers), []types.Player{
		{Entity: types.Entity{ID: "pl1"}, Balance: 0},
	}))

	b, err := engine.CreateCharge(types.Charge{Entity: types.Entity{ID: "c1"}, PlayerID: "pl1", Amount: 500, Reason: types.ChargeReasonFine})
	require.NoError(t, err)

	require.NoError(t, committer.Commit(context.Background(), "org1", b))

	players, err := storage.LoadCollection[types.Player](cache, string(types.CollectionPlayers))
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, int64(500), players[0].Balance)

	docs, err := store.Snapshot(context.Background(), "org1", types.CollectionPlayers)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(500), docs[0].Fields["balance"])
}

// TestCommit_RetryIsIdempotent mirrors the crash-before-outbox-removal
// scenario: the remote already recorded every step's opId from an
// earlier attempt, so resending the identical bundle must neither
// double-increment the remote balance nor double-apply it locally.
func TestCommit_RetryIsIdempotent(t *testing.T) {
	committer, engine, cache, store := newCommitter(t)

	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionPlayers), []types.Player{
		{Entity: types.Entity{ID: "pl1"}, Balance: 0},
	}))

	b, err := engine.CreateCharge(types.Charge{Entity: types.Entity{ID: "c1"}, PlayerID: "pl1", Amount: 500, Reason: types.ChargeReasonFine})
	require.NoError(t, err)

	require.NoError(t, committer.Commit(context.Background(), "org1", b))
	require.NoError(t, committer.Commit(context.Background(), "org1", b), "retrying the same bundle must be a no-op, not an error")

	players, err := storage.LoadCollection[types.Player](cache, string(types.CollectionPlayers))
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, int64(500), players[0].Balance, "a retried bundle must not double-count its balance delta locally")

	docs, err := store.Snapshot(context.Background(), "org1", types.CollectionPlayers)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(500), docs[0].Fields["balance"], "a retried bundle must not double-count its balance delta at the remote")
}

func TestCommit_PartiallyAppliedBundleOnlyFinishesRemainingSteps(t *testing.T) {
	committer, engine, cache, store := newCommitter(t)

	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionPlayers), []types.Player{
		{Entity: types.Entity{ID: "pl1"}, Balance: 0},
	}))
	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionCharges), []types.Charge{}))

	b, err := engine.CreateCharge(types.Charge{Entity: types.Entity{ID: "c1"}, PlayerID: "pl1", Amount: 500, Reason: types.ChargeReasonFine})
	require.NoError(t, err)
	require.Len(t, b.Steps, 2)

	// Simulate the balance step having already landed on the remote on
	// a prior attempt, with the client crashing before it could record
	// the charge-creation step.
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: "org1",
		Writes: []remote.Write{
			{Collection: types.CollectionPlayers, ID: "pl1", Kind: remote.WriteIncrement, Increments: map[string]int64{"balance": 500}},
		},
		AppliedOpIDs: []string{b.Steps[1].OpID},
	}))

	require.NoError(t, committer.Commit(context.Background(), "org1", b))

	docs, err := store.Snapshot(context.Background(), "org1", types.CollectionPlayers)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(500), docs[0].Fields["balance"], "the already-applied balance step must not be re-sent")

	charges, err := store.Snapshot(context.Background(), "org1", types.CollectionCharges)
	require.NoError(t, err)
	require.Len(t, charges, 1, "the not-yet-applied charge-creation step must still be sent")

	cachedPlayers, err := storage.LoadCollection[types.Player](cache, string(types.CollectionPlayers))
	require.NoError(t, err)
	assert.Equal(t, int64(500), cachedPlayers[0].Balance, "the already-applied step must not be re-folded into the local cache")

	cachedCharges, err := storage.LoadCollection[types.Charge](cache, string(types.CollectionCharges))
	require.NoError(t, err)
	require.Len(t, cachedCharges, 1, "the newly-applied step must be folded into the local cache")
}
