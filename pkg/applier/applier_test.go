package applier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/outbox"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) SendOperation(ctx context.Context, op types.Operation) error {
	f.calls++
	return f.err
}

type fakeOnline struct{ online bool }

func (f fakeOnline) IsOnline() bool { return f.online }

func newApplier(t *testing.T, sender Sender, online OnlineChecker) (*Applier, *outbox.Outbox, *clock.Clock) {
	t.Helper()
	backing := storage.NewMemoryStore()
	c, err := clock.New(backing)
	require.NoError(t, err)
	p, err := provisional.Load(backing)
	require.NoError(t, err)
	ob, err := outbox.Load(backing)
	require.NoError(t, err)
	cache := storage.NewCache(backing)
	return New(c, cache, p, ob, sender, online), ob, c
}

func TestApply_StampsOperationAndBumpsClock(t *testing.T) {
	a, _, c := newApplier(t, nil, fakeOnline{online: false})

	op, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Soda"}})
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, c.DeviceID(), op.Metadata.DeviceID)
	assert.Equal(t, 1, op.Metadata.Version)
	assert.Equal(t, types.SourceLocal, op.Metadata.Source)
}

func TestApply_AlwaysEnqueuesRegardlessOfConnectivity(t *testing.T) {
	a, ob, _ := newApplier(t, nil, fakeOnline{online: false})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 1, ob.Status().MainQueueLength)
}

func TestApply_AttemptsImmediateDeliveryWhenOnline(t *testing.T) {
	sender := &fakeSender{}
	a, _, _ := newApplier(t, sender, fakeOnline{online: true})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sender.calls)
}

func TestApply_SkipsImmediateDeliveryWhenOffline(t *testing.T) {
	sender := &fakeSender{}
	a, _, _ := newApplier(t, sender, fakeOnline{online: false})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 0, sender.calls)
}

func TestApply_SendFailureIsNotFatal(t *testing.T) {
	sender := &fakeSender{err: assertError("boom")}
	a, ob, _ := newApplier(t, sender, fakeOnline{online: true})

	op, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, 1, ob.Status().MainQueueLength, "a failed immediate send must leave the operation durable in the outbox")
}

func TestApply_UpdateBalanceFoldsIntoProvisionalOverlay(t *testing.T) {
	backing := storage.NewMemoryStore()
	c, err := clock.New(backing)
	require.NoError(t, err)
	p, err := provisional.Load(backing)
	require.NoError(t, err)
	ob, err := outbox.Load(backing)
	require.NoError(t, err)
	cache := storage.NewCache(backing)
	a := New(c, cache, p, ob, nil, fakeOnline{online: false})

	_, err = a.Apply(context.Background(), Input{
		Type:       types.OpUpdateBalance,
		Collection: types.CollectionPlayers,
		EntityID:   "pl1",
		Data:       map[string]any{"delta": int64(500), "bundleType": string(types.BundleAssignmentSale)},
	})
	require.NoError(t, err)

	view := p.FoldPlayer(types.Player{Entity: types.Entity{ID: "pl1"}})
	assert.Equal(t, int64(500), view.Balance)
}

func TestApply_CreateIsVisibleInCacheImmediately(t *testing.T) {
	a, _, _ := newApplier(t, nil, fakeOnline{online: false})

	op, err := a.Apply(context.Background(), Input{
		Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1",
		Data: map[string]any{"name": "Soda", "stock": int64(10)},
	})
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](a.cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0]["id"])
	assert.Equal(t, "Soda", rows[0]["name"])
	assert.Equal(t, op.Metadata.Version, rows[0]["version"])
}

func TestApply_CreateIsIdempotent(t *testing.T) {
	a, _, _ := newApplier(t, nil, fakeOnline{online: false})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Soda"}})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Soda"}})
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](a.cache, string(types.CollectionProducts))
	require.NoError(t, err)
	assert.Len(t, rows, 1, "re-applying the same create must not duplicate the row")
}

func TestApply_UpdateMergesFieldsOntoExistingRow(t *testing.T) {
	a, _, _ := newApplier(t, nil, fakeOnline{online: false})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Soda", "category": "drinks"}})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), Input{Type: types.OpUpdate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Diet Soda"}})
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](a.cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Diet Soda", rows[0]["name"])
	assert.Equal(t, "drinks", rows[0]["category"], "fields not touched by the update survive the merge")
}

func TestApply_DeleteIsSoftAndIdempotent(t *testing.T) {
	a, _, _ := newApplier(t, nil, fakeOnline{online: false})

	_, err := a.Apply(context.Background(), Input{Type: types.OpCreate, Collection: types.CollectionProducts, EntityID: "p1", Data: map[string]any{"name": "Soda"}})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), Input{Type: types.OpDelete, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](a.cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1, "a soft delete preserves the row until the hydrator observes remote disappearance")
	assert.Equal(t, false, rows[0]["isActive"])

	_, err = a.Apply(context.Background(), Input{Type: types.OpDelete, Collection: types.CollectionProducts, EntityID: "p1"})
	require.NoError(t, err, "deleting an already-inactive row is idempotent")

	_, err = a.Apply(context.Background(), Input{Type: types.OpDelete, Collection: types.CollectionProducts, EntityID: "nonexistent"})
	require.NoError(t, err, "deleting an absent row is idempotent")
}

type assertError string

func (e assertError) Error() string { return string(e) }
