package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/posyncd/pkg/bundle"
	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/types"
)

func newTestEngine(t *testing.T, store remote.Store) *Engine {
	t.Helper()
	e, err := New(Config{
		DataDir:        t.TempDir(),
		OrganizationID: "org1",
		Remote:         store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestNew_RequiresRemote(t *testing.T) {
	_, err := New(Config{DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestAPI_CreateEntity_QueuesWhileOffline(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())

	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda", "stock": int64(10)})
	require.NoError(t, err)

	st := e.Status()
	assert.False(t, st.IsOnline)
	assert.Equal(t, 1, st.MainQueueLength, "a create made while offline must sit in the outbox, not reach the remote")
}

func TestAPI_CreateEntity_VisibleOnReadImmediately(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())

	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda", "stock": int64(10)})
	require.NoError(t, err)

	products, err := e.API().GetProducts()
	require.NoError(t, err)
	require.Len(t, products, 1, "a create must be visible through the read path before any sync happens")
	assert.Equal(t, "Soda", products[0].Name)
}

func TestAPI_UpdateEntity_MergesOntoExistingRow(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())

	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda", "category": "drinks"})
	require.NoError(t, err)
	_, err = e.API().UpdateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Diet Soda"})
	require.NoError(t, err)

	products, err := e.API().GetProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Diet Soda", products[0].Name)
	assert.Equal(t, "drinks", products[0].Category)
}

func TestAPI_DeleteEntity_IsSoftUntilHydrationConfirmsRemoval(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())

	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)
	_, err = e.API().DeleteEntity(context.Background(), types.CollectionProducts, "p1")
	require.NoError(t, err)

	products, err := e.API().GetProducts()
	require.NoError(t, err)
	require.Len(t, products, 1, "soft delete keeps the row cached until the hydrator sees the remote disappearance")
	assert.False(t, products[0].IsActive)
}

func TestDrainCycle_SkippedWhenOffline(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)

	require.NoError(t, e.drainCycle(context.Background()))
	assert.Equal(t, 1, e.Status().MainQueueLength, "drain must no-op while offline, leaving the item queued")
}

func TestSendOperation_CommitsCreateToRemote(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store)

	op, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)

	require.NoError(t, e.sendOperation(context.Background(), op))

	exists, err := store.Exists(context.Background(), "org1", types.CollectionProducts, "p1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSendOperation_IsIdempotentOnRetry(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store)

	op, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)

	require.NoError(t, e.sendOperation(context.Background(), op))
	require.NoError(t, e.sendOperation(context.Background(), op), "resending an already-applied opId must be a no-op, not an error")
}

func TestSendBundle_CommitsStepsAndClearsProvisionalOverlay(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store)

	assignment := types.Assignment{Entity: types.Entity{ID: "a1"}, ProductID: "prod1", PlayerID: "pl1", Total: 500}
	b, err := e.bundles.CreateAssignmentSale(bundle.AssignmentSaleInput{Assignment: assignment, StockDelta: -2})
	require.NoError(t, err)

	require.NoError(t, e.sendBundle(context.Background(), b))

	exists, err := store.Exists(context.Background(), "org1", types.CollectionAssignments, "a1")
	require.NoError(t, err)
	assert.True(t, exists)

	view := e.provisional.FoldProduct(types.Product{Entity: types.Entity{ID: "prod1"}, Stock: 10})
	assert.False(t, view.Provisional, "the committed stock delta must be cleared from the provisional overlay")
	assert.Equal(t, 10, view.Stock)
}

func TestSendOperation_SkipsRemoteCheckOnceMarkedProcessed(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store)

	op, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)

	require.NoError(t, e.sendOperation(context.Background(), op))
	assert.True(t, e.processed.Seen(op.ID), "a successfully sent operation must be marked processed")

	// Deleting the document out from under the remote proves the
	// second send didn't re-check AppliedOp/Commit at all: it already
	// short-circuited on the local processed set.
	store.DeleteDocument("org1", types.CollectionProducts, "p1")
	require.NoError(t, e.sendOperation(context.Background(), op))

	exists, err := store.Exists(context.Background(), "org1", types.CollectionProducts, "p1")
	require.NoError(t, err)
	assert.False(t, exists, "the short-circuited resend must not have recreated the document")
}

func TestConcurrentStockDecrement_AcrossTwoDevices(t *testing.T) {
	sharedRemote := remote.NewMemoryStore()
	deviceA := newTestEngine(t, sharedRemote)
	deviceB := newTestEngine(t, sharedRemote)

	saleA := types.Assignment{Entity: types.Entity{ID: "a-device-a"}, ProductID: "prod1", PlayerID: "pl1", Total: 100}
	saleB := types.Assignment{Entity: types.Entity{ID: "a-device-b"}, ProductID: "prod1", PlayerID: "pl2", Total: 100}

	bundleA, err := deviceA.bundles.CreateAssignmentSale(bundle.AssignmentSaleInput{Assignment: saleA, StockDelta: -3})
	require.NoError(t, err)
	bundleB, err := deviceB.bundles.CreateAssignmentSale(bundle.AssignmentSaleInput{Assignment: saleB, StockDelta: -4})
	require.NoError(t, err)

	require.NoError(t, deviceA.sendBundle(context.Background(), bundleA))
	require.NoError(t, deviceB.sendBundle(context.Background(), bundleB))

	docs, err := sharedRemote.Snapshot(context.Background(), "org1", types.CollectionProducts)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(-7), docs[0].Fields["stock"], "both devices' decrements must accumulate via atomic increments")
}

func TestStartup_HydratesAllCollectionsOnFirstLaunch(t *testing.T) {
	store := remote.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: "org1",
		Writes: []remote.Write{
			{Collection: types.CollectionProducts, ID: "p1", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Soda"}},
		},
	}))
	e := newTestEngine(t, store)

	require.NoError(t, e.Startup(context.Background()))

	products, err := e.API().GetProducts()
	require.NoError(t, err)
	require.Len(t, products, 1, "startup must pull whatever already exists remotely before any scheduled tick runs")
	assert.Equal(t, "Soda", products[0].Name)

	initialized, err := e.cache.IsInitialized(string(types.CollectionProducts), "org1")
	require.NoError(t, err)
	assert.True(t, initialized, "a successful startup hydration must mark the collection initialized")
}

func TestStartup_SkipsAlreadyInitializedCollectionOnSecondLaunch(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store)

	require.NoError(t, e.Startup(context.Background()))

	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: "org1",
		Writes: []remote.Write{
			{Collection: types.CollectionProducts, ID: "p2", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Juice"}},
		},
	}))

	require.NoError(t, e.Startup(context.Background()))

	products, err := e.API().GetProducts()
	require.NoError(t, err)
	assert.Empty(t, products, "a collection already marked initialized must not be re-pulled by a later Startup call")
}

func TestHasQueuedWork_ReflectsOutboxStatus(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	assert.False(t, e.hasQueuedWork())

	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)
	assert.True(t, e.hasQueuedWork())
}

func TestHighPriorityCycle_SkippedWhenOffline(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	_, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, "p1", map[string]any{"name": "Soda"})
	require.NoError(t, err)

	require.NoError(t, e.highPriorityCycle(context.Background()))
	assert.Equal(t, 1, e.Status().MainQueueLength, "drain must no-op while offline, leaving the item queued")
}

func TestLowPriorityCycle_TrimsProcessedIDsRegardlessOfConnectivity(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	for i := 0; i < 1500; i++ {
		e.processed.Mark(fmt.Sprintf("op-%d", i))
	}
	require.Equal(t, 1500, e.processed.Len())

	require.NoError(t, e.lowPriorityCycle(context.Background()))
	assert.Equal(t, 500, e.processed.Len(), "low-priority cycle must still trim the processed set while offline")
}

func TestReapDeadLetters_SkippedWhenOffline(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	assert.NoError(t, e.reapDeadLetters(context.Background()))
}

func TestClearStuckSync_ClearsWedgedFlag(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore())
	e.mu.Lock()
	e.isSyncing = true
	e.mu.Unlock()

	require.NoError(t, e.clearStuckSync(context.Background()))
	assert.False(t, e.IsSyncing())
}
