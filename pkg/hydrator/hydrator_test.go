package hydrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

const org = "org1"

func TestHydrateCollection_PullsFreshDocumentsIntoCache(t *testing.T) {
	store := remote.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: org,
		Writes: []remote.Write{
			{Collection: types.CollectionProducts, ID: "p1", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Soda", "stock": int64(10)}},
		},
	}))

	cache := storage.NewCache(storage.NewMemoryStore())
	h := New(org, store, cache, false)

	result, err := h.HydrateCollection(context.Background(), types.CollectionProducts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Documents)
	assert.Empty(t, result.Deletions)

	rows, err := storage.LoadCollection[map[string]any](cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0]["id"])
}

func TestHydrateCollection_DetectsRemoteDeletion(t *testing.T) {
	store := remote.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: org,
		Writes:         []remote.Write{{Collection: types.CollectionProducts, ID: "p1", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Soda"}}},
	}))

	cache := storage.NewCache(storage.NewMemoryStore())
	h := New(org, store, cache, false)

	_, err := h.HydrateCollection(context.Background(), types.CollectionProducts)
	require.NoError(t, err)

	store.DeleteDocument(org, types.CollectionProducts, "p1")

	result, err := h.HydrateCollection(context.Background(), types.CollectionProducts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Documents)
	require.Len(t, result.Deletions, 1)
	assert.Equal(t, "p1", result.Deletions[0].EntityID)
}

func TestHydrateCollection_ForceServerOverridesLocalReconciliation(t *testing.T) {
	cache := storage.NewCache(storage.NewMemoryStore())
	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionProducts), []map[string]any{
		{"id": "p1", "name": "Local Name", "updatedAt": time.Now().Add(time.Hour)},
	}))

	store := remote.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: org,
		Writes:         []remote.Write{{Collection: types.CollectionProducts, ID: "p1", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Remote Name"}}},
	}))

	h := New(org, store, cache, true)
	_, err := h.HydrateCollection(context.Background(), types.CollectionProducts)
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Remote Name", rows[0]["name"], "forceServer must accept the remote's copy outright")
}

func TestHydrateCollection_NewerLocalSurvivesAgainstOlderRemote(t *testing.T) {
	cache := storage.NewCache(storage.NewMemoryStore())
	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, storage.SaveCollection(cache, string(types.CollectionProducts), []map[string]any{
		{"id": "p1", "name": "Local Name", "updatedAt": future},
	}))

	store := remote.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), remote.Transaction{
		OrganizationID: org,
		Writes:         []remote.Write{{Collection: types.CollectionProducts, ID: "p1", Kind: remote.WriteCreate, Fields: map[string]any{"name": "Remote Name"}}},
	}))

	h := New(org, store, cache, false)
	_, err := h.HydrateCollection(context.Background(), types.CollectionProducts)
	require.NoError(t, err)

	rows, err := storage.LoadCollection[map[string]any](cache, string(types.CollectionProducts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Local Name", rows[0]["name"], "a local update newer than the remote's must be preserved")
}
