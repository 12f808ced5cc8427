package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Cache is the typed per-collection local cache. Reads are
// synchronous copies; writes are whole-array replacements.
type Cache struct {
	store Store
}

// NewCache wraps a Store as a typed local cache.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

func collectionKey(collection string) string {
	return "collection:" + collection
}

// LoadCollection returns every row of T currently cached for
// collection, or an empty slice if the collection has never been
// hydrated.
func LoadCollection[T any](c *Cache, collection string) ([]T, error) {
	raw, ok, err := c.store.LoadBlob(collectionKey(collection))
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collection, err)
	}
	if !ok {
		return []T{}, nil
	}
	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode collection %s: %w", collection, err)
	}
	return rows, nil
}

// SaveCollection replaces the entire cached array for collection in
// one atomic write.
func SaveCollection[T any](c *Cache, collection string, rows []T) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", collection, err)
	}
	if err := c.store.SaveBlob(collectionKey(collection), data); err != nil {
		return fmt.Errorf("save collection %s: %w", collection, err)
	}
	return nil
}

// markerKey returns the cache_initialized_{collection}_{userKey} key
// used to track whether a collection has ever been hydrated for a
// given user.
func markerKey(collection, userKey string) string {
	return fmt.Sprintf("cache_initialized_%s_%s", collection, userKey)
}

// IsInitialized reports whether collection has completed its
// first-time hydration for userKey.
func (c *Cache) IsInitialized(collection, userKey string) (bool, error) {
	_, ok, err := c.store.LoadBlob(markerKey(collection, userKey))
	return ok, err
}

// MarkInitialized records that collection has completed first-time
// hydration for userKey.
func (c *Cache) MarkInitialized(collection, userKey string) error {
	return c.store.SaveBlob(markerKey(collection, userKey), []byte("1"))
}

func lastSyncKey(collection string) string {
	return "last_sync_" + collection
}

// LastSync returns the last successful hydration time for collection,
// or the zero time if it has never synced.
func (c *Cache) LastSync(collection string) (time.Time, error) {
	raw, ok, err := c.store.LoadBlob(lastSyncKey(collection))
	if err != nil || !ok {
		return time.Time{}, err
	}
	var t time.Time
	if err := t.UnmarshalText(raw); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// SetLastSync records the last successful hydration time for
// collection.
func (c *Cache) SetLastSync(collection string, when time.Time) error {
	data, err := when.MarshalText()
	if err != nil {
		return err
	}
	return c.store.SaveBlob(lastSyncKey(collection), data)
}
