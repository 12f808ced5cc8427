package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/posyncd/pkg/types"
)

type orgData struct {
	collections map[types.Collection]map[string]*Document
	appliedOps  map[string]bool
}

// MemoryStore is an in-memory Store, safe for concurrent use. It
// commits each Transaction under a single lock, matching the "batched
// atomic transactions" contract of the real remote.
type MemoryStore struct {
	mu   sync.Mutex
	orgs map[string]*orgData
}

// NewMemoryStore returns an empty in-memory remote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: make(map[string]*orgData)}
}

func (m *MemoryStore) org(id string) *orgData {
	o, ok := m.orgs[id]
	if !ok {
		o = &orgData{
			collections: make(map[types.Collection]map[string]*Document),
			appliedOps:  make(map[string]bool),
		}
		m.orgs[id] = o
	}
	return o
}

// Commit applies every write atomically under a single lock.
func (m *MemoryStore) Commit(ctx context.Context, txn Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.org(txn.OrganizationID)
	now := time.Now()

	for _, w := range txn.Writes {
		bucket, ok := o.collections[w.Collection]
		if !ok {
			bucket = make(map[string]*Document)
			o.collections[w.Collection] = bucket
		}

		switch w.Kind {
		case WriteCreate, WriteUpdate:
			doc, exists := bucket[w.ID]
			if !exists {
				doc = &Document{ID: w.ID, Fields: map[string]any{}}
				bucket[w.ID] = doc
			}
			for k, v := range w.Fields {
				doc.Fields[k] = v
			}
			doc.UpdatedAt = now

		case WriteDelete:
			delete(bucket, w.ID)

		case WriteIncrement:
			doc, exists := bucket[w.ID]
			if !exists {
				doc = &Document{ID: w.ID, Fields: map[string]any{}}
				bucket[w.ID] = doc
			}
			for field, delta := range w.Increments {
				current, _ := doc.Fields[field].(int64)
				doc.Fields[field] = current + delta
			}
			doc.UpdatedAt = now

		default:
			return fmt.Errorf("remote: unknown write kind %q", w.Kind)
		}
	}

	for _, opID := range txn.AppliedOpIDs {
		o.appliedOps[opID] = true
	}

	return nil
}

// AppliedOp reports whether opID has already been committed.
func (m *MemoryStore) AppliedOp(ctx context.Context, organizationID, opID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.org(organizationID).appliedOps[opID], nil
}

// Snapshot returns every document in collection, ordered by
// UpdatedAt.
func (m *MemoryStore) Snapshot(ctx context.Context, organizationID string, collection types.Collection) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.org(organizationID).collections[collection]
	docs := make([]Document, 0, len(bucket))
	for _, d := range bucket {
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.Before(docs[j].UpdatedAt) })
	return docs, nil
}

// Exists reports whether id is present in collection.
func (m *MemoryStore) Exists(ctx context.Context, organizationID string, collection types.Collection, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.org(organizationID).collections[collection][id]
	return ok, nil
}

// Now returns the wall-clock time; a real server would return its own
// clock.
func (m *MemoryStore) Now(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

// DeleteDocument is a test helper simulating a remote deletion
// performed out-of-band (e.g. by another device), used to exercise the
// hydrator's deletion-detection path.
func (m *MemoryStore) DeleteDocument(organizationID string, collection types.Collection, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.org(organizationID).collections[collection], id)
}
