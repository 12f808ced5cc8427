// Package remote describes the black-box remote document store the
// synchronization core depends on. The remote is treated
// purely as an interface here: per-organization namespaced
// collections, batched atomic transactions, server timestamps, atomic
// field increments, existence checks, and ordered snapshots. No
// concrete network transport ships with the core — a host application
// wires Store to whatever document database it uses. MemoryStore is a
// fully-functional in-memory fake used by the engine's own tests.
package remote

import (
	"context"
	"time"

	"github.com/cuemby/posyncd/pkg/types"
)

// WriteKind enumerates the write shapes a single transaction step can
// carry.
type WriteKind string

const (
	WriteCreate    WriteKind = "create"
	WriteUpdate    WriteKind = "update"
	WriteDelete    WriteKind = "delete"
	WriteIncrement WriteKind = "increment"
)

// Write is one step of a Transaction, scoped to a single document keyed
// by the engine's logical UUID.
type Write struct {
	Collection types.Collection
	ID         string
	Kind       WriteKind
	Fields     map[string]any   // full/partial field set for create/update
	Increments map[string]int64 // field -> signed delta for increment
}

// Transaction is a batch of mixed writes committed atomically, plus the
// set of opIds that become durably recorded in the organization's
// appliedOps collection as part of the same commit.
type Transaction struct {
	OrganizationID string
	Writes         []Write
	AppliedOpIDs   []string
}

// Document is one row of a collection snapshot.
type Document struct {
	ID        string
	Fields    map[string]any
	UpdatedAt time.Time
}

// Store is the remote document store surface the core requires.
type Store interface {
	// Commit applies every write in txn atomically and records every
	// AppliedOpIDs entry in the same commit. Calling Commit twice with
	// the same AppliedOpIDs is safe: an already-recorded opId is a
	// no-op.
	Commit(ctx context.Context, txn Transaction) error

	// AppliedOp reports whether opID has already been committed for
	// organizationID.
	AppliedOp(ctx context.Context, organizationID, opID string) (bool, error)

	// Snapshot returns every document in collection for
	// organizationID, ordered by updatedAt (or name, for
	// organization settings).
	Snapshot(ctx context.Context, organizationID string, collection types.Collection) ([]Document, error)

	// Exists reports whether a document keyed by id is present in
	// collection, used for upsert decisions by the hydrator and
	// bundle engine.
	Exists(ctx context.Context, organizationID string, collection types.Collection, id string) (bool, error)

	// Now returns the server-assigned current time, used to stamp
	// UpdatedAt on writes.
	Now(ctx context.Context) (time.Time, error)
}
