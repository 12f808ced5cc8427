// Package hydrator implements the bidirectional pull path: pulling
// each collection's remote snapshot into the local cache, reconciling
// it against any row already cached via the conflict resolver,
// normalizing server timestamps, and detecting deletions performed by
// other devices while this one was offline.
package hydrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/posyncd/pkg/log"
	"github.com/cuemby/posyncd/pkg/metrics"
	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/resolver"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

// maxDocumentAge bounds how far in the future/past a normalized
// timestamp may sit before it is clamped to now: timestamps more than
// a year out of range are clamped.
const maxDocumentAge = 365 * 24 * time.Hour

// Hydrator pulls every collection's remote snapshot into the local
// cache on a schedule, reconciling each document against whatever is
// already cached before writing it back.
type Hydrator struct {
	organizationID string
	store          remote.Store
	cache          *storage.Cache
	logger         zerolog.Logger
	forceServer    bool
}

// New builds a Hydrator for organizationID. forceServer makes every
// reconciliation accept the remote's copy outright, e.g. for a
// "reset this device" recovery path.
func New(organizationID string, store remote.Store, cache *storage.Cache, forceServer bool) *Hydrator {
	return &Hydrator{
		organizationID: organizationID,
		store:          store,
		cache:          cache,
		logger:         log.WithComponent("hydrator"),
		forceServer:    forceServer,
	}
}

// DeletionDetected is reported for every entity present in the local
// cache but absent from the freshest remote snapshot.
type DeletionDetected struct {
	Collection types.Collection
	EntityID   string
}

// Result summarizes one collection's hydration pass.
type Result struct {
	Collection types.Collection
	Documents  int
	Deletions  []DeletionDetected
}

// HydrateCollection pulls collection's full remote snapshot, resolves
// each document against the row already cached for the same id (if
// any), and writes the reconciled set back to the local cache. Rows
// cached locally but absent from the remote are reported as
// Deletions rather than dropped silently.
func (h *Hydrator) HydrateCollection(ctx context.Context, collection types.Collection) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HydrationDuration, string(collection))

	existing, err := storage.LoadCollection[map[string]any](h.cache, string(collection))
	if err != nil {
		return Result{}, fmt.Errorf("hydrator: load cached %s: %w", collection, err)
	}
	existingByID := make(map[string]map[string]any, len(existing))
	for _, row := range existing {
		if id, ok := row["id"].(string); ok {
			existingByID[id] = row
		}
	}

	docs, err := h.store.Snapshot(ctx, h.organizationID, collection)
	if err != nil {
		return Result{}, fmt.Errorf("hydrator: snapshot %s: %w", collection, err)
	}

	remoteIDs := make(map[string]bool, len(docs))
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		remoteIDs[d.ID] = true
		incoming := normalizeDocument(d)
		if current, ok := existingByID[d.ID]; ok {
			incoming = h.reconcile(current, incoming)
		}
		rows = append(rows, incoming)
	}

	if err := storage.SaveCollection(h.cache, string(collection), rows); err != nil {
		return Result{}, fmt.Errorf("hydrator: save %s: %w", collection, err)
	}

	result := Result{Collection: collection, Documents: len(docs)}
	for id := range existingByID {
		if !remoteIDs[id] {
			result.Deletions = append(result.Deletions, DeletionDetected{Collection: collection, EntityID: id})
		}
	}
	if len(result.Deletions) > 0 {
		metrics.RemoteDeletionsDetected.WithLabelValues(string(collection)).Add(float64(len(result.Deletions)))
		h.logger.Warn().Str("collection", string(collection)).Int("count", len(result.Deletions)).Msg("remote deletions detected")
	}

	return result, nil
}

// reconcile resolves current (already cached) against incoming
// (freshly pulled from the remote) via the conflict resolver, treating
// the remote side as server-sourced: newer wins, older is kept.
func (h *Hydrator) reconcile(current, incoming map[string]any) map[string]any {
	decision := resolver.Resolve(resolver.Input{
		Current:     resolver.Side{Fields: current, TimestampMS: rowTimestampMS(current), Source: types.SourceLocal},
		Incoming:    resolver.Side{Fields: incoming, TimestampMS: rowTimestampMS(incoming), Source: types.SourceServer},
		ForceServer: h.forceServer,
	})
	metrics.ConflictsResolvedTotal.WithLabelValues(string(decision.Rule), strconv.FormatBool(decision.Accept)).Inc()

	if !decision.Accept {
		return current
	}
	merged := make(map[string]any, len(decision.Fields)+2)
	for k, v := range decision.Fields {
		merged[k] = v
	}
	merged["id"] = incoming["id"]
	merged["updatedAt"] = incoming["updatedAt"]
	return merged
}

func rowTimestampMS(row map[string]any) int64 {
	switch t := row["updatedAt"].(type) {
	case time.Time:
		return t.UnixMilli()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli()
		}
	}
	return 0
}

// normalizeDocument flattens a remote.Document into a plain field map
// stamped with its id and a normalized updatedAt, clamping
// out-of-range timestamps to now.
func normalizeDocument(d remote.Document) map[string]any {
	row := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		row[k] = v
	}
	row["id"] = d.ID
	row["updatedAt"] = normalizeTimestamp(d.UpdatedAt)
	return row
}

func normalizeTimestamp(t time.Time) time.Time {
	now := time.Now()
	if t.IsZero() {
		return now
	}
	if now.Sub(t) > maxDocumentAge || t.Sub(now) > maxDocumentAge {
		return now
	}
	return t
}
