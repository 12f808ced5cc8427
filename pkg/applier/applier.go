// Package applier implements the single write path:
// every local mutation funnels through Apply, which stamps an
// Operation, writes the local cache and provisional overlay, persists
// an outbox entry, and opportunistically attempts immediate delivery
// when online.
package applier

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/outbox"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/resolver"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

// Sender delivers a single Operation immediately, used for the
// online/local fast path. It returns the same classified errors the
// outbox drain expects.
type Sender interface {
	SendOperation(ctx context.Context, op types.Operation) error
}

// OnlineChecker reports current connectivity, consulted to decide
// whether to attempt an immediate send after enqueueing.
type OnlineChecker interface {
	IsOnline() bool
}

// Applier owns the clock, local cache, provisional overlay, and outbox
// that every write path touches.
type Applier struct {
	clock       *clock.Clock
	cache       *storage.Cache
	provisional *provisional.Store
	outbox      *outbox.Outbox
	sender      Sender
	online      OnlineChecker
}

// New builds an Applier over the given collaborators.
func New(c *clock.Clock, cache *storage.Cache, p *provisional.Store, ob *outbox.Outbox, sender Sender, online OnlineChecker) *Applier {
	return &Applier{clock: c, cache: cache, provisional: p, outbox: ob, sender: sender, online: online}
}

// Input describes one local mutation request, prior to stamping.
type Input struct {
	Type       types.OpType
	Collection types.Collection
	EntityID   string
	Data       any
}

// Apply stamps Input into a canonical Operation, applies it to the
// local cache and the provisional overlay, enqueues it to the outbox,
// and — when online — attempts immediate delivery before returning.
// The cache write, provisional write, and outbox enqueue always
// happen, regardless of connectivity: the UI sees the change
// immediately either way.
func (a *Applier) Apply(ctx context.Context, in Input) (types.Operation, error) {
	counter, vc, err := a.clock.Increment()
	if err != nil {
		return types.Operation{}, fmt.Errorf("applier: bump clock: %w", err)
	}

	op := types.Operation{
		ID:         clock.NewOpID(),
		Type:       in.Type,
		Collection: in.Collection,
		EntityID:   in.EntityID,
		Data:       in.Data,
		Metadata: types.OpMetadata{
			DeviceID:    a.clock.DeviceID(),
			TimestampMS: clock.NowMS(),
			Version:     counter,
			VectorClock: vc,
			Source:      types.SourceLocal,
		},
	}

	if err := a.applyCache(op); err != nil {
		return types.Operation{}, fmt.Errorf("applier: cache write: %w", err)
	}

	if err := a.applyProvisional(op); err != nil {
		return types.Operation{}, fmt.Errorf("applier: provisional write: %w", err)
	}

	if err := a.outbox.EnqueueOperation(op); err != nil {
		return types.Operation{}, fmt.Errorf("applier: enqueue: %w", err)
	}

	if a.online != nil && a.online.IsOnline() && a.sender != nil {
		// Best-effort immediate delivery. Failure here is not fatal:
		// the operation is already durable in the outbox and the
		// scheduler's next drain will retry it.
		_ = a.sender.SendOperation(ctx, op)
	}

	return op, nil
}

// applyCache dispatches create/update/delete to the local cache, the
// only write path that ever mutates it directly for plain entities.
// updateBalance and createAssignmentTransaction have no direct cache
// effect here: the former is folded into the provisional balance
// overlay only, the latter always arrives as a bundle (see
// pkg/bundle), never as a bare Operation.
func (a *Applier) applyCache(op types.Operation) error {
	switch op.Type {
	case types.OpCreate:
		return a.cacheCreate(op)
	case types.OpUpdate:
		return a.cacheUpdate(op)
	case types.OpDelete:
		return a.cacheSoftDelete(op)
	default:
		return nil
	}
}

// cacheCreate appends a row for op.EntityID if one isn't already
// present: creation is idempotent, matching a retried outbox item.
func (a *Applier) cacheCreate(op types.Operation) error {
	rows, err := storage.LoadCollection[map[string]any](a.cache, string(op.Collection))
	if err != nil {
		return err
	}
	for _, r := range rows {
		if rowID(r) == op.EntityID {
			return nil
		}
	}

	fields, _ := op.Data.(map[string]any)
	row := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		row[k] = v
	}
	now := time.UnixMilli(op.Metadata.TimestampMS).UTC()
	row["id"] = op.EntityID
	row["createdAt"] = now
	row["updatedAt"] = now
	row["version"] = op.Metadata.Version

	rows = append(rows, row)
	return storage.SaveCollection(a.cache, string(op.Collection), rows)
}

// cacheUpdate locates the row by id and routes the proposed change
// through the conflict resolver before merging, per the engine's
// single write path. A row not yet present locally (its create hasn't
// hydrated yet) is left alone; the update will apply once hydration
// catches up.
func (a *Applier) cacheUpdate(op types.Operation) error {
	rows, err := storage.LoadCollection[map[string]any](a.cache, string(op.Collection))
	if err != nil {
		return err
	}
	incoming, _ := op.Data.(map[string]any)

	for i, r := range rows {
		if rowID(r) != op.EntityID {
			continue
		}
		decision := resolver.Resolve(resolver.Input{
			Current: resolver.Side{Fields: r, TimestampMS: rowTimestampMS(r)},
			Incoming: resolver.Side{
				Fields:      incoming,
				TimestampMS: op.Metadata.TimestampMS,
				VectorClock: op.Metadata.VectorClock,
				Source:      op.Metadata.Source,
			},
		})
		if !decision.Accept {
			return nil
		}

		merged := make(map[string]any, len(r)+len(decision.Fields))
		for k, v := range r {
			merged[k] = v
		}
		for k, v := range decision.Fields {
			merged[k] = v
		}
		merged["id"] = op.EntityID
		merged["updatedAt"] = time.UnixMilli(op.Metadata.TimestampMS).UTC()
		merged["version"] = op.Metadata.Version

		rows[i] = merged
		return storage.SaveCollection(a.cache, string(op.Collection), rows)
	}
	return nil
}

// cacheSoftDelete sets isActive=false on the row for op.EntityID
// rather than removing it: the hydrator performs the only hard
// delete, triggered by observing the document's disappearance at the
// remote. Idempotent if the row is already absent or already inactive.
func (a *Applier) cacheSoftDelete(op types.Operation) error {
	rows, err := storage.LoadCollection[map[string]any](a.cache, string(op.Collection))
	if err != nil {
		return err
	}
	for i, r := range rows {
		if rowID(r) != op.EntityID {
			continue
		}
		r["isActive"] = false
		r["updatedAt"] = time.UnixMilli(op.Metadata.TimestampMS).UTC()
		r["version"] = op.Metadata.Version
		rows[i] = r
		return storage.SaveCollection(a.cache, string(op.Collection), rows)
	}
	return nil
}

func rowID(row map[string]any) string {
	id, _ := row["id"].(string)
	return id
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

// applyProvisional folds op into the provisional overlay where one
// exists. Only updateBalance produces an overlay entry here: the six
// other overlays (stock deltas, assignments, assignment field patches,
// organization updates, charges, charge status patches) are written exclusively by the bundle
// engine, since every operation that touches them is always bundled.
func (a *Applier) applyProvisional(op types.Operation) error {
	switch op.Type {
	case types.OpUpdateBalance:
		patch, ok := op.Data.(map[string]any)
		if !ok {
			return fmt.Errorf("applier: updateBalance payload must be a map")
		}
		delta, _ := toInt64(patch["delta"])
		bundleType, _ := patch["bundleType"].(string)
		return a.provisional.AddBalanceDelta(op.EntityID, provisional.BalanceDelta{
			Delta:       delta,
			OpID:        op.ID,
			TimestampMS: op.Metadata.TimestampMS,
			BundleType:  types.BundleType(bundleType),
		})
	default:
		return nil
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
