package bundle

import (
	"context"
	"fmt"

	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

// Committer turns a Bundle into an atomic remote transaction, and on
// success folds its steps permanently into the base cache and clears
// the corresponding provisional overlay entries.
type Committer struct {
	store       remote.Store
	cache       *storage.Cache
	provisional *provisional.Store
}

// NewCommitter builds a Committer over the given remote store, local
// cache, and provisional overlay.
func NewCommitter(store remote.Store, cache *storage.Cache, p *provisional.Store) *Committer {
	return &Committer{store: store, cache: cache, provisional: p}
}

// Commit sends b's unseen steps to the remote as one atomic
// transaction, skipping any step whose opId is already recorded in
// appliedOps — the idempotency guard that makes retrying a bundle
// after a partial failure (or a crash before outbox removal) safe: a
// step the remote already applied is neither re-sent nor re-applied to
// the base cache a second time. On success it applies every newly-sent
// step to the base cache and clears the matching provisional entries
// for the whole bundle, since previously-applied steps are just as
// committed as the ones sent this round.
func (c *Committer) Commit(ctx context.Context, organizationID string, b types.Bundle) error {
	txn := remote.Transaction{OrganizationID: organizationID}

	var newSteps []types.BundleStep
	for _, step := range b.Steps {
		applied, err := c.store.AppliedOp(ctx, organizationID, step.OpID)
		if err != nil {
			return fmt.Errorf("bundle: check applied %s: %w", step.Name, err)
		}
		txn.AppliedOpIDs = append(txn.AppliedOpIDs, step.OpID)
		if applied {
			continue // skipped-ack: already committed by an earlier attempt
		}

		write, ok, err := stepToWrite(step)
		if err != nil {
			return fmt.Errorf("bundle: step %s: %w", step.Name, err)
		}
		if ok {
			txn.Writes = append(txn.Writes, write)
		}
		newSteps = append(newSteps, step)
	}

	if err := c.store.Commit(ctx, txn); err != nil {
		return err
	}

	if err := c.applyToCache(newSteps, b.Type); err != nil {
		return fmt.Errorf("bundle: apply to cache: %w", err)
	}

	acked := map[string]bool{}
	for _, id := range txn.AppliedOpIDs {
		acked[id] = true
	}
	if err := c.provisional.ClearByOpIDs(acked); err != nil {
		return fmt.Errorf("bundle: clear overlays: %w", err)
	}
	for _, step := range b.Steps {
		switch step.Kind {
		case types.StepCreateAssignment:
			if a, ok := step.Payload.(types.Assignment); ok {
				if err := c.provisional.ClearAssignmentByOpID(a.ID, step.OpID, true); err != nil {
					return err
				}
			}
		case types.StepCreateCharge:
			if id, ok := chargeID(step); ok {
				if err := c.provisional.ClearChargeByOpID(id, step.OpID, true); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func chargeID(step types.BundleStep) (string, bool) {
	if ch, ok := step.Payload.(types.Charge); ok {
		return ch.ID, true
	}
	m, ok := step.Payload.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["chargeId"].(string)
	return id, ok
}

// stepToWrite translates a BundleStep into a remote.Write. Balance and
// stock deltas become atomic increments so concurrent bundles from
// other devices never clobber each other's numeric effect.
func stepToWrite(step types.BundleStep) (remote.Write, bool, error) {
	switch step.Kind {
	case types.StepCreateAssignment:
		a, ok := step.Payload.(types.Assignment)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("payload is not an Assignment")
		}
		return remote.Write{
			Collection: types.CollectionAssignments,
			ID:         a.ID,
			Kind:       remote.WriteCreate,
			Fields:     assignmentFields(a),
		}, true, nil

	case types.StepUpdateAssignment:
		m, ok := step.Payload.(map[string]any)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("payload is not a map")
		}
		id, _ := m["assignmentId"].(string)
		fields := map[string]any{}
		for k, v := range m {
			if k != "assignmentId" {
				fields[k] = v
			}
		}
		return remote.Write{Collection: types.CollectionAssignments, ID: id, Kind: remote.WriteUpdate, Fields: fields}, true, nil

	case types.StepStockDelta:
		m, _ := step.Payload.(map[string]any)
		id, _ := m["productId"].(string)
		delta, _ := toInt64(m["delta"])
		return remote.Write{
			Collection: types.CollectionProducts, ID: id, Kind: remote.WriteIncrement,
			Increments: map[string]int64{"stock": delta},
		}, true, nil

	case types.StepBalanceDelta:
		m, _ := step.Payload.(map[string]any)
		id, _ := m["playerId"].(string)
		delta, _ := toInt64(m["delta"])
		return remote.Write{
			Collection: types.CollectionPlayers, ID: id, Kind: remote.WriteIncrement,
			Increments: map[string]int64{"balance": delta},
		}, true, nil

	case types.StepCreateCharge:
		ch, ok := step.Payload.(types.Charge)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("payload is not a Charge")
		}
		return remote.Write{
			Collection: types.CollectionCharges, ID: ch.ID, Kind: remote.WriteCreate,
			Fields: chargeFields(ch),
		}, true, nil

	case types.StepUpdateCharge:
		m, _ := step.Payload.(map[string]any)
		id, _ := m["chargeId"].(string)
		return remote.Write{
			Collection: types.CollectionCharges, ID: id, Kind: remote.WriteUpdate,
			Fields: map[string]any{"status": m["status"]},
		}, true, nil

	case types.StepDeleteCharge:
		m, _ := step.Payload.(map[string]any)
		id, _ := m["chargeId"].(string)
		return remote.Write{Collection: types.CollectionCharges, ID: id, Kind: remote.WriteDelete}, true, nil

	case types.StepUpdateOrganization:
		settings, ok := step.Payload.(types.OrganizationSettings)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("payload is not OrganizationSettings")
		}
		return remote.Write{
			Collection: types.CollectionOrganization, ID: settings.ID, Kind: remote.WriteUpdate,
			Fields: map[string]any{
				"name": settings.Name, "currency": settings.Currency,
				"logoUrl": settings.LogoURL, "description": settings.Description,
			},
		}, true, nil

	default:
		return remote.Write{}, false, fmt.Errorf("unhandled step kind %q", step.Kind)
	}
}

func assignmentFields(a types.Assignment) map[string]any {
	return map[string]any{
		"playerId": a.PlayerID, "productId": a.ProductID, "userName": a.UserName,
		"productName": a.ProductName, "quantity": a.Quantity, "unitPrice": a.UnitPrice,
		"total": a.Total, "paid": a.Paid, "cancelled": a.Cancelled, "date": a.Date,
	}
}

func chargeFields(c types.Charge) map[string]any {
	return map[string]any{
		"playerId": c.PlayerID, "amount": c.Amount, "reason": c.Reason,
		"status": c.Status, "relatedAssignmentId": c.RelatedAssignmentID,
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

// applyToCache folds steps' numeric effects directly into the base
// cache's Product/Player rows, so readers see the committed value
// immediately rather than waiting for the next hydration pass. steps
// excludes anything already applied by an earlier attempt at this
// bundle, so a retry never double-counts a delta locally.
func (c *Committer) applyToCache(steps []types.BundleStep, bundleType types.BundleType) error {
	products, err := storage.LoadCollection[types.Product](c.cache, string(types.CollectionProducts))
	if err != nil {
		return err
	}
	players, err := storage.LoadCollection[types.Player](c.cache, string(types.CollectionPlayers))
	if err != nil {
		return err
	}
	assignments, err := storage.LoadCollection[types.Assignment](c.cache, string(types.CollectionAssignments))
	if err != nil {
		return err
	}
	charges, err := storage.LoadCollection[types.Charge](c.cache, string(types.CollectionCharges))
	if err != nil {
		return err
	}

	productIdx := map[string]int{}
	for i, p := range products {
		productIdx[p.ID] = i
	}
	playerIdx := map[string]int{}
	for i, p := range players {
		playerIdx[p.ID] = i
	}
	assignmentIdx := map[string]int{}
	for i, a := range assignments {
		assignmentIdx[a.ID] = i
	}
	chargeIdx := map[string]int{}
	for i, ch := range charges {
		chargeIdx[ch.ID] = i
	}

	dirtyProducts, dirtyPlayers, dirtyAssignments, dirtyCharges := false, false, false, false
	for _, step := range steps {
		switch step.Kind {
		case types.StepStockDelta:
			m, _ := step.Payload.(map[string]any)
			id, _ := m["productId"].(string)
			delta, _ := toInt64(m["delta"])
			if i, ok := productIdx[id]; ok {
				products[i].Stock += int(delta)
				dirtyProducts = true
			}
		case types.StepBalanceDelta:
			m, _ := step.Payload.(map[string]any)
			id, _ := m["playerId"].(string)
			delta, _ := toInt64(m["delta"])
			if i, ok := playerIdx[id]; ok {
				players[i].Balance += delta
				if bundleType == types.BundleAssignmentSale && delta > 0 {
					players[i].TotalSpent += delta
					players[i].TotalPurchases++
				}
				dirtyPlayers = true
			}
		case types.StepCreateAssignment:
			a, ok := step.Payload.(types.Assignment)
			if !ok {
				continue
			}
			if _, exists := assignmentIdx[a.ID]; !exists {
				assignmentIdx[a.ID] = len(assignments)
				assignments = append(assignments, a)
				dirtyAssignments = true
			}
		case types.StepUpdateAssignment:
			m, _ := step.Payload.(map[string]any)
			id, _ := m["assignmentId"].(string)
			if i, ok := assignmentIdx[id]; ok {
				if v, ok := m["paid"].(bool); ok {
					assignments[i].Paid = v
				}
				if v, ok := m["cancelled"].(bool); ok {
					assignments[i].Cancelled = v
				}
				dirtyAssignments = true
			}
		case types.StepCreateCharge:
			ch, ok := step.Payload.(types.Charge)
			if !ok {
				continue
			}
			if _, exists := chargeIdx[ch.ID]; !exists {
				chargeIdx[ch.ID] = len(charges)
				charges = append(charges, ch)
				dirtyCharges = true
			}
		case types.StepUpdateCharge:
			m, _ := step.Payload.(map[string]any)
			id, _ := m["chargeId"].(string)
			if i, ok := chargeIdx[id]; ok {
				if status, ok := m["status"].(types.ChargeStatus); ok {
					charges[i].Status = status
				}
				dirtyCharges = true
			}
		case types.StepDeleteCharge:
			m, _ := step.Payload.(map[string]any)
			id, _ := m["chargeId"].(string)
			if i, ok := chargeIdx[id]; ok {
				charges[i].IsActive = false
				dirtyCharges = true
			}
		}
	}

	if dirtyProducts {
		if err := storage.SaveCollection(c.cache, string(types.CollectionProducts), products); err != nil {
			return err
		}
	}
	if dirtyPlayers {
		if err := storage.SaveCollection(c.cache, string(types.CollectionPlayers), players); err != nil {
			return err
		}
	}
	if dirtyAssignments {
		if err := storage.SaveCollection(c.cache, string(types.CollectionAssignments), assignments); err != nil {
			return err
		}
	}
	if dirtyCharges {
		if err := storage.SaveCollection(c.cache, string(types.CollectionCharges), charges); err != nil {
			return err
		}
	}
	return nil
}
