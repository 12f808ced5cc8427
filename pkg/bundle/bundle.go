// Package bundle implements the bundle engine:
// atomic multi-step transactions with deterministic step ids, so a
// bundle retried after a partial failure never mints a new opId for a
// step the remote already applied.
package bundle

import (
	"fmt"
	"hash/fnv"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/types"
)

// StepID deterministically derives a step's opId from its bundle and
// step name: a 32-bit FNV-1a hash of "<bundleId>:<stepName>", rendered
// as "<bundleId>-<hex8>". Retrying the same bundle always regenerates
// the identical step ids.
func StepID(bundleID, stepName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bundleID + ":" + stepName))
	return fmt.Sprintf("%s-%08x", bundleID, h.Sum32())
}

// Engine constructs bundles and folds their steps into the
// provisional overlay at creation time, so the UI reflects a bundle's
// effects before it ever reaches the remote.
type Engine struct {
	clock       *clock.Clock
	provisional *provisional.Store
}

// New builds a bundle Engine.
func New(c *clock.Clock, p *provisional.Store) *Engine {
	return &Engine{clock: c, provisional: p}
}

func (e *Engine) newBundle(bundleID string, kind types.BundleType, refs map[string]any) types.Bundle {
	return types.Bundle{
		BundleID:    bundleID,
		Type:        kind,
		EntityRefs:  refs,
		VectorClock: e.clock.Snapshot(),
		TimestampMS: clock.NowMS(),
		Source:      types.SourceLocal,
	}
}

// AssignmentSaleInput describes a sale: one assignment created, stock
// decremented, and the player's balance increased by the total.
type AssignmentSaleInput struct {
	Assignment types.Assignment
	StockDelta int // negative
}

// CreateAssignmentSale builds the three-step assignmentSale bundle
// and folds its effects into the provisional overlay.
func (e *Engine) CreateAssignmentSale(in AssignmentSaleInput) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundleAssignmentSale, map[string]any{
		"assignmentId": in.Assignment.ID,
		"productId":    in.Assignment.ProductID,
		"playerId":     in.Assignment.PlayerID,
	})

	steps := []types.BundleStep{
		{OpID: StepID(bundleID, "createAssignment"), Name: "createAssignment", Kind: types.StepCreateAssignment, Payload: in.Assignment},
		{OpID: StepID(bundleID, "stockDelta"), Name: "stockDelta", Kind: types.StepStockDelta, Payload: map[string]any{
			"productId": in.Assignment.ProductID,
			"delta":     in.StockDelta,
		}},
		{OpID: StepID(bundleID, "balanceDelta"), Name: "balanceDelta", Kind: types.StepBalanceDelta, Payload: map[string]any{
			"playerId": in.Assignment.PlayerID,
			"delta":    in.Assignment.Total,
		}},
	}
	b.Steps = steps

	if err := e.provisional.AddAssignment(in.Assignment); err != nil {
		return types.Bundle{}, err
	}
	if err := e.provisional.AddStockDelta(in.Assignment.ProductID, provisional.StockDelta{
		Delta: in.StockDelta, OpID: steps[1].OpID, TimestampMS: b.TimestampMS,
	}); err != nil {
		return types.Bundle{}, err
	}
	if err := e.provisional.AddBalanceDelta(in.Assignment.PlayerID, provisional.BalanceDelta{
		Delta: in.Assignment.Total, OpID: steps[2].OpID, TimestampMS: b.TimestampMS, BundleType: types.BundleAssignmentSale,
	}); err != nil {
		return types.Bundle{}, err
	}

	return b, nil
}

// CreateCharge builds the two-step charge bundle and folds it into
// the provisional overlay. A positive amount increases the player's
// balance; the charge itself is tracked as a provisional ledger entry.
func (e *Engine) CreateCharge(c types.Charge) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundleCharge, map[string]any{
		"chargeId": c.ID,
		"playerId": c.PlayerID,
	})

	steps := []types.BundleStep{
		{OpID: StepID(bundleID, "createCharge"), Name: "createCharge", Kind: types.StepCreateCharge, Payload: c},
		{OpID: StepID(bundleID, "balanceDelta"), Name: "balanceDelta", Kind: types.StepBalanceDelta, Payload: map[string]any{
			"playerId": c.PlayerID,
			"delta":    c.Amount,
		}},
	}
	b.Steps = steps

	if err := e.provisional.AddCharge(c); err != nil {
		return types.Bundle{}, err
	}
	if err := e.provisional.AddBalanceDelta(c.PlayerID, provisional.BalanceDelta{
		Delta: c.Amount, OpID: steps[1].OpID, TimestampMS: b.TimestampMS, BundleType: types.BundleCharge,
	}); err != nil {
		return types.Bundle{}, err
	}

	return b, nil
}

// PlayerPaymentInput describes a payment that reduces a player's
// balance and, when paying off specific assignments, marks them paid.
type PlayerPaymentInput struct {
	PlayerID      string
	Amount        int64 // positive amount applied, reduces balance
	ChargeID      string
	AssignmentIDs []string
}

// CreatePlayerPayment builds the playerPayment bundle: a negative
// balance delta plus a paid-flag update for every settled assignment.
func (e *Engine) CreatePlayerPayment(in PlayerPaymentInput) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundlePlayerPayment, map[string]any{
		"playerId": in.PlayerID,
		"chargeId": in.ChargeID,
	})

	steps := []types.BundleStep{
		{OpID: StepID(bundleID, "balanceDelta"), Name: "balanceDelta", Kind: types.StepBalanceDelta, Payload: map[string]any{
			"playerId": in.PlayerID,
			"delta":    -in.Amount,
		}},
	}
	if err := e.provisional.AddBalanceDelta(in.PlayerID, provisional.BalanceDelta{
		Delta: -in.Amount, OpID: steps[0].OpID, TimestampMS: b.TimestampMS, BundleType: types.BundlePlayerPayment,
	}); err != nil {
		return types.Bundle{}, err
	}

	for i, assignmentID := range in.AssignmentIDs {
		stepName := fmt.Sprintf("markPaid-%d", i)
		opID := StepID(bundleID, stepName)
		steps = append(steps, types.BundleStep{
			OpID: opID, Name: stepName, Kind: types.StepUpdateAssignment,
			Payload: map[string]any{"assignmentId": assignmentID, "paid": true},
		})
		if err := e.provisional.AddAssignmentUpdate(assignmentID, provisional.AssignmentUpdate{
			Updates:     map[string]any{"paid": true},
			OpID:        opID,
			TimestampMS: b.TimestampMS,
		}); err != nil {
			return types.Bundle{}, err
		}
	}
	b.Steps = steps

	return b, nil
}

// UpdateChargeStatus builds the single-step chargeUpdate bundle.
func (e *Engine) UpdateChargeStatus(chargeID string, status types.ChargeStatus) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundleChargeUpdate, map[string]any{"chargeId": chargeID})
	step := types.BundleStep{
		OpID: StepID(bundleID, "updateCharge"), Name: "updateCharge", Kind: types.StepUpdateCharge,
		Payload: map[string]any{"chargeId": chargeID, "status": status},
	}
	b.Steps = []types.BundleStep{step}

	if err := e.provisional.AddChargeUpdate(chargeID, provisional.ChargeUpdate{
		Status: status, OpID: step.OpID, TimestampMS: b.TimestampMS,
	}); err != nil {
		return types.Bundle{}, err
	}

	return b, nil
}

// DeleteCharge builds the two-step chargeDelete bundle. A
// cancellation-style delete reverses the charge's balance effect by
// applying a negated delta.
func (e *Engine) DeleteCharge(c types.Charge) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundleChargeDelete, map[string]any{"chargeId": c.ID})
	steps := []types.BundleStep{
		{OpID: StepID(bundleID, "deleteCharge"), Name: "deleteCharge", Kind: types.StepDeleteCharge, Payload: map[string]any{"chargeId": c.ID}},
		{OpID: StepID(bundleID, "balanceDelta"), Name: "balanceDelta", Kind: types.StepBalanceDelta, Payload: map[string]any{
			"playerId": c.PlayerID,
			"delta":    -c.Amount,
		}},
	}
	b.Steps = steps

	if err := e.provisional.AddBalanceDelta(c.PlayerID, provisional.BalanceDelta{
		Delta: -c.Amount, OpID: steps[1].OpID, TimestampMS: b.TimestampMS, BundleType: types.BundleChargeDelete,
	}); err != nil {
		return types.Bundle{}, err
	}

	return b, nil
}

// UpdateOrganization builds the single-step organizationUpdate bundle.
func (e *Engine) UpdateOrganization(settings types.OrganizationSettings) (types.Bundle, error) {
	bundleID := clock.NewOpID()
	b := e.newBundle(bundleID, types.BundleOrganizationUpdate, map[string]any{"organizationId": settings.ID})
	step := types.BundleStep{
		OpID: StepID(bundleID, "updateOrganization"), Name: "updateOrganization", Kind: types.StepUpdateOrganization,
		Payload: settings,
	}
	b.Steps = []types.BundleStep{step}

	if err := e.provisional.AddOrganizationUpdate(provisional.OrganizationUpdate{
		Organization: settings, OpID: step.OpID, TimestampMS: b.TimestampMS,
	}); err != nil {
		return types.Bundle{}, err
	}

	return b, nil
}

// AckedOpIDs returns the full set of step opIds in b: the same set the
// committer marks as applied in the remote transaction, so a retried
// bundle never reapplies a step the remote already accepted.
func AckedOpIDs(b types.Bundle) []string {
	ids := make([]string, len(b.Steps))
	for i, s := range b.Steps {
		ids[i] = s.OpID
	}
	return ids
}
