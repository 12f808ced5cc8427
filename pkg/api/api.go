// Package api implements the thin façade application code calls:
// plain entity create/update/delete funnel
// through the applier, compound multi-step transactions funnel
// through the bundle engine, and reads fold the provisional overlay
// over the base cache so every caller sees its own uncommitted writes
// immediately.
package api

import (
	"context"
	"fmt"

	"github.com/cuemby/posyncd/pkg/applier"
	"github.com/cuemby/posyncd/pkg/bundle"
	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/outbox"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

// BundleSender commits a bundle immediately, used for the online fast
// path after enqueueing.
type BundleSender interface {
	SendBundle(ctx context.Context, b types.Bundle) error
}

// OnlineChecker reports current connectivity, consulted to decide
// whether to attempt an immediate bundle commit after enqueueing.
type OnlineChecker interface {
	IsOnline() bool
}

// API bundles the collaborators every surface method needs.
type API struct {
	applier     *applier.Applier
	bundles     *bundle.Engine
	outbox      *outbox.Outbox
	cache       *storage.Cache
	provisional *provisional.Store
	clock       *clock.Clock
	sender      BundleSender
	online      OnlineChecker
}

// New builds an API over its collaborators.
func New(a *applier.Applier, b *bundle.Engine, ob *outbox.Outbox, cache *storage.Cache, p *provisional.Store, c *clock.Clock, sender BundleSender, online OnlineChecker) *API {
	return &API{applier: a, bundles: b, outbox: ob, cache: cache, provisional: p, clock: c, sender: sender, online: online}
}

// tryCommit attempts immediate delivery of an enqueued bundle when
// online. Failure is not fatal: the bundle is already durable in the
// outbox and the scheduler's next drain will retry it.
func (a *API) tryCommit(b types.Bundle) {
	if a.online != nil && a.online.IsOnline() && a.sender != nil {
		_ = a.sender.SendBundle(context.Background(), b)
	}
}

// CreateEntity stamps and applies a create Operation for collection.
func (a *API) CreateEntity(ctx context.Context, collection types.Collection, entityID string, data any) (types.Operation, error) {
	return a.applier.Apply(ctx, applier.Input{Type: types.OpCreate, Collection: collection, EntityID: entityID, Data: data})
}

// UpdateEntity stamps and applies an update Operation for collection.
func (a *API) UpdateEntity(ctx context.Context, collection types.Collection, entityID string, data any) (types.Operation, error) {
	return a.applier.Apply(ctx, applier.Input{Type: types.OpUpdate, Collection: collection, EntityID: entityID, Data: data})
}

// DeleteEntity stamps and applies a delete Operation for collection.
func (a *API) DeleteEntity(ctx context.Context, collection types.Collection, entityID string) (types.Operation, error) {
	return a.applier.Apply(ctx, applier.Input{Type: types.OpDelete, Collection: collection, EntityID: entityID})
}

// CreateAssignmentTransaction builds and enqueues the three-step sale
// bundle (assignment + stock decrement + balance increment).
func (a *API) CreateAssignmentTransaction(in bundle.AssignmentSaleInput) (types.Bundle, error) {
	b, err := a.bundles.CreateAssignmentSale(in)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: create assignment sale: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// CreateChargeBundle builds and enqueues a ledger charge bundle.
func (a *API) CreateChargeBundle(c types.Charge) (types.Bundle, error) {
	b, err := a.bundles.CreateCharge(c)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: create charge: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// CreatePaymentBundle builds and enqueues a player payment bundle.
func (a *API) CreatePaymentBundle(in bundle.PlayerPaymentInput) (types.Bundle, error) {
	b, err := a.bundles.CreatePlayerPayment(in)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: create payment: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// UpdateChargeStatus builds and enqueues a charge-status-update bundle.
func (a *API) UpdateChargeStatus(chargeID string, status types.ChargeStatus) (types.Bundle, error) {
	b, err := a.bundles.UpdateChargeStatus(chargeID, status)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: update charge status: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// DeleteCharge builds and enqueues a charge-deletion bundle.
func (a *API) DeleteCharge(c types.Charge) (types.Bundle, error) {
	b, err := a.bundles.DeleteCharge(c)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: delete charge: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// UpdateOrganization builds and enqueues an organization-settings
// update bundle.
func (a *API) UpdateOrganization(settings types.OrganizationSettings) (types.Bundle, error) {
	b, err := a.bundles.UpdateOrganization(settings)
	if err != nil {
		return types.Bundle{}, fmt.Errorf("api: update organization: %w", err)
	}
	if err := a.outbox.EnqueueBundle(b); err != nil {
		return types.Bundle{}, fmt.Errorf("api: enqueue bundle: %w", err)
	}
	a.tryCommit(b)
	return b, nil
}

// GetProducts returns every cached product with its provisional stock
// delta folded in.
func (a *API) GetProducts() ([]provisional.ProductView, error) {
	base, err := storage.LoadCollection[types.Product](a.cache, string(types.CollectionProducts))
	if err != nil {
		return nil, fmt.Errorf("api: load products: %w", err)
	}
	views := make([]provisional.ProductView, len(base))
	for i, p := range base {
		views[i] = a.provisional.FoldProduct(p)
	}
	return views, nil
}

// GetPlayers returns every cached player with its provisional balance
// delta folded in.
func (a *API) GetPlayers() ([]provisional.PlayerView, error) {
	base, err := storage.LoadCollection[types.Player](a.cache, string(types.CollectionPlayers))
	if err != nil {
		return nil, fmt.Errorf("api: load players: %w", err)
	}
	views := make([]provisional.PlayerView, len(base))
	for i, p := range base {
		views[i] = a.provisional.FoldPlayer(p)
	}
	return views, nil
}

// GetAssignments returns every cached assignment with provisional
// creations and field patches folded in.
func (a *API) GetAssignments() ([]types.Assignment, error) {
	base, err := storage.LoadCollection[types.Assignment](a.cache, string(types.CollectionAssignments))
	if err != nil {
		return nil, fmt.Errorf("api: load assignments: %w", err)
	}
	return a.provisional.FoldAssignments(base), nil
}

// GetCharges returns every cached charge with provisional creations
// folded in.
func (a *API) GetCharges() ([]types.Charge, error) {
	base, err := storage.LoadCollection[types.Charge](a.cache, string(types.CollectionCharges))
	if err != nil {
		return nil, fmt.Errorf("api: load charges: %w", err)
	}
	return a.provisional.FoldCharges(base), nil
}

// GetOrganization returns the cached organization settings with
// provisional patches folded in.
func (a *API) GetOrganization() (types.OrganizationSettings, error) {
	rows, err := storage.LoadCollection[types.OrganizationSettings](a.cache, string(types.CollectionOrganization))
	if err != nil {
		return types.OrganizationSettings{}, fmt.Errorf("api: load organization: %w", err)
	}
	if len(rows) == 0 {
		return types.OrganizationSettings{}, nil
	}
	return a.provisional.FoldOrganization(rows[0]), nil
}
