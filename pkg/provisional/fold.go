package provisional

import (
	"sort"

	"github.com/cuemby/posyncd/pkg/types"
)

// ProductView is a Product folded with its uncommitted stock deltas.
type ProductView struct {
	types.Product
	Provisional bool `json:"_provisional"`
}

// FoldProduct applies every pending stock delta for base.ID over
// base.Stock.
func (s *Store) FoldProduct(base types.Product) ProductView {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas := s.stockDeltas[base.ID]
	view := ProductView{Product: base}
	for _, d := range deltas {
		view.Stock += d.Delta
	}
	view.Provisional = len(deltas) > 0
	return view
}

// PlayerView is a Player folded with its uncommitted balance deltas.
type PlayerView struct {
	types.Player
	Provisional bool `json:"_provisional"`
}

// FoldPlayer applies every pending balance delta for base.ID over
// base.Balance. TotalSpent/TotalPurchases only move for positive
// deltas tagged assignmentSale.
func (s *Store) FoldPlayer(base types.Player) PlayerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas := s.balanceDeltas[base.ID]
	view := PlayerView{Player: base}
	for _, d := range deltas {
		view.Balance += d.Delta
		if d.BundleType == types.BundleAssignmentSale && d.Delta > 0 {
			view.TotalSpent += d.Delta
			view.TotalPurchases++
		}
	}
	view.Provisional = len(deltas) > 0
	return view
}

// FoldAssignments adds provisional assignments not yet present in
// base and applies every pending field update, in insertion order.
func (s *Store) FoldAssignments(base []types.Assignment) []types.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseIDs := make(map[string]bool, len(base))
	out := make([]types.Assignment, len(base))
	copy(out, base)
	for i := range out {
		baseIDs[out[i].ID] = true
		applyAssignmentUpdates(&out[i], s.assignUpdates[out[i].ID])
	}
	for _, id := range sortedKeys(s.assignments) {
		if baseIDs[id] {
			continue
		}
		prov := s.assignments[id]
		applyAssignmentUpdates(&prov, s.assignUpdates[id])
		out = append(out, prov)
	}
	return out
}

// sortedKeys returns a deterministically ordered key list so folding a
// map of not-yet-cached rows onto a read doesn't reorder the result on
// every call.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyAssignmentUpdates(a *types.Assignment, updates []AssignmentUpdate) {
	for _, u := range updates {
		if v, ok := u.Updates["paid"].(bool); ok {
			a.Paid = v
		}
		if v, ok := u.Updates["cancelled"].(bool); ok {
			a.Cancelled = v
		}
	}
}

// FoldOrganization shallow-merges every pending update over base, in
// insertion order.
func (s *Store) FoldOrganization(base types.OrganizationSettings) types.OrganizationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := base
	for _, u := range s.orgUpdates {
		if u.Organization.Name != "" {
			out.Name = u.Organization.Name
		}
		if u.Organization.Currency != "" {
			out.Currency = u.Organization.Currency
		}
		if u.Organization.LogoURL != "" {
			out.LogoURL = u.Organization.LogoURL
		}
		if u.Organization.Description != "" {
			out.Description = u.Organization.Description
		}
	}
	return out
}

// FoldCharges adds provisional charges not yet present in base and
// applies every pending status patch, in insertion order.
func (s *Store) FoldCharges(base []types.Charge) []types.Charge {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseIDs := make(map[string]bool, len(base))
	out := make([]types.Charge, len(base))
	copy(out, base)
	for i := range out {
		baseIDs[out[i].ID] = true
		applyChargeUpdates(&out[i], s.chargeUpdates[out[i].ID])
	}
	for _, id := range sortedKeys(s.charges) {
		if baseIDs[id] {
			continue
		}
		prov := s.charges[id]
		applyChargeUpdates(&prov, s.chargeUpdates[id])
		out = append(out, prov)
	}
	return out
}

func applyChargeUpdates(c *types.Charge, updates []ChargeUpdate) {
	for _, u := range updates {
		c.Status = u.Status
	}
}
