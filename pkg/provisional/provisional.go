// Package provisional implements the seven uncommitted overlays that
// fold over the base cache on read, giving the UI an immediate view of
// changes made while offline.
package provisional

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/types"
)

const (
	keyStockDeltas         = "provisional_stock_deltas"
	keyBalanceDeltas       = "provisional_balance_deltas"
	keyAssignments         = "provisional_assignments"
	keyAssignmentUpdates   = "provisional_assignment_updates"
	keyOrganizationUpdates = "provisional_organization_updates"
	keyCharges             = "provisional_charges"
	keyChargeUpdates       = "provisional_charge_updates"
)

// StockDelta is one uncommitted stock change for a product.
type StockDelta struct {
	Delta       int    `json:"delta"`
	OpID        string `json:"opId"`
	TimestampMS int64  `json:"timestamp"`
}

// BalanceDelta is one uncommitted balance change for a player.
type BalanceDelta struct {
	Delta       int64            `json:"delta"`
	OpID        string           `json:"opId"`
	TimestampMS int64            `json:"timestamp"`
	BundleType  types.BundleType `json:"bundleType"`
}

// AssignmentUpdate is one uncommitted field patch to an assignment
// (e.g. paid=true from a payment bundle).
type AssignmentUpdate struct {
	Updates     map[string]any `json:"updates"`
	OpID        string         `json:"opId"`
	TimestampMS int64          `json:"timestamp"`
}

// OrganizationUpdate is one uncommitted settings patch.
type OrganizationUpdate struct {
	Organization types.OrganizationSettings `json:"organization"`
	OpID         string                     `json:"opId"`
	TimestampMS  int64                      `json:"timestamp"`
}

// ChargeUpdate is one uncommitted status patch to a charge, cached or
// still provisional (e.g. pending -> paid from updateChargeStatus).
type ChargeUpdate struct {
	Status      types.ChargeStatus `json:"status"`
	OpID        string             `json:"opId"`
	TimestampMS int64              `json:"timestamp"`
}

// Store holds the seven overlays in memory, write-through to durable
// storage. Every insertion deduplicates by opId so retrying a bundle
// never double-applies.
type Store struct {
	mu sync.Mutex

	backing storage.Store

	stockDeltas   map[string][]StockDelta
	balanceDeltas map[string][]BalanceDelta
	assignments   map[string]types.Assignment
	assignUpdates map[string][]AssignmentUpdate
	orgUpdates    []OrganizationUpdate
	charges       map[string]types.Charge
	chargeUpdates map[string][]ChargeUpdate
}

// Load reads all seven overlays from backing storage, creating empty
// ones where no blob exists yet.
func Load(backing storage.Store) (*Store, error) {
	s := &Store{
		backing:       backing,
		stockDeltas:   map[string][]StockDelta{},
		balanceDeltas: map[string][]BalanceDelta{},
		assignments:   map[string]types.Assignment{},
		assignUpdates: map[string][]AssignmentUpdate{},
		charges:       map[string]types.Charge{},
		chargeUpdates: map[string][]ChargeUpdate{},
	}
	if err := loadBlob(backing, keyStockDeltas, &s.stockDeltas); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyBalanceDeltas, &s.balanceDeltas); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyAssignments, &s.assignments); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyAssignmentUpdates, &s.assignUpdates); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyOrganizationUpdates, &s.orgUpdates); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyCharges, &s.charges); err != nil {
		return nil, err
	}
	if err := loadBlob(backing, keyChargeUpdates, &s.chargeUpdates); err != nil {
		return nil, err
	}
	return s, nil
}

func loadBlob(store storage.Store, key string, out any) error {
	raw, ok, err := store.LoadBlob(key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) persist(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.backing.SaveBlob(key, data)
}

// AddStockDelta records an uncommitted stock change for productID,
// deduplicating by OpID.
func (s *Store) AddStockDelta(productID string, d StockDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.stockDeltas[productID] {
		if existing.OpID == d.OpID {
			return nil
		}
	}
	s.stockDeltas[productID] = append(s.stockDeltas[productID], d)
	return s.persist(keyStockDeltas, s.stockDeltas)
}

// AddBalanceDelta records an uncommitted balance change for playerID,
// deduplicating by OpID.
func (s *Store) AddBalanceDelta(playerID string, d BalanceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.balanceDeltas[playerID] {
		if existing.OpID == d.OpID {
			return nil
		}
	}
	s.balanceDeltas[playerID] = append(s.balanceDeltas[playerID], d)
	return s.persist(keyBalanceDeltas, s.balanceDeltas)
}

// AddAssignment records a new provisional assignment not yet in the
// base cache.
func (s *Store) AddAssignment(a types.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[a.ID]; exists {
		return nil
	}
	s.assignments[a.ID] = a
	return s.persist(keyAssignments, s.assignments)
}

// AddAssignmentUpdate records an uncommitted field patch to
// assignmentID, deduplicating by OpID.
func (s *Store) AddAssignmentUpdate(assignmentID string, u AssignmentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignUpdates[assignmentID] {
		if existing.OpID == u.OpID {
			return nil
		}
	}
	s.assignUpdates[assignmentID] = append(s.assignUpdates[assignmentID], u)
	return s.persist(keyAssignmentUpdates, s.assignUpdates)
}

// AddOrganizationUpdate records an uncommitted settings patch,
// deduplicating by OpID.
func (s *Store) AddOrganizationUpdate(u OrganizationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgUpdates {
		if existing.OpID == u.OpID {
			return nil
		}
	}
	s.orgUpdates = append(s.orgUpdates, u)
	return s.persist(keyOrganizationUpdates, s.orgUpdates)
}

// AddCharge records a new provisional charge not yet in the base
// cache.
func (s *Store) AddCharge(c types.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.charges[c.ID]; exists {
		return nil
	}
	s.charges[c.ID] = c
	return s.persist(keyCharges, s.charges)
}

// AddChargeUpdate records an uncommitted status patch to chargeID,
// deduplicating by OpID.
func (s *Store) AddChargeUpdate(chargeID string, u ChargeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.chargeUpdates[chargeID] {
		if existing.OpID == u.OpID {
			return nil
		}
	}
	s.chargeUpdates[chargeID] = append(s.chargeUpdates[chargeID], u)
	return s.persist(keyChargeUpdates, s.chargeUpdates)
}
