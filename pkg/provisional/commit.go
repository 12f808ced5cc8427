package provisional

// ClearByOpIDs removes, across the opId-keyed overlays (stock deltas,
// balance deltas, assignment updates, charge updates, organization
// updates), every entry whose OpID is in acked. This is called after a
// bundle's steps have been merged into the base cache. Provisional
// assignments and charges are keyed by entity ID rather than OpID and
// are cleared separately via ClearAssignmentByOpID / ClearChargeByOpID.
func (s *Store) ClearByOpIDs(acked map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, deltas := range s.stockDeltas {
		s.stockDeltas[productID] = filterStockDeltas(deltas, acked)
		if len(s.stockDeltas[productID]) == 0 {
			delete(s.stockDeltas, productID)
		}
	}
	for playerID, deltas := range s.balanceDeltas {
		s.balanceDeltas[playerID] = filterBalanceDeltas(deltas, acked)
		if len(s.balanceDeltas[playerID]) == 0 {
			delete(s.balanceDeltas, playerID)
		}
	}
	for id, updates := range s.assignUpdates {
		s.assignUpdates[id] = filterAssignmentUpdates(updates, acked)
		if len(s.assignUpdates[id]) == 0 {
			delete(s.assignUpdates, id)
		}
	}
	for id, updates := range s.chargeUpdates {
		s.chargeUpdates[id] = filterChargeUpdates(updates, acked)
		if len(s.chargeUpdates[id]) == 0 {
			delete(s.chargeUpdates, id)
		}
	}
	s.orgUpdates = filterOrgUpdates(s.orgUpdates, acked)

	if err := s.persist(keyStockDeltas, s.stockDeltas); err != nil {
		return err
	}
	if err := s.persist(keyBalanceDeltas, s.balanceDeltas); err != nil {
		return err
	}
	if err := s.persist(keyAssignments, s.assignments); err != nil {
		return err
	}
	if err := s.persist(keyAssignmentUpdates, s.assignUpdates); err != nil {
		return err
	}
	if err := s.persist(keyOrganizationUpdates, s.orgUpdates); err != nil {
		return err
	}
	if err := s.persist(keyChargeUpdates, s.chargeUpdates); err != nil {
		return err
	}
	return s.persist(keyCharges, s.charges)
}

// ClearAssignmentByOpID removes a provisional assignment once its
// creating opId has been acknowledged by the remote. Provisional
// assignments are keyed by entity ID, not opId, so the bundle engine
// calls this explicitly rather than relying on ClearByOpIDs' generic
// scan.
func (s *Store) ClearAssignmentByOpID(assignmentID, opID string, acked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !acked {
		return nil
	}
	if _, exists := s.assignments[assignmentID]; !exists {
		return nil
	}
	delete(s.assignments, assignmentID)
	return s.persist(keyAssignments, s.assignments)
}

// ClearChargeByOpID removes a provisional charge once its creating
// opId has been acknowledged, for the same reason as
// ClearAssignmentByOpID.
func (s *Store) ClearChargeByOpID(chargeID, opID string, acked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !acked {
		return nil
	}
	if _, exists := s.charges[chargeID]; !exists {
		return nil
	}
	delete(s.charges, chargeID)
	return s.persist(keyCharges, s.charges)
}

func filterStockDeltas(deltas []StockDelta, acked map[string]bool) []StockDelta {
	out := deltas[:0:0]
	for _, d := range deltas {
		if !acked[d.OpID] {
			out = append(out, d)
		}
	}
	return out
}

func filterBalanceDeltas(deltas []BalanceDelta, acked map[string]bool) []BalanceDelta {
	out := deltas[:0:0]
	for _, d := range deltas {
		if !acked[d.OpID] {
			out = append(out, d)
		}
	}
	return out
}

func filterAssignmentUpdates(updates []AssignmentUpdate, acked map[string]bool) []AssignmentUpdate {
	out := updates[:0:0]
	for _, u := range updates {
		if !acked[u.OpID] {
			out = append(out, u)
		}
	}
	return out
}

func filterChargeUpdates(updates []ChargeUpdate, acked map[string]bool) []ChargeUpdate {
	out := updates[:0:0]
	for _, u := range updates {
		if !acked[u.OpID] {
			out = append(out, u)
		}
	}
	return out
}

func filterOrgUpdates(updates []OrganizationUpdate, acked map[string]bool) []OrganizationUpdate {
	out := updates[:0:0]
	for _, u := range updates {
		if !acked[u.OpID] {
			out = append(out, u)
		}
	}
	return out
}
