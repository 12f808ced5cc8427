// Package resolver implements the conflict resolution engine:
// timestamp, vector-clock, and additive-merge decisions for
// reconciling a local update against the currently cached entity.
package resolver

import (
	"time"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/types"
)

// concurrentWindow is the width within which two updates to the same
// entity are considered concurrent for additive-merge purposes.
const concurrentWindow = 5 * time.Minute

// Side describes one party to a conflict: the entity's current fields
// (as cached, or as proposed) plus the metadata that accompanied it.
type Side struct {
	Fields      map[string]any
	TimestampMS int64
	Version     int
	VectorClock map[string]int
	Source      types.Source
}

// Input is what the resolver needs to decide: the currently cached
// entity and the incoming proposed update.
type Input struct {
	Current     Side
	Incoming    Side
	ForceServer bool
}

// Rule names the decision path taken, for logging/debugging.
type Rule string

const (
	RuleForceServer    Rule = "force_server"
	RuleServerNewer    Rule = "server_newer"
	RuleServerOlder    Rule = "server_older"
	RuleAdditiveMerge  Rule = "additive_merge"
	RuleStrictNewer    Rule = "strict_newer"
	RuleVectorClock    Rule = "vector_clock"
	RuleCounterTieBreak Rule = "counter_tie_break"
	RuleReject         Rule = "reject"
)

// Decision is the resolver's output: either accept (with the merged
// field set to apply) or reject (current entity is unchanged).
type Decision struct {
	Accept bool
	Fields map[string]any
	Rule   Rule
}

// Resolve applies the seven ordered conflict-resolution rules in
// priority order, returning as soon as one decides the outcome.
func Resolve(in Input) Decision {
	// Rule 1: force-server mode bypasses resolution entirely.
	if in.ForceServer {
		return Decision{Accept: true, Fields: in.Incoming.Fields, Rule: RuleForceServer}
	}

	// Rules 2-3: server-sourced updates compare directly by
	// timestamp, preserving offline edits when the server is stale.
	if in.Incoming.Source == types.SourceServer {
		if in.Incoming.TimestampMS > in.Current.TimestampMS {
			return Decision{Accept: true, Fields: in.Incoming.Fields, Rule: RuleServerNewer}
		}
		return Decision{Accept: false, Rule: RuleServerOlder}
	}

	// Rule 4: additive merge for concurrent numeric changes to stock
	// or balance.
	if concurrent := absMS(in.Incoming.TimestampMS-in.Current.TimestampMS) <= concurrentWindow.Milliseconds(); concurrent {
		if merged, ok := additiveMerge(in.Current, in.Incoming); ok {
			return Decision{Accept: true, Fields: merged, Rule: RuleAdditiveMerge}
		}
	}

	// Rule 5: strict newer timestamp wins outright.
	if in.Incoming.TimestampMS > in.Current.TimestampMS {
		return Decision{Accept: true, Fields: in.Incoming.Fields, Rule: RuleStrictNewer}
	}

	// Rule 6: equal timestamps fall back to vector-clock dominance,
	// then an approximate counter-sum tie-break.
	if in.Incoming.TimestampMS == in.Current.TimestampMS {
		if clock.Dominates(in.Incoming.VectorClock, in.Current.VectorClock) {
			return Decision{Accept: true, Fields: in.Incoming.Fields, Rule: RuleVectorClock}
		}
		if clock.Dominates(in.Current.VectorClock, in.Incoming.VectorClock) {
			return Decision{Accept: false, Rule: RuleVectorClock}
		}
		if clock.CounterSum(in.Incoming.VectorClock) > clock.CounterSum(in.Current.VectorClock) {
			return Decision{Accept: true, Fields: in.Incoming.Fields, Rule: RuleCounterTieBreak}
		}
		return Decision{Accept: false, Rule: RuleCounterTieBreak}
	}

	// Rule 7: otherwise reject.
	return Decision{Accept: false, Rule: RuleReject}
}

func absMS(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// additiveMerge implements the numeric-preservation rules for
// concurrent stock/balance changes. It returns ok=false
// when neither field is a genuine additive candidate (both sides carry
// a differing numeric value for the same field).
func additiveMerge(current, incoming Side) (map[string]any, bool) {
	merged := map[string]any{}
	applied := false

	if cv, iv, ok := numericPair(current.Fields, incoming.Fields, "stock"); ok && cv != iv {
		if iv > cv {
			merged["stock"] = iv
		} else {
			merged["stock"] = cv
		}
		applied = true
	}

	if cv, iv, ok := numericPair(current.Fields, incoming.Fields, "balance"); ok && cv != iv {
		// The two sides only carry post-change values, not the deltas
		// that produced them, so there is no way to tell a concurrent
		// payment from a concurrent charge here. Prefer the lower of
		// the two: it never invents debt the shop didn't already book,
		// and the true sum is reconstructed separately by the
		// provisional/outbox delta streams once both sides reach the
		// remote.
		if iv < cv {
			merged["balance"] = iv
		} else {
			merged["balance"] = cv
		}
		applied = true
	}

	if !applied {
		return nil, false
	}

	if cv, iv, ok := numericPair(current.Fields, incoming.Fields, "totalSpent"); ok {
		merged["totalSpent"] = maxI64(cv, iv)
	}
	if cv, iv, ok := numericPair(current.Fields, incoming.Fields, "totalPurchases"); ok {
		merged["totalPurchases"] = maxI64(cv, iv)
	}

	if incoming.TimestampMS >= current.TimestampMS {
		for k, v := range incoming.Fields {
			if _, reserved := merged[k]; !reserved {
				merged[k] = v
			}
		}
	} else {
		for k, v := range current.Fields {
			if _, reserved := merged[k]; !reserved {
				merged[k] = v
			}
		}
	}

	return merged, true
}

func numericPair(a, b map[string]any, field string) (av, bv int64, ok bool) {
	ax, aok := toInt64(a[field])
	bx, bok := toInt64(b[field])
	if !aok || !bok {
		return 0, 0, false
	}
	return ax, bx, true
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

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
