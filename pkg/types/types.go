// Package types defines the core data structures shared across the
// synchronization core: entities, version metadata, operations, and
// bundles.
package types

import "time"

// Collection names mirror the remote store's namespaced collections
//: organizations/{orgId}/{collection}.
type Collection string

const (
	CollectionProducts     Collection = "products"
	CollectionPlayers      Collection = "players"
	CollectionStaffUsers   Collection = "staff-users"
	CollectionAssignments  Collection = "assignments"
	CollectionReports      Collection = "reports"
	CollectionCharges      Collection = "charges"
	CollectionOrganization Collection = "organizations"
)

// Entity is the common envelope every cached record carries.
type Entity struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IsActive       bool      `json:"isActive"`
}

// Product is stock-tracked merchandise. Stock is mutated only by
// committed/provisional deltas or a stock-take rebase, never written
// directly outside the applier.
type Product struct {
	Entity
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"` // minor currency units
	Stock    int    `json:"stock"`
}

// Player is a shop customer with a running balance of owed money.
// Balance is positive when the player owes the shop.
type Player struct {
	Entity
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Balance          int64      `json:"balance"`
	TotalPurchases   int        `json:"totalPurchases"`
	TotalSpent       int64      `json:"totalSpent"`
	LastPurchaseDate *time.Time `json:"lastPurchaseDate,omitempty"`
}

// Name returns the derived display name.
func (p *Player) Name() string {
	if p.FirstName == "" && p.LastName == "" {
		return ""
	}
	if p.LastName == "" {
		return p.FirstName
	}
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}

// Assignment is a sale record. Immutable aside from Paid and Cancelled.
type Assignment struct {
	Entity
	PlayerID    string    `json:"playerId"`
	ProductID   string    `json:"productId"`
	UserName    string    `json:"userName"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unitPrice"`
	Total       int64     `json:"total"`
	Paid        bool      `json:"paid"`
	Cancelled   bool      `json:"cancelled"`
	Date        time.Time `json:"date"`
}

// ChargeReason enumerates why a charge was raised.
type ChargeReason string

const (
	ChargeReasonOwedSale   ChargeReason = "owedSale"
	ChargeReasonFine       ChargeReason = "fine"
	ChargeReasonRegularFee ChargeReason = "regularFee"
	ChargeReasonPayment    ChargeReason = "payment"
	ChargeReasonRefund     ChargeReason = "refund"
	ChargeReasonOther      ChargeReason = "other"
)

// ChargeStatus tracks settlement of a charge.
type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "pending"
	ChargeStatusPaid    ChargeStatus = "paid"
)

// Charge is a signed ledger entry against a player's balance. Positive
// amounts increase debt, negative amounts decrease it.
type Charge struct {
	Entity
	PlayerID            string       `json:"playerId"`
	Amount              int64        `json:"amount"`
	Reason              ChargeReason `json:"reason"`
	Status              ChargeStatus `json:"status"`
	RelatedAssignmentID string       `json:"relatedAssignmentId,omitempty"`
}

// OrganizationSettings is the single free-form settings record per
// organization.
type OrganizationSettings struct {
	Entity
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	LogoURL     string `json:"logoUrl"`
	Description string `json:"description"`
}

// VersionMetadata is attached to every cached entity for conflict
// resolution.
type VersionMetadata struct {
	DeviceID    string         `json:"deviceId"`
	Counter     int            `json:"counter"`
	TimestampMS int64          `json:"timestamp"`
	VectorClock map[string]int `json:"vectorClock"`
}

// OpType enumerates the kinds of mutation an Operation can carry.
type OpType string

const (
	OpCreate                      OpType = "create"
	OpUpdate                      OpType = "update"
	OpDelete                      OpType = "delete"
	OpUpdateBalance               OpType = "updateBalance"
	OpCreateAssignmentTransaction OpType = "createAssignmentTransaction"
)

// Source identifies who originated an operation.
type Source string

const (
	SourceLocal  Source = "local"
	SourceServer Source = "server"
	SourceSync   Source = "sync" // replayed from the outbox/DLQ
)

// OpMetadata carries clock and provenance information for an Operation.
type OpMetadata struct {
	DeviceID    string         `json:"deviceId"`
	TimestampMS int64          `json:"timestamp"`
	Version     int            `json:"version"`
	VectorClock map[string]int `json:"vectorClock"`
	Source      Source         `json:"source"`
}

// Operation is the canonical mutation record; every write funnels
// through one of these.
type Operation struct {
	ID         string      `json:"id"`
	Type       OpType      `json:"type"`
	Collection Collection  `json:"collection"`
	EntityID   string      `json:"entityId,omitempty"`
	Data       interface{} `json:"data"`
	Metadata   OpMetadata  `json:"metadata"`
}

// BundleType enumerates the atomic multi-step transactions the bundle
// engine knows how to build.
type BundleType string

const (
	BundleAssignmentSale     BundleType = "assignmentSale"
	BundleCharge             BundleType = "charge"
	BundlePlayerPayment      BundleType = "playerPayment"
	BundleChargeUpdate       BundleType = "chargeUpdate"
	BundleChargeDelete       BundleType = "chargeDelete"
	BundleOrganizationUpdate BundleType = "organizationUpdate"
)

// StepKind is a closed tagged union of sub-operation kinds a bundle
// step can carry. Every StepKind must be handled exhaustively by the
// provisional overlay, the committer, the remote applier, and the
// conflict logger.
type StepKind string

const (
	StepCreateAssignment   StepKind = "createAssignment"
	StepUpdateAssignment   StepKind = "updateAssignment"
	StepStockDelta         StepKind = "stockDelta"
	StepBalanceDelta       StepKind = "balanceDelta"
	StepCreateCharge       StepKind = "createCharge"
	StepUpdateCharge       StepKind = "updateCharge"
	StepDeleteCharge       StepKind = "deleteCharge"
	StepUpdateOrganization StepKind = "updateOrganization"
)

// BundleStep is one deterministic sub-operation of a Bundle. OpID is a
// stable hash of (bundleId, stepName) so retrying a bundle never
// mints a fresh ID — the idempotency anchor at the remote.
type BundleStep struct {
	OpID    string      `json:"opId"`
	Name    string      `json:"name"`
	Kind    StepKind    `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Bundle groups sub-operations that must apply atomically at the
// remote.
type Bundle struct {
	BundleID    string         `json:"bundleId"`
	Type        BundleType     `json:"type"`
	EntityRefs  map[string]any `json:"entityRefs"`
	Steps       []BundleStep   `json:"steps"`
	VectorClock map[string]int `json:"vectorClock"`
	TimestampMS int64          `json:"timestamp"`
	Source      Source         `json:"source"`
}
