// Package gift defines the funding state model for registry items.
//
// An item's status is always derived from its reservation and contribution
// facts. Storing the status as an independently settable flag would let the
// two representations drift under concurrent writes, so no such flag exists
// anywhere in the system.
package gift

// Status is the derived funding state of an item.
type Status string

const (
	// StatusAvailable means no active reservation and no contributions.
	StatusAvailable Status = "AVAILABLE"
	// StatusReserved means one guest holds an exclusive claim on the item.
	StatusReserved Status = "RESERVED"
	// StatusFunding means joint contributions exist but the target is not met.
	StatusFunding Status = "FUNDING"
	// StatusFunded means contributions meet or exceed the target cost.
	StatusFunded Status = "FUNDED"
)

// Mode is the funding mode an item is locked into after its first mutation.
type Mode string

const (
	// ModeOpen means no funding mode has been selected yet.
	ModeOpen Mode = "OPEN"
	// ModeReserved means the item is backed by a single exclusive reservation.
	ModeReserved Mode = "RESERVED"
	// ModeContributed means the item is backed by a joint contribution ledger.
	ModeContributed Mode = "CONTRIBUTED"
)

// DeriveStatus computes an item's status from its funding facts.
//
// targetCost is in cents; nil means the item has no funding target, so joint
// contributions can never complete it and it stays in StatusFunding.
func DeriveStatus(targetCost *int64, reserved bool, fundedTotal int64) Status {
	if reserved {
		return StatusReserved
	}
	if fundedTotal <= 0 {
		return StatusAvailable
	}
	if targetCost != nil && fundedTotal >= *targetCost {
		return StatusFunded
	}
	return StatusFunding
}

// DeriveMode computes which funding mode the item is currently locked into.
// The mode returns to ModeOpen only when the item is back to Available.
func DeriveMode(reserved bool, contributionCount int) Mode {
	if reserved {
		return ModeReserved
	}
	if contributionCount > 0 {
		return ModeContributed
	}
	return ModeOpen
}

// Funded reports whether a total meets the target. A nil target never funds.
func Funded(targetCost *int64, fundedTotal int64) bool {
	return targetCost != nil && fundedTotal >= *targetCost
}
