package liquidation

import (
	"github.com/holiman/uint256"
)

// CollateralPosition tracks a borrower's locked collateral in one token
// against a term deployment. The ratio parameters are captured from the term
// configuration at lock time so later parameter changes never reprice an
// existing position.
type CollateralPosition struct {
	TermID   string
	Borrower [20]byte
	Token    string
	// LockedAmount is the collateral held by the module, in base units.
	LockedAmount *uint256.Int
	// InitialRatioBps is the minimum collateralization required to unlock.
	InitialRatioBps uint64
	// MaintenanceRatioBps is the floor below which liquidation opens.
	MaintenanceRatioBps uint64
	// LiquidatedDamagesBps is the liquidator bonus applied to seized
	// collateral.
	LiquidatedDamagesBps uint64
}

// Clone returns a deep copy of the position.
func (p *CollateralPosition) Clone() *CollateralPosition {
	if p == nil {
		return nil
	}
	clone := *p
	if p.LockedAmount != nil {
		clone.LockedAmount = new(uint256.Int).Set(p.LockedAmount)
	}
	return &clone
}

// Request names one liquidation in a batch.
type Request struct {
	TermID          string
	Borrower        [20]byte
	CollateralToken string
	// CoverAmount is the purchase-token exposure the liquidator repays.
	CoverAmount *uint256.Int
}

// Result reports the outcome of one batch item. Items are isolated: a failed
// item carries its error here and never aborts the rest of the batch.
type Result struct {
	Request Request
	// SeizedAmount is the collateral transferred out, zero on failure.
	SeizedAmount *uint256.Int
	// ReserveShare is the portion of the seizure routed to the protocol
	// reserve.
	ReserveShare *uint256.Int
	Err          error
}
