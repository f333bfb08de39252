package rollover

import (
	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a borrower's rollover election.
type Status uint8

const (
	// StatusNoElection is the implicit state before any election exists.
	StatusNoElection Status = iota
	// StatusElected means the borrower committed to roll and a sealed bid is
	// locked on the successor auction.
	StatusElected
	// StatusProcessing means successor exposure has been minted and the
	// predecessor leg is pending.
	StatusProcessing
	// StatusProcessed means both legs completed. Terminal.
	StatusProcessed
	// StatusCancelled means the borrower withdrew before processing. Terminal.
	StatusCancelled
)

// Valid reports whether the status value is supported.
func (s Status) Valid() bool {
	switch s {
	case StatusNoElection, StatusElected, StatusProcessing, StatusProcessed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusNoElection:
		return "none"
	case StatusElected:
		return "elected"
	case StatusProcessing:
		return "processing"
	case StatusProcessed:
		return "processed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Election records a borrower's commitment to roll maturing exposure into a
// successor term through an approved auction.
type Election struct {
	// TermID is the maturing deployment the exposure rolls from.
	TermID   string
	Borrower [20]byte
	// RolloverAuction is the approved successor auction the sealed bid was
	// placed on.
	RolloverAuction string
	// SuccessorTermID is filled in once the rollover bid settles and the open
	// leg runs.
	SuccessorTermID string
	// Amount is the predecessor exposure elected to roll.
	Amount *uint256.Int
	// PriceHash is the sealed commitment forwarded to the auction.
	PriceHash [32]byte
	// BidID is the locked bid's identifier on the successor auction.
	BidID  string
	Status Status
}

// Clone returns a deep copy of the election record.
func (e *Election) Clone() *Election {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(uint256.Int).Set(e.Amount)
	}
	return &clone
}
