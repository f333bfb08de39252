package auction

import (
	"strings"

	"github.com/holiman/uint256"
)

// BidState tracks the auction-phase lifecycle of a sealed bid or offer.
type BidState uint8

const (
	BidLocked BidState = iota
	BidRevealed
	BidAssigned
	BidUnassigned
)

// Valid reports whether the state value is supported.
func (s BidState) Valid() bool {
	switch s {
	case BidLocked, BidRevealed, BidAssigned, BidUnassigned:
		return true
	default:
		return false
	}
}

// AuctionPhase gates which operations an auction accepts.
type AuctionPhase uint8

const (
	// PhaseOpen accepts bid and offer locking and reveals.
	PhaseOpen AuctionPhase = iota
	// PhaseCleared accepts settlement of assigned bids and offers.
	PhaseCleared
)

// Auction carries the per-auction metadata vended through the locker
// capability set.
type Auction struct {
	ID string
	// TermID is the deployment exposure is minted on when bids settle.
	TermID string
	// EndTime is the unix timestamp after which locking is rejected.
	EndTime uint64
	// DayCountFraction scales the revealed annualised rate to the term
	// length, as an 18-decimal mantissa.
	DayCountFraction *uint256.Int
	// PurchaseToken mirrors the term's purchase token for locker consumers.
	PurchaseToken string
	// AcceptedCollateral lists the collateral tokens the auction admits.
	AcceptedCollateral []string
	Phase              AuctionPhase
}

// Clone returns a deep copy of the auction record.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.DayCountFraction != nil {
		clone.DayCountFraction = new(uint256.Int).Set(a.DayCountFraction)
	}
	clone.AcceptedCollateral = append([]string(nil), a.AcceptedCollateral...)
	return &clone
}

// Bid is an ephemeral sealed-bid entry. It is owned by the settlement engine
// until consumed into ledger exposure or released.
type Bid struct {
	ID        string
	AuctionID string
	Bidder    [20]byte
	// PriceHash is the sealed commitment; RevealedPrice is populated once the
	// reveal checks out against it.
	PriceHash     [32]byte
	RevealedPrice *uint256.Int
	Revealed      bool
	Amount        *uint256.Int
	PurchaseToken string
	// CollateralTokens lists the tokens pledged against the bid.
	CollateralTokens []string
	// Rollover marks bids placed by the rollover engine; their fulfillment is
	// recorded for deferred processing instead of minting exposure directly.
	Rollover bool
	// PredecessorTermID references the maturing term a rollover bid rolls
	// from.
	PredecessorTermID string
	State             BidState
	Consumed          bool
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.RevealedPrice != nil {
		clone.RevealedPrice = new(uint256.Int).Set(b.RevealedPrice)
	}
	if b.Amount != nil {
		clone.Amount = new(uint256.Int).Set(b.Amount)
	}
	clone.CollateralTokens = append([]string(nil), b.CollateralTokens...)
	return &clone
}

// Offer is the lender-side counterpart of a Bid.
type Offer struct {
	ID            string
	AuctionID     string
	Offeror       [20]byte
	PriceHash     [32]byte
	RevealedPrice *uint256.Int
	Revealed      bool
	Amount        *uint256.Int
	PurchaseToken string
	State         BidState
	Consumed      bool
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.RevealedPrice != nil {
		clone.RevealedPrice = new(uint256.Int).Set(o.RevealedPrice)
	}
	if o.Amount != nil {
		clone.Amount = new(uint256.Int).Set(o.Amount)
	}
	return &clone
}

// Fulfillment records a settled bid for downstream consumers. Rollover
// fulfillments are consumed exactly once by the rollover engine.
type Fulfillment struct {
	AuctionID string
	// TermID is the deployment the fulfillment mints exposure on.
	TermID   string
	Borrower [20]byte
	// PurchasePrice is the filled amount paid out at settlement.
	PurchasePrice *uint256.Int
	// RepurchaseAmount is the exposure owed at maturity, net of the servicing
	// fee.
	RepurchaseAmount  *uint256.Int
	Rollover          bool
	PredecessorTermID string
	Consumed          bool
}

// Clone returns a deep copy of the fulfillment record.
func (f *Fulfillment) Clone() *Fulfillment {
	if f == nil {
		return nil
	}
	clone := *f
	if f.PurchasePrice != nil {
		clone.PurchasePrice = new(uint256.Int).Set(f.PurchasePrice)
	}
	if f.RepurchaseAmount != nil {
		clone.RepurchaseAmount = new(uint256.Int).Set(f.RepurchaseAmount)
	}
	return &clone
}

// Assignment names a bid confirmed by the external clearing mechanism along
// with its fill.
type Assignment struct {
	BidID      string
	FillAmount *uint256.Int
}

// OfferAssignment names an offer consumed by clearing.
type OfferAssignment struct {
	OfferID    string
	FillAmount *uint256.Int
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
