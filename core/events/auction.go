package events

import (
	"encoding/hex"
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/types"
)

const (
	TypeBidLocked      = "auction.bid.locked"
	TypeBidRevealed    = "auction.bid.revealed"
	TypeBidAssigned    = "auction.bid.assigned"
	TypeBidUnassigned  = "auction.bid.unassigned"
	TypeOfferLocked    = "auction.offer.locked"
	TypeOfferRevealed  = "auction.offer.revealed"
	TypeAuctionCleared = "auction.cleared"
	// TypeBidFulfilled is the fulfillment record emitted when an assigned bid
	// is settled into ledger exposure.
	TypeBidFulfilled = "auction.bid.fulfilled"
)

// BidStateChanged covers the bid/offer lifecycle transitions prior to
// settlement.
type BidStateChanged struct {
	AuctionID string
	ID        string
	Account   [20]byte
	Kind      string
}

func (e BidStateChanged) EventType() string { return e.Kind }

func (e BidStateChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"auctionId": strings.TrimSpace(e.AuctionID),
			"id":        strings.TrimSpace(e.ID),
			"account":   formatAddr(e.Account),
		},
	}
}

// AuctionCleared marks the auction's transition into the post-clearing phase.
type AuctionCleared struct {
	AuctionID string
}

func (AuctionCleared) EventType() string { return TypeAuctionCleared }

func (e AuctionCleared) Event() *types.Event {
	return &types.Event{
		Type:       TypeAuctionCleared,
		Attributes: map[string]string{"auctionId": strings.TrimSpace(e.AuctionID)},
	}
}

// BidFulfilled records a settled bid: the purchase price paid out and the
// repurchase exposure minted net of the servicing fee.
type BidFulfilled struct {
	AuctionID        string
	BidID            string
	TermID           string
	Borrower         [20]byte
	PurchasePrice    *uint256.Int
	RepurchaseAmount *uint256.Int
	ServicingFee     *uint256.Int
	PriceHash        [32]byte
}

func (BidFulfilled) EventType() string { return TypeBidFulfilled }

func (e BidFulfilled) Event() *types.Event {
	return &types.Event{
		Type: TypeBidFulfilled,
		Attributes: map[string]string{
			"auctionId":        strings.TrimSpace(e.AuctionID),
			"bidId":            strings.TrimSpace(e.BidID),
			"termId":           strings.TrimSpace(e.TermID),
			"borrower":         formatAddr(e.Borrower),
			"purchasePrice":    formatAmount(e.PurchasePrice),
			"repurchaseAmount": formatAmount(e.RepurchaseAmount),
			"servicingFee":     formatAmount(e.ServicingFee),
			"priceHash":        hex.EncodeToString(e.PriceHash[:]),
		},
	}
}
