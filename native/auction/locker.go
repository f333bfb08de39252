package auction

import (
	"errors"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"termrepo/crypto"
)

// BidLocker is the capability set a per-auction bid locker exposes to the
// core. Instances are resolved through an explicit LockerSet lookup rather
// than dynamic dispatch on an opaque address.
type BidLocker interface {
	TermAuctionID() string
	TermRepoServicer() crypto.Address
	DayCountFractionMantissa() *uint256.Int
	AuctionEndTime() uint64
	PurchaseToken() string
	CollateralTokens(token string) bool
	LockRolloverBid(borrower crypto.Address, predecessorTermID string, amount *uint256.Int, priceHash [32]byte) (string, error)
}

// OfferLocker is the lender-side counterpart of BidLocker.
type OfferLocker interface {
	TermAuctionID() string
	TermRepoServicer() crypto.Address
	AuctionEndTime() uint64
	PurchaseToken() string
}

// ErrLockerNotFound indicates no locker is registered for the auction.
var ErrLockerNotFound = errors.New("auction: locker not registered")

// LockerSet is the process-wide registry of per-auction locker instances.
type LockerSet struct {
	mu           sync.RWMutex
	bidLockers   map[string]BidLocker
	offerLockers map[string]OfferLocker
}

// NewLockerSet constructs an empty locker registry.
func NewLockerSet() *LockerSet {
	return &LockerSet{
		bidLockers:   make(map[string]BidLocker),
		offerLockers: make(map[string]OfferLocker),
	}
}

// RegisterBidLocker binds a bid locker to its auction identifier.
func (s *LockerSet) RegisterBidLocker(auctionID string, locker BidLocker) {
	if s == nil || locker == nil {
		return
	}
	id := strings.TrimSpace(auctionID)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.bidLockers[id] = locker
	s.mu.Unlock()
}

// RegisterOfferLocker binds an offer locker to its auction identifier.
func (s *LockerSet) RegisterOfferLocker(auctionID string, locker OfferLocker) {
	if s == nil || locker == nil {
		return
	}
	id := strings.TrimSpace(auctionID)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.offerLockers[id] = locker
	s.mu.Unlock()
}

// BidLocker resolves the bid locker for the auction.
func (s *LockerSet) BidLocker(auctionID string) (BidLocker, error) {
	if s == nil {
		return nil, ErrLockerNotFound
	}
	s.mu.RLock()
	locker, ok := s.bidLockers[strings.TrimSpace(auctionID)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrLockerNotFound
	}
	return locker, nil
}

// OfferLocker resolves the offer locker for the auction.
func (s *LockerSet) OfferLocker(auctionID string) (OfferLocker, error) {
	if s == nil {
		return nil, ErrLockerNotFound
	}
	s.mu.RLock()
	locker, ok := s.offerLockers[strings.TrimSpace(auctionID)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrLockerNotFound
	}
	return locker, nil
}
