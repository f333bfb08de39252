package auction

import (
	"encoding/hex"
	"errors"

	"github.com/holiman/uint256"

	"termrepo/core/events"
	"termrepo/crypto"
	nativecommon "termrepo/native/common"
	"termrepo/native/ledger"
)

var (
	errNilState      = errors.New("auction settlement: state not configured")
	errNilLedger     = errors.New("auction settlement: ledger not configured")
	errInvalidAmount = errors.New("auction settlement: amount must be positive")

	// ErrAuctionExists rejects re-creation of an existing auction.
	ErrAuctionExists = errors.New("auction settlement: auction already exists")
	// ErrAuctionNotFound rejects operations against unknown auctions.
	ErrAuctionNotFound = errors.New("auction settlement: auction not found")
	// ErrAuctionEnded rejects locking after the auction end time.
	ErrAuctionEnded = errors.New("auction settlement: auction ended")
	// ErrInvalidAuctionState rejects settlement outside the post-clearing
	// phase and lifecycle calls outside their expected state.
	ErrInvalidAuctionState = errors.New("auction settlement: invalid auction state")
	// ErrBidNotFound rejects references to unknown bids.
	ErrBidNotFound = errors.New("auction settlement: bid not found")
	// ErrOfferNotFound rejects references to unknown offers.
	ErrOfferNotFound = errors.New("auction settlement: offer not found")
	// ErrStaleBid rejects settling a bid that was already consumed.
	ErrStaleBid = errors.New("auction settlement: bid already consumed")
	// ErrStaleOffer rejects settling an offer that was already consumed.
	ErrStaleOffer = errors.New("auction settlement: offer already consumed")
	// ErrSealMismatch rejects a reveal that does not match the commitment.
	ErrSealMismatch = errors.New("auction settlement: revealed price does not match commitment")
	// ErrInsufficientBalance rejects offers exceeding the offeror balance.
	ErrInsufficientBalance = errors.New("auction settlement: insufficient balance")
	// ErrRolloverNotFulfilled indicates no settled rollover bid exists for the
	// borrower on the term.
	ErrRolloverNotFulfilled = errors.New("auction settlement: rollover bid not fulfilled")
)

const moduleName = "auction"

type engineState interface {
	GetAuction(id string) (*Auction, error)
	PutAuction(a *Auction) error
	GetBid(auctionID, bidID string) (*Bid, error)
	PutBid(b *Bid) error
	GetOffer(auctionID, offerID string) (*Offer, error)
	PutOffer(o *Offer) error
	GetFulfillment(termID string, borrower crypto.Address, rollover bool) (*Fulfillment, error)
	PutFulfillment(f *Fulfillment) error
	Balance(addr crypto.Address, token string) (*uint256.Int, error)
	SetBalance(addr crypto.Address, token string, amount *uint256.Int) error
}

// Engine resolves completed sealed-bid auctions into exposure ledger
// mutations. Bids and offers pass Locked -> Revealed -> Assigned/Unassigned;
// settlement consumes assigned entries exactly once.
type Engine struct {
	state         engineState
	ledgerEngine  *ledger.Engine
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	moduleAddress crypto.Address
	treasury      crypto.Address
	servicer      crypto.Address
	timestamp     uint64
}

// NewEngine constructs a settlement engine pooling locked offer proceeds in
// the module account and routing servicing fees to the treasury.
func NewEngine(moduleAddr, treasury, servicer crypto.Address) *Engine {
	return &Engine{moduleAddress: moduleAddr, treasury: treasury, servicer: servicer}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the exposure ledger used to mint settled exposure.
func (e *Engine) SetLedger(l *ledger.Engine) {
	if e == nil {
		return
	}
	e.ledgerEngine = l
}

// SetEmitter wires the audit event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetTimestamp records the execution timestamp used for end-time checks.
// Expiry is evaluated at call time against this value, never via timers.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func addr20(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

// CreateAuction registers a new auction in the open phase.
func (e *Engine) CreateAuction(auth nativecommon.AuthContext, a *Auction) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleAdmin, nativecommon.RoleTermContract); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a == nil || normalizeID(a.ID) == "" || normalizeID(a.TermID) == "" {
		return ErrAuctionNotFound
	}
	existing, err := e.state.GetAuction(a.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAuctionExists
	}
	stored := a.Clone()
	stored.ID = normalizeID(stored.ID)
	stored.TermID = normalizeID(stored.TermID)
	stored.Phase = PhaseOpen
	if stored.DayCountFraction == nil {
		stored.DayCountFraction = uint256.NewInt(0)
	}
	return e.state.PutAuction(stored)
}

func (e *Engine) requireAuction(auctionID string) (*Auction, error) {
	a, err := e.state.GetAuction(normalizeID(auctionID))
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAuctionNotFound
	}
	return a, nil
}

// LockBid stores a sealed bid against an open auction.
func (e *Engine) LockBid(auth nativecommon.AuthContext, bid *Bid) error {
	return e.lockBid(auth, bid, false)
}

// lockBid stores the bid. With replaceRollover set, an existing unconsumed
// rollover bid under the same identifier is overwritten so an abandoned
// election can re-enter the auction.
func (e *Engine) lockBid(auth nativecommon.AuthContext, bid *Bid, replaceRollover bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleTermContract); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if bid == nil || normalizeID(bid.ID) == "" {
		return ErrBidNotFound
	}
	if bid.Amount == nil || bid.Amount.IsZero() {
		return errInvalidAmount
	}
	a, err := e.requireAuction(bid.AuctionID)
	if err != nil {
		return err
	}
	if a.Phase != PhaseOpen {
		return ErrInvalidAuctionState
	}
	if a.EndTime > 0 && e.timestamp >= a.EndTime {
		return ErrAuctionEnded
	}
	existing, err := e.state.GetBid(a.ID, bid.ID)
	if err != nil {
		return err
	}
	if existing != nil && !(replaceRollover && existing.Rollover && !existing.Consumed) {
		return ErrStaleBid
	}
	stored := bid.Clone()
	stored.ID = normalizeID(stored.ID)
	stored.AuctionID = a.ID
	stored.State = BidLocked
	stored.Revealed = false
	stored.Consumed = false
	stored.PurchaseToken = a.PurchaseToken
	if err := e.state.PutBid(stored); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: a.ID, ID: stored.ID, Account: stored.Bidder, Kind: events.TypeBidLocked})
	return nil
}

// LockOffer stores a sealed offer and pools its purchase-token proceeds into
// the module account until settlement.
func (e *Engine) LockOffer(auth nativecommon.AuthContext, offer *Offer) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleTermContract); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if offer == nil || normalizeID(offer.ID) == "" {
		return ErrOfferNotFound
	}
	if offer.Amount == nil || offer.Amount.IsZero() {
		return errInvalidAmount
	}
	a, err := e.requireAuction(offer.AuctionID)
	if err != nil {
		return err
	}
	if a.Phase != PhaseOpen {
		return ErrInvalidAuctionState
	}
	if a.EndTime > 0 && e.timestamp >= a.EndTime {
		return ErrAuctionEnded
	}
	existing, err := e.state.GetOffer(a.ID, offer.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrStaleOffer
	}
	offeror := crypto.NewAddress(crypto.TermPrefix, offer.Offeror[:])
	offerorBalance, err := e.balance(offeror, a.PurchaseToken)
	if err != nil {
		return err
	}
	if offerorBalance.Lt(offer.Amount) {
		return ErrInsufficientBalance
	}
	poolBalance, err := e.balance(e.moduleAddress, a.PurchaseToken)
	if err != nil {
		return err
	}
	newPool, err := ledger.CheckedAdd(poolBalance, offer.Amount)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(offeror, a.PurchaseToken, new(uint256.Int).Sub(offerorBalance, offer.Amount)); err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, a.PurchaseToken, newPool); err != nil {
		return err
	}
	stored := offer.Clone()
	stored.ID = normalizeID(stored.ID)
	stored.AuctionID = a.ID
	stored.State = BidLocked
	stored.Revealed = false
	stored.Consumed = false
	stored.PurchaseToken = a.PurchaseToken
	if err := e.state.PutOffer(stored); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: a.ID, ID: stored.ID, Account: stored.Offeror, Kind: events.TypeOfferLocked})
	return nil
}

// RevealBid opens a sealed bid against its commitment.
func (e *Engine) RevealBid(auctionID, bidID string, price *uint256.Int, nonce [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	bid, err := e.requireBid(auctionID, bidID)
	if err != nil {
		return err
	}
	if bid.State != BidLocked {
		return ErrInvalidAuctionState
	}
	if crypto.SealPrice(price, nonce) != bid.PriceHash {
		return ErrSealMismatch
	}
	bid.RevealedPrice = new(uint256.Int).Set(price)
	bid.Revealed = true
	bid.State = BidRevealed
	if err := e.state.PutBid(bid); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: bid.AuctionID, ID: bid.ID, Account: bid.Bidder, Kind: events.TypeBidRevealed})
	return nil
}

// RevealOffer opens a sealed offer against its commitment.
func (e *Engine) RevealOffer(auctionID, offerID string, price *uint256.Int, nonce [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	offer, err := e.requireOffer(auctionID, offerID)
	if err != nil {
		return err
	}
	if offer.State != BidLocked {
		return ErrInvalidAuctionState
	}
	if crypto.SealPrice(price, nonce) != offer.PriceHash {
		return ErrSealMismatch
	}
	offer.RevealedPrice = new(uint256.Int).Set(price)
	offer.Revealed = true
	offer.State = BidRevealed
	if err := e.state.PutOffer(offer); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: offer.AuctionID, ID: offer.ID, Account: offer.Offeror, Kind: events.TypeOfferRevealed})
	return nil
}

// AssignBid marks a revealed bid as filled by the external clearing
// mechanism.
func (e *Engine) AssignBid(auctionID, bidID string) error {
	return e.setBidState(auctionID, bidID, BidAssigned, events.TypeBidAssigned)
}

// UnassignBid marks a revealed bid as unfilled, releasing it.
func (e *Engine) UnassignBid(auctionID, bidID string) error {
	return e.setBidState(auctionID, bidID, BidUnassigned, events.TypeBidUnassigned)
}

func (e *Engine) setBidState(auctionID, bidID string, state BidState, kind string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	bid, err := e.requireBid(auctionID, bidID)
	if err != nil {
		return err
	}
	if bid.State != BidRevealed {
		return ErrInvalidAuctionState
	}
	bid.State = state
	if err := e.state.PutBid(bid); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: bid.AuctionID, ID: bid.ID, Account: bid.Bidder, Kind: kind})
	return nil
}

// AssignOffer marks a revealed offer as filled.
func (e *Engine) AssignOffer(auctionID, offerID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	offer, err := e.requireOffer(auctionID, offerID)
	if err != nil {
		return err
	}
	if offer.State != BidRevealed {
		return ErrInvalidAuctionState
	}
	offer.State = BidAssigned
	return e.state.PutOffer(offer)
}

// UnassignOffer releases a revealed offer, returning its locked funds to the
// offeror.
func (e *Engine) UnassignOffer(auctionID, offerID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	offer, err := e.requireOffer(auctionID, offerID)
	if err != nil {
		return err
	}
	if offer.State != BidRevealed {
		return ErrInvalidAuctionState
	}
	offeror := crypto.NewAddress(crypto.TermPrefix, offer.Offeror[:])
	if err := e.releaseFromPool(offeror, offer.PurchaseToken, offer.Amount); err != nil {
		return err
	}
	offer.State = BidUnassigned
	offer.Consumed = true
	if err := e.state.PutOffer(offer); err != nil {
		return err
	}
	e.emit(events.BidStateChanged{AuctionID: offer.AuctionID, ID: offer.ID, Account: offer.Offeror, Kind: events.TypeBidUnassigned})
	return nil
}

func (e *Engine) releaseFromPool(to crypto.Address, token string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	pool, err := e.balance(e.moduleAddress, token)
	if err != nil {
		return err
	}
	if pool.Lt(amount) {
		return ErrInsufficientBalance
	}
	recipient, err := e.balance(to, token)
	if err != nil {
		return err
	}
	newRecipient, err := ledger.CheckedAdd(recipient, amount)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, token, new(uint256.Int).Sub(pool, amount)); err != nil {
		return err
	}
	return e.state.SetBalance(to, token, newRecipient)
}

// MarkCleared transitions the auction into the post-clearing phase, enabling
// settlement.
func (e *Engine) MarkCleared(auth nativecommon.AuthContext, auctionID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleAdmin, nativecommon.RoleTermContract); err != nil {
		return err
	}
	a, err := e.requireAuction(auctionID)
	if err != nil {
		return err
	}
	if a.Phase != PhaseOpen {
		return ErrInvalidAuctionState
	}
	a.Phase = PhaseCleared
	if err := e.state.PutAuction(a); err != nil {
		return err
	}
	e.emit(events.AuctionCleared{AuctionID: a.ID})
	return nil
}

// offerSettlement and bidSettlement carry the amounts computed during the
// validation pass so the write pass applies them without re-deriving.
type offerSettlement struct {
	offer  *Offer
	refund *uint256.Int
}

type bidSettlement struct {
	bid        *Bid
	fill       *uint256.Int
	fee        *uint256.Int
	net        *uint256.Int
	repurchase *uint256.Int
}

// Settle resolves the assigned bids and offers of a cleared auction into
// ledger exposure and purchase-token proceeds. The servicing fee is deducted
// from the borrower's proceeds and routed to the treasury; the minted
// repurchase exposure accrues on the net fill. Rollover bids record a
// fulfillment for deferred processing instead of minting directly.
//
// The set settles as a unit: every line item, the pool coverage, and the
// exposure sums are validated before the first write, so a rejected item
// leaves no earlier item applied.
func (e *Engine) Settle(auth nativecommon.AuthContext, auctionID string, bids []Assignment, offers []OfferAssignment) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledgerEngine == nil {
		return errNilLedger
	}
	if err := auth.Require(nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.ledgerEngine.Guard(); err != nil {
		return err
	}
	a, err := e.requireAuction(auctionID)
	if err != nil {
		return err
	}
	if a.Phase != PhaseCleared {
		return ErrInvalidAuctionState
	}
	term, err := e.ledgerEngine.Term(a.TermID)
	if err != nil {
		return err
	}
	if term.Delisted {
		return ledger.ErrTermDelisted
	}

	outflow := uint256.NewInt(0)
	seenOffers := make(map[string]bool, len(offers))
	offerPlans := make([]offerSettlement, 0, len(offers))
	for _, assignment := range offers {
		offer, err := e.requireOffer(a.ID, assignment.OfferID)
		if err != nil {
			return err
		}
		if offer.Consumed || seenOffers[offer.ID] {
			return ErrStaleOffer
		}
		seenOffers[offer.ID] = true
		if offer.State != BidAssigned {
			return ErrInvalidAuctionState
		}
		fill := assignment.FillAmount
		if fill == nil || fill.Gt(offer.Amount) {
			return errInvalidAmount
		}
		// The unfilled remainder of the locked amount goes back to the
		// offeror; the fill stays pooled to pay borrower proceeds.
		refund := new(uint256.Int).Sub(offer.Amount, fill)
		outflow, err = ledger.CheckedAdd(outflow, refund)
		if err != nil {
			return err
		}
		offerPlans = append(offerPlans, offerSettlement{offer: offer, refund: refund})
	}

	seenBids := make(map[string]bool, len(bids))
	bidPlans := make([]bidSettlement, 0, len(bids))
	mints := make(map[string]*uint256.Int, len(bids))
	totalMint := uint256.NewInt(0)
	for _, assignment := range bids {
		bid, err := e.requireBid(a.ID, assignment.BidID)
		if err != nil {
			return err
		}
		if bid.Consumed || seenBids[bid.ID] {
			return ErrStaleBid
		}
		seenBids[bid.ID] = true
		if bid.State != BidAssigned || !bid.Revealed {
			return ErrInvalidAuctionState
		}
		fill := assignment.FillAmount
		if fill == nil || fill.IsZero() || fill.Gt(bid.Amount) {
			return errInvalidAmount
		}
		plan, err := planBid(a, term, bid, fill)
		if err != nil {
			return err
		}
		if !bid.Rollover {
			payout, err := ledger.CheckedAdd(plan.net, plan.fee)
			if err != nil {
				return err
			}
			outflow, err = ledger.CheckedAdd(outflow, payout)
			if err != nil {
				return err
			}
			key := string(bid.Bidder[:])
			minted := mints[key]
			if minted == nil {
				borrower := crypto.NewAddress(crypto.TermPrefix, bid.Bidder[:])
				minted, err = e.ledgerEngine.Exposure(term.ID, borrower)
				if err != nil {
					return err
				}
			}
			minted, err = ledger.CheckedAdd(minted, plan.repurchase)
			if err != nil {
				return err
			}
			mints[key] = minted
			totalMint, err = ledger.CheckedAdd(totalMint, plan.repurchase)
			if err != nil {
				return err
			}
		}
		bidPlans = append(bidPlans, plan)
	}
	total, err := e.ledgerEngine.TotalExposure(term.ID)
	if err != nil {
		return err
	}
	if _, err := ledger.CheckedAdd(total, totalMint); err != nil {
		return err
	}
	pool, err := e.balance(e.moduleAddress, a.PurchaseToken)
	if err != nil {
		return err
	}
	if pool.Lt(outflow) {
		return ErrInsufficientBalance
	}

	for _, plan := range offerPlans {
		if !plan.refund.IsZero() {
			offeror := crypto.NewAddress(crypto.TermPrefix, plan.offer.Offeror[:])
			if err := e.releaseFromPool(offeror, a.PurchaseToken, plan.refund); err != nil {
				return err
			}
		}
		plan.offer.Consumed = true
		if err := e.state.PutOffer(plan.offer); err != nil {
			return err
		}
	}
	for _, plan := range bidPlans {
		if err := e.applyBid(auth, a, term, plan); err != nil {
			return err
		}
	}
	return nil
}

// planBid derives the settlement amounts for one assigned bid with every
// arithmetic step checked. fee > fill is unreachable because the fee rate is
// bounded at term registration, but the subtraction is checked regardless.
func planBid(a *Auction, term *ledger.TermDeployment, bid *Bid, fill *uint256.Int) (bidSettlement, error) {
	fee, err := ledger.BpsShare(fill, term.ServicingFeeBps)
	if err != nil {
		return bidSettlement{}, err
	}
	net, err := ledger.CheckedSub(fill, fee)
	if err != nil {
		return bidSettlement{}, err
	}
	rate, err := ledger.MulDiv(bid.RevealedPrice, a.DayCountFraction, rateScale)
	if err != nil {
		return bidSettlement{}, err
	}
	accrued, err := ledger.MulDiv(net, rate, rateScale)
	if err != nil {
		return bidSettlement{}, err
	}
	repurchase, err := ledger.CheckedAdd(net, accrued)
	if err != nil {
		return bidSettlement{}, err
	}
	return bidSettlement{
		bid:        bid,
		fill:       new(uint256.Int).Set(fill),
		fee:        fee,
		net:        net,
		repurchase: repurchase,
	}, nil
}

func (e *Engine) applyBid(auth nativecommon.AuthContext, a *Auction, term *ledger.TermDeployment, plan bidSettlement) error {
	bid := plan.bid
	borrower := crypto.NewAddress(crypto.TermPrefix, bid.Bidder[:])
	if !bid.Rollover {
		if err := e.ledgerEngine.OpenExposure(auth, term.ID, borrower, plan.repurchase); err != nil {
			return err
		}
		if err := e.payProceeds(borrower, term.PurchaseToken, plan.net, plan.fee); err != nil {
			return err
		}
	}

	fulfillment := &Fulfillment{
		AuctionID:         a.ID,
		TermID:            term.ID,
		Borrower:          bid.Bidder,
		PurchasePrice:     new(uint256.Int).Set(plan.fill),
		RepurchaseAmount:  plan.repurchase,
		Rollover:          bid.Rollover,
		PredecessorTermID: bid.PredecessorTermID,
		Consumed:          !bid.Rollover,
	}
	if err := e.state.PutFulfillment(fulfillment); err != nil {
		return err
	}

	bid.Consumed = true
	if err := e.state.PutBid(bid); err != nil {
		return err
	}
	e.emit(events.BidFulfilled{
		AuctionID:        a.ID,
		BidID:            bid.ID,
		TermID:           term.ID,
		Borrower:         bid.Bidder,
		PurchasePrice:    new(uint256.Int).Set(plan.fill),
		RepurchaseAmount: new(uint256.Int).Set(plan.repurchase),
		ServicingFee:     plan.fee,
		PriceHash:        bid.PriceHash,
	})
	return nil
}

func (e *Engine) payProceeds(borrower crypto.Address, token string, net, fee *uint256.Int) error {
	pool, err := e.balance(e.moduleAddress, token)
	if err != nil {
		return err
	}
	totalOut, err := ledger.CheckedAdd(net, fee)
	if err != nil {
		return err
	}
	if pool.Lt(totalOut) {
		return ErrInsufficientBalance
	}
	borrowerBalance, err := e.balance(borrower, token)
	if err != nil {
		return err
	}
	newBorrower, err := ledger.CheckedAdd(borrowerBalance, net)
	if err != nil {
		return err
	}
	treasuryBalance, err := e.balance(e.treasury, token)
	if err != nil {
		return err
	}
	newTreasury, err := ledger.CheckedAdd(treasuryBalance, fee)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, token, new(uint256.Int).Sub(pool, totalOut)); err != nil {
		return err
	}
	if err := e.state.SetBalance(borrower, token, newBorrower); err != nil {
		return err
	}
	return e.state.SetBalance(e.treasury, token, newTreasury)
}

// RolloverFulfillment returns the unconsumed rollover fulfillment for the
// borrower on the term without consuming it.
func (e *Engine) RolloverFulfillment(termID string, borrower crypto.Address) (*Fulfillment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	f, err := e.state.GetFulfillment(normalizeID(termID), borrower, true)
	if err != nil {
		return nil, err
	}
	if f == nil || !f.Rollover || f.Consumed {
		return nil, ErrRolloverNotFulfilled
	}
	return f.Clone(), nil
}

// RolloverFulfillmentForAuction resolves the auction's term and reads the
// borrower's rollover fulfillment on it. The read is non-destructive so a
// caller can validate downstream effects before committing the consumption.
func (e *Engine) RolloverFulfillmentForAuction(auctionID string, borrower crypto.Address) (*Fulfillment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, err := e.requireAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return e.RolloverFulfillment(a.TermID, borrower)
}

// ConsumeRolloverFulfillment marks the rollover fulfillment consumed and
// returns it. A second consumption fails with ErrRolloverNotFulfilled.
func (e *Engine) ConsumeRolloverFulfillment(termID string, borrower crypto.Address) (*Fulfillment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	f, err := e.state.GetFulfillment(normalizeID(termID), borrower, true)
	if err != nil {
		return nil, err
	}
	if f == nil || !f.Rollover || f.Consumed {
		return nil, ErrRolloverNotFulfilled
	}
	f.Consumed = true
	if err := e.state.PutFulfillment(f); err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

// ConsumeRolloverFulfillmentForAuction resolves the auction's term and
// consumes the borrower's rollover fulfillment on it.
func (e *Engine) ConsumeRolloverFulfillmentForAuction(auctionID string, borrower crypto.Address) (*Fulfillment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, err := e.requireAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return e.ConsumeRolloverFulfillment(a.TermID, borrower)
}

// BidLockerFor returns the locker capability view bound to the auction.
func (e *Engine) BidLockerFor(auctionID string) (BidLocker, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, err := e.requireAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return &engineBidLocker{engine: e, auction: a}, nil
}

func (e *Engine) requireBid(auctionID, bidID string) (*Bid, error) {
	bid, err := e.state.GetBid(normalizeID(auctionID), normalizeID(bidID))
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, ErrBidNotFound
	}
	return bid, nil
}

func (e *Engine) requireOffer(auctionID, offerID string) (*Offer, error) {
	offer, err := e.state.GetOffer(normalizeID(auctionID), normalizeID(offerID))
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

func (e *Engine) balance(addr crypto.Address, token string) (*uint256.Int, error) {
	balance, err := e.state.Balance(addr, token)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(balance), nil
}

var rateScale = uint256.NewInt(1_000_000_000_000_000_000)

// engineBidLocker adapts the settlement engine into the per-auction locker
// capability set.
type engineBidLocker struct {
	engine  *Engine
	auction *Auction
}

func (l *engineBidLocker) TermAuctionID() string { return l.auction.ID }

func (l *engineBidLocker) TermRepoServicer() crypto.Address { return l.engine.servicer }

func (l *engineBidLocker) DayCountFractionMantissa() *uint256.Int {
	if l.auction.DayCountFraction == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(l.auction.DayCountFraction)
}

func (l *engineBidLocker) AuctionEndTime() uint64 { return l.auction.EndTime }

func (l *engineBidLocker) PurchaseToken() string { return l.auction.PurchaseToken }

func (l *engineBidLocker) CollateralTokens(token string) bool {
	for _, accepted := range l.auction.AcceptedCollateral {
		if accepted == token {
			return true
		}
	}
	return false
}

// LockRolloverBid places a sealed rollover bid on behalf of a borrower
// rolling exposure from the predecessor term. The bid id is derived from the
// auction and borrower so repeated elections collide instead of stacking; an
// unconsumed bid left behind by a cancelled election is overwritten so the
// borrower can re-elect into the same auction.
func (l *engineBidLocker) LockRolloverBid(borrower crypto.Address, predecessorTermID string, amount *uint256.Int, priceHash [32]byte) (string, error) {
	bidID := l.auction.ID + "-roll-" + hex.EncodeToString(borrower.Bytes())
	bid := &Bid{
		ID:                bidID,
		AuctionID:         l.auction.ID,
		Bidder:            addr20(borrower),
		PriceHash:         priceHash,
		Amount:            amount,
		PurchaseToken:     l.auction.PurchaseToken,
		Rollover:          true,
		PredecessorTermID: normalizeID(predecessorTermID),
	}
	auth := nativecommon.AuthContext{Caller: l.engine.servicer, Role: nativecommon.RoleTermContract}
	if err := l.engine.lockBid(auth, bid, true); err != nil {
		return "", err
	}
	return bidID, nil
}
