package rollover

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/events"
	"termrepo/crypto"
	"termrepo/native/auction"
	nativecommon "termrepo/native/common"
	"termrepo/native/ledger"
)

var (
	errNilState      = errors.New("rollover: state not configured")
	errNilLedger     = errors.New("rollover: ledger not configured")
	errNilAuction    = errors.New("rollover: auction backend not configured")
	errInvalidAmount = errors.New("rollover: amount must be positive")

	// ErrExposureInsufficient rejects electing more than the borrower's
	// outstanding exposure.
	ErrExposureInsufficient = errors.New("rollover: elected amount exceeds exposure")
	// ErrAuctionNotApproved rejects elections into auctions the registry has
	// not paired with the maturing term.
	ErrAuctionNotApproved = errors.New("rollover: auction not approved for term")
	// ErrAlreadyElected rejects a second election while one is in flight.
	ErrAlreadyElected = errors.New("rollover: election already pending")
	// ErrNotElected rejects cancellation or processing without a live
	// election.
	ErrNotElected = errors.New("rollover: no pending election")
	// ErrNotProcessing rejects closing the predecessor leg before the
	// successor leg has run.
	ErrNotProcessing = errors.New("rollover: election not processing")
)

const moduleName = "rollover"

type engineState interface {
	GetElection(termID string, borrower crypto.Address) (*Election, error)
	PutElection(e *Election) error
}

// Approvals is the registry view the engine consults before accepting an
// election.
type Approvals interface {
	RolloverApproved(termID, auctionID string) bool
}

// Fulfillments vends settled rollover bids: a non-destructive read for
// validation and a consume that succeeds exactly once. The auction settlement
// engine implements both.
type Fulfillments interface {
	RolloverFulfillmentForAuction(auctionID string, borrower crypto.Address) (*auction.Fulfillment, error)
	ConsumeRolloverFulfillmentForAuction(auctionID string, borrower crypto.Address) (*auction.Fulfillment, error)
}

// Engine drives the rollover election state machine. An election moves
// NoElection -> Elected -> Processing -> Processed, or Elected -> Cancelled.
// The open leg mints successor exposure from the settled rollover bid; the
// close leg retires the elected predecessor exposure. Between the two legs
// the election sits in Processing so neither leg can run twice or out of
// order.
type Engine struct {
	state        engineState
	ledgerEngine *ledger.Engine
	approvals    Approvals
	fulfillments Fulfillments
	lockers      *auction.LockerSet
	emitter      events.Emitter
	pauses       nativecommon.PauseView
}

// NewEngine constructs a rollover engine over the registry pairing view.
func NewEngine(approvals Approvals) *Engine {
	return &Engine{approvals: approvals}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the exposure ledger both legs mutate.
func (e *Engine) SetLedger(l *ledger.Engine) {
	if e == nil {
		return
	}
	e.ledgerEngine = l
}

// SetFulfillments wires the settled-bid source consumed by the open leg.
func (e *Engine) SetFulfillments(f Fulfillments) {
	if e == nil {
		return
	}
	e.fulfillments = f
}

// SetLockers wires the per-auction locker registry used to place rollover
// bids.
func (e *Engine) SetLockers(s *auction.LockerSet) {
	if e == nil {
		return
	}
	e.lockers = s
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

// Election returns the borrower's election on the term, or a NoElection
// placeholder when none exists.
func (e *Engine) Election(termID string, borrower crypto.Address) (*Election, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored, err := e.state.GetElection(strings.TrimSpace(termID), borrower)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &Election{
			TermID:   strings.TrimSpace(termID),
			Borrower: addr20(borrower),
			Amount:   uint256.NewInt(0),
			Status:   StatusNoElection,
		}, nil
	}
	return stored.Clone(), nil
}

// ElectRollover commits the borrower to rolling amount of maturing exposure
// into the approved successor auction and locks a sealed bid there. Terminal
// prior elections (processed or cancelled) are replaced; a live one fails
// with ErrAlreadyElected.
func (e *Engine) ElectRollover(auth nativecommon.AuthContext, termID string, borrower crypto.Address, auctionID string, amount *uint256.Int, priceHash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledgerEngine == nil {
		return errNilLedger
	}
	if e.lockers == nil {
		return errNilAuction
	}
	if err := auth.Require(nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return errInvalidAmount
	}
	term := strings.TrimSpace(termID)
	auctionRef := strings.TrimSpace(auctionID)
	if e.approvals == nil || !e.approvals.RolloverApproved(term, auctionRef) {
		return ErrAuctionNotApproved
	}
	if _, err := e.ledgerEngine.Term(term); err != nil {
		return err
	}
	outstanding, err := e.ledgerEngine.Exposure(term, borrower)
	if err != nil {
		return err
	}
	if outstanding.Lt(amount) {
		return ErrExposureInsufficient
	}
	existing, err := e.state.GetElection(term, borrower)
	if err != nil {
		return err
	}
	if existing != nil && (existing.Status == StatusElected || existing.Status == StatusProcessing) {
		return ErrAlreadyElected
	}
	locker, err := e.lockers.BidLocker(auctionRef)
	if err != nil {
		return err
	}
	bidID, err := locker.LockRolloverBid(borrower, term, amount, priceHash)
	if err != nil {
		return err
	}
	election := &Election{
		TermID:          term,
		Borrower:        addr20(borrower),
		RolloverAuction: auctionRef,
		Amount:          new(uint256.Int).Set(amount),
		PriceHash:       priceHash,
		BidID:           bidID,
		Status:          StatusElected,
	}
	if err := e.state.PutElection(election); err != nil {
		return err
	}
	e.emit(events.RolloverElected{
		TermID:          term,
		Borrower:        addr20(borrower),
		RolloverAuction: auctionRef,
		Amount:          new(uint256.Int).Set(amount),
	})
	return nil
}

// CancelRollover withdraws an election that has not started processing. The
// locked auction bid is simply never assigned; any later settlement of it is
// unreachable because the fulfillment is consumed only from the open leg.
func (e *Engine) CancelRollover(auth nativecommon.AuthContext, termID string, borrower crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	election, err := e.state.GetElection(strings.TrimSpace(termID), borrower)
	if err != nil {
		return err
	}
	if election == nil || election.Status != StatusElected {
		return ErrNotElected
	}
	election.Status = StatusCancelled
	if err := e.state.PutElection(election); err != nil {
		return err
	}
	e.emit(events.RolloverCancelled{TermID: election.TermID, Borrower: election.Borrower})
	return nil
}

// ProcessRolloverOpen consumes the settled rollover bid and mints the
// successor-term exposure, moving the election into Processing. Fails with
// the auction engine's ErrRolloverNotFulfilled when the bid has not settled.
func (e *Engine) ProcessRolloverOpen(auth nativecommon.AuthContext, termID string, borrower crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledgerEngine == nil {
		return errNilLedger
	}
	if e.fulfillments == nil {
		return errNilAuction
	}
	if err := auth.Require(nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	election, err := e.state.GetElection(strings.TrimSpace(termID), borrower)
	if err != nil {
		return err
	}
	if election == nil || election.Status != StatusElected {
		return ErrNotElected
	}
	// Read the fulfillment without consuming it, mint, then consume. A
	// rejected mint (delisted successor, overflow) leaves both the
	// fulfillment and the election intact so the open leg can be retried.
	fulfillment, err := e.fulfillments.RolloverFulfillmentForAuction(election.RolloverAuction, borrower)
	if err != nil {
		return err
	}
	if err := e.ledgerEngine.OpenExposure(auth, fulfillment.TermID, borrower, fulfillment.RepurchaseAmount); err != nil {
		return err
	}
	if _, err := e.fulfillments.ConsumeRolloverFulfillmentForAuction(election.RolloverAuction, borrower); err != nil {
		return err
	}
	election.SuccessorTermID = fulfillment.TermID
	election.Status = StatusProcessing
	if err := e.state.PutElection(election); err != nil {
		return err
	}
	e.emit(events.RolloverProcessed{
		TermID:          election.TermID,
		Borrower:        election.Borrower,
		SuccessorTermID: election.SuccessorTermID,
		Amount:          new(uint256.Int).Set(fulfillment.RepurchaseAmount),
		Kind:            events.TypeRolloverOpened,
	})
	return nil
}

// ProcessRolloverClose retires the elected predecessor exposure and marks the
// election Processed. Runs only from Processing so the close leg can neither
// precede the open leg nor repeat.
func (e *Engine) ProcessRolloverClose(auth nativecommon.AuthContext, termID string, borrower crypto.Address) error {
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
	election, err := e.state.GetElection(strings.TrimSpace(termID), borrower)
	if err != nil {
		return err
	}
	if election == nil {
		return ErrNotElected
	}
	if election.Status != StatusProcessing {
		return ErrNotProcessing
	}
	if err := e.ledgerEngine.CloseExposure(auth, election.TermID, borrower, election.Amount); err != nil {
		return err
	}
	election.Status = StatusProcessed
	if err := e.state.PutElection(election); err != nil {
		return err
	}
	e.emit(events.RolloverProcessed{
		TermID:          election.TermID,
		Borrower:        election.Borrower,
		SuccessorTermID: election.SuccessorTermID,
		Amount:          new(uint256.Int).Set(election.Amount),
		Kind:            events.TypeRolloverClosed,
	})
	return nil
}
