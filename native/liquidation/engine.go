package liquidation

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/events"
	"termrepo/crypto"
	nativecommon "termrepo/native/common"
	"termrepo/native/ledger"
	"termrepo/native/oracle"
)

var (
	errNilState      = errors.New("liquidation: state not configured")
	errNilLedger     = errors.New("liquidation: ledger not configured")
	errNilOracle     = errors.New("liquidation: oracle not configured")
	errInvalidAmount = errors.New("liquidation: amount must be positive")

	// ErrPositionNotFound rejects operations against unknown collateral.
	ErrPositionNotFound = errors.New("liquidation: collateral position not found")
	// ErrNotUndercollateralized rejects liquidating a healthy position before
	// default.
	ErrNotUndercollateralized = errors.New("liquidation: position not undercollateralized")
	// ErrInsufficientCollateral rejects seizures and unlocks exceeding the
	// locked amount.
	ErrInsufficientCollateral = errors.New("liquidation: insufficient locked collateral")
	// ErrUnlockBreachesRatio rejects unlocks that would drop the position
	// below its initial ratio.
	ErrUnlockBreachesRatio = errors.New("liquidation: unlock would breach initial ratio")
	// ErrInsufficientBalance rejects cover payments exceeding the liquidator
	// balance.
	ErrInsufficientBalance = errors.New("liquidation: insufficient balance")
)

const moduleName = "liquidation"

type engineState interface {
	GetPosition(termID string, borrower crypto.Address, token string) (*CollateralPosition, error)
	PutPosition(p *CollateralPosition) error
	ListCollateral(termID string, borrower crypto.Address) ([]*CollateralPosition, error)
	Balance(addr crypto.Address, token string) (*uint256.Int, error)
	SetBalance(addr crypto.Address, token string, amount *uint256.Int) error
}

// Engine prices positions through the oracle and liquidates
// undercollateralized or defaulted exposure. Every valuation failure is
// fail-closed: a stale price aborts the operation rather than defaulting to
// zero. Collateral custody lives in the module account; positions record how
// much of it each borrower owns.
type Engine struct {
	state         engineState
	ledgerEngine  *ledger.Engine
	prices        oracle.PriceOracle
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	moduleAddress crypto.Address
	reserve       crypto.Address
	// reserveBps is the protocol carve-out applied to seizures after default.
	reserveBps uint64
	timestamp  uint64
}

// NewEngine constructs a liquidation engine routing the post-default
// carve-out to the reserve address.
func NewEngine(moduleAddr, reserve crypto.Address, reserveBps uint64) *Engine {
	return &Engine{moduleAddress: moduleAddr, reserve: reserve, reserveBps: reserveBps}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the exposure ledger liquidations settle against.
func (e *Engine) SetLedger(l *ledger.Engine) {
	if e == nil {
		return
	}
	e.ledgerEngine = l
}

// SetOracle wires the price source used for health checks and seizures.
func (e *Engine) SetOracle(p oracle.PriceOracle) {
	if e == nil {
		return
	}
	e.prices = p
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

// SetTimestamp records the execution timestamp used for the default check
// against the term's repurchase window.
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

func (e *Engine) ledgerAuth() nativecommon.AuthContext {
	return nativecommon.AuthContext{Caller: e.moduleAddress, Role: nativecommon.RoleTermContract}
}

// Position returns the borrower's collateral position in the token, or nil
// when none exists.
func (e *Engine) Position(termID string, borrower crypto.Address, token string) (*CollateralPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.state.GetPosition(strings.TrimSpace(termID), borrower, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// LockCollateral moves collateral from the borrower into module custody.
func (e *Engine) LockCollateral(auth nativecommon.AuthContext, p *CollateralPosition, amount *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleCollateralManager, nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return errInvalidAmount
	}
	if p == nil || strings.TrimSpace(p.TermID) == "" || strings.TrimSpace(p.Token) == "" {
		return ErrPositionNotFound
	}
	borrower := crypto.NewAddress(crypto.TermPrefix, p.Borrower[:])
	borrowerBalance, err := e.balance(borrower, p.Token)
	if err != nil {
		return err
	}
	if borrowerBalance.Lt(amount) {
		return ErrInsufficientBalance
	}
	existing, err := e.state.GetPosition(p.TermID, borrower, p.Token)
	if err != nil {
		return err
	}
	stored := p.Clone()
	stored.TermID = strings.TrimSpace(stored.TermID)
	stored.Token = strings.TrimSpace(stored.Token)
	if existing != nil {
		stored = existing
	} else {
		stored.LockedAmount = uint256.NewInt(0)
	}
	newLocked, err := ledger.CheckedAdd(stored.LockedAmount, amount)
	if err != nil {
		return err
	}
	custody, err := e.balance(e.moduleAddress, stored.Token)
	if err != nil {
		return err
	}
	newCustody, err := ledger.CheckedAdd(custody, amount)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(borrower, stored.Token, new(uint256.Int).Sub(borrowerBalance, amount)); err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, stored.Token, newCustody); err != nil {
		return err
	}
	stored.LockedAmount = newLocked
	if err := e.state.PutPosition(stored); err != nil {
		return err
	}
	e.emit(events.CollateralChanged{
		TermID:   stored.TermID,
		Borrower: stored.Borrower,
		Token:    stored.Token,
		Amount:   new(uint256.Int).Set(amount),
		Kind:     events.TypeCollateralLocked,
	})
	return nil
}

// UnlockCollateral releases collateral back to the borrower, provided the
// remainder keeps the position at or above its initial ratio. Positions with
// no outstanding exposure unlock freely.
func (e *Engine) UnlockCollateral(auth nativecommon.AuthContext, termID string, borrower crypto.Address, token string, amount *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledgerEngine == nil {
		return errNilLedger
	}
	if err := auth.Require(nativecommon.RoleCollateralManager, nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return errInvalidAmount
	}
	position, err := e.requirePosition(termID, borrower, token)
	if err != nil {
		return err
	}
	if position.LockedAmount.Lt(amount) {
		return ErrInsufficientCollateral
	}
	exposure, err := e.ledgerEngine.Exposure(position.TermID, borrower)
	if err != nil {
		return err
	}
	if !exposure.IsZero() {
		remaining := new(uint256.Int).Sub(position.LockedAmount, amount)
		ok, err := e.meetsRatio(position, borrower, remaining, position.InitialRatioBps)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnlockBreachesRatio
		}
	}
	custody, err := e.balance(e.moduleAddress, position.Token)
	if err != nil {
		return err
	}
	if custody.Lt(amount) {
		return ErrInsufficientCollateral
	}
	borrowerBalance, err := e.balance(borrower, position.Token)
	if err != nil {
		return err
	}
	newBorrower, err := ledger.CheckedAdd(borrowerBalance, amount)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, position.Token, new(uint256.Int).Sub(custody, amount)); err != nil {
		return err
	}
	if err := e.state.SetBalance(borrower, position.Token, newBorrower); err != nil {
		return err
	}
	position.LockedAmount = new(uint256.Int).Sub(position.LockedAmount, amount)
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	e.emit(events.CollateralChanged{
		TermID:   position.TermID,
		Borrower: position.Borrower,
		Token:    position.Token,
		Amount:   new(uint256.Int).Set(amount),
		Kind:     events.TypeCollateralUnlocked,
	})
	return nil
}

// Liquidate repays cover purchase token from the liquidator against the
// borrower's exposure and seizes collateral worth the cover plus the
// liquidated-damages bonus. Before default the position must sit below its
// maintenance ratio; after the term's repurchase window closes any remaining
// exposure is liquidatable and the protocol reserve takes its carve-out from
// the seizure.
func (e *Engine) Liquidate(auth nativecommon.AuthContext, termID string, borrower crypto.Address, liquidator crypto.Address, collateralToken string, cover *uint256.Int) (*Result, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledgerEngine == nil {
		return nil, errNilLedger
	}
	if e.prices == nil {
		return nil, errNilOracle
	}
	if err := auth.Require(nativecommon.RoleCollateralManager, nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if cover == nil || cover.IsZero() {
		return nil, errInvalidAmount
	}
	position, err := e.requirePosition(termID, borrower, collateralToken)
	if err != nil {
		return nil, err
	}
	term, err := e.ledgerEngine.Term(position.TermID)
	if err != nil {
		return nil, err
	}
	defaulted := term.RepurchaseWindowEnd > 0 && e.timestamp >= term.RepurchaseWindowEnd
	if !defaulted {
		healthy, err := e.meetsRatio(position, borrower, position.LockedAmount, position.MaintenanceRatioBps)
		if err != nil {
			return nil, err
		}
		if healthy {
			return nil, ErrNotUndercollateralized
		}
	}

	exposure, err := e.ledgerEngine.Exposure(position.TermID, borrower)
	if err != nil {
		return nil, err
	}
	if exposure.Lt(cover) {
		return nil, ledger.ErrInsufficientExposure
	}

	seized, err := e.seizureAmount(term.PurchaseToken, position, cover)
	if err != nil {
		return nil, err
	}
	if position.LockedAmount.Lt(seized) {
		return nil, ErrInsufficientCollateral
	}
	var reserveShare *uint256.Int
	if defaulted {
		reserveShare, err = ledger.BpsShare(seized, e.reserveBps)
		if err != nil {
			return nil, err
		}
	} else {
		reserveShare = uint256.NewInt(0)
	}
	liquidatorShare := new(uint256.Int).Sub(seized, reserveShare)

	liquidatorPurchase, err := e.balance(liquidator, term.PurchaseToken)
	if err != nil {
		return nil, err
	}
	if liquidatorPurchase.Lt(cover) {
		return nil, ErrInsufficientBalance
	}
	modulePurchase, err := e.balance(e.moduleAddress, term.PurchaseToken)
	if err != nil {
		return nil, err
	}
	newModulePurchase, err := ledger.CheckedAdd(modulePurchase, cover)
	if err != nil {
		return nil, err
	}
	custody, err := e.balance(e.moduleAddress, position.Token)
	if err != nil {
		return nil, err
	}
	if custody.Lt(seized) {
		return nil, ErrInsufficientCollateral
	}
	liquidatorCollateral, err := e.balance(liquidator, position.Token)
	if err != nil {
		return nil, err
	}
	newLiquidatorCollateral, err := ledger.CheckedAdd(liquidatorCollateral, liquidatorShare)
	if err != nil {
		return nil, err
	}
	reserveCollateral, err := e.balance(e.reserve, position.Token)
	if err != nil {
		return nil, err
	}
	newReserveCollateral, err := ledger.CheckedAdd(reserveCollateral, reserveShare)
	if err != nil {
		return nil, err
	}

	// The ledger guard is checked up front: CloseExposure runs after the
	// balance writes below, and a paused ledger must reject the whole
	// liquidation rather than half of it.
	if err := e.ledgerEngine.Guard(); err != nil {
		return nil, err
	}

	// All arithmetic is validated; writes start here.
	if err := e.state.SetBalance(liquidator, term.PurchaseToken, new(uint256.Int).Sub(liquidatorPurchase, cover)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, term.PurchaseToken, newModulePurchase); err != nil {
		return nil, err
	}
	if err := e.ledgerEngine.CloseExposure(e.ledgerAuth(), position.TermID, borrower, cover); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, position.Token, new(uint256.Int).Sub(custody, seized)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(liquidator, position.Token, newLiquidatorCollateral); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.reserve, position.Token, newReserveCollateral); err != nil {
		return nil, err
	}
	position.LockedAmount = new(uint256.Int).Sub(position.LockedAmount, seized)
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	e.emit(events.LiquidationExecuted{
		TermID:          position.TermID,
		Borrower:        position.Borrower,
		Liquidator:      addr20(liquidator),
		CollateralToken: position.Token,
		ClosedAmount:    new(uint256.Int).Set(cover),
		SeizedAmount:    new(uint256.Int).Set(seized),
		ReserveShare:    new(uint256.Int).Set(reserveShare),
		Defaulted:       defaulted,
	})
	return &Result{
		Request: Request{
			TermID:          position.TermID,
			Borrower:        position.Borrower,
			CollateralToken: position.Token,
			CoverAmount:     new(uint256.Int).Set(cover),
		},
		SeizedAmount: seized,
		ReserveShare: reserveShare,
	}, nil
}

// BatchLiquidate runs each request independently and reports per-item
// outcomes. A failed item contributes its error to the result slice and
// leaves all other items untouched; the batch itself never fails.
func (e *Engine) BatchLiquidate(auth nativecommon.AuthContext, liquidator crypto.Address, requests []Request) []Result {
	results := make([]Result, 0, len(requests))
	for _, req := range requests {
		borrower := crypto.NewAddress(crypto.TermPrefix, req.Borrower[:])
		res, err := e.Liquidate(auth, req.TermID, borrower, liquidator, req.CollateralToken, req.CoverAmount)
		if err != nil {
			results = append(results, Result{Request: req, SeizedAmount: uint256.NewInt(0), ReserveShare: uint256.NewInt(0), Err: err})
			continue
		}
		results = append(results, *res)
	}
	return results
}

// meetsRatio reports whether locked collateral (valued across all of the
// borrower's positions, with the given token's amount overridden) covers the
// outstanding exposure at the basis-point ratio.
func (e *Engine) meetsRatio(position *CollateralPosition, borrower crypto.Address, lockedOverride *uint256.Int, ratioBps uint64) (bool, error) {
	term, err := e.ledgerEngine.Term(position.TermID)
	if err != nil {
		return false, err
	}
	exposure, err := e.ledgerEngine.Exposure(position.TermID, borrower)
	if err != nil {
		return false, err
	}
	if exposure.IsZero() {
		return true, nil
	}
	exposureUSD, err := e.prices.USDValueOfTokens(term.PurchaseToken, exposure)
	if err != nil {
		return false, err
	}
	positions, err := e.state.ListCollateral(position.TermID, borrower)
	if err != nil {
		return false, err
	}
	collateralUSD := oracle.USDValue{Mantissa: uint256.NewInt(0), Exponent: exposureUSD.Exponent}
	for _, p := range positions {
		locked := p.LockedAmount
		if p.Token == position.Token {
			locked = lockedOverride
		}
		value, err := e.prices.USDValueOfTokens(p.Token, locked)
		if err != nil {
			return false, err
		}
		cm, vm, err := oracle.Normalize(collateralUSD, value)
		if err != nil {
			return false, err
		}
		sum, err := ledger.CheckedAdd(cm, vm)
		if err != nil {
			return false, err
		}
		exp := collateralUSD.Exponent
		if value.Exponent > exp {
			exp = value.Exponent
		}
		collateralUSD = oracle.USDValue{Mantissa: sum, Exponent: exp}
	}
	cm, em, err := oracle.Normalize(collateralUSD, exposureUSD)
	if err != nil {
		return false, err
	}
	lhs, err := ledger.CheckedMul(cm, ledger.BasisPoints)
	if err != nil {
		return false, err
	}
	rhs, err := ledger.CheckedMul(em, uint256.NewInt(ratioBps))
	if err != nil {
		return false, err
	}
	return !lhs.Lt(rhs), nil
}

// seizureAmount converts the cover plus the liquidated-damages bonus into
// collateral token units at oracle prices.
func (e *Engine) seizureAmount(purchaseToken string, position *CollateralPosition, cover *uint256.Int) (*uint256.Int, error) {
	coverUSD, err := e.prices.USDValueOfTokens(purchaseToken, cover)
	if err != nil {
		return nil, err
	}
	unitUSD, err := e.prices.USDValueOfTokens(position.Token, oracle.TokenScale)
	if err != nil {
		return nil, err
	}
	cm, um, err := oracle.Normalize(coverUSD, unitUSD)
	if err != nil {
		return nil, err
	}
	if um.IsZero() {
		return nil, oracle.ErrStalePrice
	}
	bonus, err := ledger.CheckedAdd(ledger.BasisPoints, uint256.NewInt(position.LiquidatedDamagesBps))
	if err != nil {
		return nil, err
	}
	grossed, err := ledger.MulDiv(cm, bonus, ledger.BasisPoints)
	if err != nil {
		return nil, err
	}
	return ledger.MulDiv(grossed, oracle.TokenScale, um)
}

func (e *Engine) requirePosition(termID string, borrower crypto.Address, token string) (*CollateralPosition, error) {
	position, err := e.state.GetPosition(strings.TrimSpace(termID), borrower, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	if position.LockedAmount == nil {
		position.LockedAmount = uint256.NewInt(0)
	}
	return position, nil
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
