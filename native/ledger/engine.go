package ledger

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/events"
	"termrepo/crypto"
	nativecommon "termrepo/native/common"
)

var (
	errNilState      = errors.New("exposure ledger: state not configured")
	errNilTerm       = errors.New("exposure ledger: term definition required")
	errInvalidAmount = errors.New("exposure ledger: amount must be positive")

	// ErrTermExists rejects re-registration of an existing deployment.
	ErrTermExists = errors.New("exposure ledger: term already registered")
	// ErrTermNotFound rejects operations against unknown deployments.
	ErrTermNotFound = errors.New("exposure ledger: term not registered")
	// ErrTermDelisted rejects new exposure against a delisted deployment.
	ErrTermDelisted = errors.New("exposure ledger: term delisted")
	// ErrInsufficientExposure rejects closing more exposure than outstanding.
	ErrInsufficientExposure = errors.New("exposure ledger: insufficient exposure")
	// ErrInsufficientBalance rejects repayments exceeding the payer balance.
	ErrInsufficientBalance = errors.New("exposure ledger: insufficient balance")
	// ErrInvalidHaircut rejects haircut rates above 100%.
	ErrInvalidHaircut = errors.New("exposure ledger: haircut exceeds 100%")
	// ErrInvalidFee rejects servicing fees above 100%. The bound guarantees a
	// fee share never exceeds the amount it is charged on.
	ErrInvalidFee = errors.New("exposure ledger: servicing fee exceeds 100%")
)

const moduleName = "ledger"

type engineState interface {
	GetTerm(termID string) (*TermDeployment, error)
	PutTerm(term *TermDeployment) error
	GetExposure(termID string, borrower crypto.Address) (*uint256.Int, error)
	PutExposure(termID string, borrower crypto.Address, amount *uint256.Int) error
	GetTotalExposure(termID string) (*uint256.Int, error)
	PutTotalExposure(termID string, amount *uint256.Int) error
	Balance(addr crypto.Address, token string) (*uint256.Int, error)
	SetBalance(addr crypto.Address, token string, amount *uint256.Int) error
}

// Engine owns the mapping from (term deployment, borrower) to outstanding
// repurchase exposure and the per-term aggregate. Every mutation validates all
// arithmetic before the first write so a rejected operation never leaves the
// per-borrower sum and the aggregate diverged.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	moduleAddress crypto.Address
}

// NewEngine constructs an exposure ledger holding repayments in the module
// account.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{moduleAddress: moduleAddr}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter wires the audit event sink. A nil emitter disables emission.
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

// Guard reports whether the ledger accepts mutations. Collaborators that
// write their own state before calling into the ledger check this first so a
// paused ledger rejects the whole operation instead of half of it.
func (e *Engine) Guard() error {
	if e == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func addr20(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

// RegisterTerm creates a term deployment record. Deployments are immutable
// after creation and are never destroyed, only delisted.
func (e *Engine) RegisterTerm(auth nativecommon.AuthContext, term *TermDeployment) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleAdmin); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !term.Normalized() {
		return errNilTerm
	}
	if term.ServicingFeeBps > 10_000 {
		return ErrInvalidFee
	}
	existing, err := e.state.GetTerm(term.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrTermExists
	}
	stored := term.Clone()
	stored.ID = strings.TrimSpace(stored.ID)
	stored.PurchaseToken = strings.TrimSpace(stored.PurchaseToken)
	stored.Delisted = false
	if err := e.state.PutTerm(stored); err != nil {
		return err
	}
	e.emit(events.TermRegistered{TermID: stored.ID, PurchaseToken: stored.PurchaseToken, Maturity: stored.Maturity})
	return nil
}

// DelistTerm marks the deployment inactive. Delisting is idempotent-rejecting:
// a second delist fails with ErrTermDelisted.
func (e *Engine) DelistTerm(auth nativecommon.AuthContext, termID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := auth.Require(nativecommon.RoleDelister, nativecommon.RoleAdmin); err != nil {
		return err
	}
	term, err := e.requireTerm(termID)
	if err != nil {
		return err
	}
	if term.Delisted {
		return ErrTermDelisted
	}
	term.Delisted = true
	if err := e.state.PutTerm(term); err != nil {
		return err
	}
	e.emit(events.TermDelisted{TermID: term.ID})
	return nil
}

// Term returns the deployment record for the identifier.
func (e *Engine) Term(termID string) (*TermDeployment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.requireTerm(termID)
}

// Exposure returns the borrower's outstanding repurchase exposure on the term.
func (e *Engine) Exposure(termID string, borrower crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	current, err := e.state.GetExposure(termID, borrower)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(current), nil
}

// TotalExposure returns the term's aggregate outstanding repurchase exposure.
func (e *Engine) TotalExposure(termID string) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.GetTotalExposure(termID)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(total), nil
}

// OpenExposure increases the borrower's exposure and the term aggregate by
// amount. Fails with ErrOverflow when either sum would leave the numeric
// domain; in that case nothing is written.
func (e *Engine) OpenExposure(auth nativecommon.AuthContext, termID string, borrower crypto.Address, amount *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	term, err := e.requireTerm(termID)
	if err != nil {
		return err
	}
	if term.Delisted {
		return ErrTermDelisted
	}
	current, err := e.Exposure(termID, borrower)
	if err != nil {
		return err
	}
	total, err := e.TotalExposure(termID)
	if err != nil {
		return err
	}
	newExposure, err := CheckedAdd(current, amount)
	if err != nil {
		return err
	}
	newTotal, err := CheckedAdd(total, amount)
	if err != nil {
		return err
	}
	if err := e.state.PutExposure(termID, borrower, newExposure); err != nil {
		return err
	}
	if err := e.state.PutTotalExposure(termID, newTotal); err != nil {
		return err
	}
	e.emit(events.ExposureChanged{
		TermID:   term.ID,
		Borrower: addr20(borrower),
		Amount:   new(uint256.Int).Set(amount),
		NewTotal: newTotal,
		Kind:     events.TypeExposureOpened,
	})
	return nil
}

// CloseExposure decreases the borrower's exposure and the term aggregate by
// amount. Fails with ErrInsufficientExposure when amount exceeds the
// borrower's current balance.
func (e *Engine) CloseExposure(auth nativecommon.AuthContext, termID string, borrower crypto.Address, amount *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	term, err := e.requireTerm(termID)
	if err != nil {
		return err
	}
	return e.closeExposure(term, borrower, amount)
}

func (e *Engine) closeExposure(term *TermDeployment, borrower crypto.Address, amount *uint256.Int) error {
	current, err := e.Exposure(term.ID, borrower)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return ErrInsufficientExposure
	}
	total, err := e.TotalExposure(term.ID)
	if err != nil {
		return err
	}
	if total.Lt(amount) {
		return ErrInsufficientExposure
	}
	newExposure := new(uint256.Int).Sub(current, amount)
	newTotal := new(uint256.Int).Sub(total, amount)
	if err := e.state.PutExposure(term.ID, borrower, newExposure); err != nil {
		return err
	}
	if err := e.state.PutTotalExposure(term.ID, newTotal); err != nil {
		return err
	}
	e.emit(events.ExposureChanged{
		TermID:   term.ID,
		Borrower: addr20(borrower),
		Amount:   new(uint256.Int).Set(amount),
		NewTotal: newTotal,
		Kind:     events.TypeExposureClosed,
	})
	return nil
}

// Repay moves purchase token from the borrower to the module account and
// closes the corresponding exposure. Amounts above the outstanding exposure
// are clamped; the amount actually repaid is returned.
func (e *Engine) Repay(auth nativecommon.AuthContext, termID string, borrower crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := auth.Require(nativecommon.RoleTermContract, nativecommon.RoleAdmin); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, errInvalidAmount
	}
	term, err := e.requireTerm(termID)
	if err != nil {
		return nil, err
	}
	outstanding, err := e.Exposure(termID, borrower)
	if err != nil {
		return nil, err
	}
	if outstanding.IsZero() {
		return nil, ErrInsufficientExposure
	}
	repay := new(uint256.Int).Set(amount)
	if repay.Gt(outstanding) {
		repay.Set(outstanding)
	}
	borrowerBalance, err := e.balance(borrower, term.PurchaseToken)
	if err != nil {
		return nil, err
	}
	if borrowerBalance.Lt(repay) {
		return nil, ErrInsufficientBalance
	}
	moduleBalance, err := e.balance(e.moduleAddress, term.PurchaseToken)
	if err != nil {
		return nil, err
	}
	newModuleBalance, err := CheckedAdd(moduleBalance, repay)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(borrower, term.PurchaseToken, new(uint256.Int).Sub(borrowerBalance, repay)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, term.PurchaseToken, newModuleBalance); err != nil {
		return nil, err
	}
	if err := e.closeExposure(term, borrower, repay); err != nil {
		return nil, err
	}
	newTotal, err := e.TotalExposure(term.ID)
	if err != nil {
		return nil, err
	}
	e.emit(events.ExposureChanged{
		TermID:   term.ID,
		Borrower: addr20(borrower),
		Amount:   new(uint256.Int).Set(repay),
		NewTotal: newTotal,
		Kind:     events.TypeExposureRepaid,
	})
	return repay, nil
}

// ApplyRedemptionHaircut reduces the borrower's exposure and the aggregate by
// the basis-point share, covering redemption shortfall handling. The amount
// removed is returned.
func (e *Engine) ApplyRedemptionHaircut(auth nativecommon.AuthContext, termID string, borrower crypto.Address, haircutBps uint64) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := auth.Require(nativecommon.RoleAdmin); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if haircutBps == 0 {
		return nil, errInvalidAmount
	}
	if haircutBps > 10_000 {
		return nil, ErrInvalidHaircut
	}
	term, err := e.requireTerm(termID)
	if err != nil {
		return nil, err
	}
	outstanding, err := e.Exposure(termID, borrower)
	if err != nil {
		return nil, err
	}
	if outstanding.IsZero() {
		return nil, ErrInsufficientExposure
	}
	cut, err := BpsShare(outstanding, haircutBps)
	if err != nil {
		return nil, err
	}
	if cut.IsZero() {
		return uint256.NewInt(0), nil
	}
	if err := e.closeExposure(term, borrower, cut); err != nil {
		return nil, err
	}
	newTotal, err := e.TotalExposure(term.ID)
	if err != nil {
		return nil, err
	}
	e.emit(events.ExposureChanged{
		TermID:   term.ID,
		Borrower: addr20(borrower),
		Amount:   cut,
		NewTotal: newTotal,
		Kind:     events.TypeRedemptionHaircut,
	})
	return cut, nil
}

func (e *Engine) requireTerm(termID string) (*TermDeployment, error) {
	trimmed := strings.TrimSpace(termID)
	if trimmed == "" {
		return nil, ErrTermNotFound
	}
	term, err := e.state.GetTerm(trimmed)
	if err != nil {
		return nil, err
	}
	if term == nil {
		return nil, ErrTermNotFound
	}
	return term, nil
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
