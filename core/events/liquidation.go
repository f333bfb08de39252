package events

import (
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/types"
)

const (
	TypeCollateralLocked   = "liquidation.collateral.locked"
	TypeCollateralUnlocked = "liquidation.collateral.unlocked"
	TypeLiquidation        = "liquidation.executed"
)

// CollateralChanged records collateral being locked or released.
type CollateralChanged struct {
	TermID   string
	Borrower [20]byte
	Token    string
	Amount   *uint256.Int
	Kind     string
}

func (e CollateralChanged) EventType() string { return e.Kind }

func (e CollateralChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"termId":   strings.TrimSpace(e.TermID),
			"borrower": formatAddr(e.Borrower),
			"token":    strings.TrimSpace(e.Token),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// LiquidationExecuted records a completed liquidation: the exposure closed
// and the collateral seized, split between the liquidator and the protocol
// reserve.
type LiquidationExecuted struct {
	TermID          string
	Borrower        [20]byte
	Liquidator      [20]byte
	CollateralToken string
	ClosedAmount    *uint256.Int
	SeizedAmount    *uint256.Int
	ReserveShare    *uint256.Int
	Defaulted       bool
}

func (LiquidationExecuted) EventType() string { return TypeLiquidation }

func (e LiquidationExecuted) Event() *types.Event {
	defaulted := "false"
	if e.Defaulted {
		defaulted = "true"
	}
	return &types.Event{
		Type: TypeLiquidation,
		Attributes: map[string]string{
			"termId":       strings.TrimSpace(e.TermID),
			"borrower":     formatAddr(e.Borrower),
			"liquidator":   formatAddr(e.Liquidator),
			"token":        strings.TrimSpace(e.CollateralToken),
			"closedAmount": formatAmount(e.ClosedAmount),
			"seizedAmount": formatAmount(e.SeizedAmount),
			"reserveShare": formatAmount(e.ReserveShare),
			"defaulted":    defaulted,
		},
	}
}
