package events

import (
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/types"
	"termrepo/crypto"
)

const (
	// TypeTermRegistered is emitted when a term deployment is initialised.
	TypeTermRegistered = "ledger.term.registered"
	// TypeTermDelisted is emitted when a term deployment is marked inactive.
	TypeTermDelisted = "ledger.term.delisted"
	// TypeExposureOpened is emitted whenever repurchase exposure is minted.
	TypeExposureOpened = "ledger.exposure.opened"
	// TypeExposureClosed is emitted whenever repurchase exposure is reduced.
	TypeExposureClosed = "ledger.exposure.closed"
	// TypeExposureRepaid is emitted when a borrower repays outstanding exposure.
	TypeExposureRepaid = "ledger.exposure.repaid"
	// TypeRedemptionHaircut is emitted when a shortfall haircut is applied.
	TypeRedemptionHaircut = "ledger.exposure.haircut"
)

// TermRegistered records the creation of a term deployment.
type TermRegistered struct {
	TermID        string
	PurchaseToken string
	Maturity      uint64
}

func (TermRegistered) EventType() string { return TypeTermRegistered }

func (e TermRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeTermRegistered,
		Attributes: map[string]string{
			"termId":        strings.TrimSpace(e.TermID),
			"purchaseToken": strings.TrimSpace(e.PurchaseToken),
			"maturity":      formatUint(e.Maturity),
		},
	}
}

// TermDelisted records a term deployment being marked inactive.
type TermDelisted struct {
	TermID string
}

func (TermDelisted) EventType() string { return TypeTermDelisted }

func (e TermDelisted) Event() *types.Event {
	return &types.Event{
		Type:       TypeTermDelisted,
		Attributes: map[string]string{"termId": strings.TrimSpace(e.TermID)},
	}
}

// ExposureChanged carries the shared payload for exposure mutations.
type ExposureChanged struct {
	TermID   string
	Borrower [20]byte
	Amount   *uint256.Int
	NewTotal *uint256.Int
	Kind     string
}

func (e ExposureChanged) EventType() string { return e.Kind }

func (e ExposureChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"termId":   strings.TrimSpace(e.TermID),
			"borrower": formatAddr(e.Borrower),
			"amount":   formatAmount(e.Amount),
			"newTotal": formatAmount(e.NewTotal),
		},
	}
}

func formatAddr(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.TermPrefix, raw[:]).String()
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatUint(v uint64) string {
	return uint256.NewInt(v).Dec()
}
