package events

import (
	"strings"

	"github.com/holiman/uint256"

	"termrepo/core/types"
)

const (
	TypeRolloverElected   = "rollover.elected"
	TypeRolloverCancelled = "rollover.cancelled"
	// TypeRolloverOpened is emitted when successor-term exposure is minted.
	TypeRolloverOpened = "rollover.opened"
	// TypeRolloverClosed is emitted when predecessor-term exposure is closed.
	TypeRolloverClosed = "rollover.closed"
)

// RolloverElected records a borrower electing to roll exposure into an
// approved successor auction. The successor term itself is only known once
// the rollover bid settles.
type RolloverElected struct {
	TermID          string
	Borrower        [20]byte
	RolloverAuction string
	Amount          *uint256.Int
}

func (RolloverElected) EventType() string { return TypeRolloverElected }

func (e RolloverElected) Event() *types.Event {
	return &types.Event{
		Type: TypeRolloverElected,
		Attributes: map[string]string{
			"termId":   strings.TrimSpace(e.TermID),
			"borrower": formatAddr(e.Borrower),
			"auction":  strings.TrimSpace(e.RolloverAuction),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// RolloverCancelled records a borrower withdrawing an unprocessed election.
type RolloverCancelled struct {
	TermID   string
	Borrower [20]byte
}

func (RolloverCancelled) EventType() string { return TypeRolloverCancelled }

func (e RolloverCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeRolloverCancelled,
		Attributes: map[string]string{
			"termId":   strings.TrimSpace(e.TermID),
			"borrower": formatAddr(e.Borrower),
		},
	}
}

// RolloverProcessed covers both legs of rollover processing.
type RolloverProcessed struct {
	TermID          string
	Borrower        [20]byte
	SuccessorTermID string
	Amount          *uint256.Int
	Kind            string
}

func (e RolloverProcessed) EventType() string { return e.Kind }

func (e RolloverProcessed) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"termId":    strings.TrimSpace(e.TermID),
			"borrower":  formatAddr(e.Borrower),
			"successor": strings.TrimSpace(e.SuccessorTermID),
			"amount":    formatAmount(e.Amount),
		},
	}
}
