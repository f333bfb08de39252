package ledger

import "strings"

// TermDeployment identifies one instance of a fixed-maturity repo agreement.
// The record is immutable after registration; the only permitted mutation is
// delisting.
type TermDeployment struct {
	// ID uniquely identifies the deployment.
	ID string
	// PurchaseToken is the token exposure is denominated in.
	PurchaseToken string
	// Maturity is the unix timestamp at which the term matures.
	Maturity uint64
	// RepurchaseWindowEnd is the unix timestamp closing the repurchase window;
	// exposure outstanding past this point is in default.
	RepurchaseWindowEnd uint64
	// RedemptionTimestamp is the unix timestamp at which lenders may redeem.
	RedemptionTimestamp uint64
	// ServicingFeeBps is the protocol-retained share of proceeds in basis
	// points.
	ServicingFeeBps uint64
	// Delisted marks the deployment inactive. Delisted terms reject new
	// exposure but existing exposure may still be closed or liquidated.
	Delisted bool
}

// Clone returns a copy of the deployment record.
func (t *TermDeployment) Clone() *TermDeployment {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Normalized reports whether the deployment carries the minimum required
// fields.
func (t *TermDeployment) Normalized() bool {
	if t == nil {
		return false
	}
	return strings.TrimSpace(t.ID) != "" && strings.TrimSpace(t.PurchaseToken) != ""
}
