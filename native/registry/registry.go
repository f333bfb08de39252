package registry

import (
	"strings"
	"sync"

	"termrepo/crypto"
)

// Registry authenticates protocol-deployed contract addresses and exposes the
// shared treasury and reserve configuration. It is a pure lookup table: values
// observed by an operation never change while that operation runs, because all
// mutation happens through administrative calls serialized by the host.
type Registry struct {
	mu       sync.RWMutex
	deployed map[string]bool
	pairings map[string]map[string]bool
	treasury crypto.Address
	reserve  crypto.Address
}

// NewRegistry constructs a registry with the protocol treasury and reserve
// addresses fixed for its lifetime.
func NewRegistry(treasury, reserve crypto.Address) *Registry {
	return &Registry{
		deployed: make(map[string]bool),
		pairings: make(map[string]map[string]bool),
		treasury: treasury,
		reserve:  reserve,
	}
}

func addrKey(addr crypto.Address) string {
	return string(addr.Bytes())
}

// MarkDeployed records the address as a protocol-deployed contract.
func (r *Registry) MarkDeployed(addr crypto.Address) {
	if r == nil || addr.IsZero() {
		return
	}
	r.mu.Lock()
	r.deployed[addrKey(addr)] = true
	r.mu.Unlock()
}

// Unmark removes the address from the deployed set.
func (r *Registry) Unmark(addr crypto.Address) {
	if r == nil || addr.IsZero() {
		return
	}
	r.mu.Lock()
	delete(r.deployed, addrKey(addr))
	r.mu.Unlock()
}

// IsDeployed reports whether the address belongs to the protocol.
func (r *Registry) IsDeployed(addr crypto.Address) bool {
	if r == nil || addr.IsZero() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deployed[addrKey(addr)]
}

// TreasuryAddress returns the protocol treasury account.
func (r *Registry) TreasuryAddress() crypto.Address {
	if r == nil {
		return crypto.Address{}
	}
	return r.treasury
}

// ProtocolReserveAddress returns the protocol reserve account receiving
// liquidation carve-outs.
func (r *Registry) ProtocolReserveAddress() crypto.Address {
	if r == nil {
		return crypto.Address{}
	}
	return r.reserve
}

// ApproveRolloverAuction pairs a successor auction with a maturing term,
// authorising rollover elections from that term into the auction.
func (r *Registry) ApproveRolloverAuction(termID, auctionID string) {
	if r == nil {
		return
	}
	term := strings.TrimSpace(termID)
	auction := strings.TrimSpace(auctionID)
	if term == "" || auction == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	approved, ok := r.pairings[term]
	if !ok {
		approved = make(map[string]bool)
		r.pairings[term] = approved
	}
	approved[auction] = true
}

// RevokeRolloverAuction removes a previously approved pairing.
func (r *Registry) RevokeRolloverAuction(termID, auctionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if approved, ok := r.pairings[strings.TrimSpace(termID)]; ok {
		delete(approved, strings.TrimSpace(auctionID))
	}
}

// RolloverApproved reports whether the auction is an approved rollover target
// for the term.
func (r *Registry) RolloverApproved(termID, auctionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	approved, ok := r.pairings[strings.TrimSpace(termID)]
	if !ok {
		return false
	}
	return approved[strings.TrimSpace(auctionID)]
}
