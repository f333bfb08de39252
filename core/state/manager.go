package state

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"termrepo/crypto"
	"termrepo/native/auction"
	"termrepo/native/ledger"
	"termrepo/native/liquidation"
	"termrepo/native/rollover"
	"termrepo/storage"
)

// Manager is the single persistence backend behind every engine. Records are
// RLP encoded under typed key prefixes. The host serializes all mutating
// calls through one writer, so the manager carries no locking of its own;
// engines validate before their first write and the write sequence is the
// atomicity boundary.
type Manager struct {
	db storage.Database
}

// NewManager wraps the backing store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut RLP-encodes value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. It reports false when
// the key is absent.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the key.
func (m *Manager) KVDelete(key []byte) error {
	return m.db.Delete(key)
}

func addrHex(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func termKey(termID string) []byte {
	return []byte(termPrefix + termID)
}

func exposureKey(termID string, borrower crypto.Address) []byte {
	return []byte(exposurePrefix + termID + "/" + addrHex(borrower))
}

func exposureTotalKey(termID string) []byte {
	return []byte(exposureTotalPrefix + termID)
}

func balanceKey(addr crypto.Address, token string) []byte {
	return []byte(balancePrefix + addrHex(addr) + "/" + token)
}

func auctionKey(id string) []byte {
	return []byte(auctionPrefix + id)
}

func bidKey(auctionID, bidID string) []byte {
	return []byte(bidPrefix + auctionID + "/" + bidID)
}

func offerKey(auctionID, offerID string) []byte {
	return []byte(offerPrefix + auctionID + "/" + offerID)
}

// fulfillmentKey separates rollover and direct fulfillments: a borrower can
// settle one of each against the same term and neither may overwrite the
// other.
func fulfillmentKey(termID string, borrower crypto.Address, rollover bool) []byte {
	kind := "direct"
	if rollover {
		kind = "rollover"
	}
	return []byte(fulfillmentPrefix + termID + "/" + addrHex(borrower) + "/" + kind)
}

func electionKey(termID string, borrower crypto.Address) []byte {
	return []byte(electionPrefix + termID + "/" + addrHex(borrower))
}

func collateralKey(termID string, borrower crypto.Address, token string) []byte {
	return []byte(collateralPrefix + termID + "/" + addrHex(borrower) + "/" + token)
}

func collateralIndexKey(termID string, borrower crypto.Address) []byte {
	return []byte(collateralIndexPrefix + termID + "/" + addrHex(borrower))
}

// GetTerm loads a term deployment record.
func (m *Manager) GetTerm(termID string) (*ledger.TermDeployment, error) {
	var term ledger.TermDeployment
	ok, err := m.KVGet(termKey(termID), &term)
	if err != nil || !ok {
		return nil, err
	}
	return &term, nil
}

// PutTerm stores a term deployment record.
func (m *Manager) PutTerm(term *ledger.TermDeployment) error {
	return m.KVPut(termKey(term.ID), term)
}

// GetExposure loads a borrower's exposure entry, nil when absent.
func (m *Manager) GetExposure(termID string, borrower crypto.Address) (*uint256.Int, error) {
	return m.getAmount(exposureKey(termID, borrower))
}

// PutExposure stores a borrower's exposure entry.
func (m *Manager) PutExposure(termID string, borrower crypto.Address, amount *uint256.Int) error {
	return m.KVPut(exposureKey(termID, borrower), amount)
}

// GetTotalExposure loads the per-term aggregate, nil when absent.
func (m *Manager) GetTotalExposure(termID string) (*uint256.Int, error) {
	return m.getAmount(exposureTotalKey(termID))
}

// PutTotalExposure stores the per-term aggregate.
func (m *Manager) PutTotalExposure(termID string, amount *uint256.Int) error {
	return m.KVPut(exposureTotalKey(termID), amount)
}

// Balance loads a token balance, nil when the account holds none.
func (m *Manager) Balance(addr crypto.Address, token string) (*uint256.Int, error) {
	return m.getAmount(balanceKey(addr, token))
}

// SetBalance stores a token balance.
func (m *Manager) SetBalance(addr crypto.Address, token string, amount *uint256.Int) error {
	return m.KVPut(balanceKey(addr, token), amount)
}

func (m *Manager) getAmount(key []byte) (*uint256.Int, error) {
	var amount uint256.Int
	ok, err := m.KVGet(key, &amount)
	if err != nil || !ok {
		return nil, err
	}
	return &amount, nil
}

// GetAuction loads an auction record, nil when absent.
func (m *Manager) GetAuction(id string) (*auction.Auction, error) {
	var a auction.Auction
	ok, err := m.KVGet(auctionKey(id), &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// PutAuction stores an auction record.
func (m *Manager) PutAuction(a *auction.Auction) error {
	return m.KVPut(auctionKey(a.ID), a)
}

// GetBid loads a bid, nil when absent.
func (m *Manager) GetBid(auctionID, bidID string) (*auction.Bid, error) {
	var b auction.Bid
	ok, err := m.KVGet(bidKey(auctionID, bidID), &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

// PutBid stores a bid.
func (m *Manager) PutBid(b *auction.Bid) error {
	return m.KVPut(bidKey(b.AuctionID, b.ID), b)
}

// GetOffer loads an offer, nil when absent.
func (m *Manager) GetOffer(auctionID, offerID string) (*auction.Offer, error) {
	var o auction.Offer
	ok, err := m.KVGet(offerKey(auctionID, offerID), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

// PutOffer stores an offer.
func (m *Manager) PutOffer(o *auction.Offer) error {
	return m.KVPut(offerKey(o.AuctionID, o.ID), o)
}

// GetFulfillment loads the borrower's fulfillment of the given kind on the
// term, nil when absent.
func (m *Manager) GetFulfillment(termID string, borrower crypto.Address, rollover bool) (*auction.Fulfillment, error) {
	var f auction.Fulfillment
	ok, err := m.KVGet(fulfillmentKey(termID, borrower, rollover), &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

// PutFulfillment stores a fulfillment record under its kind.
func (m *Manager) PutFulfillment(f *auction.Fulfillment) error {
	borrower := crypto.NewAddress(crypto.TermPrefix, f.Borrower[:])
	return m.KVPut(fulfillmentKey(f.TermID, borrower, f.Rollover), f)
}

// GetElection loads the borrower's rollover election on the term, nil when
// absent.
func (m *Manager) GetElection(termID string, borrower crypto.Address) (*rollover.Election, error) {
	var e rollover.Election
	ok, err := m.KVGet(electionKey(termID, borrower), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

// PutElection stores a rollover election.
func (m *Manager) PutElection(e *rollover.Election) error {
	borrower := crypto.NewAddress(crypto.TermPrefix, e.Borrower[:])
	return m.KVPut(electionKey(e.TermID, borrower), e)
}

// GetPosition loads a collateral position, nil when absent.
func (m *Manager) GetPosition(termID string, borrower crypto.Address, token string) (*liquidation.CollateralPosition, error) {
	var p liquidation.CollateralPosition
	ok, err := m.KVGet(collateralKey(termID, borrower, token), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// PutPosition stores a collateral position and keeps the borrower's token
// index current.
func (m *Manager) PutPosition(p *liquidation.CollateralPosition) error {
	borrower := crypto.NewAddress(crypto.TermPrefix, p.Borrower[:])
	if err := m.KVPut(collateralKey(p.TermID, borrower, p.Token), p); err != nil {
		return err
	}
	tokens, err := m.collateralTokens(p.TermID, borrower)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if token == p.Token {
			return nil
		}
	}
	tokens = append(tokens, p.Token)
	return m.KVPut(collateralIndexKey(p.TermID, borrower), tokens)
}

// ListCollateral returns all of the borrower's positions on the term.
func (m *Manager) ListCollateral(termID string, borrower crypto.Address) ([]*liquidation.CollateralPosition, error) {
	tokens, err := m.collateralTokens(termID, borrower)
	if err != nil {
		return nil, err
	}
	positions := make([]*liquidation.CollateralPosition, 0, len(tokens))
	for _, token := range tokens {
		p, err := m.GetPosition(termID, borrower, token)
		if err != nil {
			return nil, err
		}
		if p != nil {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (m *Manager) collateralTokens(termID string, borrower crypto.Address) ([]string, error) {
	var tokens []string
	ok, err := m.KVGet(collateralIndexKey(termID, borrower), &tokens)
	if err != nil || !ok {
		return nil, err
	}
	return tokens, nil
}
