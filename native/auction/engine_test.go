package auction

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"termrepo/crypto"
	nativecommon "termrepo/native/common"
	"termrepo/native/ledger"
)

type mockState struct {
	auctions     map[string]*Auction
	bids         map[string]*Bid
	offers       map[string]*Offer
	fulfillments map[string]*Fulfillment
	balances     map[string]*uint256.Int

	terms     map[string]*ledger.TermDeployment
	exposures map[string]*uint256.Int
	totals    map[string]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		auctions:     make(map[string]*Auction),
		bids:         make(map[string]*Bid),
		offers:       make(map[string]*Offer),
		fulfillments: make(map[string]*Fulfillment),
		balances:     make(map[string]*uint256.Int),
		terms:        make(map[string]*ledger.TermDeployment),
		exposures:    make(map[string]*uint256.Int),
		totals:       make(map[string]*uint256.Int),
	}
}

func (m *mockState) GetAuction(id string) (*Auction, error) { return m.auctions[id].Clone(), nil }

func (m *mockState) PutAuction(a *Auction) error {
	m.auctions[a.ID] = a.Clone()
	return nil
}

func (m *mockState) GetBid(auctionID, bidID string) (*Bid, error) {
	return m.bids[auctionID+"/"+bidID].Clone(), nil
}

func (m *mockState) PutBid(b *Bid) error {
	m.bids[b.AuctionID+"/"+b.ID] = b.Clone()
	return nil
}

func (m *mockState) GetOffer(auctionID, offerID string) (*Offer, error) {
	return m.offers[auctionID+"/"+offerID].Clone(), nil
}

func (m *mockState) PutOffer(o *Offer) error {
	m.offers[o.AuctionID+"/"+o.ID] = o.Clone()
	return nil
}

func fulfillmentMockKey(termID string, borrower []byte, rollover bool) string {
	kind := "direct"
	if rollover {
		kind = "rollover"
	}
	return termID + "/" + string(borrower) + "/" + kind
}

func (m *mockState) GetFulfillment(termID string, borrower crypto.Address, rollover bool) (*Fulfillment, error) {
	return m.fulfillments[fulfillmentMockKey(termID, borrower.Bytes(), rollover)].Clone(), nil
}

func (m *mockState) PutFulfillment(f *Fulfillment) error {
	m.fulfillments[fulfillmentMockKey(f.TermID, f.Borrower[:], f.Rollover)] = f.Clone()
	return nil
}

func (m *mockState) Balance(addr crypto.Address, token string) (*uint256.Int, error) {
	return m.balances[string(addr.Bytes())+"/"+token], nil
}

func (m *mockState) SetBalance(addr crypto.Address, token string, amount *uint256.Int) error {
	m.balances[string(addr.Bytes())+"/"+token] = new(uint256.Int).Set(amount)
	return nil
}

func (m *mockState) GetTerm(termID string) (*ledger.TermDeployment, error) {
	return m.terms[termID].Clone(), nil
}

func (m *mockState) PutTerm(term *ledger.TermDeployment) error {
	m.terms[term.ID] = term.Clone()
	return nil
}

func (m *mockState) GetExposure(termID string, borrower crypto.Address) (*uint256.Int, error) {
	return m.exposures[termID+"/"+string(borrower.Bytes())], nil
}

func (m *mockState) PutExposure(termID string, borrower crypto.Address, amount *uint256.Int) error {
	m.exposures[termID+"/"+string(borrower.Bytes())] = new(uint256.Int).Set(amount)
	return nil
}

func (m *mockState) GetTotalExposure(termID string) (*uint256.Int, error) {
	return m.totals[termID], nil
}

func (m *mockState) PutTotalExposure(termID string, amount *uint256.Int) error {
	m.totals[termID] = new(uint256.Int).Set(amount)
	return nil
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.TermPrefix, buf)
}

var (
	moduleAddr   = testAddr(0xf0)
	treasuryAddr = testAddr(0xf1)
	servicerAddr = testAddr(0xf0)
)

func servicerAuth() nativecommon.AuthContext {
	return nativecommon.AuthContext{Caller: servicerAddr, Role: nativecommon.RoleTermContract}
}

func adminAuth() nativecommon.AuthContext {
	return nativecommon.AuthContext{Caller: testAddr(0xaa), Role: nativecommon.RoleAdmin}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Engine, *mockState) {
	t.Helper()
	state := newMockState()
	ledgerEngine := ledger.NewEngine(moduleAddr)
	ledgerEngine.SetState(state)
	if err := ledgerEngine.RegisterTerm(adminAuth(), &ledger.TermDeployment{
		ID:              "term-1",
		PurchaseToken:   "USDC",
		Maturity:        2_000,
		ServicingFeeBps: 50,
	}); err != nil {
		t.Fatalf("register term: %v", err)
	}
	engine := NewEngine(moduleAddr, treasuryAddr, servicerAddr)
	engine.SetState(state)
	engine.SetLedger(ledgerEngine)
	engine.SetTimestamp(100)
	if err := engine.CreateAuction(adminAuth(), &Auction{
		ID:                 "auc-1",
		TermID:             "term-1",
		EndTime:            1_000,
		DayCountFraction:   uint256.NewInt(250_000_000_000_000_000),
		PurchaseToken:      "USDC",
		AcceptedCollateral: []string{"ETH"},
	}); err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return engine, ledgerEngine, state
}

func lockRevealedBid(t *testing.T, engine *Engine, id string, bidder crypto.Address, amount uint64, price *uint256.Int) {
	t.Helper()
	var nonce [32]byte
	copy(nonce[:], id)
	bid := &Bid{
		ID:        id,
		AuctionID: "auc-1",
		Bidder:    addr20(bidder),
		PriceHash: crypto.SealPrice(price, nonce),
		Amount:    uint256.NewInt(amount),
	}
	if err := engine.LockBid(servicerAuth(), bid); err != nil {
		t.Fatalf("lock bid %s: %v", id, err)
	}
	if err := engine.RevealBid("auc-1", id, price, nonce); err != nil {
		t.Fatalf("reveal bid %s: %v", id, err)
	}
}

func fundOffer(t *testing.T, engine *Engine, state *mockState, id string, offeror crypto.Address, amount uint64) {
	t.Helper()
	if err := state.SetBalance(offeror, "USDC", uint256.NewInt(amount)); err != nil {
		t.Fatalf("fund offeror: %v", err)
	}
	var nonce [32]byte
	copy(nonce[:], id)
	price := uint256.NewInt(30_000_000_000_000_000)
	offer := &Offer{
		ID:        id,
		AuctionID: "auc-1",
		Offeror:   addr20(offeror),
		PriceHash: crypto.SealPrice(price, nonce),
		Amount:    uint256.NewInt(amount),
	}
	if err := engine.LockOffer(servicerAuth(), offer); err != nil {
		t.Fatalf("lock offer %s: %v", id, err)
	}
	if err := engine.RevealOffer("auc-1", id, price, nonce); err != nil {
		t.Fatalf("reveal offer %s: %v", id, err)
	}
	if err := engine.AssignOffer("auc-1", id); err != nil {
		t.Fatalf("assign offer %s: %v", id, err)
	}
}

func TestSettleMintsNetExposureAndPaysProceeds(t *testing.T) {
	engine, ledgerEngine, state := newTestEngine(t)
	borrower := testAddr(1)
	lender := testAddr(2)

	// 4% annualized, quarter-year day count: 1% accrual on the net fill.
	price := uint256.NewInt(40_000_000_000_000_000)
	lockRevealedBid(t, engine, "bid-1", borrower, 1_000_000, price)
	if err := engine.AssignBid("auc-1", "bid-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	fundOffer(t, engine, state, "off-1", lender, 1_000_000)

	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}
	err := engine.Settle(servicerAuth(), "auc-1",
		[]Assignment{{BidID: "bid-1", FillAmount: uint256.NewInt(1_000_000)}},
		[]OfferAssignment{{OfferID: "off-1", FillAmount: uint256.NewInt(1_000_000)}},
	)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	exposure, _ := ledgerEngine.Exposure("term-1", borrower)
	if exposure.Uint64() != 1_004_950 {
		t.Fatalf("expected exposure 1004950, got %s", exposure)
	}
	borrowerBalance, _ := state.Balance(borrower, "USDC")
	if borrowerBalance.Uint64() != 995_000 {
		t.Fatalf("expected borrower proceeds 995000, got %s", borrowerBalance)
	}
	treasuryBalance, _ := state.Balance(treasuryAddr, "USDC")
	if treasuryBalance.Uint64() != 5_000 {
		t.Fatalf("expected treasury fee 5000, got %s", treasuryBalance)
	}
	pool, _ := state.Balance(moduleAddr, "USDC")
	if !pool.IsZero() {
		t.Fatalf("expected drained pool, got %s", pool)
	}
}

func TestSettleRejectsConsumedBid(t *testing.T) {
	engine, _, state := newTestEngine(t)
	borrower := testAddr(1)
	lockRevealedBid(t, engine, "bid-1", borrower, 1_000, uint256.NewInt(0))
	if err := engine.AssignBid("auc-1", "bid-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	fundOffer(t, engine, state, "off-1", testAddr(2), 1_000)
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}
	assignments := []Assignment{{BidID: "bid-1", FillAmount: uint256.NewInt(1_000)}}
	if err := engine.Settle(servicerAuth(), "auc-1", assignments, nil); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := engine.Settle(servicerAuth(), "auc-1", assignments, nil); !errors.Is(err, ErrStaleBid) {
		t.Fatalf("expected ErrStaleBid, got %v", err)
	}
}

func TestSettleRejectsWholeSetOnBadLineItem(t *testing.T) {
	engine, ledgerEngine, state := newTestEngine(t)
	first := testAddr(1)
	second := testAddr(2)
	lender := testAddr(3)

	price := uint256.NewInt(40_000_000_000_000_000)
	lockRevealedBid(t, engine, "bid-1", first, 1_000_000, price)
	lockRevealedBid(t, engine, "bid-2", second, 500_000, price)
	for _, id := range []string{"bid-1", "bid-2"} {
		if err := engine.AssignBid("auc-1", id); err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
	}
	fundOffer(t, engine, state, "off-1", lender, 2_000_000)
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}

	// The second fill exceeds the locked bid amount, so the whole set is
	// rejected and the first bid must stay untouched.
	err := engine.Settle(servicerAuth(), "auc-1", []Assignment{
		{BidID: "bid-1", FillAmount: uint256.NewInt(1_000_000)},
		{BidID: "bid-2", FillAmount: uint256.NewInt(500_001)},
	}, nil)
	if !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected errInvalidAmount, got %v", err)
	}

	if state.bids["auc-1/bid-1"].Consumed {
		t.Fatalf("first bid consumed by rejected settlement")
	}
	exposure, _ := ledgerEngine.Exposure("term-1", first)
	if !exposure.IsZero() {
		t.Fatalf("rejected settlement minted exposure: %s", exposure)
	}
	firstBalance, _ := state.Balance(first, "USDC")
	if firstBalance != nil && !firstBalance.IsZero() {
		t.Fatalf("rejected settlement paid proceeds: %s", firstBalance)
	}
	pool, _ := state.Balance(moduleAddr, "USDC")
	if pool.Uint64() != 2_000_000 {
		t.Fatalf("expected intact pool 2000000, got %s", pool)
	}

	// The same set with a valid second fill settles cleanly afterwards.
	if err := engine.Settle(servicerAuth(), "auc-1", []Assignment{
		{BidID: "bid-1", FillAmount: uint256.NewInt(1_000_000)},
		{BidID: "bid-2", FillAmount: uint256.NewInt(500_000)},
	}, nil); err != nil {
		t.Fatalf("retried settle: %v", err)
	}
}

func TestSettleRejectsDuplicateAssignment(t *testing.T) {
	engine, ledgerEngine, state := newTestEngine(t)
	borrower := testAddr(1)
	lockRevealedBid(t, engine, "bid-1", borrower, 1_000, uint256.NewInt(0))
	if err := engine.AssignBid("auc-1", "bid-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	fundOffer(t, engine, state, "off-1", testAddr(2), 2_000)
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}
	err := engine.Settle(servicerAuth(), "auc-1", []Assignment{
		{BidID: "bid-1", FillAmount: uint256.NewInt(1_000)},
		{BidID: "bid-1", FillAmount: uint256.NewInt(1_000)},
	}, nil)
	if !errors.Is(err, ErrStaleBid) {
		t.Fatalf("expected ErrStaleBid, got %v", err)
	}
	exposure, _ := ledgerEngine.Exposure("term-1", borrower)
	if !exposure.IsZero() {
		t.Fatalf("duplicate assignment minted exposure: %s", exposure)
	}
}

func TestSettleRejectedWhenLedgerPaused(t *testing.T) {
	engine, _, state := newTestEngine(t)
	borrower := testAddr(1)
	lockRevealedBid(t, engine, "bid-1", borrower, 1_000, uint256.NewInt(0))
	if err := engine.AssignBid("auc-1", "bid-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	fundOffer(t, engine, state, "off-1", testAddr(2), 1_000)
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}

	// Settlement writes bid and offer records before minting exposure, so a
	// paused ledger must stop it before the first write.
	engine.ledgerEngine.SetPauses(pausedModules{"ledger"})
	err := engine.Settle(servicerAuth(), "auc-1",
		[]Assignment{{BidID: "bid-1", FillAmount: uint256.NewInt(1_000)}}, nil)
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if state.bids["auc-1/bid-1"].Consumed {
		t.Fatalf("bid consumed under paused ledger")
	}
	pool, _ := state.Balance(moduleAddr, "USDC")
	if pool.Uint64() != 1_000 {
		t.Fatalf("pool changed under paused ledger: %s", pool)
	}
}

type pausedModules []string

func (p pausedModules) IsPaused(module string) bool {
	for _, m := range p {
		if m == module {
			return true
		}
	}
	return false
}

func TestSettleRequiresClearedPhase(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	err := engine.Settle(servicerAuth(), "auc-1", nil, nil)
	if !errors.Is(err, ErrInvalidAuctionState) {
		t.Fatalf("expected ErrInvalidAuctionState, got %v", err)
	}
}

func TestRevealRejectsSealMismatch(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	borrower := testAddr(1)
	price := uint256.NewInt(42)
	var nonce [32]byte
	nonce[0] = 1
	bid := &Bid{
		ID:        "bid-1",
		AuctionID: "auc-1",
		Bidder:    addr20(borrower),
		PriceHash: crypto.SealPrice(price, nonce),
		Amount:    uint256.NewInt(100),
	}
	if err := engine.LockBid(servicerAuth(), bid); err != nil {
		t.Fatalf("lock: %v", err)
	}
	var wrongNonce [32]byte
	wrongNonce[0] = 2
	if err := engine.RevealBid("auc-1", "bid-1", price, wrongNonce); !errors.Is(err, ErrSealMismatch) {
		t.Fatalf("expected ErrSealMismatch, got %v", err)
	}
	if err := engine.RevealBid("auc-1", "bid-1", uint256.NewInt(43), nonce); !errors.Is(err, ErrSealMismatch) {
		t.Fatalf("expected ErrSealMismatch on wrong price, got %v", err)
	}
}

func TestLockBidAfterEndTime(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.SetTimestamp(1_000)
	bid := &Bid{
		ID:        "bid-late",
		AuctionID: "auc-1",
		Bidder:    addr20(testAddr(1)),
		Amount:    uint256.NewInt(100),
	}
	if err := engine.LockBid(servicerAuth(), bid); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
}

func TestAssignRequiresRevealedBid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	bid := &Bid{
		ID:        "bid-1",
		AuctionID: "auc-1",
		Bidder:    addr20(testAddr(1)),
		Amount:    uint256.NewInt(100),
	}
	if err := engine.LockBid(servicerAuth(), bid); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AssignBid("auc-1", "bid-1"); !errors.Is(err, ErrInvalidAuctionState) {
		t.Fatalf("expected ErrInvalidAuctionState, got %v", err)
	}
}

func TestLockRolloverBidReplacesAbandonedBid(t *testing.T) {
	engine, _, state := newTestEngine(t)
	borrower := testAddr(3)

	locker, err := engine.BidLockerFor("auc-1")
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	var firstHash, secondHash [32]byte
	firstHash[0] = 1
	secondHash[0] = 2
	bidID, err := locker.LockRolloverBid(borrower, "term-0", uint256.NewInt(500_000), firstHash)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	// A cancelled election leaves the bid behind; re-electing into the same
	// auction replaces it instead of failing on the deterministic id.
	replacedID, err := locker.LockRolloverBid(borrower, "term-0", uint256.NewInt(300_000), secondHash)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if replacedID != bidID {
		t.Fatalf("expected stable bid id %s, got %s", bidID, replacedID)
	}
	stored := state.bids["auc-1/"+bidID]
	if stored.Amount.Uint64() != 300_000 {
		t.Fatalf("expected replaced amount 300000, got %s", stored.Amount)
	}
	if stored.PriceHash != secondHash {
		t.Fatalf("price hash not replaced")
	}
	if stored.State != BidLocked || stored.Revealed {
		t.Fatalf("replaced bid not reset to locked state")
	}

	// The public locking path never overwrites.
	err = engine.LockBid(servicerAuth(), &Bid{
		ID:        bidID,
		AuctionID: "auc-1",
		Bidder:    addr20(borrower),
		Amount:    uint256.NewInt(100),
	})
	if !errors.Is(err, ErrStaleBid) {
		t.Fatalf("expected ErrStaleBid from LockBid, got %v", err)
	}
}

func TestSettleKeepsRolloverAndDirectFulfillmentsApart(t *testing.T) {
	engine, ledgerEngine, state := newTestEngine(t)
	borrower := testAddr(3)
	lender := testAddr(4)

	price := uint256.NewInt(40_000_000_000_000_000)
	locker, err := engine.BidLockerFor("auc-1")
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	var nonce [32]byte
	nonce[7] = 3
	rollBidID, err := locker.LockRolloverBid(borrower, "term-0", uint256.NewInt(500_000), crypto.SealPrice(price, nonce))
	if err != nil {
		t.Fatalf("lock rollover bid: %v", err)
	}
	if err := engine.RevealBid("auc-1", rollBidID, price, nonce); err != nil {
		t.Fatalf("reveal rollover: %v", err)
	}
	lockRevealedBid(t, engine, "bid-direct", borrower, 1_000_000, price)
	for _, id := range []string{rollBidID, "bid-direct"} {
		if err := engine.AssignBid("auc-1", id); err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
	}
	fundOffer(t, engine, state, "off-1", lender, 1_000_000)
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}

	// The rollover fulfillment settles first; the direct one written after it
	// must not shadow it.
	if err := engine.Settle(servicerAuth(), "auc-1", []Assignment{
		{BidID: rollBidID, FillAmount: uint256.NewInt(500_000)},
		{BidID: "bid-direct", FillAmount: uint256.NewInt(1_000_000)},
	}, nil); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Only the direct bid mints exposure at settlement.
	exposure, _ := ledgerEngine.Exposure("term-1", borrower)
	if exposure.Uint64() != 1_004_950 {
		t.Fatalf("expected direct exposure 1004950, got %s", exposure)
	}

	fulfillment, err := engine.ConsumeRolloverFulfillmentForAuction("auc-1", borrower)
	if err != nil {
		t.Fatalf("consume rollover fulfillment: %v", err)
	}
	if fulfillment.RepurchaseAmount.Uint64() != 502_475 {
		t.Fatalf("expected rollover repurchase 502475, got %s", fulfillment.RepurchaseAmount)
	}
	if fulfillment.PredecessorTermID != "term-0" {
		t.Fatalf("expected predecessor term-0, got %s", fulfillment.PredecessorTermID)
	}
}

func TestRolloverBidRecordsFulfillmentOnly(t *testing.T) {
	engine, ledgerEngine, _ := newTestEngine(t)
	borrower := testAddr(3)

	locker, err := engine.BidLockerFor("auc-1")
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	price := uint256.NewInt(40_000_000_000_000_000)
	var nonce [32]byte
	nonce[5] = 9
	bidID, err := locker.LockRolloverBid(borrower, "term-0", uint256.NewInt(500_000), crypto.SealPrice(price, nonce))
	if err != nil {
		t.Fatalf("lock rollover bid: %v", err)
	}
	if err := engine.RevealBid("auc-1", bidID, price, nonce); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := engine.AssignBid("auc-1", bidID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := engine.MarkCleared(servicerAuth(), "auc-1"); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}
	if err := engine.Settle(servicerAuth(), "auc-1", []Assignment{{BidID: bidID, FillAmount: uint256.NewInt(500_000)}}, nil); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Exposure is deferred to rollover processing.
	exposure, _ := ledgerEngine.Exposure("term-1", borrower)
	if !exposure.IsZero() {
		t.Fatalf("rollover settle minted exposure: %s", exposure)
	}

	fulfillment, err := engine.ConsumeRolloverFulfillmentForAuction("auc-1", borrower)
	if err != nil {
		t.Fatalf("consume fulfillment: %v", err)
	}
	if fulfillment.PredecessorTermID != "term-0" {
		t.Fatalf("expected predecessor term-0, got %s", fulfillment.PredecessorTermID)
	}
	if fulfillment.RepurchaseAmount.Uint64() != 502_475 {
		t.Fatalf("expected repurchase 502475, got %s", fulfillment.RepurchaseAmount)
	}
	if _, err := engine.ConsumeRolloverFulfillmentForAuction("auc-1", borrower); !errors.Is(err, ErrRolloverNotFulfilled) {
		t.Fatalf("expected ErrRolloverNotFulfilled on second consume, got %v", err)
	}
}
