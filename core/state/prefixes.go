package state

// Key prefixes partition the flat key-value store by record kind. Composite
// keys join the prefix and its components with '/'; addresses are hex encoded
// so keys stay printable in store dumps.
const (
	termPrefix          = "term/"
	exposurePrefix      = "exposure/"
	exposureTotalPrefix = "exposure-total/"
	balancePrefix       = "balance/"
	auctionPrefix       = "auction/"
	bidPrefix           = "bid/"
	offerPrefix         = "offer/"
	fulfillmentPrefix   = "fulfillment/"
	electionPrefix      = "election/"
	collateralPrefix    = "collateral/"
	// collateralIndexPrefix tracks which tokens a borrower has positions in so
	// health checks can enumerate them.
	collateralIndexPrefix = "collateral-index/"
)
