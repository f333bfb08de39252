package oracle

import (
	"errors"
	"strings"
	"sync"

	"github.com/holiman/uint256"
)

// ErrStalePrice indicates the oracle could not produce a usable valuation.
// Consumers must fail closed on this error.
var ErrStalePrice = errors.New("oracle: stale or missing price")

// USDValue is a fixed-point USD valuation: Mantissa * 10^-Exponent dollars.
type USDValue struct {
	Mantissa *uint256.Int
	Exponent uint8
}

// Clone returns a deep copy of the value to prevent accidental mutations.
func (v USDValue) Clone() USDValue {
	clone := USDValue{Exponent: v.Exponent}
	if v.Mantissa != nil {
		clone.Mantissa = new(uint256.Int).Set(v.Mantissa)
	}
	return clone
}

// PriceOracle values a token amount in USD. Implementations must return
// ErrStalePrice rather than a zero value when no fresh price is available.
type PriceOracle interface {
	USDValueOfTokens(token string, amount *uint256.Int) (USDValue, error)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response. Prices are stored as USD
// mantissa per whole token (18 decimals) with a fixed exponent.
type ManualOracle struct {
	mu     sync.RWMutex
	prices map[string]USDValue
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{prices: make(map[string]USDValue)}
}

// TokenScale is the base unit count of one whole token.
var TokenScale = uint256.NewInt(1_000_000_000_000_000_000)

// SetUnitPrice records the USD value of one whole token.
func (m *ManualOracle) SetUnitPrice(token string, value USDValue) {
	if m == nil {
		return
	}
	symbol := normaliseSymbol(token)
	if symbol == "" {
		return
	}
	m.mu.Lock()
	m.prices[symbol] = value.Clone()
	m.mu.Unlock()
}

// Unset removes the stored price, simulating a stale feed.
func (m *ManualOracle) Unset(token string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.prices, normaliseSymbol(token))
	m.mu.Unlock()
}

// USDValueOfTokens values amount base units of the token. Missing or zero
// prices fail closed with ErrStalePrice.
func (m *ManualOracle) USDValueOfTokens(token string, amount *uint256.Int) (USDValue, error) {
	if m == nil {
		return USDValue{}, ErrStalePrice
	}
	m.mu.RLock()
	unit, ok := m.prices[normaliseSymbol(token)]
	m.mu.RUnlock()
	if !ok || unit.Mantissa == nil || unit.Mantissa.IsZero() {
		return USDValue{}, ErrStalePrice
	}
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	product, overflow := new(uint256.Int).MulOverflow(unit.Mantissa, amount)
	if overflow {
		return USDValue{}, ErrStalePrice
	}
	mantissa := new(uint256.Int).Div(product, TokenScale)
	return USDValue{Mantissa: mantissa, Exponent: unit.Exponent}, nil
}

// Normalize rescales two values onto the larger exponent so their mantissas
// compare directly. Rescaling that would overflow fails closed.
func Normalize(a, b USDValue) (*uint256.Int, *uint256.Int, error) {
	if a.Mantissa == nil || b.Mantissa == nil {
		return nil, nil, ErrStalePrice
	}
	am := new(uint256.Int).Set(a.Mantissa)
	bm := new(uint256.Int).Set(b.Mantissa)
	switch {
	case a.Exponent < b.Exponent:
		scaled, err := rescale(am, b.Exponent-a.Exponent)
		if err != nil {
			return nil, nil, err
		}
		am = scaled
	case b.Exponent < a.Exponent:
		scaled, err := rescale(bm, a.Exponent-b.Exponent)
		if err != nil {
			return nil, nil, err
		}
		bm = scaled
	}
	return am, bm, nil
}

func rescale(v *uint256.Int, decimals uint8) (*uint256.Int, error) {
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	scaled, overflow := new(uint256.Int).MulOverflow(v, factor)
	if overflow {
		return nil, ErrStalePrice
	}
	return scaled, nil
}
