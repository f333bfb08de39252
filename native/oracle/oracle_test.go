package oracle

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), TokenScale)
}

func TestManualOracleValuesTokens(t *testing.T) {
	m := NewManualOracle()
	m.SetUnitPrice("eth", USDValue{Mantissa: e18(2_000), Exponent: 18})

	// Symbols are case-insensitive.
	value, err := m.USDValueOfTokens("ETH", e18(3))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if !value.Mantissa.Eq(e18(6_000)) {
		t.Fatalf("expected 6000 USD, got %s", value.Mantissa)
	}
}

func TestManualOracleFailsClosed(t *testing.T) {
	m := NewManualOracle()
	if _, err := m.USDValueOfTokens("ETH", e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice for missing feed, got %v", err)
	}
	m.SetUnitPrice("ETH", USDValue{Mantissa: uint256.NewInt(0), Exponent: 18})
	if _, err := m.USDValueOfTokens("ETH", e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice for zero price, got %v", err)
	}
	m.SetUnitPrice("ETH", USDValue{Mantissa: e18(2_000), Exponent: 18})
	m.Unset("ETH")
	if _, err := m.USDValueOfTokens("ETH", e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice after unset, got %v", err)
	}
}

func TestManualOracleOverflowFailsClosed(t *testing.T) {
	m := NewManualOracle()
	m.SetUnitPrice("ETH", USDValue{Mantissa: new(uint256.Int).SetAllOne(), Exponent: 18})
	if _, err := m.USDValueOfTokens("ETH", new(uint256.Int).SetAllOne()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice on overflow, got %v", err)
	}
}

func TestNormalizeRescalesExponents(t *testing.T) {
	a := USDValue{Mantissa: uint256.NewInt(150), Exponent: 2}  // 1.50
	b := USDValue{Mantissa: uint256.NewInt(2_000), Exponent: 4} // 0.2000
	am, bm, err := Normalize(a, b)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if am.Uint64() != 15_000 || bm.Uint64() != 2_000 {
		t.Fatalf("expected 15000/2000, got %s/%s", am, bm)
	}
}

func TestNormalizeRejectsNilMantissa(t *testing.T) {
	_, _, err := Normalize(USDValue{}, USDValue{Mantissa: uint256.NewInt(1)})
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}
