package ledger

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCheckedAddOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := CheckedAdd(max, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	sum, err := CheckedAdd(uint256.NewInt(2), uint256.NewInt(3))
	if err != nil || sum.Uint64() != 5 {
		t.Fatalf("expected 5, got %s (%v)", sum, err)
	}
}

func TestCheckedSubUnderflow(t *testing.T) {
	if _, err := CheckedSub(uint256.NewInt(5), uint256.NewInt(6)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	diff, err := CheckedSub(uint256.NewInt(5), uint256.NewInt(3))
	if err != nil || diff.Uint64() != 2 {
		t.Fatalf("expected 2, got %s (%v)", diff, err)
	}
	zero, err := CheckedSub(uint256.NewInt(5), uint256.NewInt(5))
	if err != nil || !zero.IsZero() {
		t.Fatalf("expected 0, got %s (%v)", zero, err)
	}
}

func TestCheckedMulOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := CheckedMul(max, uint256.NewInt(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestCheckedDivByZero(t *testing.T) {
	if _, err := CheckedDiv(uint256.NewInt(10), uint256.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := CheckedDiv(uint256.NewInt(10), nil); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero on nil divisor, got %v", err)
	}
}

func TestMulDivChecksIntermediate(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := MulDiv(max, uint256.NewInt(2), uint256.NewInt(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow on intermediate product, got %v", err)
	}
	out, err := MulDiv(uint256.NewInt(1_000), uint256.NewInt(3), uint256.NewInt(4))
	if err != nil || out.Uint64() != 750 {
		t.Fatalf("expected 750, got %s (%v)", out, err)
	}
}

func TestBpsShare(t *testing.T) {
	share, err := BpsShare(uint256.NewInt(1_000_000), 50)
	if err != nil || share.Uint64() != 5_000 {
		t.Fatalf("expected 5000, got %s (%v)", share, err)
	}
	zero, err := BpsShare(uint256.NewInt(1_000_000), 0)
	if err != nil || !zero.IsZero() {
		t.Fatalf("expected zero share, got %s (%v)", zero, err)
	}
	truncated, err := BpsShare(uint256.NewInt(1), 50)
	if err != nil || !truncated.IsZero() {
		t.Fatalf("expected truncation toward zero, got %s (%v)", truncated, err)
	}
}
