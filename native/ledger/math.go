package ledger

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow signals that a checked arithmetic step would exceed the
	// 256-bit unsigned domain. No operation ever wraps silently.
	ErrOverflow = errors.New("ledger math: overflow")
	// ErrDivisionByZero signals a fee or ratio computation with a zero divisor.
	ErrDivisionByZero = errors.New("ledger math: division by zero")
)

// BasisPoints is the denominator for all fee and ratio values.
var BasisPoints = uint256.NewInt(10_000)

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}

// CheckedAdd returns a+b, failing with ErrOverflow instead of wrapping.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(orZero(a), orZero(b))
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, failing with ErrOverflow when b exceeds a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(orZero(a), orZero(b))
	if underflow {
		return nil, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a*b, failing with ErrOverflow instead of wrapping.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(orZero(a), orZero(b))
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// CheckedDiv returns a/b, failing with ErrDivisionByZero when b is zero.
func CheckedDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(orZero(a), b), nil
}

// MulDiv returns a*b/den with the intermediate product checked for overflow.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	product, err := CheckedMul(a, b)
	if err != nil {
		return nil, err
	}
	return CheckedDiv(product, den)
}

// BpsShare returns amount*bps/10_000.
func BpsShare(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps == 0 {
		return uint256.NewInt(0), nil
	}
	return MulDiv(orZero(amount), uint256.NewInt(bps), BasisPoints)
}
