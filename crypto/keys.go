package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// AddressPrefix defines the human-readable prefixes used by protocol addresses.
type AddressPrefix string

const (
	// TermPrefix identifies participant and protocol accounts.
	TermPrefix AddressPrefix = "trm"
)

// Address represents a 20-byte protocol address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: b}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all-zero bytes.
func (a Address) IsZero() bool {
	if len(a.bytes) == 0 {
		return true
	}
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("invalid address payload: %d bytes", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// --- Sealed price commitments ---

// SealPrice computes the keccak-256 commitment for a sealed auction price.
// The nonce binds the commitment to a single reveal.
func SealPrice(price *uint256.Int, nonce [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	if price != nil {
		b := price.Bytes32()
		buf = append(buf, b[:]...)
	} else {
		var zero [32]byte
		buf = append(buf, zero[:]...)
	}
	buf = append(buf, nonce[:]...)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}
