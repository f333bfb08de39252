package crypto

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/holiman/uint256"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	raw[0] = 0xde
	raw[19] = 0xad
	addr := NewAddress(TermPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != TermPrefix {
		t.Fatalf("prefix mismatch: %s", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("bytes mismatch: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("trm1notbech32"); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func TestDecodeAddressRejectsWrongPayloadLength(t *testing.T) {
	// Valid bech32 with a 19-byte payload must fail with an error, not panic.
	conv, err := bech32.ConvertBits(make([]byte, 19), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	encoded, err := bech32.Encode(string(TermPrefix), conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(encoded); err == nil {
		t.Fatalf("expected decode failure for short payload")
	}
}

func TestIsZero(t *testing.T) {
	var unset Address
	if !unset.IsZero() {
		t.Fatalf("unset address should be zero")
	}
	if !NewAddress(TermPrefix, make([]byte, 20)).IsZero() {
		t.Fatalf("all-zero address should be zero")
	}
	raw := make([]byte, 20)
	raw[5] = 1
	if NewAddress(TermPrefix, raw).IsZero() {
		t.Fatalf("non-zero address reported zero")
	}
}

func TestSealPriceBindsPriceAndNonce(t *testing.T) {
	price := uint256.NewInt(42)
	var nonce [32]byte
	nonce[0] = 1

	seal := SealPrice(price, nonce)
	if seal != SealPrice(uint256.NewInt(42), nonce) {
		t.Fatalf("commitment not deterministic")
	}
	if seal == SealPrice(uint256.NewInt(43), nonce) {
		t.Fatalf("commitment ignores price")
	}
	var otherNonce [32]byte
	otherNonce[0] = 2
	if seal == SealPrice(price, otherNonce) {
		t.Fatalf("commitment ignores nonce")
	}
}
