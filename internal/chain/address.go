// Package chain provides the ledger primitives used by droplink: 20-byte
// account addresses, Keccak-256 hashing and the block clock.
package chain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// Address is a 20-byte account identifier.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address used as "unset".
var ZeroAddress Address

// BytesToAddress returns the address formed by the last 20 bytes of b,
// left-padding when b is shorter.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// ParseAddress decodes a hex address with an optional 0x prefix. The input
// must encode exactly 20 bytes.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 2*AddressLength {
		return Address{}, fmt.Errorf("address must be %d hex characters, got %d", 2*AddressLength, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	return BytesToAddress(b), nil
}

// MustParseAddress is ParseAddress that panics on error. Only for constants
// and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex returns the lowercase 0x-prefixed encoding.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
