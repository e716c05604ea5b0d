package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 account address.
type AddressPrefix string

const (
	// CapPrefix is the prefix for all capstack account addresses.
	CapPrefix AddressPrefix = "cap"

	addressLen = 20
)

// Address represents a 20-byte account address with a bech32 prefix.
// Lender accounts and the pool's system accounts share one address space.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != addressLen {
		panic("address must be 20 bytes long")
	}
	buf := make([]byte, addressLen)
	copy(buf, b)
	return Address{prefix: prefix, bytes: buf}
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

// IsZero reports whether the address is the uninitialised value.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

func (a Address) Equal(b Address) bool {
	return a.prefix == b.prefix && bytes.Equal(a.bytes, b.bytes)
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
	if len(conv) != addressLen {
		return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", addressLen, len(conv))
	}
	if prefix != string(CapPrefix) {
		return Address{}, fmt.Errorf("unknown address prefix %q", prefix)
	}
	return NewAddress(CapPrefix, conv), nil
}

// MustDecodeAddress parses addrStr and panics on failure. For fixtures and
// wiring of well-known accounts.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// ModuleAddress derives the well-known address for a named system account
// (liquidity reserve, redemption escrow). The name is left-padded into the
// 20-byte payload, so distinct names under 20 bytes never collide with each
// other or with real account keys of practical entropy.
func ModuleAddress(name string) Address {
	buf := make([]byte, addressLen)
	n := len(name)
	if n > addressLen {
		n = addressLen
	}
	copy(buf[addressLen-n:], name[:n])
	return Address{prefix: CapPrefix, bytes: buf}
}
