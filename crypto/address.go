package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the bech32 human-readable part for alcove account addresses.
const AddressHRP = "alc"

// AddressLength is the raw byte length of an account address.
const AddressLength = 20

var (
	// ErrInvalidAddressLength indicates the raw payload was not twenty bytes.
	ErrInvalidAddressLength = errors.New("crypto: address must be 20 bytes")
	// ErrInvalidAddressHRP indicates a bech32 string with a foreign prefix.
	ErrInvalidAddressHRP = errors.New("crypto: unexpected address prefix")
)

// Address identifies an account on the ledger. The zero value is the
// reserved null address and never owns balances.
type Address [AddressLength]byte

// NewAddress copies b into an Address, rejecting payloads of the wrong size.
func NewAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, ErrInvalidAddressLength
	}
	copy(a[:], b)
	return a, nil
}

// MustNewAddress is NewAddress for fixtures and derived constants.
func MustNewAddress(b []byte) Address {
	a, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns a copy of the raw address payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether a is the reserved null address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String renders the address as bech32 with the alcove prefix.
func (a Address) String() string {
	converted, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(fmt.Sprintf("crypto: convert address bits: %v", err))
	}
	encoded, err := bech32.Encode(AddressHRP, converted)
	if err != nil {
		panic(fmt.Sprintf("crypto: encode address: %v", err))
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler using the bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(bytes.TrimSpace(text)))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 address string produced by String.
func DecodeAddress(s string) (Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: decode address: %w", err)
	}
	if hrp != AddressHRP {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddressHRP, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: convert address bits: %w", err)
	}
	return NewAddress(raw)
}

// ModuleAddress derives the deterministic custody address for a named
// module account. Distinct names never collide short of a keccak collision.
func ModuleAddress(name string) Address {
	digest := ethcrypto.Keccak256([]byte("alcove/module/" + name))
	return MustNewAddress(digest[12:])
}
