package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, AddressLength)
	addr, err := NewAddress(raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressHRP+"1") {
		t.Fatalf("unexpected encoding prefix: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: got %s want %s", decoded, addr)
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(make([]byte, 19)); !errors.Is(err, ErrInvalidAddressLength) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, err := NewAddress(make([]byte, 21)); !errors.Is(err, ErrInvalidAddressLength) {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	addr := MustNewAddress(bytes.Repeat([]byte{0x01}, AddressLength))
	encoded := addr.String()
	tampered := "cvx" + strings.TrimPrefix(encoded, AddressHRP)
	if _, err := DecodeAddress(tampered); err == nil {
		t.Fatalf("expected prefix rejection for %s", tampered)
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("market/USDQ")
	b := ModuleAddress("market/USDQ")
	if a != b {
		t.Fatalf("module address not deterministic: %s vs %s", a, b)
	}
	if a == ModuleAddress("market/WETH") {
		t.Fatalf("distinct modules share an address")
	}
	if a.IsZero() {
		t.Fatalf("module address is zero")
	}
}

func TestAddressTextMarshal(t *testing.T) {
	addr := ModuleAddress("vault/USDQ")
	text, err := addr.MarshalText()
	if err != nil {
		t.Fatalf("marshal text: %v", err)
	}
	var parsed Address
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if parsed != addr {
		t.Fatalf("text round trip mismatch: got %s want %s", parsed, addr)
	}
}
