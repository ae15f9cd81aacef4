package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
)

// Parameters is the runtime interpretation of the top-level policy
// fields. Zero addresses mean the role or destination is unset; nil
// mantissas keep the built-in defaults.
type Parameters struct {
	Admin                crypto.Address
	Guardian             crypto.Address
	PlatformFeeRate      *uint256.Int
	PlatformFeeRecipient crypto.Address
	CloseThreshold       *uint256.Int
	LiquidationIncentive *uint256.Int
}

// Parameters parses the textual policy fields into runtime values.
func (c *Config) Parameters() (Parameters, error) {
	params := Parameters{}
	var err error
	if params.Admin, err = optionalAddress(c.Admin); err != nil {
		return params, fmt.Errorf("config: invalid Admin: %w", err)
	}
	if params.Guardian, err = optionalAddress(c.Guardian); err != nil {
		return params, fmt.Errorf("config: invalid Guardian: %w", err)
	}
	if params.PlatformFeeRate, err = optionalMantissa(c.PlatformFeeRate); err != nil {
		return params, fmt.Errorf("config: invalid PlatformFeeRate: %w", err)
	}
	if params.PlatformFeeRecipient, err = optionalAddress(c.PlatformFeeRecipient); err != nil {
		return params, fmt.Errorf("config: invalid PlatformFeeRecipient: %w", err)
	}
	if params.CloseThreshold, err = optionalMantissa(c.CloseThreshold); err != nil {
		return params, fmt.Errorf("config: invalid CloseThreshold: %w", err)
	}
	if params.LiquidationIncentive, err = optionalMantissa(c.LiquidationIncentive); err != nil {
		return params, fmt.Errorf("config: invalid LiquidationIncentive: %w", err)
	}
	return params, nil
}

// BalanceParameters is one parsed genesis funding entry.
type BalanceParameters struct {
	Asset   string
	Address crypto.Address
	Amount  *uint256.Int
}

// Parameters parses the funding entry. Amount is required and must be a
// positive decimal.
func (b BalanceSeed) Parameters() (BalanceParameters, error) {
	params := BalanceParameters{Asset: market.NormalizeAsset(b.Asset)}
	if params.Asset == "" {
		return params, fmt.Errorf("balance seed: Asset required")
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(b.Address))
	if err != nil {
		return params, fmt.Errorf("balance seed %s: invalid Address: %w", params.Asset, err)
	}
	params.Address = addr
	raw := strings.TrimSpace(b.Amount)
	if raw == "" {
		return params, fmt.Errorf("balance seed %s: Amount required", params.Asset)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return params, fmt.Errorf("balance seed %s: invalid Amount: %w", params.Asset, err)
	}
	if amount.IsZero() {
		return params, fmt.Errorf("balance seed %s: Amount must be positive", params.Asset)
	}
	params.Amount = amount
	return params, nil
}

func optionalAddress(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(trimmed)
}

func optionalMantissa(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	return uint256.FromDecimal(trimmed)
}
