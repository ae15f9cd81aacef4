package market

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// SeedConfig describes one market listing parsed from operator
// configuration. Mantissa fields are decimal 1e18 strings; empty strings
// fall back to the ledger defaults. The cap, floor, and price fields feed
// the risk gate and oracle rather than the market record itself.
type SeedConfig struct {
	Asset               string          `toml:"Asset"`
	RateModel           RateModelConfig `toml:"RateModel"`
	InitialExchangeRate string          `toml:"InitialExchangeRate"`
	ReserveFactor       string          `toml:"ReserveFactor"`
	ProtocolFeeRate     string          `toml:"ProtocolFeeRate"`
	ProtocolSeizeRate   string          `toml:"ProtocolSeizeRate"`
	PlatformSeizeRate   string          `toml:"PlatformSeizeRate"`
	SupplyCap           string          `toml:"SupplyCap"`
	BorrowCap           string          `toml:"BorrowCap"`
	MinBorrow           string          `toml:"MinBorrow"`
	CollateralFactor    string          `toml:"CollateralFactor"`
	Price               string          `toml:"Price"`
}

// RateModelConfig selects and parameterizes the interest curve for a
// seeded market. Rate fields carry annual 1e18 mantissas and are divided
// down to per-second form; Kink is a utilization mantissa. An empty Kind
// picks the default jump curve.
type RateModelConfig struct {
	Kind                 string `toml:"Kind"`
	RateAnnual           string `toml:"RateAnnual"`
	BaseRateAnnual       string `toml:"BaseRateAnnual"`
	MultiplierAnnual     string `toml:"MultiplierAnnual"`
	JumpMultiplierAnnual string `toml:"JumpMultiplierAnnual"`
	Kink                 string `toml:"Kink"`
}

// SeedParameters is the runtime-ready interpretation of a SeedConfig.
// Listing feeds ListMarket after Model is registered under
// Listing.RateModel. Nil cap fields mean unlimited; a nil Price leaves
// the asset unquoted.
type SeedParameters struct {
	Listing          ListingConfig
	Model            RateModel
	SupplyCap        *uint256.Int
	BorrowCap        *uint256.Int
	MinBorrow        *uint256.Int
	CollateralFactor *uint256.Int
	Price            *uint256.Int
}

// Normalise trims whitespace from every textual field.
func (sc SeedConfig) Normalise() SeedConfig {
	return SeedConfig{
		Asset:               strings.TrimSpace(sc.Asset),
		RateModel:           sc.RateModel.Normalise(),
		InitialExchangeRate: strings.TrimSpace(sc.InitialExchangeRate),
		ReserveFactor:       strings.TrimSpace(sc.ReserveFactor),
		ProtocolFeeRate:     strings.TrimSpace(sc.ProtocolFeeRate),
		ProtocolSeizeRate:   strings.TrimSpace(sc.ProtocolSeizeRate),
		PlatformSeizeRate:   strings.TrimSpace(sc.PlatformSeizeRate),
		SupplyCap:           strings.TrimSpace(sc.SupplyCap),
		BorrowCap:           strings.TrimSpace(sc.BorrowCap),
		MinBorrow:           strings.TrimSpace(sc.MinBorrow),
		CollateralFactor:    strings.TrimSpace(sc.CollateralFactor),
		Price:               strings.TrimSpace(sc.Price),
	}
}

// Normalise trims whitespace and lowercases the curve kind.
func (rc RateModelConfig) Normalise() RateModelConfig {
	return RateModelConfig{
		Kind:                 strings.ToLower(strings.TrimSpace(rc.Kind)),
		RateAnnual:           strings.TrimSpace(rc.RateAnnual),
		BaseRateAnnual:       strings.TrimSpace(rc.BaseRateAnnual),
		MultiplierAnnual:     strings.TrimSpace(rc.MultiplierAnnual),
		JumpMultiplierAnnual: strings.TrimSpace(rc.JumpMultiplierAnnual),
		Kink:                 strings.TrimSpace(rc.Kink),
	}
}

// Parameters converts the textual seed into runtime values. The rate
// model is returned constructed, with Listing.RateModel set to the
// registry name it should be registered under.
func (sc SeedConfig) Parameters() (SeedParameters, error) {
	normalized := sc.Normalise()
	params := SeedParameters{}
	asset := NormalizeAsset(normalized.Asset)
	if asset == "" {
		return params, fmt.Errorf("market seed: Asset required")
	}
	params.Listing.Asset = asset

	var err error
	if params.Listing.InitialExchangeRate, err = optionalMantissa(normalized.InitialExchangeRate); err != nil {
		return params, fmt.Errorf("market seed %s: invalid InitialExchangeRate: %w", asset, err)
	}
	if params.Listing.ReserveFactor, err = optionalMantissa(normalized.ReserveFactor); err != nil {
		return params, fmt.Errorf("market seed %s: invalid ReserveFactor: %w", asset, err)
	}
	if params.Listing.ProtocolFeeRate, err = optionalMantissa(normalized.ProtocolFeeRate); err != nil {
		return params, fmt.Errorf("market seed %s: invalid ProtocolFeeRate: %w", asset, err)
	}
	if params.Listing.ProtocolSeizeRate, err = optionalMantissa(normalized.ProtocolSeizeRate); err != nil {
		return params, fmt.Errorf("market seed %s: invalid ProtocolSeizeRate: %w", asset, err)
	}
	if params.Listing.PlatformSeizeRate, err = optionalMantissa(normalized.PlatformSeizeRate); err != nil {
		return params, fmt.Errorf("market seed %s: invalid PlatformSeizeRate: %w", asset, err)
	}

	model, kind, err := normalized.RateModel.Model()
	if err != nil {
		return params, fmt.Errorf("market seed %s: %w", asset, err)
	}
	params.Model = model
	params.Listing.RateModel = kind + "/" + asset

	if params.SupplyCap, err = optionalMantissa(normalized.SupplyCap); err != nil {
		return params, fmt.Errorf("market seed %s: invalid SupplyCap: %w", asset, err)
	}
	if params.BorrowCap, err = optionalMantissa(normalized.BorrowCap); err != nil {
		return params, fmt.Errorf("market seed %s: invalid BorrowCap: %w", asset, err)
	}
	if params.MinBorrow, err = optionalMantissa(normalized.MinBorrow); err != nil {
		return params, fmt.Errorf("market seed %s: invalid MinBorrow: %w", asset, err)
	}
	if params.CollateralFactor, err = optionalMantissa(normalized.CollateralFactor); err != nil {
		return params, fmt.Errorf("market seed %s: invalid CollateralFactor: %w", asset, err)
	}
	if params.Price, err = optionalMantissa(normalized.Price); err != nil {
		return params, fmt.Errorf("market seed %s: invalid Price: %w", asset, err)
	}
	return params, nil
}

// Model builds the configured curve and reports the kind tag used to
// derive its registry name.
func (rc RateModelConfig) Model() (RateModel, string, error) {
	switch rc.Kind {
	case "":
		return DefaultJumpRateModel(), "jump", nil
	case "fixed":
		annual, err := optionalMantissa(rc.RateAnnual)
		if err != nil {
			return nil, "", fmt.Errorf("invalid RateModel.RateAnnual: %w", err)
		}
		return NewFixedRateModel(RatePerSecond(annual)), "fixed", nil
	case "jump":
		base, err := optionalMantissa(rc.BaseRateAnnual)
		if err != nil {
			return nil, "", fmt.Errorf("invalid RateModel.BaseRateAnnual: %w", err)
		}
		multiplier, err := optionalMantissa(rc.MultiplierAnnual)
		if err != nil {
			return nil, "", fmt.Errorf("invalid RateModel.MultiplierAnnual: %w", err)
		}
		jump, err := optionalMantissa(rc.JumpMultiplierAnnual)
		if err != nil {
			return nil, "", fmt.Errorf("invalid RateModel.JumpMultiplierAnnual: %w", err)
		}
		kink, err := optionalMantissa(rc.Kink)
		if err != nil {
			return nil, "", fmt.Errorf("invalid RateModel.Kink: %w", err)
		}
		if kink == nil {
			kink = uint256.NewInt(800_000_000_000_000_000)
		}
		return NewJumpRateModel(RatePerSecond(base), RatePerSecond(multiplier), RatePerSecond(jump), kink), "jump", nil
	default:
		return nil, "", fmt.Errorf("unknown RateModel.Kind %q", rc.Kind)
	}
}

func optionalMantissa(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, nil
	}
	return uint256.FromDecimal(raw)
}
