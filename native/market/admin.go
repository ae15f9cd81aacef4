package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// ListingConfig carries the parameters for a new market listing. Nil
// mantissa fields fall back to safe defaults (1.0 initial exchange rate,
// zero fee takes).
type ListingConfig struct {
	Asset               string
	RateModel           string
	InitialExchangeRate *uint256.Int
	ReserveFactor       *uint256.Int
	ProtocolFeeRate     *uint256.Int
	ProtocolSeizeRate   *uint256.Int
	PlatformSeizeRate   *uint256.Int
}

func (l *Ledger) requireAdmin(caller crypto.Address) error {
	if l.admin.IsZero() || caller != l.admin {
		return ErrUnauthorized
	}
	return nil
}

// ListMarket creates a market for an asset that has never been listed.
// Admin only. The accrual clock starts at the current time so the first
// mutating operation accrues zero interest.
func (l *Ledger) ListMarket(caller crypto.Address, cfg ListingConfig) (*Market, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if err := l.requireAdmin(caller); err != nil {
		return nil, err
	}
	asset := NormalizeAsset(cfg.Asset)
	if asset == "" {
		return nil, errInvalidAsset
	}
	existing, err := l.store.GetMarket(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMarketExists
	}
	if _, ok := l.models[cfg.RateModel]; !ok {
		return nil, errRateModelUnknown
	}
	if err := l.validateFeeRates(asset, cfg.ReserveFactor, cfg.ProtocolFeeRate); err != nil {
		return nil, err
	}
	if err := validateSeizeRates(cfg.ProtocolSeizeRate, cfg.PlatformSeizeRate); err != nil {
		return nil, err
	}

	m := &Market{
		Asset:               asset,
		AccrualTime:         l.now(),
		ReserveFactor:       clone(cfg.ReserveFactor),
		ProtocolFeeRate:     clone(cfg.ProtocolFeeRate),
		InitialExchangeRate: clone(cfg.InitialExchangeRate),
		ProtocolSeizeRate:   clone(cfg.ProtocolSeizeRate),
		PlatformSeizeRate:   clone(cfg.PlatformSeizeRate),
		RateModel:           cfg.RateModel,
	}
	m.ensureDefaults()
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}
	l.emit(newListedEvent(m))
	return m.Clone(), nil
}

// SetRateModel repoints a market at another registered curve. Interest
// accrues under the old curve first so no elapsed time is repriced.
func (l *Ledger) SetRateModel(caller crypto.Address, asset, name string) error {
	if _, ok := l.models[name]; !ok {
		return errRateModelUnknown
	}
	return l.reconfigure(caller, asset, func(m *Market) error {
		m.RateModel = name
		return nil
	})
}

// SetReserveFactor updates the reserve take on future interest.
func (l *Ledger) SetReserveFactor(caller crypto.Address, asset string, mantissa *uint256.Int) error {
	return l.reconfigure(caller, asset, func(m *Market) error {
		if err := l.validateFeeRates(m.Asset, mantissa, m.ProtocolFeeRate); err != nil {
			return err
		}
		m.ReserveFactor = clone(mantissa)
		return nil
	})
}

// SetProtocolFeeRate updates the protocol-operator take on future
// interest.
func (l *Ledger) SetProtocolFeeRate(caller crypto.Address, asset string, mantissa *uint256.Int) error {
	return l.reconfigure(caller, asset, func(m *Market) error {
		if err := l.validateFeeRates(m.Asset, m.ReserveFactor, mantissa); err != nil {
			return err
		}
		m.ProtocolFeeRate = clone(mantissa)
		return nil
	})
}

// SetSeizeRates updates the non-liquidator cuts of seized collateral.
func (l *Ledger) SetSeizeRates(caller crypto.Address, asset string, protocol, platform *uint256.Int) error {
	return l.reconfigure(caller, asset, func(m *Market) error {
		if err := validateSeizeRates(protocol, platform); err != nil {
			return err
		}
		m.ProtocolSeizeRate = clone(protocol)
		m.PlatformSeizeRate = clone(platform)
		return nil
	})
}

// reconfigure is the shared admin mutation path: authorize, lock, accrue
// under the outgoing parameters, apply, persist.
func (l *Ledger) reconfigure(caller crypto.Address, asset string, apply func(*Market) error) error {
	if err := l.guard(); err != nil {
		return err
	}
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return err
	}
	release, err := l.enter(m.Asset)
	if err != nil {
		return err
	}
	defer release()
	if _, err := l.accrueInterest(m); err != nil {
		return err
	}
	if err := apply(m); err != nil {
		return err
	}
	if err := l.store.PutMarket(m); err != nil {
		return err
	}
	l.emit(newParamsEvent(m))
	return nil
}

// ReduceReserves pays accumulated reserves out to a treasury address.
func (l *Ledger) ReduceReserves(caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
	return l.withdrawBucket(caller, asset, to, amount, bucketReserves)
}

// WithdrawProtocolFees pays the protocol-operator fee bucket out.
func (l *Ledger) WithdrawProtocolFees(caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
	return l.withdrawBucket(caller, asset, to, amount, bucketProtocolFees)
}

// WithdrawPlatformFees pays the platform fee bucket out.
func (l *Ledger) WithdrawPlatformFees(caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
	return l.withdrawBucket(caller, asset, to, amount, bucketPlatformFees)
}

type feeBucket uint8

const (
	bucketReserves feeBucket = iota + 1
	bucketProtocolFees
	bucketPlatformFees
)

func (b feeBucket) String() string {
	switch b {
	case bucketReserves:
		return "reserves"
	case bucketProtocolFees:
		return "protocol_fees"
	case bucketPlatformFees:
		return "platform_fees"
	default:
		return "unknown"
	}
}

func (l *Ledger) withdrawBucket(caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int, bucket feeBucket) error {
	if err := l.guard(); err != nil {
		return err
	}
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	if !isPositive(amount) {
		return errInvalidAmount
	}
	if to.IsZero() {
		return errZeroAddress
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return err
	}
	release, err := l.enter(m.Asset)
	if err != nil {
		return err
	}
	defer release()
	if _, err := l.accrueInterest(m); err != nil {
		return err
	}
	if err := l.verifyFresh(m); err != nil {
		return err
	}

	var balance **uint256.Int
	switch bucket {
	case bucketReserves:
		balance = &m.TotalReserves
	case bucketProtocolFees:
		balance = &m.TotalProtocolFees
	case bucketPlatformFees:
		balance = &m.TotalPlatformFees
	default:
		return errInvalidAmount
	}
	if (*balance).Lt(amount) {
		return errInsufficientBucket
	}
	cash, err := l.cash(m)
	if err != nil {
		return err
	}
	if cash.Lt(amount) {
		return ErrInsufficientCash
	}
	if *balance, err = subChecked(*balance, amount); err != nil {
		return err
	}
	if err := l.store.PutMarket(m); err != nil {
		return err
	}
	if err := l.doTransferOut(m, to, amount); err != nil {
		return err
	}
	l.emit(newBucketWithdrawnEvent(m.Asset, bucket, to, amount))
	return nil
}

// validateFeeRates enforces the combined cap over the reserve factor,
// protocol fee rate, and the registry's current platform rate.
func (l *Ledger) validateFeeRates(asset string, reserveFactor, protocolFeeRate *uint256.Int) error {
	platformRate, err := l.platformRate(asset)
	if err != nil {
		return err
	}
	combined, err := addChecked(clone(reserveFactor), clone(protocolFeeRate))
	if err != nil {
		return err
	}
	if combined, err = addChecked(combined, platformRate); err != nil {
		return err
	}
	if combined.Gt(maxCombinedFeeRate) {
		return errFeeRateCap
	}
	return nil
}

func validateSeizeRates(protocol, platform *uint256.Int) error {
	combined, err := addChecked(clone(protocol), clone(platform))
	if err != nil {
		return err
	}
	if combined.Gt(scale) {
		return errSeizeRateCap
	}
	return nil
}
