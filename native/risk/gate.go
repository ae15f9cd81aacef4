// Package risk provides the reference policy gate consulted by the market
// ledger around every mutating operation. It enforces asset listing,
// per-flow pause switches, supply and borrow limits, pairwise liquidation
// eligibility against a price source, and the global reentrancy guard for
// cross-market seizure.
package risk

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
)

var (
	errNilLedger       = errors.New("risk gate: ledger view not configured")
	errNilPrices       = errors.New("risk gate: price source not configured")
	errAssetNotListed  = errors.New("risk gate: asset not listed")
	errFlowPaused      = errors.New("risk gate: flow paused")
	errBorrowTooSmall  = errors.New("risk gate: borrow below minimum size")
	errBorrowCap       = errors.New("risk gate: borrow cap exceeded")
	errBorrowerHealthy = errors.New("risk gate: borrower not eligible for liquidation")
	errPriceMissing    = errors.New("risk gate: price unavailable")
	errRateMissing     = errors.New("risk gate: exchange rate unavailable")
	errReentered       = errors.New("risk gate: reentrant entry")
	errMathOverflow    = errors.New("risk gate: math overflow")
)

// PriceSource quotes listed assets in a common unit as 1e18 mantissas.
// A zero or missing price makes the affected flows fail closed.
type PriceSource interface {
	Price(asset string) (*uint256.Int, error)
}

// StaticPrices is a fixed quote table for tests and single-operator
// deployments. Keys are normalized asset symbols.
type StaticPrices map[string]*uint256.Int

func (p StaticPrices) Price(asset string) (*uint256.Int, error) {
	quote, ok := p[market.NormalizeAsset(asset)]
	if !ok || quote == nil || quote.IsZero() {
		return nil, errPriceMissing
	}
	return new(uint256.Int).Set(quote), nil
}

// LedgerView is the read-only slice of the market ledger the gate consults
// when judging liquidations. *market.Ledger satisfies it.
type LedgerView interface {
	ExchangeRateStored(asset string) (*uint256.Int, error)
	BorrowBalanceStored(asset string, borrower crypto.Address) (*uint256.Int, error)
	ShareBalance(asset string, owner crypto.Address) (*uint256.Int, error)
}

// AssetLimits captures the per-asset throttles applied by the gate.
type AssetLimits struct {
	// SupplyCap bounds the market's total underlying holdings. Nil means
	// unlimited.
	SupplyCap *uint256.Int
	// BorrowCap bounds a single borrower's outstanding principal. Nil
	// means unlimited.
	BorrowCap *uint256.Int
	// MinBorrow rejects dust borrows below this amount. Nil or zero
	// disables the floor.
	MinBorrow *uint256.Int
	// CollateralFactor weights this asset's value when it backs debt,
	// expressed as an 1e18 mantissa.
	CollateralFactor *uint256.Int
}

// Clone returns a deep copy of the limits structure.
func (l AssetLimits) Clone() AssetLimits {
	out := AssetLimits{}
	if l.SupplyCap != nil {
		out.SupplyCap = new(uint256.Int).Set(l.SupplyCap)
	}
	if l.BorrowCap != nil {
		out.BorrowCap = new(uint256.Int).Set(l.BorrowCap)
	}
	if l.MinBorrow != nil {
		out.MinBorrow = new(uint256.Int).Set(l.MinBorrow)
	}
	if l.CollateralFactor != nil {
		out.CollateralFactor = new(uint256.Int).Set(l.CollateralFactor)
	}
	return out
}

// FlowPauses exposes fine-grained switches for halting individual flows.
type FlowPauses struct {
	Mint      bool
	Redeem    bool
	Borrow    bool
	Repay     bool
	Liquidate bool
	Seize     bool
	Transfer  bool
}

// Gate is the reference market.RiskEngine. All methods are safe for
// concurrent use; the mutex also backs the global reentrancy flag.
type Gate struct {
	mu        sync.Mutex
	ledger    LedgerView
	prices    PriceSource
	limits    map[string]AssetLimits
	pauses    FlowPauses
	threshold *uint256.Int
	incentive *uint256.Int
	entered   bool
}

var _ market.RiskEngine = (*Gate)(nil)

var mantissaOne = uint256.NewInt(1_000_000_000_000_000_000)

// defaultIncentive is the 8% liquidator bonus applied when no override is
// configured.
var defaultIncentive = uint256.NewInt(1_080_000_000_000_000_000)

// NewGate constructs a gate with no listings, nothing paused, a close
// threshold of 1.0, and the default liquidation incentive.
func NewGate(prices PriceSource) *Gate {
	return &Gate{
		prices:    prices,
		limits:    make(map[string]AssetLimits),
		threshold: new(uint256.Int).Set(mantissaOne),
		incentive: new(uint256.Int).Set(defaultIncentive),
	}
}

// SetLedger wires the market view consulted for liquidation math.
func (g *Gate) SetLedger(view LedgerView) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ledger = view
}

// SetPauses replaces the per-flow pause switches.
func (g *Gate) SetPauses(p FlowPauses) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauses = p
}

// SetCloseThreshold configures the eligibility cut: a borrower becomes
// liquidatable once weighted collateral value times the threshold falls
// below debt value. Nil or zero keeps the current value.
func (g *Gate) SetCloseThreshold(mantissa *uint256.Int) {
	if g == nil || mantissa == nil || mantissa.IsZero() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = new(uint256.Int).Set(mantissa)
}

// SetLiquidationIncentive configures the collateral bonus multiplier used
// by CalculateSeizeShares. Nil or zero keeps the current value.
func (g *Gate) SetLiquidationIncentive(mantissa *uint256.Int) {
	if g == nil || mantissa == nil || mantissa.IsZero() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incentive = new(uint256.Int).Set(mantissa)
}

// ListAsset registers an asset with the gate. Flows against unlisted
// assets are rejected wholesale.
func (g *Gate) ListAsset(asset string, limits AssetLimits) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits[market.NormalizeAsset(asset)] = limits.Clone()
}

// DelistAsset removes an asset, closing every flow against it.
func (g *Gate) DelistAsset(asset string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.limits, market.NormalizeAsset(asset))
}

// IsListed reports whether the gate accepts flows for the asset.
func (g *Gate) IsListed(asset string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.limits[market.NormalizeAsset(asset)]
	return ok
}

func (g *Gate) limitsFor(asset string) (AssetLimits, error) {
	limits, ok := g.limits[market.NormalizeAsset(asset)]
	if !ok {
		return AssetLimits{}, errAssetNotListed
	}
	return limits, nil
}

func (g *Gate) MintAllowed(asset string, minter crypto.Address, amount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(asset); err != nil {
		return err
	}
	if g.pauses.Mint {
		return errFlowPaused
	}
	return nil
}

func (g *Gate) RedeemAllowed(asset string, owner crypto.Address, shares *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(asset); err != nil {
		return err
	}
	if g.pauses.Redeem {
		return errFlowPaused
	}
	return nil
}

func (g *Gate) BorrowAllowed(asset string, borrower crypto.Address, amount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	limits, err := g.limitsFor(asset)
	if err != nil {
		return err
	}
	if g.pauses.Borrow {
		return errFlowPaused
	}
	if limits.MinBorrow != nil && amount != nil && amount.Lt(limits.MinBorrow) {
		return errBorrowTooSmall
	}
	return nil
}

// BorrowWithinLimits bounds the borrower's post-draw principal against the
// asset's borrow cap.
func (g *Gate) BorrowWithinLimits(asset string, newPrincipal *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	limits, err := g.limitsFor(asset)
	if err != nil {
		return err
	}
	if limits.BorrowCap != nil && newPrincipal != nil && newPrincipal.Gt(limits.BorrowCap) {
		return errBorrowCap
	}
	return nil
}

func (g *Gate) RepayAllowed(asset string, payer, borrower crypto.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(asset); err != nil {
		return err
	}
	if g.pauses.Repay {
		return errFlowPaused
	}
	return nil
}

// LiquidateAllowed admits a liquidation only when the borrower's weighted
// collateral value in the named market no longer covers the debt.
func (g *Gate) LiquidateAllowed(debtAsset, collateralAsset string, liquidator, borrower crypto.Address, repayAmount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(debtAsset); err != nil {
		return err
	}
	collateralLimits, err := g.limitsFor(collateralAsset)
	if err != nil {
		return err
	}
	if g.pauses.Liquidate {
		return errFlowPaused
	}
	underwater, err := g.borrowerUnderwater(debtAsset, collateralAsset, borrower, collateralLimits)
	if err != nil {
		return err
	}
	if !underwater {
		return errBorrowerHealthy
	}
	return nil
}

func (g *Gate) SeizeAllowed(collateralAsset, debtAsset string, liquidator, borrower crypto.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(collateralAsset); err != nil {
		return err
	}
	if _, err := g.limitsFor(debtAsset); err != nil {
		return err
	}
	if g.pauses.Seize {
		return errFlowPaused
	}
	return nil
}

func (g *Gate) TransferAllowed(asset string, src crypto.Address, shares *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.limitsFor(asset); err != nil {
		return err
	}
	if g.pauses.Transfer {
		return errFlowPaused
	}
	return nil
}

// CalculateSeizeShares converts a repaid debt amount into collateral
// shares: repay * incentive * priceDebt / (priceCollateral * exchangeRate),
// floored. The 1e18 scales of the two mantissa factors cancel.
func (g *Gate) CalculateSeizeShares(debtAsset, collateralAsset string, actualRepay *uint256.Int) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ledger == nil {
		return nil, errNilLedger
	}
	priceDebt, priceColl, err := g.quotePair(debtAsset, collateralAsset)
	if err != nil {
		return nil, err
	}
	rate, err := g.ledger.ExchangeRateStored(collateralAsset)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.IsZero() {
		return nil, errRateMissing
	}
	numerator, err := mulChecked(actualRepay, g.incentive)
	if err != nil {
		return nil, err
	}
	if numerator, err = mulChecked(numerator, priceDebt); err != nil {
		return nil, err
	}
	denominator, err := mulChecked(priceColl, rate)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(numerator, denominator), nil
}

// SupplyCap reports the asset's total-holdings bound, or nil when
// unlimited or unlisted.
func (g *Gate) SupplyCap(asset string) *uint256.Int {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	limits, ok := g.limits[market.NormalizeAsset(asset)]
	if !ok || limits.SupplyCap == nil {
		return nil
	}
	return new(uint256.Int).Set(limits.SupplyCap)
}

// BeforeNonReentrant engages the global guard shared by every cross-market
// seizure in flight.
func (g *Gate) BeforeNonReentrant() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered {
		return errReentered
	}
	g.entered = true
	return nil
}

// AfterNonReentrant releases the global guard.
func (g *Gate) AfterNonReentrant() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = false
}

func (g *Gate) quotePair(debtAsset, collateralAsset string) (*uint256.Int, *uint256.Int, error) {
	if g.prices == nil {
		return nil, nil, errNilPrices
	}
	priceDebt, err := g.prices.Price(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	priceColl, err := g.prices.Price(collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	if priceDebt == nil || priceDebt.IsZero() || priceColl == nil || priceColl.IsZero() {
		return nil, nil, errPriceMissing
	}
	return priceDebt, priceColl, nil
}

// borrowerUnderwater compares debt value against weighted collateral value
// for one (debt, collateral) market pair. Callers hold g.mu.
func (g *Gate) borrowerUnderwater(debtAsset, collateralAsset string, borrower crypto.Address, collateralLimits AssetLimits) (bool, error) {
	if g.ledger == nil {
		return false, errNilLedger
	}
	priceDebt, priceColl, err := g.quotePair(debtAsset, collateralAsset)
	if err != nil {
		return false, err
	}
	debt, err := g.ledger.BorrowBalanceStored(debtAsset, borrower)
	if err != nil {
		return false, err
	}
	if debt == nil || debt.IsZero() {
		return false, nil
	}
	debtValue, err := mulTruncate(debt, priceDebt)
	if err != nil {
		return false, err
	}
	shares, err := g.ledger.ShareBalance(collateralAsset, borrower)
	if err != nil {
		return false, err
	}
	rate, err := g.ledger.ExchangeRateStored(collateralAsset)
	if err != nil {
		return false, err
	}
	held, err := mulTruncate(shares, rate)
	if err != nil {
		return false, err
	}
	value, err := mulTruncate(held, priceColl)
	if err != nil {
		return false, err
	}
	factor := collateralLimits.CollateralFactor
	if factor == nil {
		factor = mantissaOne
	}
	weighted, err := mulTruncate(value, factor)
	if err != nil {
		return false, err
	}
	covered, err := mulTruncate(weighted, g.threshold)
	if err != nil {
		return false, err
	}
	return covered.Lt(debtValue), nil
}

func mulChecked(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return new(uint256.Int), nil
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, errMathOverflow
	}
	return prod, nil
}

// mulTruncate scales a by an 1e18 mantissa, truncating.
func mulTruncate(a, mantissa *uint256.Int) (*uint256.Int, error) {
	prod, err := mulChecked(a, mantissa)
	if err != nil {
		return nil, err
	}
	return prod.Div(prod, mantissaOne), nil
}
