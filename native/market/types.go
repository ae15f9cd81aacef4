package market

import (
	"strings"

	"github.com/holiman/uint256"

	"alcove/crypto"
)

const moduleName = "market"

// maxCombinedFeeRate caps reserveFactor + protocolFeeRate + platformFeeRate.
var maxCombinedFeeRate = clone(scale)

// NormalizeAsset canonicalizes an asset symbol. Markets are keyed by the
// normalized form.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Market is the per-asset ledger record. All mantissa fields are 1e18
// fixed-point. BorrowIndex starts at 1.0 and only grows.
type Market struct {
	Asset               string
	TotalShares         *uint256.Int
	TotalBorrows        *uint256.Int
	TotalReserves       *uint256.Int
	TotalProtocolFees   *uint256.Int
	TotalPlatformFees   *uint256.Int
	BorrowIndex         *uint256.Int
	AccrualTime         uint64
	ReserveFactor       *uint256.Int
	ProtocolFeeRate     *uint256.Int
	InitialExchangeRate *uint256.Int
	ProtocolSeizeRate   *uint256.Int
	PlatformSeizeRate   *uint256.Int
	RateModel           string
	Vault               string
}

// ensureDefaults nil-fills mantissa fields so decoded records are safe to
// use without per-site nil checks.
func (m *Market) ensureDefaults() {
	if m == nil {
		return
	}
	if m.TotalShares == nil {
		m.TotalShares = new(uint256.Int)
	}
	if m.TotalBorrows == nil {
		m.TotalBorrows = new(uint256.Int)
	}
	if m.TotalReserves == nil {
		m.TotalReserves = new(uint256.Int)
	}
	if m.TotalProtocolFees == nil {
		m.TotalProtocolFees = new(uint256.Int)
	}
	if m.TotalPlatformFees == nil {
		m.TotalPlatformFees = new(uint256.Int)
	}
	if m.BorrowIndex == nil || m.BorrowIndex.IsZero() {
		m.BorrowIndex = clone(scale)
	}
	if m.ReserveFactor == nil {
		m.ReserveFactor = new(uint256.Int)
	}
	if m.ProtocolFeeRate == nil {
		m.ProtocolFeeRate = new(uint256.Int)
	}
	if m.InitialExchangeRate == nil || m.InitialExchangeRate.IsZero() {
		m.InitialExchangeRate = clone(scale)
	}
	if m.ProtocolSeizeRate == nil {
		m.ProtocolSeizeRate = new(uint256.Int)
	}
	if m.PlatformSeizeRate == nil {
		m.PlatformSeizeRate = new(uint256.Int)
	}
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	out := &Market{
		Asset:               m.Asset,
		TotalShares:         clone(m.TotalShares),
		TotalBorrows:        clone(m.TotalBorrows),
		TotalReserves:       clone(m.TotalReserves),
		TotalProtocolFees:   clone(m.TotalProtocolFees),
		TotalPlatformFees:   clone(m.TotalPlatformFees),
		BorrowIndex:         clone(m.BorrowIndex),
		AccrualTime:         m.AccrualTime,
		ReserveFactor:       clone(m.ReserveFactor),
		ProtocolFeeRate:     clone(m.ProtocolFeeRate),
		InitialExchangeRate: clone(m.InitialExchangeRate),
		ProtocolSeizeRate:   clone(m.ProtocolSeizeRate),
		PlatformSeizeRate:   clone(m.PlatformSeizeRate),
		RateModel:           m.RateModel,
		Vault:               m.Vault,
	}
	out.ensureDefaults()
	return out
}

// Position is one holder's stake in one market. BorrowIndex is the market
// index observed when BorrowPrincipal was last written; the pair forms the
// borrow snapshot used to derive the live owed amount.
type Position struct {
	Shares          *uint256.Int
	BorrowPrincipal *uint256.Int
	BorrowIndex     *uint256.Int
}

func (p *Position) ensureDefaults() {
	if p == nil {
		return
	}
	if p.Shares == nil {
		p.Shares = new(uint256.Int)
	}
	if p.BorrowPrincipal == nil {
		p.BorrowPrincipal = new(uint256.Int)
	}
	if p.BorrowIndex == nil {
		p.BorrowIndex = new(uint256.Int)
	}
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := &Position{
		Shares:          clone(p.Shares),
		BorrowPrincipal: clone(p.BorrowPrincipal),
		BorrowIndex:     clone(p.BorrowIndex),
	}
	return out
}

// AllowanceKind separates the redeem/transfer allowance namespace from the
// borrow-on-behalf namespace. The two never substitute for each other.
type AllowanceKind uint8

const (
	AllowanceShares AllowanceKind = iota + 1
	AllowanceBorrow
)

func (k AllowanceKind) String() string {
	switch k {
	case AllowanceShares:
		return "shares"
	case AllowanceBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// Allowance is an explicit two-variant grant: Unlimited, which is never
// decremented, or Bounded with a finite remaining amount. A magic maximum
// integer is deliberately not used.
type Allowance struct {
	unlimited bool
	amount    *uint256.Int
}

// UnlimitedAllowance grants without bound.
func UnlimitedAllowance() Allowance {
	return Allowance{unlimited: true}
}

// BoundedAllowance grants up to amount. A nil amount is an empty grant.
func BoundedAllowance(amount *uint256.Int) Allowance {
	return Allowance{amount: clone(amount)}
}

// IsUnlimited reports whether the grant is the unlimited variant.
func (a Allowance) IsUnlimited() bool { return a.unlimited }

// Amount returns the bounded remainder; zero for the unlimited variant.
func (a Allowance) Amount() *uint256.Int {
	if a.unlimited {
		return new(uint256.Int)
	}
	return clone(a.amount)
}

// IsZero reports an exhausted bounded grant.
func (a Allowance) IsZero() bool {
	return !a.unlimited && !isPositive(a.amount)
}

// debit consumes need from the grant. Unlimited grants are returned
// untouched; bounded grants shrink or fail ErrInsufficientAllowance.
func (a Allowance) debit(need *uint256.Int) (Allowance, error) {
	if a.unlimited {
		return a, nil
	}
	if a.amount == nil || a.amount.Lt(need) {
		return a, ErrInsufficientAllowance
	}
	remaining := new(uint256.Int).Sub(a.amount, need)
	return Allowance{amount: remaining}, nil
}

// RepayAmount is either an exact amount or the repay-everything sentinel.
type RepayAmount struct {
	full   bool
	amount *uint256.Int
}

// RepayExact repays precisely amount.
func RepayExact(amount *uint256.Int) RepayAmount {
	return RepayAmount{amount: clone(amount)}
}

// RepayFull repays the borrower's entire live balance.
func RepayFull() RepayAmount {
	return RepayAmount{full: true}
}

// IsFull reports the sentinel variant.
func (r RepayAmount) IsFull() bool { return r.full }

// Value returns the exact amount; zero for the sentinel.
func (r RepayAmount) Value() *uint256.Int {
	if r.full {
		return new(uint256.Int)
	}
	return clone(r.amount)
}

// MintResult reports a completed deposit.
type MintResult struct {
	Asset    string
	Received *uint256.Int
	Shares   *uint256.Int
}

// RedeemResult reports a completed withdrawal.
type RedeemResult struct {
	Asset   string
	Shares  *uint256.Int
	PaidOut *uint256.Int
}

// BorrowResult reports a completed draw-down.
type BorrowResult struct {
	Asset        string
	Borrowed     *uint256.Int
	NewPrincipal *uint256.Int
}

// RepayResult reports a completed repayment.
type RepayResult struct {
	Asset        string
	Repaid       *uint256.Int
	NewPrincipal *uint256.Int
}

// SeizeResult reports the collateral-side outcome of a liquidation.
type SeizeResult struct {
	Asset            string
	SeizedShares     *uint256.Int
	LiquidatorShares *uint256.Int
	ProtocolShares   *uint256.Int
	PlatformShares   *uint256.Int
	ProtocolAmount   *uint256.Int
	PlatformAmount   *uint256.Int
}

// LiquidateResult reports a full liquidation across debt and collateral
// markets.
type LiquidateResult struct {
	DebtAsset       string
	CollateralAsset string
	Repaid          *uint256.Int
	Seize           *SeizeResult
}

// Store is the persistence boundary for market and position records.
// GetMarket returns (nil, nil) when the asset has never been listed;
// GetPosition and GetAllowance return zero-valued records when absent.
type Store interface {
	GetMarket(asset string) (*Market, error)
	PutMarket(m *Market) error
	MarketAssets() ([]string, error)
	GetPosition(asset string, owner crypto.Address) (*Position, error)
	PutPosition(asset string, owner crypto.Address, pos *Position) error
	GetAllowance(asset string, kind AllowanceKind, owner, spender crypto.Address) (Allowance, error)
	PutAllowance(asset string, kind AllowanceKind, owner, spender crypto.Address, grant Allowance) error
}

// Bank moves underlying asset balances between accounts. Transfer returns
// the amount actually credited to the destination, which may be less than
// requested when the asset charges transfer fees.
type Bank interface {
	Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (*uint256.Int, error)
	Balance(asset string, addr crypto.Address) (*uint256.Int, error)
}

// RateModel is the pure interest-rate curve consumed at accrual. Rates are
// per-second 1e18 mantissas.
type RateModel interface {
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	SupplyRate(cash, borrows, reserves, totalFeeRate *uint256.Int) (*uint256.Int, error)
}

// FeeRegistry supplies the platform-wide fee rate read lazily at accrual.
// It is injected so tests can vary it deterministically.
type FeeRegistry interface {
	PlatformFeeRate(asset string) (*uint256.Int, error)
}

// StaticFeeRegistry returns one rate for every asset.
type StaticFeeRegistry struct {
	Rate *uint256.Int
}

func (r StaticFeeRegistry) PlatformFeeRate(string) (*uint256.Int, error) {
	return clone(r.Rate), nil
}

// RiskEngine is the external policy gate consulted around every mutating
// operation. Rejections surface as policy-class errors; the engine also
// owns the global reentrancy guard used for cross-market seizure.
type RiskEngine interface {
	MintAllowed(asset string, minter crypto.Address, amount *uint256.Int) error
	RedeemAllowed(asset string, owner crypto.Address, shares *uint256.Int) error
	BorrowAllowed(asset string, borrower crypto.Address, amount *uint256.Int) error
	BorrowWithinLimits(asset string, newPrincipal *uint256.Int) error
	RepayAllowed(asset string, payer, borrower crypto.Address) error
	LiquidateAllowed(debtAsset, collateralAsset string, liquidator, borrower crypto.Address, repayAmount *uint256.Int) error
	SeizeAllowed(collateralAsset, debtAsset string, liquidator, borrower crypto.Address) error
	TransferAllowed(asset string, src crypto.Address, shares *uint256.Int) error
	CalculateSeizeShares(debtAsset, collateralAsset string, actualRepay *uint256.Int) (*uint256.Int, error)
	SupplyCap(asset string) *uint256.Int
	BeforeNonReentrant() error
	AfterNonReentrant()
}

// YieldVault redirects idle market cash into an external yield source.
// Implementations custody the funds they receive; amounts are in the
// underlying asset.
type YieldVault interface {
	Deposit(asset string, amount *uint256.Int) error
	Withdraw(asset string, amount *uint256.Int) error
	RedeemAll(asset string) (*uint256.Int, error)
	BalanceOfUnderlying(asset string) (*uint256.Int, error)
}
