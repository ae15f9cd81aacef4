package market

import "github.com/holiman/uint256"

// SecondsPerYear converts annualized rate mantissas to the per-second
// form consumed by accrual.
const SecondsPerYear = 31_536_000

// RatePerSecond converts an annual 1e18 rate mantissa to per-second.
func RatePerSecond(annual *uint256.Int) *uint256.Int {
	if annual == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(annual, uint256.NewInt(SecondsPerYear))
}

// utilization returns borrows / (cash + borrows − reserves) as a mantissa.
// Zero borrows short-circuit to zero so empty markets never divide by a
// zero denominator.
func utilization(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if !isPositive(borrows) {
		return new(uint256.Int), nil
	}
	liquidity, err := addChecked(cash, borrows)
	if err != nil {
		return nil, err
	}
	denom, err := subChecked(liquidity, reserves)
	if err != nil {
		return nil, err
	}
	return divTruncate(borrows, denom)
}

// JumpRateModel is a kinked curve: a gentle slope up to the kink
// utilization, then a steep jump slope above it. All rates are per-second
// 1e18 mantissas.
type JumpRateModel struct {
	baseRate       *uint256.Int
	multiplier     *uint256.Int
	jumpMultiplier *uint256.Int
	kink           *uint256.Int
}

// NewJumpRateModel builds a model from per-second mantissa parameters.
func NewJumpRateModel(baseRate, multiplier, jumpMultiplier, kink *uint256.Int) *JumpRateModel {
	return &JumpRateModel{
		baseRate:       clone(baseRate),
		multiplier:     clone(multiplier),
		jumpMultiplier: clone(jumpMultiplier),
		kink:           clone(kink),
	}
}

// DefaultJumpRateModel mirrors a conservative stable-asset curve: zero
// base, 10% APR at full utilization below an 80% kink, 10x slope above.
func DefaultJumpRateModel() *JumpRateModel {
	tenPercentAnnual := uint256.NewInt(100_000_000_000_000_000)
	multiplier := RatePerSecond(tenPercentAnnual)
	jump := new(uint256.Int).Mul(multiplier, uint256.NewInt(10))
	return &JumpRateModel{
		baseRate:       new(uint256.Int),
		multiplier:     multiplier,
		jumpMultiplier: jump,
		kink:           uint256.NewInt(800_000_000_000_000_000),
	}
}

func (m *JumpRateModel) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	if util.Cmp(m.kink) <= 0 {
		return mulTruncateAdd(util, m.multiplier, m.baseRate)
	}
	normal, err := mulTruncateAdd(m.kink, m.multiplier, m.baseRate)
	if err != nil {
		return nil, err
	}
	excess, err := subChecked(util, m.kink)
	if err != nil {
		return nil, err
	}
	return mulTruncateAdd(excess, m.jumpMultiplier, normal)
}

func (m *JumpRateModel) SupplyRate(cash, borrows, reserves, totalFeeRate *uint256.Int) (*uint256.Int, error) {
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return supplyRateFromBorrow(borrowRate, cash, borrows, reserves, totalFeeRate)
}

// FixedRateModel charges one constant borrow rate regardless of
// utilization. Used in tests and for bootstrap listings.
type FixedRateModel struct {
	rate *uint256.Int
}

func NewFixedRateModel(rate *uint256.Int) *FixedRateModel {
	return &FixedRateModel{rate: clone(rate)}
}

func (m *FixedRateModel) BorrowRate(_, _, _ *uint256.Int) (*uint256.Int, error) {
	return clone(m.rate), nil
}

func (m *FixedRateModel) SupplyRate(cash, borrows, reserves, totalFeeRate *uint256.Int) (*uint256.Int, error) {
	return supplyRateFromBorrow(clone(m.rate), cash, borrows, reserves, totalFeeRate)
}

// supplyRateFromBorrow derives the supplier-side rate: utilization times
// the borrow rate net of the fee take.
func supplyRateFromBorrow(borrowRate, cash, borrows, reserves, totalFeeRate *uint256.Int) (*uint256.Int, error) {
	oneMinusFees, err := subChecked(scale, totalFeeRate)
	if err != nil {
		return nil, err
	}
	rateToPool, err := mulTruncate(borrowRate, oneMinusFees)
	if err != nil {
		return nil, err
	}
	util, err := utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return mulTruncate(util, rateToPool)
}
