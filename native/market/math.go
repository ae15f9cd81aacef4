package market

import "github.com/holiman/uint256"

// All mantissa-scaled values use 18 decimals of fixed-point precision.
var (
	scale     = uint256.NewInt(1_000_000_000_000_000_000)
	oneShare  = uint256.NewInt(1)
	zeroValue = uint256.NewInt(0)
)

// maxBorrowRate is the hard per-second ceiling checked during accrual.
// Roughly 1,500% APR; any model output above it is treated as a defect.
var maxBorrowRate = uint256.NewInt(500_000_000_000)

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return sum, nil
}

func subChecked(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrMathUnderflow
	}
	return diff, nil
}

func mulChecked(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return prod, nil
}

func divChecked(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivideByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// mulDiv computes floor(a*b/den) with a full-width intermediate check.
func mulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	prod, err := mulChecked(a, b)
	if err != nil {
		return nil, err
	}
	return divChecked(prod, den)
}

// mulDivCeil computes ceil(a*b/den).
func mulDivCeil(a, b, den *uint256.Int) (*uint256.Int, error) {
	prod, err := mulChecked(a, b)
	if err != nil {
		return nil, err
	}
	if den.IsZero() {
		return nil, ErrDivideByZero
	}
	quot := new(uint256.Int)
	rem := new(uint256.Int)
	quot.DivMod(prod, den, rem)
	if rem.IsZero() {
		return quot, nil
	}
	return addChecked(quot, oneShare)
}

// mulTruncate scales a by an 1e18 mantissa, truncating: floor(a*m/SCALE).
func mulTruncate(a, mantissa *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, mantissa, scale)
}

// mulTruncateAdd is mulTruncate followed by a checked addition.
func mulTruncateAdd(a, mantissa, addend *uint256.Int) (*uint256.Int, error) {
	scaled, err := mulTruncate(a, mantissa)
	if err != nil {
		return nil, err
	}
	return addChecked(scaled, addend)
}

// mulCeil scales a by an 1e18 mantissa, rounding up: ceil(a*m/SCALE).
func mulCeil(a, mantissa *uint256.Int) (*uint256.Int, error) {
	return mulDivCeil(a, mantissa, scale)
}

// divTruncate computes floor(x*SCALE/y), the mantissa of x/y.
func divTruncate(x, y *uint256.Int) (*uint256.Int, error) {
	return mulDiv(x, scale, y)
}

// divCeil computes ceil(x*SCALE/y).
func divCeil(x, y *uint256.Int) (*uint256.Int, error) {
	return mulDivCeil(x, scale, y)
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isPositive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}
