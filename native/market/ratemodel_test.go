package market

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestUtilizationEdges(t *testing.T) {
	util, err := utilization(u(100), u(0), u(0))
	if err != nil || !util.IsZero() {
		t.Fatalf("empty borrows: got %s, %v", util, err)
	}

	util, err = utilization(u(50), u(50), u(0))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if want := mantissa(t, "500000000000000000"); !util.Eq(want) {
		t.Fatalf("utilization: got %s want %s", util, want)
	}

	if _, err := utilization(u(10), u(10), u(100)); !errors.Is(err, ErrMathUnderflow) {
		t.Fatalf("reserves above liquidity should underflow, got %v", err)
	}
}

func TestJumpRateModelBelowAndAboveKink(t *testing.T) {
	base := u(1_000)
	multiplier := u(10_000)
	jump := u(100_000)
	kink := mantissa(t, "800000000000000000")
	model := NewJumpRateModel(base, multiplier, jump, kink)

	// 50% utilization: base + 0.5 * multiplier.
	rate, err := model.BorrowRate(u(50), u(50), u(0))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if want := u(6_000); !rate.Eq(want) {
		t.Fatalf("below kink: got %s want %s", rate, want)
	}

	// 100% utilization: base + kink*multiplier + 0.2*jump.
	rate, err = model.BorrowRate(u(0), u(100), u(0))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if want := u(1_000 + 8_000 + 20_000); !rate.Eq(want) {
		t.Fatalf("above kink: got %s want %s", rate, want)
	}
}

func TestSupplyRateNetsOutFees(t *testing.T) {
	model := NewFixedRateModel(u(1_000_000))
	feeRate := mantissa(t, "100000000000000000") // 10% total take

	rate, err := model.SupplyRate(u(50), u(50), u(0), feeRate)
	if err != nil {
		t.Fatalf("supply rate: %v", err)
	}
	// util 0.5 * borrowRate 1e6 * 0.9 = 450000.
	if want := u(450_000); !rate.Eq(want) {
		t.Fatalf("supply rate: got %s want %s", rate, want)
	}

	overFee := new(uint256.Int).Add(scale, u(1))
	if _, err := model.SupplyRate(u(50), u(50), u(0), overFee); !errors.Is(err, ErrMathUnderflow) {
		t.Fatalf("fee above 100%% should underflow, got %v", err)
	}
}

func TestRatePerSecond(t *testing.T) {
	annual := uint256.NewInt(SecondsPerYear * 7)
	if got := RatePerSecond(annual); !got.Eq(u(7)) {
		t.Fatalf("per-second conversion: got %s want 7", got)
	}
	if !RatePerSecond(nil).IsZero() {
		t.Fatalf("nil annual rate should convert to zero")
	}
}

func TestDefaultJumpRateModelShape(t *testing.T) {
	model := DefaultJumpRateModel()
	idle, err := model.BorrowRate(u(100), u(0), u(0))
	if err != nil || !idle.IsZero() {
		t.Fatalf("idle market should pay base rate only: %s, %v", idle, err)
	}
	half, err := model.BorrowRate(u(50), u(50), u(0))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	full, err := model.BorrowRate(u(0), u(100), u(0))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !half.Lt(full) {
		t.Fatalf("rate must grow with utilization: half %s full %s", half, full)
	}
	if full.Gt(maxBorrowRate) {
		t.Fatalf("default curve breaches the accrual ceiling: %s", full)
	}
}
