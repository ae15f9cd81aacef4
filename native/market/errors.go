package market

import (
	"errors"

	nativecommon "alcove/native/common"
)

// Invariant-class failures. These indicate arithmetic or bookkeeping that
// should be unreachable with consistent state; the hosting transition must
// abort and discard all writes.
var (
	ErrMathOverflow   = errors.New("market ledger: arithmetic overflow")
	ErrMathUnderflow  = errors.New("market ledger: arithmetic underflow")
	ErrDivideByZero   = errors.New("market ledger: division by zero")
	ErrBorrowRateHigh = errors.New("market ledger: borrow rate above hard ceiling")
	ErrSchemaUnknown  = errors.New("market ledger: unknown state schema version")
	ErrStateBroken    = errors.New("market ledger: persisted state failed a consistency check")
)

// Policy-class rejections. Callers may branch on these and continue; state
// is untouched when one is returned.
var (
	ErrMarketNotListed       = errors.New("market ledger: market not listed")
	ErrMarketExists          = errors.New("market ledger: market already listed")
	ErrMarketNotFresh        = errors.New("market ledger: accrual is stale for this operation")
	ErrReentered             = errors.New("market ledger: reentrant call rejected")
	ErrInsufficientCash      = errors.New("market ledger: insufficient cash in market")
	ErrInsufficientShares    = errors.New("market ledger: insufficient share balance")
	ErrInsufficientAllowance = errors.New("market ledger: insufficient allowance")
	ErrSeizeTooMuch          = errors.New("market ledger: seize exceeds borrower collateral")
	ErrPolicyRejected        = errors.New("market ledger: rejected by risk policy")
	ErrUnauthorized          = errors.New("market ledger: caller lacks required capability")
)

// Transfer-mechanism failures wrap the underlying bank or vault error so
// operators can tell a custody fault from a ledger defect.
var (
	ErrTransferIn  = errors.New("market ledger: transfer in failed")
	ErrTransferOut = errors.New("market ledger: transfer out failed")
)

var (
	errNilState            = errors.New("market ledger: state not configured")
	errNilBank             = errors.New("market ledger: bank ledger not configured")
	errInvalidAmount       = errors.New("market ledger: amount must be positive")
	errInvalidAsset        = errors.New("market ledger: asset symbol must not be empty")
	errZeroAddress         = errors.New("market ledger: address must not be zero")
	errRedeemArguments     = errors.New("market ledger: exactly one of shares or amount must be set")
	errSelfLiquidation     = errors.New("market ledger: borrower cannot liquidate themselves")
	errLiquidateRepayFull  = errors.New("market ledger: liquidation requires an explicit repay amount")
	errRateModelUnknown    = errors.New("market ledger: rate model not registered")
	errVaultUnknown        = errors.New("market ledger: vault not registered")
	errFeeRateCap          = errors.New("market ledger: combined fee rates exceed cap")
	errNoBorrowOutstanding = errors.New("market ledger: no outstanding borrow to repay")
	errRepayExceedsDebt    = errors.New("market ledger: repay exceeds outstanding balance")
	errNilRisk             = errors.New("market ledger: risk engine required for this operation")
	errSeizeRateCap        = errors.New("market ledger: combined seize rates exceed 100%")
	errInsufficientBucket  = errors.New("market ledger: withdrawal exceeds accumulated bucket")
)

var invariantErrors = []error{
	ErrMathOverflow,
	ErrMathUnderflow,
	ErrDivideByZero,
	ErrBorrowRateHigh,
	ErrSchemaUnknown,
	ErrStateBroken,
}

var policyErrors = []error{
	ErrMarketNotListed,
	ErrMarketExists,
	ErrMarketNotFresh,
	ErrReentered,
	ErrInsufficientCash,
	ErrInsufficientShares,
	ErrInsufficientAllowance,
	ErrSeizeTooMuch,
	ErrPolicyRejected,
	ErrUnauthorized,
	nativecommon.ErrModulePaused,
	errInvalidAmount,
	errInvalidAsset,
	errZeroAddress,
	errRedeemArguments,
	errSelfLiquidation,
	errLiquidateRepayFull,
	errNoBorrowOutstanding,
	errRepayExceedsDebt,
	errFeeRateCap,
	errSeizeRateCap,
	errInsufficientBucket,
}

// IsInvariantViolation reports whether err belongs to the abort-everything
// class: arithmetic faults, accrual ceiling breaches, and corrupted state.
func IsInvariantViolation(err error) bool {
	for _, target := range invariantErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsPolicyRejection reports whether err is a structured rejection the
// caller can branch on without treating the ledger as faulty.
func IsPolicyRejection(err error) bool {
	for _, target := range policyErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransferFailure reports whether err came from the asset-transfer
// collaborator rather than ledger bookkeeping.
func IsTransferFailure(err error) bool {
	return errors.Is(err, ErrTransferIn) || errors.Is(err, ErrTransferOut)
}

// policyReject tags a risk-engine rejection so it classifies as policy
// while keeping the collaborator's original error reachable via errors.Is.
func policyReject(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPolicyRejected, err)
}
