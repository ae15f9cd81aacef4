package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// Liquidate lets a third party repay part of a delinquent borrower's debt
// and seize proportionally valued collateral shares. The repay leg runs
// against the debt market; the seizure runs against the collateral
// market, which may be the same market or a different one. Cross-market
// liquidations hold both market guards plus the risk engine's global
// guard for the whole sequence.
func (l *Ledger) Liquidate(debtAsset, collateralAsset string, liquidator, borrower crypto.Address, repay RepayAmount) (*LiquidateResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if liquidator.IsZero() || borrower.IsZero() {
		return nil, errZeroAddress
	}
	if liquidator == borrower {
		return nil, errSelfLiquidation
	}
	if repay.IsFull() {
		return nil, errLiquidateRepayFull
	}
	if !isPositive(repay.Value()) {
		return nil, errInvalidAmount
	}

	debtMarket, err := l.getMarket(debtAsset)
	if err != nil {
		return nil, err
	}
	collateralMarket, err := l.getMarket(collateralAsset)
	if err != nil {
		return nil, err
	}
	sameMarket := debtMarket.Asset == collateralMarket.Asset
	if sameMarket {
		collateralMarket = debtMarket
	}

	var release func()
	if sameMarket {
		release, err = l.enter(debtMarket.Asset)
	} else {
		release, err = l.enterCross(debtMarket.Asset, collateralMarket.Asset)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.accrueInterest(debtMarket); err != nil {
		return nil, err
	}
	if !sameMarket {
		if _, err := l.accrueInterest(collateralMarket); err != nil {
			return nil, err
		}
	}
	if l.risk != nil {
		if err := l.risk.LiquidateAllowed(debtMarket.Asset, collateralMarket.Asset, liquidator, borrower, repay.Value()); err != nil {
			return nil, policyReject(err)
		}
	}

	repayResult, err := l.repayFresh(debtMarket, liquidator, borrower, repay)
	if err != nil {
		return nil, err
	}

	if l.risk == nil {
		return nil, errNilRisk
	}
	seizeShares, err := l.risk.CalculateSeizeShares(debtMarket.Asset, collateralMarket.Asset, repayResult.Repaid)
	if err != nil {
		return nil, policyReject(err)
	}
	borrowerCollateral, err := l.getPosition(collateralMarket.Asset, borrower)
	if err != nil {
		return nil, err
	}
	if borrowerCollateral.Shares.Lt(seizeShares) {
		return nil, ErrSeizeTooMuch
	}

	seizeResult, err := l.seizeFresh(collateralMarket, debtMarket.Asset, liquidator, borrower, seizeShares)
	if err != nil {
		return nil, err
	}

	result := &LiquidateResult{
		DebtAsset:       debtMarket.Asset,
		CollateralAsset: collateralMarket.Asset,
		Repaid:          repayResult.Repaid,
		Seize:           seizeResult,
	}
	l.emit(newLiquidateEvent(liquidator, borrower, result))
	return result, nil
}

// Seize is the collateral-side boundary operation. The internal
// liquidation path calls seizeFresh directly; this entry point exists for
// an external debt holder and therefore always engages the global guard
// alongside the collateral market's own.
func (l *Ledger) Seize(collateralAsset, debtAsset string, liquidator, borrower crypto.Address, seizeShares *uint256.Int) (*SeizeResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if liquidator.IsZero() || borrower.IsZero() {
		return nil, errZeroAddress
	}
	if liquidator == borrower {
		return nil, errSelfLiquidation
	}
	if !isPositive(seizeShares) {
		return nil, errInvalidAmount
	}
	m, err := l.getMarket(collateralAsset)
	if err != nil {
		return nil, err
	}
	release, err := l.enter(m.Asset)
	if err != nil {
		return nil, err
	}
	defer release()
	if l.risk != nil {
		if err := l.risk.BeforeNonReentrant(); err != nil {
			return nil, policyReject(err)
		}
		defer l.risk.AfterNonReentrant()
	}
	if _, err := l.accrueInterest(m); err != nil {
		return nil, err
	}
	result, err := l.seizeFresh(m, NormalizeAsset(debtAsset), liquidator, borrower, seizeShares)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// seizeFresh splits seizeShares between the liquidator and the two fee
// recipients. The borrower loses the full share count; the protocol and
// platform cuts leave circulation entirely, their asset value at today's
// exchange rate folding into the reserve and platform-fee accumulators.
// Assumes the caller holds the market guard and has accrued m.
func (l *Ledger) seizeFresh(m *Market, debtAsset string, liquidator, borrower crypto.Address, seizeShares *uint256.Int) (*SeizeResult, error) {
	if l.risk != nil {
		if err := l.risk.SeizeAllowed(m.Asset, debtAsset, liquidator, borrower); err != nil {
			return nil, policyReject(err)
		}
	}
	if err := l.verifyFresh(m); err != nil {
		return nil, err
	}

	borrowerPos, err := l.getPosition(m.Asset, borrower)
	if err != nil {
		return nil, err
	}
	if borrowerPos.Shares.Lt(seizeShares) {
		return nil, ErrSeizeTooMuch
	}

	protocolShares, err := mulTruncate(seizeShares, m.ProtocolSeizeRate)
	if err != nil {
		return nil, err
	}
	platformShares, err := mulTruncate(seizeShares, m.PlatformSeizeRate)
	if err != nil {
		return nil, err
	}
	liquidatorShares, err := subChecked(seizeShares, protocolShares)
	if err != nil {
		return nil, err
	}
	if liquidatorShares, err = subChecked(liquidatorShares, platformShares); err != nil {
		return nil, err
	}

	rate, err := l.exchangeRateStored(m)
	if err != nil {
		return nil, err
	}
	protocolAmount, err := mulTruncate(protocolShares, rate)
	if err != nil {
		return nil, err
	}
	platformAmount, err := mulTruncate(platformShares, rate)
	if err != nil {
		return nil, err
	}

	if borrowerPos.Shares, err = subChecked(borrowerPos.Shares, seizeShares); err != nil {
		return nil, err
	}
	liquidatorPos, err := l.getPosition(m.Asset, liquidator)
	if err != nil {
		return nil, err
	}
	if liquidatorPos.Shares, err = addChecked(liquidatorPos.Shares, liquidatorShares); err != nil {
		return nil, err
	}

	retired, err := addChecked(protocolShares, platformShares)
	if err != nil {
		return nil, err
	}
	if m.TotalShares, err = subChecked(m.TotalShares, retired); err != nil {
		return nil, err
	}
	if m.TotalReserves, err = addChecked(m.TotalReserves, protocolAmount); err != nil {
		return nil, err
	}
	if m.TotalPlatformFees, err = addChecked(m.TotalPlatformFees, platformAmount); err != nil {
		return nil, err
	}

	if err := l.store.PutPosition(m.Asset, borrower, borrowerPos); err != nil {
		return nil, err
	}
	if err := l.store.PutPosition(m.Asset, liquidator, liquidatorPos); err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}

	result := &SeizeResult{
		Asset:            m.Asset,
		SeizedShares:     clone(seizeShares),
		LiquidatorShares: liquidatorShares,
		ProtocolShares:   protocolShares,
		PlatformShares:   platformShares,
		ProtocolAmount:   protocolAmount,
		PlatformAmount:   platformAmount,
	}
	l.emit(newSeizeEvent(debtAsset, liquidator, borrower, result))
	return result, nil
}
