package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// storedTotalAssets nets supplier-owned value out of the aggregate
// figures: cash plus borrows minus reserves and both fee buckets.
func storedTotalAssets(cash, borrows, reserves, protocolFees, platformFees *uint256.Int) (*uint256.Int, error) {
	gross, err := addChecked(cash, borrows)
	if err != nil {
		return nil, err
	}
	net, err := subChecked(gross, reserves)
	if err != nil {
		return nil, err
	}
	if net, err = subChecked(net, protocolFees); err != nil {
		return nil, err
	}
	return subChecked(net, platformFees)
}

// exchangeRateFromTotals derives the share price mantissa. An empty share
// supply pins the rate to the listing-time initial rate.
func exchangeRateFromTotals(totalAssets, totalShares, initialRate *uint256.Int) (*uint256.Int, error) {
	if !isPositive(totalShares) {
		return clone(initialRate), nil
	}
	return divTruncate(totalAssets, totalShares)
}

// exchangeRateStored computes the rate from the market's persisted
// figures and live cash, without accruing.
func (l *Ledger) exchangeRateStored(m *Market) (*uint256.Int, error) {
	cash, err := l.cash(m)
	if err != nil {
		return nil, err
	}
	totalAssets, err := storedTotalAssets(cash, m.TotalBorrows, m.TotalReserves, m.TotalProtocolFees, m.TotalPlatformFees)
	if err != nil {
		return nil, err
	}
	return exchangeRateFromTotals(totalAssets, m.TotalShares, m.InitialExchangeRate)
}

// exchangeRateFromAccrual computes the rate a caller would observe right
// after accrual, using a pending snapshot.
func exchangeRateFromAccrual(m *Market, totals *accrualTotals) (*uint256.Int, error) {
	totalAssets, err := storedTotalAssets(totals.Cash, totals.TotalBorrows, totals.TotalReserves, totals.TotalProtocolFees, totals.TotalPlatformFees)
	if err != nil {
		return nil, err
	}
	return exchangeRateFromTotals(totalAssets, m.TotalShares, m.InitialExchangeRate)
}

// borrowBalance derives the live owed amount from a borrow snapshot. A
// zero principal short-circuits so a zero historical index can never be a
// divisor.
func borrowBalance(principal, snapshotIndex, currentIndex *uint256.Int) (*uint256.Int, error) {
	if !isPositive(principal) {
		return new(uint256.Int), nil
	}
	if !isPositive(snapshotIndex) {
		return nil, ErrDivideByZero
	}
	return mulDiv(principal, currentIndex, snapshotIndex)
}

// ExchangeRateStored returns the rate implied by persisted figures,
// without accruing.
func (l *Ledger) ExchangeRateStored(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	return l.exchangeRateStored(m)
}

// ExchangeRateCurrent returns the rate as of the current clock, taking
// pending interest into account without mutating state.
func (l *Ledger) ExchangeRateCurrent(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	return exchangeRateFromAccrual(m, totals)
}

// TotalAssets returns supplier-owned value as of the current clock,
// including pending interest, without mutating state.
func (l *Ledger) TotalAssets(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	return storedTotalAssets(totals.Cash, totals.TotalBorrows, totals.TotalReserves, totals.TotalProtocolFees, totals.TotalPlatformFees)
}

func (l *Ledger) currentRate(asset string) (*uint256.Int, error) {
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	return exchangeRateFromAccrual(m, totals)
}

// ConvertToShares floors assets into shares at the current rate.
func (l *Ledger) ConvertToShares(asset string, assets *uint256.Int) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rate, err := l.currentRate(asset)
	if err != nil {
		return nil, err
	}
	return divTruncate(assets, rate)
}

// ConvertToAssets floors shares into assets at the current rate.
func (l *Ledger) ConvertToAssets(asset string, shares *uint256.Int) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rate, err := l.currentRate(asset)
	if err != nil {
		return nil, err
	}
	return mulTruncate(shares, rate)
}

// PreviewDeposit mirrors Mint: shares credited for a given deposit,
// floored in the protocol's favor.
func (l *Ledger) PreviewDeposit(asset string, assets *uint256.Int) (*uint256.Int, error) {
	return l.ConvertToShares(asset, assets)
}

// PreviewMint returns the assets required to mint exactly shares, ceiled
// against the payer.
func (l *Ledger) PreviewMint(asset string, shares *uint256.Int) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rate, err := l.currentRate(asset)
	if err != nil {
		return nil, err
	}
	return mulCeil(shares, rate)
}

// PreviewRedeem mirrors Redeem: assets paid for a given share burn,
// floored.
func (l *Ledger) PreviewRedeem(asset string, shares *uint256.Int) (*uint256.Int, error) {
	return l.ConvertToAssets(asset, shares)
}

// PreviewWithdraw returns the shares burned to withdraw exactly assets,
// ceiled against the redeemer.
func (l *Ledger) PreviewWithdraw(asset string, assets *uint256.Int) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rate, err := l.currentRate(asset)
	if err != nil {
		return nil, err
	}
	return divCeil(assets, rate)
}

// MaxDeposit reports the headroom under the risk engine's supply cap. An
// absent engine or cap yields the maximum representable amount.
func (l *Ledger) MaxDeposit(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	normalized := NormalizeAsset(asset)
	if _, err := l.getMarket(normalized); err != nil {
		return nil, err
	}
	if l.risk == nil {
		return new(uint256.Int).SetAllOne(), nil
	}
	cap := l.risk.SupplyCap(normalized)
	if cap == nil {
		return new(uint256.Int).SetAllOne(), nil
	}
	held, err := l.TotalAssets(normalized)
	if err != nil {
		return nil, err
	}
	if held.Cmp(cap) >= 0 {
		return new(uint256.Int), nil
	}
	return subChecked(cap, held)
}

// MaxMint is the share headroom under the supply cap, floored at the
// current rate. An absent engine or cap yields the maximum representable
// amount.
func (l *Ledger) MaxMint(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	normalized := NormalizeAsset(asset)
	if _, err := l.getMarket(normalized); err != nil {
		return nil, err
	}
	if l.risk == nil || l.risk.SupplyCap(normalized) == nil {
		return new(uint256.Int).SetAllOne(), nil
	}
	headroom, err := l.MaxDeposit(normalized)
	if err != nil {
		return nil, err
	}
	return l.ConvertToShares(normalized, headroom)
}

// MaxRedeem reports the shares an owner could burn right now, bounded by
// both their balance and the market's spendable cash.
func (l *Ledger) MaxRedeem(asset string, owner crypto.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := l.getPosition(m.Asset, owner)
	if err != nil {
		return nil, err
	}
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	rate, err := exchangeRateFromAccrual(m, totals)
	if err != nil {
		return nil, err
	}
	if !isPositive(rate) {
		return new(uint256.Int), nil
	}
	cashShares, err := divTruncate(totals.Cash, rate)
	if err != nil {
		return nil, err
	}
	if pos.Shares.Lt(cashShares) {
		return clone(pos.Shares), nil
	}
	return cashShares, nil
}

// MaxWithdraw is the asset value of MaxRedeem.
func (l *Ledger) MaxWithdraw(asset string, owner crypto.Address) (*uint256.Int, error) {
	shares, err := l.MaxRedeem(asset, owner)
	if err != nil {
		return nil, err
	}
	return l.ConvertToAssets(asset, shares)
}

// ShareBalance returns the holder's share balance.
func (l *Ledger) ShareBalance(asset string, owner crypto.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := l.getPosition(m.Asset, owner)
	if err != nil {
		return nil, err
	}
	return clone(pos.Shares), nil
}

// BalanceOfUnderlying values the holder's shares at the current rate,
// including pending interest, without mutating state.
func (l *Ledger) BalanceOfUnderlying(asset string, owner crypto.Address) (*uint256.Int, error) {
	shares, err := l.ShareBalance(asset, owner)
	if err != nil {
		return nil, err
	}
	return l.ConvertToAssets(asset, shares)
}

// BorrowBalanceStored derives the owed amount from persisted figures.
func (l *Ledger) BorrowBalanceStored(asset string, borrower crypto.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := l.getPosition(m.Asset, borrower)
	if err != nil {
		return nil, err
	}
	return borrowBalance(pos.BorrowPrincipal, pos.BorrowIndex, m.BorrowIndex)
}

// BorrowBalanceCurrent derives the owed amount as of the current clock,
// including pending interest, without mutating state.
func (l *Ledger) BorrowBalanceCurrent(asset string, borrower crypto.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := l.getPosition(m.Asset, borrower)
	if err != nil {
		return nil, err
	}
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	return borrowBalance(pos.BorrowPrincipal, pos.BorrowIndex, totals.BorrowIndex)
}

// Cash returns the market's spendable underlying balance.
func (l *Ledger) Cash(asset string) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	return l.cash(m)
}

// GetMarket returns a deep copy of the persisted market record.
func (l *Ledger) GetMarket(asset string) (*Market, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// ListMarkets returns the normalized symbols of every listed market.
func (l *Ledger) ListMarkets() ([]string, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.store.MarketAssets()
}
