package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// Mint deposits amount from payer and credits receiver with shares at the
// post-accrual exchange rate. Shares are floored: the depositor absorbs
// the truncation dust, never the pool.
func (l *Ledger) Mint(asset string, payer, receiver crypto.Address, amount *uint256.Int) (*MintResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, errInvalidAmount
	}
	if payer.IsZero() || receiver.IsZero() {
		return nil, errZeroAddress
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	release, err := l.enter(m.Asset)
	if err != nil {
		return nil, err
	}
	defer release()
	if _, err := l.accrueInterest(m); err != nil {
		return nil, err
	}
	if l.risk != nil {
		if err := l.risk.MintAllowed(m.Asset, payer, amount); err != nil {
			return nil, policyReject(err)
		}
	}
	if err := l.verifyFresh(m); err != nil {
		return nil, err
	}
	rate, err := l.exchangeRateStored(m)
	if err != nil {
		return nil, err
	}

	received, err := l.doTransferIn(m, payer, amount)
	if err != nil {
		return nil, err
	}
	shares, err := divTruncate(received, rate)
	if err != nil {
		return nil, err
	}

	pos, err := l.getPosition(m.Asset, receiver)
	if err != nil {
		return nil, err
	}
	if pos.Shares, err = addChecked(pos.Shares, shares); err != nil {
		return nil, err
	}
	if m.TotalShares, err = addChecked(m.TotalShares, shares); err != nil {
		return nil, err
	}
	if err := l.store.PutPosition(m.Asset, receiver, pos); err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}

	result := &MintResult{Asset: m.Asset, Received: received, Shares: shares}
	l.emit(newMintEvent(m.Asset, payer, receiver, result))
	return result, nil
}

// Redeem burns an exact share count from owner and pays the floored asset
// value to receiver.
func (l *Ledger) Redeem(asset string, caller, owner, receiver crypto.Address, shares *uint256.Int) (*RedeemResult, error) {
	return l.redeem(asset, caller, owner, receiver, shares, nil)
}

// RedeemUnderlying pays an exact asset amount to receiver, burning the
// ceiled share equivalent from owner. The ceiling here and the floor in
// Mint are asymmetric on purpose; equalizing them lets depositors shave
// value out of the pool one dust unit at a time.
func (l *Ledger) RedeemUnderlying(asset string, caller, owner, receiver crypto.Address, amount *uint256.Int) (*RedeemResult, error) {
	return l.redeem(asset, caller, owner, receiver, nil, amount)
}

func (l *Ledger) redeem(asset string, caller, owner, receiver crypto.Address, sharesIn, amountIn *uint256.Int) (*RedeemResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if isPositive(sharesIn) == isPositive(amountIn) {
		return nil, errRedeemArguments
	}
	if caller.IsZero() || owner.IsZero() || receiver.IsZero() {
		return nil, errZeroAddress
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return nil, err
	}
	release, err := l.enter(m.Asset)
	if err != nil {
		return nil, err
	}
	defer release()
	if _, err := l.accrueInterest(m); err != nil {
		return nil, err
	}
	rate, err := l.exchangeRateStored(m)
	if err != nil {
		return nil, err
	}

	var redeemShares, redeemAmount *uint256.Int
	if isPositive(sharesIn) {
		redeemShares = clone(sharesIn)
		if redeemAmount, err = mulTruncate(redeemShares, rate); err != nil {
			return nil, err
		}
	} else {
		redeemAmount = clone(amountIn)
		if redeemShares, err = divCeil(redeemAmount, rate); err != nil {
			return nil, err
		}
	}

	if caller != owner {
		if err := l.spendAllowance(m.Asset, AllowanceShares, owner, caller, redeemShares); err != nil {
			return nil, err
		}
	}
	if l.risk != nil {
		if err := l.risk.RedeemAllowed(m.Asset, owner, redeemShares); err != nil {
			return nil, policyReject(err)
		}
	}
	if err := l.verifyFresh(m); err != nil {
		return nil, err
	}

	cash, err := l.cash(m)
	if err != nil {
		return nil, err
	}
	if cash.Lt(redeemAmount) {
		return nil, ErrInsufficientCash
	}
	pos, err := l.getPosition(m.Asset, owner)
	if err != nil {
		return nil, err
	}
	if pos.Shares.Lt(redeemShares) {
		return nil, ErrInsufficientShares
	}
	if pos.Shares, err = subChecked(pos.Shares, redeemShares); err != nil {
		return nil, err
	}
	if m.TotalShares, err = subChecked(m.TotalShares, redeemShares); err != nil {
		return nil, err
	}
	if err := l.store.PutPosition(m.Asset, owner, pos); err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}
	if err := l.doTransferOut(m, receiver, redeemAmount); err != nil {
		return nil, err
	}

	result := &RedeemResult{Asset: m.Asset, Shares: redeemShares, PaidOut: redeemAmount}
	l.emit(newRedeemEvent(m.Asset, caller, owner, receiver, result))
	return result, nil
}

// TransferShares moves caller's own shares to another holder.
func (l *Ledger) TransferShares(asset string, caller, to crypto.Address, shares *uint256.Int) error {
	return l.transferShares(asset, caller, caller, to, shares)
}

// TransferSharesFrom moves owner's shares using caller's share allowance.
func (l *Ledger) TransferSharesFrom(asset string, caller, owner, to crypto.Address, shares *uint256.Int) error {
	return l.transferShares(asset, caller, owner, to, shares)
}

// transferShares relocates share claims without touching the asset side,
// so no accrual is needed. The risk engine can still veto moves that
// would strand a borrower below their collateral requirement.
func (l *Ledger) transferShares(asset string, caller, owner, to crypto.Address, shares *uint256.Int) error {
	if err := l.guard(); err != nil {
		return err
	}
	if !isPositive(shares) {
		return errInvalidAmount
	}
	if caller.IsZero() || owner.IsZero() || to.IsZero() {
		return errZeroAddress
	}
	if owner == to {
		return nil
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
	if caller != owner {
		if err := l.spendAllowance(m.Asset, AllowanceShares, owner, caller, shares); err != nil {
			return err
		}
	}
	if l.risk != nil {
		if err := l.risk.TransferAllowed(m.Asset, owner, shares); err != nil {
			return policyReject(err)
		}
	}
	from, err := l.getPosition(m.Asset, owner)
	if err != nil {
		return err
	}
	if from.Shares.Lt(shares) {
		return ErrInsufficientShares
	}
	dest, err := l.getPosition(m.Asset, to)
	if err != nil {
		return err
	}
	if from.Shares, err = subChecked(from.Shares, shares); err != nil {
		return err
	}
	if dest.Shares, err = addChecked(dest.Shares, shares); err != nil {
		return err
	}
	if err := l.store.PutPosition(m.Asset, owner, from); err != nil {
		return err
	}
	if err := l.store.PutPosition(m.Asset, to, dest); err != nil {
		return err
	}
	l.emit(newTransferEvent(m.Asset, owner, to, shares))
	return nil
}
