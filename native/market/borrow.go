package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// Borrow draws amount from the market's cash against borrower's credit
// and pays it to receiver. A caller other than the borrower spends the
// borrower's borrow allowance, denominated in shares and debited at the
// ceiled share equivalent of the draw.
func (l *Ledger) Borrow(asset string, caller, borrower, receiver crypto.Address, amount *uint256.Int) (*BorrowResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, errInvalidAmount
	}
	if caller.IsZero() || borrower.IsZero() || receiver.IsZero() {
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

	if caller != borrower {
		rate, err := l.exchangeRateStored(m)
		if err != nil {
			return nil, err
		}
		shareEquivalent, err := divCeil(amount, rate)
		if err != nil {
			return nil, err
		}
		if err := l.spendAllowance(m.Asset, AllowanceBorrow, borrower, caller, shareEquivalent); err != nil {
			return nil, err
		}
	}
	if l.risk != nil {
		if err := l.risk.BorrowAllowed(m.Asset, borrower, amount); err != nil {
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
	if cash.Lt(amount) {
		return nil, ErrInsufficientCash
	}

	pos, err := l.getPosition(m.Asset, borrower)
	if err != nil {
		return nil, err
	}
	owed, err := borrowBalance(pos.BorrowPrincipal, pos.BorrowIndex, m.BorrowIndex)
	if err != nil {
		return nil, err
	}
	newPrincipal, err := addChecked(owed, amount)
	if err != nil {
		return nil, err
	}
	if l.risk != nil {
		if err := l.risk.BorrowWithinLimits(m.Asset, newPrincipal); err != nil {
			return nil, policyReject(err)
		}
	}

	pos.BorrowPrincipal = newPrincipal
	pos.BorrowIndex = clone(m.BorrowIndex)
	if m.TotalBorrows, err = addChecked(m.TotalBorrows, amount); err != nil {
		return nil, err
	}
	if err := l.store.PutPosition(m.Asset, borrower, pos); err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}
	if err := l.doTransferOut(m, receiver, amount); err != nil {
		return nil, err
	}

	result := &BorrowResult{Asset: m.Asset, Borrowed: clone(amount), NewPrincipal: clone(newPrincipal)}
	l.emit(newBorrowEvent(m.Asset, caller, borrower, receiver, result))
	return result, nil
}

// RepayBorrow settles borrower's debt from payer's balance. RepayFull
// resolves to the live owed amount; an exact amount above the owed
// balance is rejected rather than leaving a negative principal.
func (l *Ledger) RepayBorrow(asset string, payer, borrower crypto.Address, repay RepayAmount) (*RepayResult, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if payer.IsZero() || borrower.IsZero() {
		return nil, errZeroAddress
	}
	if !repay.IsFull() && !isPositive(repay.Value()) {
		return nil, errInvalidAmount
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
	result, err := l.repayFresh(m, payer, borrower, repay)
	if err != nil {
		return nil, err
	}
	l.emit(newRepayEvent(m.Asset, payer, borrower, result))
	return result, nil
}

// repayFresh runs the repayment body against an already-accrued market
// with the caller holding the market guard. Liquidation reuses it for
// the debt leg.
func (l *Ledger) repayFresh(m *Market, payer, borrower crypto.Address, repay RepayAmount) (*RepayResult, error) {
	if l.risk != nil {
		if err := l.risk.RepayAllowed(m.Asset, payer, borrower); err != nil {
			return nil, policyReject(err)
		}
	}
	if err := l.verifyFresh(m); err != nil {
		return nil, err
	}

	pos, err := l.getPosition(m.Asset, borrower)
	if err != nil {
		return nil, err
	}
	owed, err := borrowBalance(pos.BorrowPrincipal, pos.BorrowIndex, m.BorrowIndex)
	if err != nil {
		return nil, err
	}
	if !isPositive(owed) {
		return nil, errNoBorrowOutstanding
	}

	repayAmount := repay.Value()
	if repay.IsFull() {
		repayAmount = clone(owed)
	} else if repayAmount.Gt(owed) {
		return nil, errRepayExceedsDebt
	}

	received, err := l.doTransferIn(m, payer, repayAmount)
	if err != nil {
		return nil, err
	}
	newPrincipal, err := subChecked(owed, received)
	if err != nil {
		return nil, err
	}
	pos.BorrowPrincipal = newPrincipal
	pos.BorrowIndex = clone(m.BorrowIndex)
	if m.TotalBorrows, err = subChecked(m.TotalBorrows, received); err != nil {
		return nil, err
	}
	if err := l.store.PutPosition(m.Asset, borrower, pos); err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}
	return &RepayResult{Asset: m.Asset, Repaid: received, NewPrincipal: clone(newPrincipal)}, nil
}
