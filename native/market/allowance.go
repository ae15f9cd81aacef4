package market

import (
	"github.com/holiman/uint256"

	"alcove/crypto"
)

// ApproveShares grants spender the right to redeem or transfer owner's
// shares up to the allowance. An unlimited grant is never decremented.
func (l *Ledger) ApproveShares(asset string, owner, spender crypto.Address, grant Allowance) error {
	return l.approve(AllowanceShares, asset, owner, spender, grant)
}

// ApproveBorrow grants spender the right to draw borrows on owner's
// behalf. This namespace is distinct from the share allowance; one never
// satisfies the other.
func (l *Ledger) ApproveBorrow(asset string, owner, spender crypto.Address, grant Allowance) error {
	return l.approve(AllowanceBorrow, asset, owner, spender, grant)
}

func (l *Ledger) approve(kind AllowanceKind, asset string, owner, spender crypto.Address, grant Allowance) error {
	if err := l.guard(); err != nil {
		return err
	}
	if owner.IsZero() || spender.IsZero() {
		return errZeroAddress
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return err
	}
	if err := l.store.PutAllowance(m.Asset, kind, owner, spender, grant); err != nil {
		return err
	}
	l.emit(newApprovalEvent(m.Asset, kind, owner, spender, grant))
	return nil
}

// ShareAllowance reads the redeem/transfer grant from owner to spender.
func (l *Ledger) ShareAllowance(asset string, owner, spender crypto.Address) (Allowance, error) {
	return l.allowance(AllowanceShares, asset, owner, spender)
}

// BorrowAllowance reads the borrow-on-behalf grant from owner to spender.
func (l *Ledger) BorrowAllowance(asset string, owner, spender crypto.Address) (Allowance, error) {
	return l.allowance(AllowanceBorrow, asset, owner, spender)
}

func (l *Ledger) allowance(kind AllowanceKind, asset string, owner, spender crypto.Address) (Allowance, error) {
	if err := l.ready(); err != nil {
		return Allowance{}, err
	}
	m, err := l.getMarket(asset)
	if err != nil {
		return Allowance{}, err
	}
	return l.store.GetAllowance(m.Asset, kind, owner, spender)
}

// spendAllowance debits need from the owner→spender grant. Self-spends
// pass untouched; unlimited grants are honored without a write-back.
func (l *Ledger) spendAllowance(asset string, kind AllowanceKind, owner, spender crypto.Address, need *uint256.Int) error {
	if owner == spender {
		return nil
	}
	grant, err := l.store.GetAllowance(asset, kind, owner, spender)
	if err != nil {
		return err
	}
	updated, err := grant.debit(need)
	if err != nil {
		return err
	}
	if grant.IsUnlimited() {
		return nil
	}
	return l.store.PutAllowance(asset, kind, owner, spender, updated)
}
