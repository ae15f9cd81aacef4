package market

import (
	"errors"

	"github.com/holiman/uint256"

	"alcove/crypto"
)

// doTransferIn pulls amount from payer into the market's custody and
// forwards it into the vault when one is configured. Returns the amount
// the bank reports as actually received, which is the figure all share
// math uses.
func (l *Ledger) doTransferIn(m *Market, from crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	received, err := l.bank.Transfer(m.Asset, from, CustodyAddress(m.Asset), amount)
	if err != nil {
		return nil, errors.Join(ErrTransferIn, err)
	}
	vault, ok, vErr := l.vaultFor(m)
	if vErr != nil {
		return nil, vErr
	}
	if ok && isPositive(received) {
		if err := vault.Deposit(m.Asset, received); err != nil {
			return nil, errors.Join(ErrTransferIn, err)
		}
	}
	return clone(received), nil
}

// doTransferOut pays amount to the receiver, first recalling it from the
// vault when one is configured.
func (l *Ledger) doTransferOut(m *Market, to crypto.Address, amount *uint256.Int) error {
	if !isPositive(amount) {
		return nil
	}
	vault, ok, err := l.vaultFor(m)
	if err != nil {
		return err
	}
	if ok {
		if err := vault.Withdraw(m.Asset, amount); err != nil {
			return errors.Join(ErrTransferOut, err)
		}
	}
	if _, err := l.bank.Transfer(m.Asset, CustodyAddress(m.Asset), to, amount); err != nil {
		return errors.Join(ErrTransferOut, err)
	}
	return nil
}

// SetVault points a market at a registered yield vault. Any previous
// vault position is fully redeemed into direct custody first; the direct
// custody balance is then deposited into the new vault. Admin only.
func (l *Ledger) SetVault(caller crypto.Address, asset, vaultName string) error {
	if err := l.guard(); err != nil {
		return err
	}
	if caller != l.admin || caller.IsZero() {
		return ErrUnauthorized
	}
	if vaultName == "" {
		return errVaultUnknown
	}
	if _, ok := l.vaults[vaultName]; !ok {
		return errVaultUnknown
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
	if _, err := l.accrueInterest(m); err != nil {
		return err
	}
	if err := l.unwindVault(m); err != nil {
		return err
	}
	vault := l.vaults[vaultName]
	balance, err := l.bank.Balance(m.Asset, CustodyAddress(m.Asset))
	if err != nil {
		return err
	}
	if isPositive(balance) {
		if err := vault.Deposit(m.Asset, balance); err != nil {
			return errors.Join(ErrTransferIn, err)
		}
	}
	m.Vault = vaultName
	if err := l.store.PutMarket(m); err != nil {
		return err
	}
	l.emit(newVaultSetEvent(m.Asset, vaultName, balance))
	return nil
}

// ClearVault detaches a market from its vault, recalling the full
// position into direct custody. Allowed for the admin and, as the only
// vault operation it may perform, the guardian.
func (l *Ledger) ClearVault(caller crypto.Address, asset string) error {
	if err := l.guard(); err != nil {
		return err
	}
	authorized := (!l.admin.IsZero() && caller == l.admin) || (!l.guardian.IsZero() && caller == l.guardian)
	if !authorized {
		return ErrUnauthorized
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
	if _, err := l.accrueInterest(m); err != nil {
		return err
	}
	if m.Vault == "" {
		return nil
	}
	recalled, err := l.recallVault(m)
	if err != nil {
		return err
	}
	cleared := m.Vault
	m.Vault = ""
	if err := l.store.PutMarket(m); err != nil {
		return err
	}
	l.emit(newVaultClearedEvent(m.Asset, cleared, recalled))
	return nil
}

// unwindVault redeems the market's whole vault position back into direct
// custody and clears the reference in memory.
func (l *Ledger) unwindVault(m *Market) error {
	if m.Vault == "" {
		return nil
	}
	if _, err := l.recallVault(m); err != nil {
		return err
	}
	m.Vault = ""
	return nil
}

func (l *Ledger) recallVault(m *Market) (*uint256.Int, error) {
	vault, ok, err := l.vaultFor(m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	redeemed, err := vault.RedeemAll(m.Asset)
	if err != nil {
		return nil, errors.Join(ErrTransferOut, err)
	}
	return clone(redeemed), nil
}
