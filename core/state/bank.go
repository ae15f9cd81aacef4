package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
)

var (
	_ market.Store = (*Manager)(nil)
	_ market.Bank  = (*Manager)(nil)
)

// Balance returns the account's holdings of the asset, zero when absent.
func (m *Manager) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	data, err := m.read(balanceKey(market.NormalizeAsset(asset), addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return new(uint256.Int), nil
	}
	amount := new(uint256.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, fmt.Errorf("state: decode balance %s: %w", asset, err)
	}
	return amount, nil
}

// SetBalance overwrites the account's holdings. Genesis seeding only;
// running transfers go through Transfer.
func (m *Manager) SetBalance(asset string, addr crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return m.writeBalance(market.NormalizeAsset(asset), addr, amount)
}

// Credit adds amount to the account's holdings.
func (m *Manager) Credit(asset string, addr crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	normalized := market.NormalizeAsset(asset)
	held, err := m.Balance(normalized, addr)
	if err != nil {
		return err
	}
	return m.writeBalance(normalized, addr, new(uint256.Int).Add(held, amount))
}

// Transfer moves amount between accounts and reports the credited value.
// The native bank charges no transfer fees, so the full amount arrives.
func (m *Manager) Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	normalized := market.NormalizeAsset(asset)
	if from == to {
		return new(uint256.Int).Set(amount), nil
	}
	source, err := m.Balance(normalized, from)
	if err != nil {
		return nil, err
	}
	if source.Lt(amount) {
		return nil, fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, from, source, normalized, amount)
	}
	destination, err := m.Balance(normalized, to)
	if err != nil {
		return nil, err
	}
	if err := m.writeBalance(normalized, from, new(uint256.Int).Sub(source, amount)); err != nil {
		return nil, err
	}
	if err := m.writeBalance(normalized, to, new(uint256.Int).Add(destination, amount)); err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(amount), nil
}

func (m *Manager) writeBalance(asset string, addr crypto.Address, amount *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode balance %s: %w", asset, err)
	}
	m.write(balanceKey(asset, addr), encoded)
	return nil
}
