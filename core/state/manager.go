// Package state persists ledger records as RLP under keccak-hashed,
// prefixed keys and stages every write in an in-memory overlay so a
// transition either commits atomically or leaves the store untouched.
package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
	"alcove/storage"
)

var (
	errNilRecord = errors.New("state: nil record")

	// ErrInsufficientBalance is returned by Transfer when the source
	// account cannot cover the amount.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

var (
	marketPrefix    = []byte("market:")
	positionPrefix  = []byte("position:")
	allowancePrefix = []byte("allowance:")
	balancePrefix   = []byte("balance:")
	marketListKey   = ethcrypto.Keccak256([]byte("market-list"))
	schemaKey       = ethcrypto.Keccak256([]byte("schema-version"))
)

func marketKey(asset string) []byte {
	buf := append([]byte(nil), marketPrefix...)
	buf = append(buf, asset...)
	return ethcrypto.Keccak256(buf)
}

func positionKey(asset string, owner crypto.Address) []byte {
	buf := append([]byte(nil), positionPrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(asset string, kind market.AllowanceKind, owner, spender crypto.Address) []byte {
	buf := append([]byte(nil), allowancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':', byte(kind), ':')
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, spender.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(asset string, addr crypto.Address) []byte {
	buf := append([]byte(nil), balancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, addr.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

// Manager reads and writes ledger records on a storage backend. It
// implements both market.Store and market.Bank. The node serialises
// access; Manager performs no internal locking.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

// read returns the staged value when one exists, the stored value
// otherwise, and nil when the key is absent.
func (m *Manager) read(key []byte) ([]byte, error) {
	if staged, ok := m.overlay[string(key)]; ok {
		return append([]byte(nil), staged...), nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) write(key, value []byte) {
	m.overlay[string(key)] = value
}

// Dirty reports whether the overlay holds uncommitted writes.
func (m *Manager) Dirty() bool {
	return len(m.overlay) > 0
}

// Commit flushes the overlay to the database in one atomic batch and
// clears it. An error leaves the overlay intact.
func (m *Manager) Commit() error {
	if len(m.overlay) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.overlay))
	for k := range m.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		batch.Put([]byte(k), m.overlay[k])
	}
	if err := batch.Write(); err != nil {
		return err
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	if len(m.overlay) == 0 {
		return
	}
	m.overlay = make(map[string][]byte)
}

// GetMarket loads a market record. Unlisted assets return (nil, nil).
func (m *Manager) GetMarket(asset string) (*market.Market, error) {
	data, err := m.read(marketKey(market.NormalizeAsset(asset)))
	if err != nil || data == nil {
		return nil, err
	}
	record := new(market.Market)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("state: decode market %s: %w", asset, err)
	}
	return record, nil
}

// PutMarket stages a market record and keeps the asset index current.
func (m *Manager) PutMarket(record *market.Market) error {
	if record == nil {
		return errNilRecord
	}
	asset := market.NormalizeAsset(record.Asset)
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode market %s: %w", asset, err)
	}
	m.write(marketKey(asset), encoded)
	return m.indexMarket(asset)
}

// MarketAssets returns every listed asset symbol in sorted order.
func (m *Manager) MarketAssets() ([]string, error) {
	data, err := m.read(marketListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("state: decode market index: %w", err)
	}
	return list, nil
}

func (m *Manager) indexMarket(asset string) error {
	list, err := m.MarketAssets()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == asset {
			return nil
		}
	}
	list = append(list, asset)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(marketListKey, encoded)
	return nil
}

// GetPosition loads one holder's stake in one market, nil when absent.
func (m *Manager) GetPosition(asset string, owner crypto.Address) (*market.Position, error) {
	data, err := m.read(positionKey(market.NormalizeAsset(asset), owner))
	if err != nil || data == nil {
		return nil, err
	}
	record := new(market.Position)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("state: decode position %s: %w", asset, err)
	}
	return record, nil
}

// PutPosition stages a position record.
func (m *Manager) PutPosition(asset string, owner crypto.Address, pos *market.Position) error {
	if pos == nil {
		return errNilRecord
	}
	encoded, err := rlp.EncodeToBytes(pos)
	if err != nil {
		return fmt.Errorf("state: encode position %s: %w", asset, err)
	}
	m.write(positionKey(market.NormalizeAsset(asset), owner), encoded)
	return nil
}

// allowanceRecord is the storable shape of a market.Allowance.
type allowanceRecord struct {
	Unlimited bool
	Amount    *uint256.Int
}

// GetAllowance loads a grant; absent grants decode as empty.
func (m *Manager) GetAllowance(asset string, kind market.AllowanceKind, owner, spender crypto.Address) (market.Allowance, error) {
	data, err := m.read(allowanceKey(market.NormalizeAsset(asset), kind, owner, spender))
	if err != nil || data == nil {
		return market.Allowance{}, err
	}
	var record allowanceRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return market.Allowance{}, fmt.Errorf("state: decode allowance %s: %w", asset, err)
	}
	if record.Unlimited {
		return market.UnlimitedAllowance(), nil
	}
	return market.BoundedAllowance(record.Amount), nil
}

// PutAllowance stages a grant.
func (m *Manager) PutAllowance(asset string, kind market.AllowanceKind, owner, spender crypto.Address, grant market.Allowance) error {
	record := allowanceRecord{
		Unlimited: grant.IsUnlimited(),
		Amount:    grant.Amount(),
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return fmt.Errorf("state: encode allowance %s: %w", asset, err)
	}
	m.write(allowanceKey(market.NormalizeAsset(asset), kind, owner, spender), encoded)
	return nil
}
