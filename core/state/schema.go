package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"alcove/native/market"
)

// SchemaVersion reads the stored layout version. Zero means the store has
// never been stamped.
func (m *Manager) SchemaVersion() (uint64, error) {
	data, err := m.read(schemaKey)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var stored uint64
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return 0, fmt.Errorf("state: decode schema version: %w", err)
	}
	return stored, nil
}

func (m *Manager) stampSchema(version uint64) error {
	encoded, err := rlp.EncodeToBytes(version)
	if err != nil {
		return err
	}
	m.write(schemaKey, encoded)
	return nil
}

// Migrate upgrades stored records to the current layout and stamps the
// version, committing the whole upgrade as one batch. Unknown versions
// fail before anything is touched.
func (m *Manager) Migrate() error {
	stored, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	if err := market.CheckSchema(stored); err != nil {
		return err
	}
	if stored == market.CurrentSchemaVersion {
		return nil
	}
	if stored == market.SchemaV1 {
		if err := m.upgradeMarketsV1(); err != nil {
			return err
		}
	}
	if err := m.stampSchema(market.CurrentSchemaVersion); err != nil {
		return err
	}
	return m.Commit()
}

// upgradeMarketsV1 rewrites every market record from the v1 layout. The
// position, allowance, and balance layouts did not change between v1 and
// v2 and are left in place.
func (m *Manager) upgradeMarketsV1() error {
	assets, err := m.MarketAssets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		data, err := m.read(marketKey(asset))
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("state: market %s indexed but not stored", asset)
		}
		old := new(market.MarketRecordV1)
		if err := rlp.DecodeBytes(data, old); err != nil {
			return fmt.Errorf("state: decode v1 market %s: %w", asset, err)
		}
		upgraded := market.UpgradeMarketV1(old)
		encoded, err := rlp.EncodeToBytes(upgraded)
		if err != nil {
			return fmt.Errorf("state: encode upgraded market %s: %w", asset, err)
		}
		m.write(marketKey(asset), encoded)
	}
	return nil
}
