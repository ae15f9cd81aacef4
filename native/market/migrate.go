package market

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Persisted layout versions. V1 kept a single reserve accumulator; V2
// splits the non-supplier take into reserves plus two fee buckets.
const (
	SchemaV1 uint64 = 1
	SchemaV2 uint64 = 2

	CurrentSchemaVersion = SchemaV2
)

// MarketRecordV1 is the original market layout, retained only so stored
// state written by earlier releases can be upgraded in place.
type MarketRecordV1 struct {
	Asset               string
	TotalShares         *uint256.Int
	TotalBorrows        *uint256.Int
	TotalReserves       *uint256.Int
	BorrowIndex         *uint256.Int
	AccrualTime         uint64
	ReserveFactor       *uint256.Int
	InitialExchangeRate *uint256.Int
	RateModel           string
	Vault               string
}

// UpgradeMarketV1 lifts a v1 record into the current layout. The whole
// legacy reserve balance stays in the reserve bucket; the fee buckets and
// their rates start at zero and are configured by the admin afterwards.
func UpgradeMarketV1(old *MarketRecordV1) *Market {
	if old == nil {
		return nil
	}
	m := &Market{
		Asset:               old.Asset,
		TotalShares:         clone(old.TotalShares),
		TotalBorrows:        clone(old.TotalBorrows),
		TotalReserves:       clone(old.TotalReserves),
		BorrowIndex:         clone(old.BorrowIndex),
		AccrualTime:         old.AccrualTime,
		ReserveFactor:       clone(old.ReserveFactor),
		InitialExchangeRate: clone(old.InitialExchangeRate),
		RateModel:           old.RateModel,
		Vault:               old.Vault,
	}
	m.ensureDefaults()
	return m
}

// CheckSchema validates a stored schema version against what this build
// can read. Version zero means a freshly initialized store.
func CheckSchema(stored uint64) error {
	switch stored {
	case 0, SchemaV1, SchemaV2:
		return nil
	default:
		return fmt.Errorf("%w: %d (current %d)", ErrSchemaUnknown, stored, CurrentSchemaVersion)
	}
}
