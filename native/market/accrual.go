package market

import (
	"fmt"

	"github.com/holiman/uint256"
)

// accrualTotals is the post-accrual snapshot of a market's aggregate
// figures. Previews and the mutating accrual path both derive from it, so
// a preview taken at the same instant as an execution agrees exactly,
// truncation included.
type accrualTotals struct {
	Cash              *uint256.Int
	TotalBorrows      *uint256.Int
	TotalReserves     *uint256.Int
	TotalProtocolFees *uint256.Int
	TotalPlatformFees *uint256.Int
	BorrowIndex       *uint256.Int
	BorrowRate        *uint256.Int
	InterestAccrued   *uint256.Int
	PlatformRate      *uint256.Int
	AccrualTime       uint64
}

func (l *Ledger) platformRate(asset string) (*uint256.Int, error) {
	if l.fees == nil {
		return new(uint256.Int), nil
	}
	rate, err := l.fees.PlatformFeeRate(asset)
	if err != nil {
		return nil, fmt.Errorf("market ledger: platform fee lookup: %w", err)
	}
	return clone(rate), nil
}

// pendingAccrual computes what accrual would write for m at the current
// clock without mutating anything.
func (l *Ledger) pendingAccrual(m *Market) (*accrualTotals, error) {
	now := l.now()
	cash, err := l.cash(m)
	if err != nil {
		return nil, err
	}
	totals := &accrualTotals{
		Cash:              clone(cash),
		TotalBorrows:      clone(m.TotalBorrows),
		TotalReserves:     clone(m.TotalReserves),
		TotalProtocolFees: clone(m.TotalProtocolFees),
		TotalPlatformFees: clone(m.TotalPlatformFees),
		BorrowIndex:       clone(m.BorrowIndex),
		BorrowRate:        new(uint256.Int),
		InterestAccrued:   new(uint256.Int),
		PlatformRate:      new(uint256.Int),
		AccrualTime:       now,
	}
	if m.AccrualTime == now {
		return totals, nil
	}
	if m.AccrualTime > now {
		return nil, fmt.Errorf("%w: accrual time %d ahead of clock %d", ErrStateBroken, m.AccrualTime, now)
	}

	model, err := l.modelFor(m)
	if err != nil {
		return nil, err
	}
	reservesAndFees, err := addChecked(m.TotalReserves, m.TotalProtocolFees)
	if err != nil {
		return nil, err
	}
	reservesAndFees, err = addChecked(reservesAndFees, m.TotalPlatformFees)
	if err != nil {
		return nil, err
	}
	borrowRate, err := model.BorrowRate(cash, m.TotalBorrows, reservesAndFees)
	if err != nil {
		return nil, err
	}
	if borrowRate.Gt(maxBorrowRate) {
		return nil, fmt.Errorf("%w: %s per second", ErrBorrowRateHigh, borrowRate.Dec())
	}
	platformRate, err := l.platformRate(m.Asset)
	if err != nil {
		return nil, err
	}

	elapsed := uint256.NewInt(now - m.AccrualTime)
	interestFactor, err := mulChecked(borrowRate, elapsed)
	if err != nil {
		return nil, err
	}
	interestAccrued, err := mulTruncate(m.TotalBorrows, interestFactor)
	if err != nil {
		return nil, err
	}

	totals.BorrowRate = borrowRate
	totals.InterestAccrued = interestAccrued
	totals.PlatformRate = platformRate
	if totals.TotalBorrows, err = addChecked(m.TotalBorrows, interestAccrued); err != nil {
		return nil, err
	}
	if totals.TotalReserves, err = mulTruncateAdd(interestAccrued, m.ReserveFactor, m.TotalReserves); err != nil {
		return nil, err
	}
	if totals.TotalProtocolFees, err = mulTruncateAdd(interestAccrued, m.ProtocolFeeRate, m.TotalProtocolFees); err != nil {
		return nil, err
	}
	if totals.TotalPlatformFees, err = mulTruncateAdd(interestAccrued, platformRate, m.TotalPlatformFees); err != nil {
		return nil, err
	}
	if totals.BorrowIndex, err = mulTruncateAdd(m.BorrowIndex, interestFactor, m.BorrowIndex); err != nil {
		return nil, err
	}
	return totals, nil
}

// accrueInterest advances m to the current clock in place. Callers
// persist the market and emit the event. The no-op case (already fresh)
// returns zero interest.
func (l *Ledger) accrueInterest(m *Market) (*accrualTotals, error) {
	totals, err := l.pendingAccrual(m)
	if err != nil {
		return nil, err
	}
	m.TotalBorrows = clone(totals.TotalBorrows)
	m.TotalReserves = clone(totals.TotalReserves)
	m.TotalProtocolFees = clone(totals.TotalProtocolFees)
	m.TotalPlatformFees = clone(totals.TotalPlatformFees)
	m.BorrowIndex = clone(totals.BorrowIndex)
	m.AccrualTime = totals.AccrualTime
	return totals, nil
}

// AccrueInterest brings a market current and persists the result. It is
// also invoked implicitly at the head of every balance-mutating
// operation.
func (l *Ledger) AccrueInterest(asset string) (*Market, error) {
	if err := l.guard(); err != nil {
		return nil, err
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

	stale := m.AccrualTime
	totals, err := l.accrueInterest(m)
	if err != nil {
		return nil, err
	}
	if err := l.store.PutMarket(m); err != nil {
		return nil, err
	}
	if totals.AccrualTime > stale {
		l.emit(newAccruedEvent(m, totals))
	}
	return m.Clone(), nil
}
