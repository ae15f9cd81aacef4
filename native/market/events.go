package market

import (
	"github.com/holiman/uint256"

	"alcove/core/events"
	"alcove/crypto"
)

const (
	EventTypeMarketListed    = "market.listed"
	EventTypeInterestAccrued = "market.interest_accrued"
	EventTypeMint            = "market.mint"
	EventTypeRedeem          = "market.redeem"
	EventTypeBorrow          = "market.borrow"
	EventTypeRepay           = "market.repay"
	EventTypeLiquidate       = "market.liquidate"
	EventTypeSeize           = "market.seize"
	EventTypeTransfer        = "market.transfer"
	EventTypeApproval        = "market.approval"
	EventTypeVaultSet        = "market.vault_set"
	EventTypeVaultCleared    = "market.vault_cleared"
	EventTypeParamsUpdated   = "market.params_updated"
	EventTypeBucketWithdrawn = "market.bucket_withdrawn"
)

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func newListedEvent(m *Market) *events.Event {
	return &events.Event{Type: EventTypeMarketListed, Attributes: map[string]string{
		"asset":               m.Asset,
		"rateModel":           m.RateModel,
		"initialExchangeRate": dec(m.InitialExchangeRate),
		"reserveFactor":       dec(m.ReserveFactor),
		"protocolFeeRate":     dec(m.ProtocolFeeRate),
	}}
}

func newAccruedEvent(m *Market, totals *accrualTotals) *events.Event {
	return &events.Event{Type: EventTypeInterestAccrued, Attributes: map[string]string{
		"asset":           m.Asset,
		"interestAccrued": dec(totals.InterestAccrued),
		"borrowIndex":     dec(totals.BorrowIndex),
		"totalBorrows":    dec(totals.TotalBorrows),
		"borrowRate":      dec(totals.BorrowRate),
		"cash":            dec(totals.Cash),
		"accrualTime":     uint256.NewInt(totals.AccrualTime).Dec(),
	}}
}

func newMintEvent(asset string, payer, receiver crypto.Address, res *MintResult) *events.Event {
	return &events.Event{Type: EventTypeMint, Attributes: map[string]string{
		"asset":    asset,
		"payer":    payer.String(),
		"receiver": receiver.String(),
		"received": dec(res.Received),
		"shares":   dec(res.Shares),
	}}
}

func newRedeemEvent(asset string, caller, owner, receiver crypto.Address, res *RedeemResult) *events.Event {
	return &events.Event{Type: EventTypeRedeem, Attributes: map[string]string{
		"asset":    asset,
		"caller":   caller.String(),
		"owner":    owner.String(),
		"receiver": receiver.String(),
		"shares":   dec(res.Shares),
		"paidOut":  dec(res.PaidOut),
	}}
}

func newBorrowEvent(asset string, caller, borrower, receiver crypto.Address, res *BorrowResult) *events.Event {
	return &events.Event{Type: EventTypeBorrow, Attributes: map[string]string{
		"asset":        asset,
		"caller":       caller.String(),
		"borrower":     borrower.String(),
		"receiver":     receiver.String(),
		"borrowed":     dec(res.Borrowed),
		"newPrincipal": dec(res.NewPrincipal),
	}}
}

func newRepayEvent(asset string, payer, borrower crypto.Address, res *RepayResult) *events.Event {
	return &events.Event{Type: EventTypeRepay, Attributes: map[string]string{
		"asset":        asset,
		"payer":        payer.String(),
		"borrower":     borrower.String(),
		"repaid":       dec(res.Repaid),
		"newPrincipal": dec(res.NewPrincipal),
	}}
}

func newLiquidateEvent(liquidator, borrower crypto.Address, res *LiquidateResult) *events.Event {
	return &events.Event{Type: EventTypeLiquidate, Attributes: map[string]string{
		"debtAsset":       res.DebtAsset,
		"collateralAsset": res.CollateralAsset,
		"liquidator":      liquidator.String(),
		"borrower":        borrower.String(),
		"repaid":          dec(res.Repaid),
		"seizedShares":    dec(res.Seize.SeizedShares),
	}}
}

func newSeizeEvent(debtAsset string, liquidator, borrower crypto.Address, res *SeizeResult) *events.Event {
	return &events.Event{Type: EventTypeSeize, Attributes: map[string]string{
		"asset":            res.Asset,
		"debtAsset":        debtAsset,
		"liquidator":       liquidator.String(),
		"borrower":         borrower.String(),
		"seizedShares":     dec(res.SeizedShares),
		"liquidatorShares": dec(res.LiquidatorShares),
		"protocolShares":   dec(res.ProtocolShares),
		"platformShares":   dec(res.PlatformShares),
	}}
}

func newTransferEvent(asset string, from, to crypto.Address, shares *uint256.Int) *events.Event {
	return &events.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"asset":  asset,
		"from":   from.String(),
		"to":     to.String(),
		"shares": dec(shares),
	}}
}

func newApprovalEvent(asset string, kind AllowanceKind, owner, spender crypto.Address, grant Allowance) *events.Event {
	attrs := map[string]string{
		"asset":   asset,
		"kind":    kind.String(),
		"owner":   owner.String(),
		"spender": spender.String(),
	}
	if grant.IsUnlimited() {
		attrs["unlimited"] = "true"
	} else {
		attrs["amount"] = dec(grant.Amount())
	}
	return &events.Event{Type: EventTypeApproval, Attributes: attrs}
}

func newVaultSetEvent(asset, vault string, migrated *uint256.Int) *events.Event {
	return &events.Event{Type: EventTypeVaultSet, Attributes: map[string]string{
		"asset":    asset,
		"vault":    vault,
		"migrated": dec(migrated),
	}}
}

func newVaultClearedEvent(asset, vault string, recalled *uint256.Int) *events.Event {
	return &events.Event{Type: EventTypeVaultCleared, Attributes: map[string]string{
		"asset":    asset,
		"vault":    vault,
		"recalled": dec(recalled),
	}}
}

func newParamsEvent(m *Market) *events.Event {
	return &events.Event{Type: EventTypeParamsUpdated, Attributes: map[string]string{
		"asset":             m.Asset,
		"rateModel":         m.RateModel,
		"reserveFactor":     dec(m.ReserveFactor),
		"protocolFeeRate":   dec(m.ProtocolFeeRate),
		"protocolSeizeRate": dec(m.ProtocolSeizeRate),
		"platformSeizeRate": dec(m.PlatformSeizeRate),
	}}
}

func newBucketWithdrawnEvent(asset string, bucket feeBucket, to crypto.Address, amount *uint256.Int) *events.Event {
	return &events.Event{Type: EventTypeBucketWithdrawn, Attributes: map[string]string{
		"asset":  asset,
		"bucket": bucket.String(),
		"to":     to.String(),
		"amount": dec(amount),
	}}
}
