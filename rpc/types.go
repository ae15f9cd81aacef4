package rpc

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"alcove/native/market"
)

// MarketResult is the wire form of one money market. Mantissa and amount
// fields are decimal strings; 1e18 fixed-point values keep their raw scale.
type MarketResult struct {
	Asset               string `json:"asset"`
	RateModel           string `json:"rateModel"`
	Vault               string `json:"vault,omitempty"`
	ExchangeRate        string `json:"exchangeRate"`
	Cash                string `json:"cash"`
	TotalShares         string `json:"totalShares"`
	TotalBorrows        string `json:"totalBorrows"`
	TotalReserves       string `json:"totalReserves"`
	TotalProtocolFees   string `json:"totalProtocolFees"`
	TotalPlatformFees   string `json:"totalPlatformFees"`
	BorrowIndex         string `json:"borrowIndex"`
	AccrualTime         uint64 `json:"accrualTime"`
	ReserveFactor       string `json:"reserveFactor"`
	ProtocolFeeRate     string `json:"protocolFeeRate"`
	InitialExchangeRate string `json:"initialExchangeRate"`
	ProtocolSeizeRate   string `json:"protocolSeizeRate"`
	PlatformSeizeRate   string `json:"platformSeizeRate"`
}

func marketResultFrom(m *market.Market, exchangeRate, cash *uint256.Int) MarketResult {
	return MarketResult{
		Asset:               m.Asset,
		RateModel:           m.RateModel,
		Vault:               m.Vault,
		ExchangeRate:        decString(exchangeRate),
		Cash:                decString(cash),
		TotalShares:         decString(m.TotalShares),
		TotalBorrows:        decString(m.TotalBorrows),
		TotalReserves:       decString(m.TotalReserves),
		TotalProtocolFees:   decString(m.TotalProtocolFees),
		TotalPlatformFees:   decString(m.TotalPlatformFees),
		BorrowIndex:         decString(m.BorrowIndex),
		AccrualTime:         m.AccrualTime,
		ReserveFactor:       decString(m.ReserveFactor),
		ProtocolFeeRate:     decString(m.ProtocolFeeRate),
		InitialExchangeRate: decString(m.InitialExchangeRate),
		ProtocolSeizeRate:   decString(m.ProtocolSeizeRate),
		PlatformSeizeRate:   decString(m.PlatformSeizeRate),
	}
}

// PositionResult is one holder's stake in one market.
type PositionResult struct {
	Asset         string `json:"asset"`
	Address       string `json:"address"`
	Shares        string `json:"shares"`
	ShareValue    string `json:"shareValue"`
	BorrowBalance string `json:"borrowBalance"`
}

// AllowanceResult renders a grant; exactly one of unlimited or amount is
// meaningful.
type AllowanceResult struct {
	Unlimited bool   `json:"unlimited,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

func allowanceResultFrom(grant market.Allowance) AllowanceResult {
	if grant.IsUnlimited() {
		return AllowanceResult{Unlimited: true}
	}
	return AllowanceResult{Amount: decString(grant.Amount())}
}

// MintTxResult reports a completed deposit.
type MintTxResult struct {
	Asset    string `json:"asset"`
	Received string `json:"received"`
	Shares   string `json:"shares"`
}

// RedeemTxResult reports a completed withdrawal.
type RedeemTxResult struct {
	Asset   string `json:"asset"`
	Shares  string `json:"shares"`
	PaidOut string `json:"paidOut"`
}

// BorrowTxResult reports a completed draw-down.
type BorrowTxResult struct {
	Asset        string `json:"asset"`
	Borrowed     string `json:"borrowed"`
	NewPrincipal string `json:"newPrincipal"`
}

// RepayTxResult reports a completed repayment.
type RepayTxResult struct {
	Asset        string `json:"asset"`
	Repaid       string `json:"repaid"`
	NewPrincipal string `json:"newPrincipal"`
}

// SeizeTxResult reports the collateral-side split of a liquidation.
type SeizeTxResult struct {
	Asset            string `json:"asset"`
	SeizedShares     string `json:"seizedShares"`
	LiquidatorShares string `json:"liquidatorShares"`
	ProtocolShares   string `json:"protocolShares"`
	PlatformShares   string `json:"platformShares"`
}

// LiquidateTxResult reports a full liquidation across both markets.
type LiquidateTxResult struct {
	DebtAsset       string        `json:"debtAsset"`
	CollateralAsset string        `json:"collateralAsset"`
	Repaid          string        `json:"repaid"`
	Seize           SeizeTxResult `json:"seize"`
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// parseAmount decodes a positive decimal amount string.
func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", trimmed)
	}
	return value, nil
}

// parseRepayAmount decodes either an exact decimal amount or the "max"
// sentinel selecting full repayment.
func parseRepayAmount(raw string) (market.RepayAmount, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "max") {
		return market.RepayFull(), nil
	}
	value, err := parseAmount(trimmed)
	if err != nil {
		return market.RepayAmount{}, err
	}
	return market.RepayExact(value), nil
}

// parseGrant decodes an allowance grant: "unlimited" or a decimal bound.
// A zero bound revokes the grant.
func parseGrant(raw string) (market.Allowance, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "unlimited") {
		return market.UnlimitedAllowance(), nil
	}
	if trimmed == "" {
		return market.Allowance{}, fmt.Errorf("amount required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return market.Allowance{}, fmt.Errorf("invalid amount %q", trimmed)
	}
	return market.BoundedAllowance(value), nil
}
