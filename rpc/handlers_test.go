package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"

	"alcove/core"
	"alcove/crypto"
	"alcove/native/market"
	"alcove/native/risk"
	"alcove/storage"
)

const testToken = "rpc-test-token"

func rpcAddress(suffix byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x52
	raw[crypto.AddressLength-1] = suffix
	return crypto.Address(raw)
}

var (
	rpcAdmin = rpcAddress(0xAD)
	alice    = rpcAddress(1)
	bob      = rpcAddress(2)
)

func newHandlerServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := core.NewNode(db, core.Config{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() uint64 { return 1_700_000_000 })
	node.Configure(func(l *market.Ledger) {
		l.SetAdmin(rpcAdmin)
		l.RegisterRateModel("fixed-zero", market.NewFixedRateModel(new(uint256.Int)))
	})
	return NewServer(node, ServerConfig{AuthToken: testToken}), node
}

func call(t *testing.T, s *Server, token, method string, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		raw = append(raw, encoded)
	}
	payload, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.RemoteAddr = "127.0.0.1:52000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handle(recorder, req)
	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return recorder, resp
}

func mustResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func listUSDQ(t *testing.T, s *Server) {
	t.Helper()
	_, resp := call(t, s, testToken, "admin_listMarket", listMarketParams{
		Caller:              rpcAdmin.String(),
		Asset:               "USDQ",
		RateModel:           "fixed-zero",
		InitialExchangeRate: "200000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("list market: %d %s", resp.Error.Code, resp.Error.Message)
	}
}

func fundOverRPC(t *testing.T, s *Server, addr crypto.Address, amount string) {
	t.Helper()
	_, resp := call(t, s, testToken, "admin_fund", fundParams{Asset: "USDQ", To: addr.String(), Amount: amount})
	if resp.Error != nil {
		t.Fatalf("fund: %d %s", resp.Error.Code, resp.Error.Message)
	}
}

func mintOverRPC(t *testing.T, s *Server, payer crypto.Address, amount string) MintTxResult {
	t.Helper()
	_, resp := call(t, s, testToken, "market_mint", mintParams{
		Asset:  "USDQ",
		Payer:  payer.String(),
		Amount: amount,
	})
	var result MintTxResult
	mustResult(t, resp, &result)
	return result
}

func TestMintRedeemRoundTripOverRPC(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)
	fundOverRPC(t, server, alice, "1000000000000000000000")

	minted := mintOverRPC(t, server, alice, "1000000000000000000000")
	if minted.Shares != "5000000000000000000000" {
		t.Fatalf("minted shares: %s", minted.Shares)
	}
	if minted.Received != "1000000000000000000000" {
		t.Fatalf("received: %s", minted.Received)
	}

	_, resp := call(t, server, "", "market_get", "USDQ")
	var m MarketResult
	mustResult(t, resp, &m)
	if m.TotalShares != "5000000000000000000000" {
		t.Fatalf("total shares: %s", m.TotalShares)
	}
	if m.Cash != "1000000000000000000000" {
		t.Fatalf("cash: %s", m.Cash)
	}
	if m.ExchangeRate != "200000000000000000" {
		t.Fatalf("exchange rate: %s", m.ExchangeRate)
	}

	_, resp = call(t, server, "", "market_position", accountParams{Asset: "USDQ", Address: alice.String()})
	var pos PositionResult
	mustResult(t, resp, &pos)
	if pos.Shares != "5000000000000000000000" {
		t.Fatalf("position shares: %s", pos.Shares)
	}
	if pos.ShareValue != "1000000000000000000000" {
		t.Fatalf("share value: %s", pos.ShareValue)
	}
	if pos.BorrowBalance != "0" {
		t.Fatalf("borrow balance: %s", pos.BorrowBalance)
	}

	_, resp = call(t, server, testToken, "market_redeem", redeemParams{
		Asset:  "USDQ",
		Caller: alice.String(),
		Shares: "1000000000000000000000",
	})
	var redeemed RedeemTxResult
	mustResult(t, resp, &redeemed)
	if redeemed.PaidOut != "200000000000000000000" {
		t.Fatalf("paid out: %s", redeemed.PaidOut)
	}

	_, resp = call(t, server, "", "market_balance", accountParams{Asset: "USDQ", Address: alice.String()})
	var bal balanceResult
	mustResult(t, resp, &bal)
	if bal.Balance != "200000000000000000000" {
		t.Fatalf("alice balance: %s", bal.Balance)
	}
}

func TestRedeemUnderlyingOverRPC(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)
	fundOverRPC(t, server, alice, "100000000000000000000")
	mintOverRPC(t, server, alice, "100000000000000000000")

	_, resp := call(t, server, testToken, "market_redeemUnderlying", redeemParams{
		Asset:  "USDQ",
		Caller: alice.String(),
		Amount: "40000000000000000000",
	})
	var redeemed RedeemTxResult
	mustResult(t, resp, &redeemed)
	if redeemed.PaidOut != "40000000000000000000" {
		t.Fatalf("paid out: %s", redeemed.PaidOut)
	}
	if redeemed.Shares != "200000000000000000000" {
		t.Fatalf("burned shares: %s", redeemed.Shares)
	}
}

func TestBorrowRepayMaxOverRPC(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)
	fundOverRPC(t, server, alice, "1000000000000000000000")
	mintOverRPC(t, server, alice, "1000000000000000000000")

	_, resp := call(t, server, testToken, "market_borrow", borrowParams{
		Asset:  "USDQ",
		Caller: bob.String(),
		Amount: "100000000000000000000",
	})
	var borrowed BorrowTxResult
	mustResult(t, resp, &borrowed)
	if borrowed.Borrowed != "100000000000000000000" || borrowed.NewPrincipal != "100000000000000000000" {
		t.Fatalf("borrow result: %+v", borrowed)
	}

	_, resp = call(t, server, "", "market_borrowBalance", accountParams{Asset: "USDQ", Address: bob.String()})
	var debt borrowBalanceResult
	mustResult(t, resp, &debt)
	if debt.Stored != "100000000000000000000" || debt.Current != "100000000000000000000" {
		t.Fatalf("borrow balance: %+v", debt)
	}

	_, resp = call(t, server, testToken, "market_repay", repayParams{
		Asset:  "USDQ",
		Payer:  bob.String(),
		Amount: "max",
	})
	var repaid RepayTxResult
	mustResult(t, resp, &repaid)
	if repaid.Repaid != "100000000000000000000" {
		t.Fatalf("repaid: %s", repaid.Repaid)
	}
	if repaid.NewPrincipal != "0" {
		t.Fatalf("principal after max repay: %s", repaid.NewPrincipal)
	}

	_, resp = call(t, server, "", "market_balance", accountParams{Asset: "USDQ", Address: bob.String()})
	var bal balanceResult
	mustResult(t, resp, &bal)
	if bal.Balance != "0" {
		t.Fatalf("bob balance after repay: %s", bal.Balance)
	}
}

func TestTransferAndApproveFlowOverRPC(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)
	fundOverRPC(t, server, alice, "100000000000000000000")
	mintOverRPC(t, server, alice, "100000000000000000000")

	_, resp := call(t, server, testToken, "market_transfer", transferParams{
		Asset:  "USDQ",
		Caller: alice.String(),
		To:     bob.String(),
		Shares: "200000000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("transfer: %+v", resp.Error)
	}

	_, resp = call(t, server, testToken, "market_approveShares", approveParams{
		Asset:   "USDQ",
		Owner:   alice.String(),
		Spender: bob.String(),
		Amount:  "100000000000000000000",
	})
	var approved approveResult
	mustResult(t, resp, &approved)
	if approved.Kind != "shares" || approved.Grant.Amount != "100000000000000000000" {
		t.Fatalf("approve result: %+v", approved)
	}

	// Bob spends the whole grant moving Alice's shares to himself.
	_, resp = call(t, server, testToken, "market_transfer", transferParams{
		Asset:  "USDQ",
		Caller: bob.String(),
		Owner:  alice.String(),
		To:     bob.String(),
		Shares: "100000000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("transfer from: %+v", resp.Error)
	}

	_, resp = call(t, server, "", "market_allowance", allowanceParams{
		Asset:   "USDQ",
		Owner:   alice.String(),
		Spender: bob.String(),
	})
	var grants allowancesResult
	mustResult(t, resp, &grants)
	if grants.Shares.Unlimited || grants.Shares.Amount != "0" {
		t.Fatalf("share allowance after spend: %+v", grants.Shares)
	}

	_, resp = call(t, server, "", "market_position", accountParams{Asset: "USDQ", Address: bob.String()})
	var pos PositionResult
	mustResult(t, resp, &pos)
	if pos.Shares != "300000000000000000000" {
		t.Fatalf("bob shares: %s", pos.Shares)
	}

	_, resp = call(t, server, testToken, "market_approveBorrow", approveParams{
		Asset:   "USDQ",
		Owner:   alice.String(),
		Spender: bob.String(),
		Amount:  "unlimited",
	})
	mustResult(t, resp, &approved)
	if approved.Kind != "borrow" || !approved.Grant.Unlimited {
		t.Fatalf("unlimited grant: %+v", approved)
	}
}

func TestPreviewsAndExchangeRateOverRPC(t *testing.T) {
	server, node := newHandlerServer(t)
	listUSDQ(t, server)

	gate := risk.NewGate(risk.StaticPrices{})
	node.SetGate(gate)
	_, resp := call(t, server, testToken, "admin_setLimits", setLimitsParams{
		Asset:     "USDQ",
		SupplyCap: "400000000000000000000",
	})
	var ack ackResult
	mustResult(t, resp, &ack)
	if !ack.OK {
		t.Fatalf("set limits not acknowledged")
	}

	_, resp = call(t, server, "", "market_previews", previewParams{
		Asset:  "USDQ",
		Assets: "100000000000000000000",
		Shares: "100000000000000000000",
	})
	var previews previewsResult
	mustResult(t, resp, &previews)
	if previews.MaxDeposit != "400000000000000000000" {
		t.Fatalf("max deposit under cap: %s", previews.MaxDeposit)
	}
	if previews.DepositShares != "500000000000000000000" {
		t.Fatalf("deposit shares: %s", previews.DepositShares)
	}
	if previews.WithdrawShares != "500000000000000000000" {
		t.Fatalf("withdraw shares: %s", previews.WithdrawShares)
	}
	if previews.MintAssets != "20000000000000000000" {
		t.Fatalf("mint assets: %s", previews.MintAssets)
	}
	if previews.RedeemAssets != "20000000000000000000" {
		t.Fatalf("redeem assets: %s", previews.RedeemAssets)
	}

	_, resp = call(t, server, "", "market_exchangeRate", assetParams{Asset: "USDQ"})
	var rate exchangeRateResult
	mustResult(t, resp, &rate)
	if rate.Stored != "200000000000000000" || rate.Current != "200000000000000000" {
		t.Fatalf("exchange rate: %+v", rate)
	}

	_, resp = call(t, server, "", "market_cash", "USDQ")
	var cash cashResult
	mustResult(t, resp, &cash)
	if cash.Cash != "0" || cash.TotalAssets != "0" {
		t.Fatalf("cash on empty market: %+v", cash)
	}
}

func TestAccrueAdvancesTimestampOverRPC(t *testing.T) {
	server, node := newHandlerServer(t)
	now := uint64(1_700_000_000)
	node.SetNowFunc(func() uint64 { return now })
	listUSDQ(t, server)

	now += 3600
	_, resp := call(t, server, testToken, "market_accrue", assetParams{Asset: "USDQ"})
	var accrued accrueResult
	mustResult(t, resp, &accrued)
	if accrued.AccrualTime != 1_700_003_600 {
		t.Fatalf("accrual time: %d", accrued.AccrualTime)
	}
	if accrued.BorrowIndex != "1000000000000000000" {
		t.Fatalf("borrow index moved with zero rate: %s", accrued.BorrowIndex)
	}
	if accrued.TotalBorrows != "0" {
		t.Fatalf("total borrows: %s", accrued.TotalBorrows)
	}
}

func TestMarketGetUnknownAssetNotFound(t *testing.T) {
	server, _ := newHandlerServer(t)
	recorder, resp := call(t, server, "", "market_get", "GHOST")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("expected server error code, got %+v", resp.Error)
	}
	if resp.Error.Message != "market not listed" {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestUnfundedMintMapsToTransferFailure(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)

	recorder, resp := call(t, server, testToken, "market_mint", mintParams{
		Asset:  "USDQ",
		Payer:  alice.String(),
		Amount: "1000000000000000000",
	})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Message != "asset transfer failed" {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
}

func TestPausedMintMapsToPolicyRejection(t *testing.T) {
	server, node := newHandlerServer(t)
	listUSDQ(t, server)
	gate := risk.NewGate(risk.StaticPrices{})
	gate.ListAsset("USDQ", risk.AssetLimits{})
	node.SetGate(gate)
	fundOverRPC(t, server, alice, "1000000000000000000")

	_, resp := call(t, server, testToken, "admin_setPauses", setPausesParams{Mint: true})
	var ack ackResult
	mustResult(t, resp, &ack)

	recorder, resp := call(t, server, testToken, "market_mint", mintParams{
		Asset:  "USDQ",
		Payer:  alice.String(),
		Amount: "1000000000000000000",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codePolicyRejected {
		t.Fatalf("expected policy rejection, got %+v", resp.Error)
	}
	if resp.Error.Message != "transition rejected" {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestAdminCallerMustHoldLedgerAdminRole(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)

	recorder, resp := call(t, server, testToken, "admin_setReserveFactor", setMantissaParams{
		Caller:   alice.String(),
		Asset:    "USDQ",
		Mantissa: "100000000000000000",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}
	if resp.Error.Message != "caller lacks required capability" {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestAdminTuningOverRPC(t *testing.T) {
	server, node := newHandlerServer(t)
	node.Configure(func(l *market.Ledger) {
		l.RegisterRateModel("steady", market.NewFixedRateModel(uint256.NewInt(1_000_000)))
	})
	listUSDQ(t, server)

	var ack ackResult
	_, resp := call(t, server, testToken, "admin_setReserveFactor", setMantissaParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Mantissa: "100000000000000000",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, testToken, "admin_setProtocolFeeRate", setMantissaParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Mantissa: "50000000000000000",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, testToken, "admin_setSeizeRates", setSeizeRatesParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Protocol: "20000000000000000", Platform: "10000000000000000",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, testToken, "admin_setRateModel", setRateModelParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Name: "steady",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, "", "market_get", "USDQ")
	var m MarketResult
	mustResult(t, resp, &m)
	if m.ReserveFactor != "100000000000000000" {
		t.Fatalf("reserve factor: %s", m.ReserveFactor)
	}
	if m.ProtocolFeeRate != "50000000000000000" {
		t.Fatalf("protocol fee rate: %s", m.ProtocolFeeRate)
	}
	if m.ProtocolSeizeRate != "20000000000000000" || m.PlatformSeizeRate != "10000000000000000" {
		t.Fatalf("seize rates: %s %s", m.ProtocolSeizeRate, m.PlatformSeizeRate)
	}
	if m.RateModel != "steady" {
		t.Fatalf("rate model: %s", m.RateModel)
	}
}

// nullVault satisfies the vault interface without holding anything; the
// attach and detach paths only move funds when the market has cash.
type nullVault struct{}

func (nullVault) Deposit(string, *uint256.Int) error  { return nil }
func (nullVault) Withdraw(string, *uint256.Int) error { return nil }
func (nullVault) RedeemAll(string) (*uint256.Int, error) {
	return new(uint256.Int), nil
}
func (nullVault) BalanceOfUnderlying(string) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func TestAdminVaultLifecycleOverRPC(t *testing.T) {
	server, node := newHandlerServer(t)
	node.Configure(func(l *market.Ledger) {
		l.RegisterVault("treasury", nullVault{})
	})
	listUSDQ(t, server)

	var ack ackResult
	_, resp := call(t, server, testToken, "admin_setVault", vaultParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Vault: "treasury",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, "", "market_get", "USDQ")
	var m MarketResult
	mustResult(t, resp, &m)
	if m.Vault != "treasury" {
		t.Fatalf("vault after attach: %q", m.Vault)
	}

	_, resp = call(t, server, testToken, "admin_clearVault", vaultParams{
		Caller: rpcAdmin.String(), Asset: "USDQ",
	})
	mustResult(t, resp, &ack)

	_, resp = call(t, server, "", "market_get", "USDQ")
	mustResult(t, resp, &m)
	if m.Vault != "" {
		t.Fatalf("vault after detach: %q", m.Vault)
	}

	_, resp = call(t, server, testToken, "admin_setVault", vaultParams{
		Caller: rpcAdmin.String(), Asset: "USDQ", Vault: "",
	})
	if resp.Error == nil || resp.Error.Message != "vault required" {
		t.Fatalf("empty vault name should be rejected, got %+v", resp.Error)
	}
}

func TestMarketListReflectsListings(t *testing.T) {
	server, _ := newHandlerServer(t)
	listUSDQ(t, server)
	_, resp := call(t, server, testToken, "admin_listMarket", listMarketParams{
		Caller:              rpcAdmin.String(),
		Asset:               "EURQ",
		RateModel:           "fixed-zero",
		InitialExchangeRate: "200000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("list EURQ: %+v", resp.Error)
	}

	_, resp = call(t, server, "", "market_list")
	var assets []string
	mustResult(t, resp, &assets)
	if len(assets) != 2 {
		t.Fatalf("expected 2 markets, got %v", assets)
	}
	seen := map[string]bool{}
	for _, asset := range assets {
		seen[asset] = true
	}
	if !seen["USDQ"] || !seen["EURQ"] {
		t.Fatalf("listing missing a market: %v", assets)
	}
}

func TestListMarketSeedsGateLimits(t *testing.T) {
	server, node := newHandlerServer(t)
	gate := risk.NewGate(risk.StaticPrices{})
	node.SetGate(gate)

	_, resp := call(t, server, testToken, "admin_listMarket", listMarketParams{
		Caller:              rpcAdmin.String(),
		Asset:               "USDQ",
		RateModel:           "fixed-zero",
		InitialExchangeRate: "200000000000000000",
		SupplyCap:           "250000000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("list market: %+v", resp.Error)
	}

	_, resp = call(t, server, "", "market_previews", previewParams{Asset: "USDQ"})
	var previews previewsResult
	mustResult(t, resp, &previews)
	if previews.MaxDeposit != "250000000000000000000" {
		t.Fatalf("listing did not seed the gate cap: %s", previews.MaxDeposit)
	}
}

func TestWithdrawPlatformFeesDefaultsToConfiguredRecipient(t *testing.T) {
	_, node := newHandlerServer(t)
	feeSink := rpcAddress(0xFE)
	server := NewServer(node, ServerConfig{AuthToken: testToken, PlatformFeeRecipient: feeSink})
	now := uint64(1_700_000_000)
	node.SetNowFunc(func() uint64 { return now })
	node.Configure(func(l *market.Ledger) {
		l.RegisterRateModel("drip", market.NewFixedRateModel(uint256.NewInt(1_000_000_000)))
		l.SetFeeRegistry(market.StaticFeeRegistry{Rate: uint256.NewInt(100_000_000_000_000_000)})
	})

	_, resp := call(t, server, testToken, "admin_listMarket", listMarketParams{
		Caller:              rpcAdmin.String(),
		Asset:               "USDQ",
		RateModel:           "drip",
		InitialExchangeRate: "200000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("list market: %+v", resp.Error)
	}
	fundOverRPC(t, server, alice, "1000000000000000000000")
	mintOverRPC(t, server, alice, "1000000000000000000000")
	_, resp = call(t, server, testToken, "market_borrow", borrowParams{
		Asset:  "USDQ",
		Caller: bob.String(),
		Amount: "100000000000000000000",
	})
	if resp.Error != nil {
		t.Fatalf("borrow: %+v", resp.Error)
	}

	// 1e9 per second over 1000 seconds against 100e18 of borrows accrues
	// 1e14 of interest; the 10% platform cut books exactly 1e13.
	now += 1000
	_, resp = call(t, server, testToken, "market_accrue", assetParams{Asset: "USDQ"})
	var accrued accrueResult
	mustResult(t, resp, &accrued)
	if accrued.TotalBorrows != "100000100000000000000" {
		t.Fatalf("total borrows after accrual: %s", accrued.TotalBorrows)
	}
	if accrued.BorrowIndex != "1000001000000000000" {
		t.Fatalf("borrow index after accrual: %s", accrued.BorrowIndex)
	}

	_, resp = call(t, server, "", "market_get", "USDQ")
	var m MarketResult
	mustResult(t, resp, &m)
	if m.TotalPlatformFees != "10000000000000" {
		t.Fatalf("platform fee bucket: %s", m.TotalPlatformFees)
	}

	_, resp = call(t, server, testToken, "admin_withdrawPlatformFees", withdrawParams{
		Caller: rpcAdmin.String(),
		Asset:  "USDQ",
		Amount: "10000000000000",
	})
	var ack ackResult
	mustResult(t, resp, &ack)
	if !ack.OK {
		t.Fatalf("withdraw not acknowledged")
	}

	_, resp = call(t, server, "", "market_balance", accountParams{Asset: "USDQ", Address: feeSink.String()})
	var bal balanceResult
	mustResult(t, resp, &bal)
	if bal.Balance != "10000000000000" {
		t.Fatalf("fee recipient balance: %s", bal.Balance)
	}

	_, resp = call(t, server, "", "market_get", "USDQ")
	mustResult(t, resp, &m)
	if m.TotalPlatformFees != "0" {
		t.Fatalf("platform fee bucket after withdrawal: %s", m.TotalPlatformFees)
	}
}
