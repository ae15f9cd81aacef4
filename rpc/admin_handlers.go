package rpc

import (
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
	"alcove/native/risk"
)

type listMarketParams struct {
	Caller              string `json:"caller"`
	Asset               string `json:"asset"`
	RateModel           string `json:"rateModel"`
	InitialExchangeRate string `json:"initialExchangeRate,omitempty"`
	ReserveFactor       string `json:"reserveFactor,omitempty"`
	ProtocolFeeRate     string `json:"protocolFeeRate,omitempty"`
	ProtocolSeizeRate   string `json:"protocolSeizeRate,omitempty"`
	PlatformSeizeRate   string `json:"platformSeizeRate,omitempty"`
	SupplyCap           string `json:"supplyCap,omitempty"`
	BorrowCap           string `json:"borrowCap,omitempty"`
	MinBorrow           string `json:"minBorrow,omitempty"`
	CollateralFactor    string `json:"collateralFactor,omitempty"`
}

type setRateModelParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Name   string `json:"name"`
}

type setMantissaParams struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Mantissa string `json:"mantissa"`
}

type setSeizeRatesParams struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Protocol string `json:"protocol"`
	Platform string `json:"platform"`
}

type setLimitsParams struct {
	Asset            string `json:"asset"`
	SupplyCap        string `json:"supplyCap,omitempty"`
	BorrowCap        string `json:"borrowCap,omitempty"`
	MinBorrow        string `json:"minBorrow,omitempty"`
	CollateralFactor string `json:"collateralFactor,omitempty"`
}

type setPausesParams struct {
	Mint      bool `json:"mint"`
	Redeem    bool `json:"redeem"`
	Borrow    bool `json:"borrow"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
	Seize     bool `json:"seize"`
	Transfer  bool `json:"transfer"`
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

type vaultParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Vault  string `json:"vault,omitempty"`
}

type fundParams struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

// parseOptionalMantissa decodes a decimal field, mapping absence to nil so
// ledger defaults apply.
func parseOptionalMantissa(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	return parseAmount(trimmed)
}

func (s *Server) handleAdminListMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params listMarketParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	cfg := market.ListingConfig{
		Asset:     params.Asset,
		RateModel: strings.TrimSpace(params.RateModel),
	}
	for _, field := range []struct {
		raw  string
		dest **uint256.Int
		name string
	}{
		{params.InitialExchangeRate, &cfg.InitialExchangeRate, "initialExchangeRate"},
		{params.ReserveFactor, &cfg.ReserveFactor, "reserveFactor"},
		{params.ProtocolFeeRate, &cfg.ProtocolFeeRate, "protocolFeeRate"},
		{params.ProtocolSeizeRate, &cfg.ProtocolSeizeRate, "protocolSeizeRate"},
		{params.PlatformSeizeRate, &cfg.PlatformSeizeRate, "platformSeizeRate"},
	} {
		value, err := parseOptionalMantissa(field.raw)
		if err != nil {
			return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid "+field.name, err.Error())
		}
		*field.dest = value
	}
	limits, rpcErr := s.parseAssetLimits(w, req, params.SupplyCap, params.BorrowCap, params.MinBorrow, params.CollateralFactor)
	if rpcErr != nil {
		return rpcErr
	}

	var listed *market.Market
	updateErr := s.node.Update("list_market", params.Asset, func(l *market.Ledger) error {
		m, err := l.ListMarket(caller, cfg)
		if err != nil {
			return err
		}
		listed = m
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	if gate := s.node.Gate(); gate != nil {
		gate.ListAsset(listed.Asset, limits)
	}
	rate := listed.InitialExchangeRate
	return writeResult(w, req.ID, marketResultFrom(listed, rate, new(uint256.Int)))
}

func (s *Server) parseAssetLimits(w http.ResponseWriter, req *RPCRequest, supplyCap, borrowCap, minBorrow, collateralFactor string) (risk.AssetLimits, *RPCError) {
	var limits risk.AssetLimits
	for _, field := range []struct {
		raw  string
		dest **uint256.Int
		name string
	}{
		{supplyCap, &limits.SupplyCap, "supplyCap"},
		{borrowCap, &limits.BorrowCap, "borrowCap"},
		{minBorrow, &limits.MinBorrow, "minBorrow"},
		{collateralFactor, &limits.CollateralFactor, "collateralFactor"},
	} {
		value, err := parseOptionalMantissa(field.raw)
		if err != nil {
			return risk.AssetLimits{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid "+field.name, err.Error())
		}
		*field.dest = value
	}
	return limits, nil
}

func (s *Server) handleAdminSetRateModel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params setRateModelParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	updateErr := s.node.Update("set_rate_model", params.Asset, func(l *market.Ledger) error {
		return l.SetRateModel(caller, params.Asset, strings.TrimSpace(params.Name))
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminSetReserveFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.mantissaAdmin(w, req, "set_reserve_factor", func(l *market.Ledger, caller crypto.Address, asset string, mantissa *uint256.Int) error {
		return l.SetReserveFactor(caller, asset, mantissa)
	})
}

func (s *Server) handleAdminSetProtocolFeeRate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.mantissaAdmin(w, req, "set_protocol_fee_rate", func(l *market.Ledger, caller crypto.Address, asset string, mantissa *uint256.Int) error {
		return l.SetProtocolFeeRate(caller, asset, mantissa)
	})
}

func (s *Server) mantissaAdmin(w http.ResponseWriter, req *RPCRequest, op string, fn func(*market.Ledger, crypto.Address, string, *uint256.Int) error) *RPCError {
	var params setMantissaParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	mantissa, err := parseOptionalMantissa(params.Mantissa)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid mantissa", err.Error())
	}
	updateErr := s.node.Update(op, params.Asset, func(l *market.Ledger) error {
		return fn(l, caller, params.Asset, mantissa)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminSetSeizeRates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params setSeizeRatesParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	protocol, err := parseOptionalMantissa(params.Protocol)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid protocol rate", err.Error())
	}
	platform, err := parseOptionalMantissa(params.Platform)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid platform rate", err.Error())
	}
	updateErr := s.node.Update("set_seize_rates", params.Asset, func(l *market.Ledger) error {
		return l.SetSeizeRates(caller, params.Asset, protocol, platform)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminSetLimits(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params setLimitsParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
	}
	gate := s.node.Gate()
	if gate == nil {
		return writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "risk gate not configured", nil)
	}
	limits, rpcErr := s.parseAssetLimits(w, req, params.SupplyCap, params.BorrowCap, params.MinBorrow, params.CollateralFactor)
	if rpcErr != nil {
		return rpcErr
	}
	gate.ListAsset(asset, limits)
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminSetPauses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params setPausesParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	gate := s.node.Gate()
	if gate == nil {
		return writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "risk gate not configured", nil)
	}
	gate.SetPauses(risk.FlowPauses{
		Mint:      params.Mint,
		Redeem:    params.Redeem,
		Borrow:    params.Borrow,
		Repay:     params.Repay,
		Liquidate: params.Liquidate,
		Seize:     params.Seize,
		Transfer:  params.Transfer,
	})
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminReduceReserves(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.withdrawAdmin(w, req, "reduce_reserves", crypto.Address{}, func(l *market.Ledger, caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
		return l.ReduceReserves(caller, asset, to, amount)
	})
}

func (s *Server) handleAdminWithdrawProtocolFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.withdrawAdmin(w, req, "withdraw_protocol_fees", crypto.Address{}, func(l *market.Ledger, caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
		return l.WithdrawProtocolFees(caller, asset, to, amount)
	})
}

func (s *Server) handleAdminWithdrawPlatformFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.withdrawAdmin(w, req, "withdraw_platform_fees", s.feeRecipient, func(l *market.Ledger, caller crypto.Address, asset string, to crypto.Address, amount *uint256.Int) error {
		return l.WithdrawPlatformFees(caller, asset, to, amount)
	})
}

func (s *Server) withdrawAdmin(w http.ResponseWriter, req *RPCRequest, op string, fallbackTo crypto.Address, fn func(*market.Ledger, crypto.Address, string, crypto.Address, *uint256.Int) error) *RPCError {
	var params withdrawParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	to, err := optionalAddress(params.To, fallbackTo)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}
	updateErr := s.node.Update(op, params.Asset, func(l *market.Ledger) error {
		return fn(l, caller, params.Asset, to, amount)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminSetVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params vaultParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	vault := strings.TrimSpace(params.Vault)
	if vault == "" {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "vault required", nil)
	}
	updateErr := s.node.Update("set_vault", params.Asset, func(l *market.Ledger) error {
		return l.SetVault(caller, params.Asset, vault)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminClearVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params vaultParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	updateErr := s.node.Update("clear_vault", params.Asset, func(l *market.Ledger) error {
		return l.ClearVault(caller, params.Asset)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleAdminFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params fundParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	to, err := crypto.DecodeAddress(strings.TrimSpace(params.To))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}
	if err := s.node.Fund(params.Asset, to, amount); err != nil {
		return ledgerError(w, req.ID, err)
	}
	balance, err := s.node.Balance(params.Asset, to)
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, balanceResult{
		Asset:   market.NormalizeAsset(params.Asset),
		Address: to.String(),
		Balance: decString(balance),
	})
}
