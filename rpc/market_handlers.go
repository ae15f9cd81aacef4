package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"alcove/crypto"
	"alcove/native/market"
)

type assetParams struct {
	Asset string `json:"asset"`
}

type accountParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

type allowanceParams struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type previewParams struct {
	Asset  string `json:"asset"`
	Assets string `json:"assets,omitempty"`
	Shares string `json:"shares,omitempty"`
}

type exchangeRateResult struct {
	Asset   string `json:"asset"`
	Stored  string `json:"stored"`
	Current string `json:"current"`
}

type cashResult struct {
	Asset       string `json:"asset"`
	Cash        string `json:"cash"`
	TotalAssets string `json:"totalAssets"`
}

type borrowBalanceResult struct {
	Asset    string `json:"asset"`
	Borrower string `json:"borrower"`
	Stored   string `json:"stored"`
	Current  string `json:"current"`
}

type previewsResult struct {
	Asset          string `json:"asset"`
	ExchangeRate   string `json:"exchangeRate"`
	MaxDeposit     string `json:"maxDeposit"`
	MaxMint        string `json:"maxMint"`
	DepositShares  string `json:"depositShares,omitempty"`
	WithdrawShares string `json:"withdrawShares,omitempty"`
	MintAssets     string `json:"mintAssets,omitempty"`
	RedeemAssets   string `json:"redeemAssets,omitempty"`
}

type allowancesResult struct {
	Asset   string          `json:"asset"`
	Owner   string          `json:"owner"`
	Spender string          `json:"spender"`
	Shares  AllowanceResult `json:"shares"`
	Borrow  AllowanceResult `json:"borrow"`
}

type balanceResult struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// assetParam accepts either a bare string or an {"asset": ...} object.
func (s *Server) assetParam(w http.ResponseWriter, req *RPCRequest) (string, *RPCError) {
	if len(req.Params) != 1 {
		return "", writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected asset parameter", nil)
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		if trimmed := strings.TrimSpace(direct); trimmed != "" {
			return trimmed, nil
		}
		return "", writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
	}
	var wrapped assetParams
	if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
		return "", writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset parameter", err.Error())
	}
	if trimmed := strings.TrimSpace(wrapped.Asset); trimmed != "" {
		return trimmed, nil
	}
	return "", writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
}

func (s *Server) accountParam(w http.ResponseWriter, req *RPCRequest) (string, crypto.Address, *RPCError) {
	if len(req.Params) != 1 {
		return "", crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
	}
	var params accountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return "", crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		return "", crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(params.Address))
	if err != nil {
		return "", crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
	}
	return asset, addr, nil
}

func (s *Server) handleMarketList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	if len(req.Params) != 0 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
	}
	var assets []string
	err := s.node.View(func(l *market.Ledger) error {
		listed, err := l.ListMarkets()
		if err != nil {
			return err
		}
		assets = listed
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	if assets == nil {
		assets = []string{}
	}
	return writeResult(w, req.ID, assets)
}

func (s *Server) handleMarketGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, rpcErr := s.assetParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var result MarketResult
	err := s.node.View(func(l *market.Ledger) error {
		m, err := l.GetMarket(asset)
		if err != nil {
			return err
		}
		rate, err := l.ExchangeRateStored(asset)
		if err != nil {
			return err
		}
		cash, err := l.Cash(asset)
		if err != nil {
			return err
		}
		result = marketResultFrom(m, rate, cash)
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, addr, rpcErr := s.accountParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var result PositionResult
	err := s.node.View(func(l *market.Ledger) error {
		shares, err := l.ShareBalance(asset, addr)
		if err != nil {
			return err
		}
		value, err := l.BalanceOfUnderlying(asset, addr)
		if err != nil {
			return err
		}
		debt, err := l.BorrowBalanceStored(asset, addr)
		if err != nil {
			return err
		}
		result = PositionResult{
			Asset:         market.NormalizeAsset(asset),
			Address:       addr.String(),
			Shares:        decString(shares),
			ShareValue:    decString(value),
			BorrowBalance: decString(debt),
		}
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketExchangeRate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, rpcErr := s.assetParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var result exchangeRateResult
	err := s.node.View(func(l *market.Ledger) error {
		stored, err := l.ExchangeRateStored(asset)
		if err != nil {
			return err
		}
		// Current stages an accrual inside the view; the node discards it.
		current, err := l.ExchangeRateCurrent(asset)
		if err != nil {
			return err
		}
		result = exchangeRateResult{
			Asset:   market.NormalizeAsset(asset),
			Stored:  decString(stored),
			Current: decString(current),
		}
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketCash(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, rpcErr := s.assetParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var result cashResult
	err := s.node.View(func(l *market.Ledger) error {
		cash, err := l.Cash(asset)
		if err != nil {
			return err
		}
		total, err := l.TotalAssets(asset)
		if err != nil {
			return err
		}
		result = cashResult{
			Asset:       market.NormalizeAsset(asset),
			Cash:        decString(cash),
			TotalAssets: decString(total),
		}
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketBorrowBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, addr, rpcErr := s.accountParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var result borrowBalanceResult
	err := s.node.View(func(l *market.Ledger) error {
		stored, err := l.BorrowBalanceStored(asset, addr)
		if err != nil {
			return err
		}
		current, err := l.BorrowBalanceCurrent(asset, addr)
		if err != nil {
			return err
		}
		result = borrowBalanceResult{
			Asset:    market.NormalizeAsset(asset),
			Borrower: addr.String(),
			Stored:   decString(stored),
			Current:  decString(current),
		}
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketPreviews(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	if len(req.Params) != 1 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
	}
	var params previewParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
	}
	var assets, shares *uint256.Int
	if strings.TrimSpace(params.Assets) != "" {
		parsed, err := parseAmount(params.Assets)
		if err != nil {
			return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		}
		assets = parsed
	}
	if strings.TrimSpace(params.Shares) != "" {
		parsed, err := parseAmount(params.Shares)
		if err != nil {
			return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		}
		shares = parsed
	}

	var result previewsResult
	err := s.node.View(func(l *market.Ledger) error {
		rate, err := l.ExchangeRateStored(asset)
		if err != nil {
			return err
		}
		maxDeposit, err := l.MaxDeposit(asset)
		if err != nil {
			return err
		}
		maxMint, err := l.MaxMint(asset)
		if err != nil {
			return err
		}
		result = previewsResult{
			Asset:        market.NormalizeAsset(asset),
			ExchangeRate: decString(rate),
			MaxDeposit:   decString(maxDeposit),
			MaxMint:      decString(maxMint),
		}
		if assets != nil {
			deposit, err := l.PreviewDeposit(asset, assets)
			if err != nil {
				return err
			}
			withdraw, err := l.PreviewWithdraw(asset, assets)
			if err != nil {
				return err
			}
			result.DepositShares = decString(deposit)
			result.WithdrawShares = decString(withdraw)
		}
		if shares != nil {
			mint, err := l.PreviewMint(asset, shares)
			if err != nil {
				return err
			}
			redeem, err := l.PreviewRedeem(asset, shares)
			if err != nil {
				return err
			}
			result.MintAssets = decString(mint)
			result.RedeemAssets = decString(redeem)
		}
		return nil
	})
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	if len(req.Params) != 1 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
	}
	var params allowanceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
	}
	owner, err := crypto.DecodeAddress(strings.TrimSpace(params.Owner))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
	}
	spender, err := crypto.DecodeAddress(strings.TrimSpace(params.Spender))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender", err.Error())
	}
	var result allowancesResult
	viewErr := s.node.View(func(l *market.Ledger) error {
		sharesGrant, err := l.ShareAllowance(asset, owner, spender)
		if err != nil {
			return err
		}
		borrowGrant, err := l.BorrowAllowance(asset, owner, spender)
		if err != nil {
			return err
		}
		result = allowancesResult{
			Asset:   market.NormalizeAsset(asset),
			Owner:   owner.String(),
			Spender: spender.String(),
			Shares:  allowanceResultFrom(sharesGrant),
			Borrow:  allowanceResultFrom(borrowGrant),
		}
		return nil
	})
	if viewErr != nil {
		return ledgerError(w, req.ID, viewErr)
	}
	return writeResult(w, req.ID, result)
}

func (s *Server) handleMarketBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, addr, rpcErr := s.accountParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	balance, err := s.node.Balance(asset, addr)
	if err != nil {
		return ledgerError(w, req.ID, err)
	}
	return writeResult(w, req.ID, balanceResult{
		Asset:   market.NormalizeAsset(asset),
		Address: addr.String(),
		Balance: decString(balance),
	})
}
