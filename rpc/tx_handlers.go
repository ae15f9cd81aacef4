package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"alcove/crypto"
	"alcove/native/market"
)

type mintParams struct {
	Asset    string `json:"asset"`
	Payer    string `json:"payer"`
	Receiver string `json:"receiver,omitempty"`
	Amount   string `json:"amount"`
}

type redeemParams struct {
	Asset    string `json:"asset"`
	Caller   string `json:"caller"`
	Owner    string `json:"owner,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Shares   string `json:"shares,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

type borrowParams struct {
	Asset    string `json:"asset"`
	Caller   string `json:"caller"`
	Borrower string `json:"borrower,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Amount   string `json:"amount"`
}

type repayParams struct {
	Asset    string `json:"asset"`
	Payer    string `json:"payer"`
	Borrower string `json:"borrower,omitempty"`
	Amount   string `json:"amount"`
}

type liquidateParams struct {
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	Amount          string `json:"amount"`
}

type transferParams struct {
	Asset  string `json:"asset"`
	Caller string `json:"caller"`
	Owner  string `json:"owner,omitempty"`
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type approveParams struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type approveResult struct {
	Asset   string          `json:"asset"`
	Kind    string          `json:"kind"`
	Owner   string          `json:"owner"`
	Spender string          `json:"spender"`
	Grant   AllowanceResult `json:"grant"`
}

type accrueResult struct {
	Asset        string `json:"asset"`
	BorrowIndex  string `json:"borrowIndex"`
	TotalBorrows string `json:"totalBorrows"`
	AccrualTime  uint64 `json:"accrualTime"`
}

// optionalAddress decodes raw when present, otherwise returns fallback.
func optionalAddress(raw string, fallback crypto.Address) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	return crypto.DecodeAddress(trimmed)
}

func (s *Server) decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
	}
	return nil
}

func (s *Server) handleMarketMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params mintParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	payer, err := crypto.DecodeAddress(strings.TrimSpace(params.Payer))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
	}
	receiver, err := optionalAddress(params.Receiver, payer)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	var res *market.MintResult
	updateErr := s.node.Update("mint", params.Asset, func(l *market.Ledger) error {
		out, err := l.Mint(params.Asset, payer, receiver, amount)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, MintTxResult{
		Asset:    res.Asset,
		Received: decString(res.Received),
		Shares:   decString(res.Shares),
	})
}

func (s *Server) handleMarketRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.redeemCommon(w, req, false)
}

func (s *Server) handleMarketRedeemUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.redeemCommon(w, req, true)
}

func (s *Server) redeemCommon(w http.ResponseWriter, req *RPCRequest, byAmount bool) *RPCError {
	var params redeemParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	owner, err := optionalAddress(params.Owner, caller)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
	}
	receiver, err := optionalAddress(params.Receiver, owner)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver", err.Error())
	}

	raw := params.Shares
	op := "redeem"
	if byAmount {
		raw = params.Amount
		op = "redeem_underlying"
	}
	value, err := parseAmount(raw)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	var res *market.RedeemResult
	updateErr := s.node.Update(op, params.Asset, func(l *market.Ledger) error {
		var out *market.RedeemResult
		var err error
		if byAmount {
			out, err = l.RedeemUnderlying(params.Asset, caller, owner, receiver, value)
		} else {
			out, err = l.Redeem(params.Asset, caller, owner, receiver, value)
		}
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, RedeemTxResult{
		Asset:   res.Asset,
		Shares:  decString(res.Shares),
		PaidOut: decString(res.PaidOut),
	})
}

func (s *Server) handleMarketBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params borrowParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	borrower, err := optionalAddress(params.Borrower, caller)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
	}
	receiver, err := optionalAddress(params.Receiver, borrower)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	var res *market.BorrowResult
	updateErr := s.node.Update("borrow", params.Asset, func(l *market.Ledger) error {
		out, err := l.Borrow(params.Asset, caller, borrower, receiver, amount)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, BorrowTxResult{
		Asset:        res.Asset,
		Borrowed:     decString(res.Borrowed),
		NewPrincipal: decString(res.NewPrincipal),
	})
}

func (s *Server) handleMarketRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params repayParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	payer, err := crypto.DecodeAddress(strings.TrimSpace(params.Payer))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
	}
	borrower, err := optionalAddress(params.Borrower, payer)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
	}
	repay, err := parseRepayAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	var res *market.RepayResult
	updateErr := s.node.Update("repay", params.Asset, func(l *market.Ledger) error {
		out, err := l.RepayBorrow(params.Asset, payer, borrower, repay)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, RepayTxResult{
		Asset:        res.Asset,
		Repaid:       decString(res.Repaid),
		NewPrincipal: decString(res.NewPrincipal),
	})
}

func (s *Server) handleMarketLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params liquidateParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	liquidator, err := crypto.DecodeAddress(strings.TrimSpace(params.Liquidator))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
	}
	borrower, err := crypto.DecodeAddress(strings.TrimSpace(params.Borrower))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
	}
	repay, err := parseRepayAmount(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	var res *market.LiquidateResult
	updateErr := s.node.Update("liquidate", params.DebtAsset, func(l *market.Ledger) error {
		out, err := l.Liquidate(params.DebtAsset, params.CollateralAsset, liquidator, borrower, repay)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, LiquidateTxResult{
		DebtAsset:       res.DebtAsset,
		CollateralAsset: res.CollateralAsset,
		Repaid:          decString(res.Repaid),
		Seize: SeizeTxResult{
			Asset:            res.Seize.Asset,
			SeizedShares:     decString(res.Seize.SeizedShares),
			LiquidatorShares: decString(res.Seize.LiquidatorShares),
			ProtocolShares:   decString(res.Seize.ProtocolShares),
			PlatformShares:   decString(res.Seize.PlatformShares),
		},
	})
}

func (s *Server) handleMarketTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params transferParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(params.Caller))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
	}
	owner, err := optionalAddress(params.Owner, caller)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
	}
	to, err := crypto.DecodeAddress(strings.TrimSpace(params.To))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to", err.Error())
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	updateErr := s.node.Update("transfer", params.Asset, func(l *market.Ledger) error {
		if owner == caller {
			return l.TransferShares(params.Asset, caller, to, shares)
		}
		return l.TransferSharesFrom(params.Asset, caller, owner, to, shares)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, map[string]string{
		"asset":  market.NormalizeAsset(params.Asset),
		"from":   owner.String(),
		"to":     to.String(),
		"shares": shares.Dec(),
	})
}

func (s *Server) handleMarketApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest, kind market.AllowanceKind) *RPCError {
	var params approveParams
	if rpcErr := s.decodeParams(w, req, &params); rpcErr != nil {
		return rpcErr
	}
	owner, err := crypto.DecodeAddress(strings.TrimSpace(params.Owner))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
	}
	spender, err := crypto.DecodeAddress(strings.TrimSpace(params.Spender))
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender", err.Error())
	}
	grant, err := parseGrant(params.Amount)
	if err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	}

	op := "approve_shares"
	if kind == market.AllowanceBorrow {
		op = "approve_borrow"
	}
	updateErr := s.node.Update(op, params.Asset, func(l *market.Ledger) error {
		if kind == market.AllowanceBorrow {
			return l.ApproveBorrow(params.Asset, owner, spender, grant)
		}
		return l.ApproveShares(params.Asset, owner, spender, grant)
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, approveResult{
		Asset:   market.NormalizeAsset(params.Asset),
		Kind:    kind.String(),
		Owner:   owner.String(),
		Spender: spender.String(),
		Grant:   allowanceResultFrom(grant),
	})
}

func (s *Server) handleMarketAccrue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	asset, rpcErr := s.assetParam(w, req)
	if rpcErr != nil {
		return rpcErr
	}
	var res *market.Market
	updateErr := s.node.Update("accrue", asset, func(l *market.Ledger) error {
		m, err := l.AccrueInterest(asset)
		if err != nil {
			return err
		}
		res = m
		return nil
	})
	if updateErr != nil {
		return ledgerError(w, req.ID, updateErr)
	}
	return writeResult(w, req.ID, accrueResult{
		Asset:        res.Asset,
		BorrowIndex:  decString(res.BorrowIndex),
		TotalBorrows: decString(res.TotalBorrows),
		AccrualTime:  res.AccrualTime,
	})
}
