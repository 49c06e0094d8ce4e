package rpc

import (
	"net/http"
	"strings"
)

type marketSymbolParams struct {
	Symbol string `json:"symbol"`
}

type marketAccountParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type marketAmountParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type marketRepayParams struct {
	Symbol   string `json:"symbol"`
	Payer    string `json:"payer"`
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type marketLiquidateParams struct {
	BorrowedSymbol   string `json:"borrowedSymbol"`
	CollateralSymbol string `json:"collateralSymbol"`
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	RepayAmount      string `json:"repayAmount"`
}

type marketMintResult struct {
	TxHash       string `json:"txHash"`
	MintedTokens string `json:"mintedTokens"`
}

type marketRedeemResult struct {
	TxHash           string `json:"txHash"`
	UnderlyingPaid   string `json:"underlyingPaid,omitempty"`
	ClaimTokensBurnt string `json:"claimTokensBurnt,omitempty"`
}

type marketRepayResult struct {
	TxHash string `json:"txHash"`
	Repaid string `json:"repaid"`
}

type marketLiquidateResult struct {
	TxHash       string `json:"txHash"`
	SeizedTokens string `json:"seizedTokens"`
}

func (s *Server) handleMarketGetLedger(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketSymbolParams
	if !paramObject(w, req, &input) {
		return
	}
	result, moduleErr := s.market.GetLedger(normalizeSymbol(input.Symbol))
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketGetAccountSnapshot(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketAccountParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	result, moduleErr := s.market.GetAccountSnapshot(normalizeSymbol(input.Symbol), addr)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketAccrueInterest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketSymbolParams
	if !paramObject(w, req, &input) {
		return
	}
	hash, moduleErr := s.market.AccrueInterest(normalizeSymbol(input.Symbol))
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, TxResult{TxHash: hash})
}

func (s *Server) handleMarketMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketAmountParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, minted, moduleErr := s.market.Mint(normalizeSymbol(input.Symbol), addr, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, marketMintResult{TxHash: hash, MintedTokens: minted.String()})
}

func (s *Server) handleMarketRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketAmountParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	tokens, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, paid, moduleErr := s.market.Redeem(normalizeSymbol(input.Symbol), addr, tokens)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, marketRedeemResult{TxHash: hash, UnderlyingPaid: paid.String()})
}

func (s *Server) handleMarketRedeemUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketAmountParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, burned, moduleErr := s.market.RedeemUnderlying(normalizeSymbol(input.Symbol), addr, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, marketRedeemResult{TxHash: hash, ClaimTokensBurnt: burned.String()})
}

func (s *Server) handleMarketBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketAmountParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, moduleErr := s.market.Borrow(normalizeSymbol(input.Symbol), addr, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, TxResult{TxHash: hash})
}

func (s *Server) handleMarketRepayBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketRepayParams
	if !paramObject(w, req, &input) {
		return
	}
	payer, err := decodeBech32(input.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
		return
	}
	borrower := payer
	if strings.TrimSpace(input.Borrower) != "" {
		if borrower, err = decodeBech32(input.Borrower); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
			return
		}
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, repaid, moduleErr := s.market.RepayBorrow(normalizeSymbol(input.Symbol), payer, borrower, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, marketRepayResult{TxHash: hash, Repaid: repaid.String()})
}

func (s *Server) handleMarketLiquidateBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input marketLiquidateParams
	if !paramObject(w, req, &input) {
		return
	}
	liquidator, err := decodeBech32(input.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	borrower, err := decodeBech32(input.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	repayAmount, err := parseAmount(input.RepayAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, seized, moduleErr := s.market.Liquidate(
		normalizeSymbol(input.BorrowedSymbol),
		normalizeSymbol(input.CollateralSymbol),
		liquidator, borrower, repayAmount,
	)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, marketLiquidateResult{TxHash: hash, SeizedTokens: seized.String()})
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
