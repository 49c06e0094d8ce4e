package rpc

import "net/http"

type riskEnterParams struct {
	Address string   `json:"address"`
	Symbols []string `json:"symbols"`
}

type riskExitParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type riskAddressParams struct {
	Address string `json:"address"`
}

type riskMembershipResult struct {
	Markets []string `json:"markets"`
}

func (s *Server) handleRiskEnterMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input riskEnterParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if len(input.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "symbols required", nil)
		return
	}
	membership, moduleErr := s.risk.EnterMarkets(addr, input.Symbols)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, riskMembershipResult{Markets: membership})
}

func (s *Server) handleRiskExitMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input riskExitParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	membership, moduleErr := s.risk.ExitMarket(addr, normalizeSymbol(input.Symbol))
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, riskMembershipResult{Markets: membership})
}

func (s *Server) handleRiskGetMembership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input riskAddressParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	membership, moduleErr := s.risk.Membership(addr)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, riskMembershipResult{Markets: membership})
}

func (s *Server) handleRiskGetAccountLiquidity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input riskAddressParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	liquidity, moduleErr := s.risk.AccountLiquidity(addr)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, liquidity)
}
