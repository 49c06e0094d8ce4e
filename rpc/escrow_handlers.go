package rpc

import "net/http"

type escrowAccountParams struct {
	Account string `json:"account"`
}

type escrowWithdrawResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input escrowAccountParams
	if !paramObject(w, req, &input) {
		return
	}
	account, err := decodeBech32(input.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	amount, moduleErr := s.staking.WithdrawEscrow(account)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, escrowWithdrawResult{Amount: amount})
}

func (s *Server) handleEscrowGetPending(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input escrowAccountParams
	if !paramObject(w, req, &input) {
		return
	}
	account, err := decodeBech32(input.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	pending, moduleErr := s.staking.PendingEscrow(account)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, pending)
}
