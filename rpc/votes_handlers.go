package rpc

import "net/http"

type votesDelegateParams struct {
	Delegator string `json:"delegator"`
	Delegatee string `json:"delegatee"`
}

type votesDelegateBySigParams struct {
	Delegatee string `json:"delegatee"`
	Nonce     uint64 `json:"nonce"`
	Expiry    uint64 `json:"expiry"`
	Signature string `json:"signature"`
}

type votesAddressParams struct {
	Address string `json:"address"`
}

type votesPriorParams struct {
	Address     string `json:"address"`
	BlockNumber uint64 `json:"blockNumber"`
}

type votesResult struct {
	Votes string `json:"votes"`
}

func (s *Server) handleVotesDelegate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input votesDelegateParams
	if !paramObject(w, req, &input) {
		return
	}
	delegator, err := decodeBech32(input.Delegator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid delegator", err.Error())
		return
	}
	delegatee, err := decodeBech32(input.Delegatee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid delegatee", err.Error())
		return
	}
	if moduleErr := s.staking.Delegate(delegator, delegatee); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVotesDelegateBySig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input votesDelegateBySigParams
	if !paramObject(w, req, &input) {
		return
	}
	delegatee, err := decodeBech32(input.Delegatee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid delegatee", err.Error())
		return
	}
	sig, err := decodeHexBytes(input.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature encoding", err.Error())
		return
	}
	if moduleErr := s.staking.DelegateBySig(delegatee, input.Nonce, input.Expiry, sig); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVotesGetCurrentVotes(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input votesAddressParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	votes, moduleErr := s.staking.CurrentVotes(addr)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, votesResult{Votes: votes})
}

func (s *Server) handleVotesGetPriorVotes(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input votesPriorParams
	if !paramObject(w, req, &input) {
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	votes, moduleErr := s.staking.PriorVotes(addr, input.BlockNumber)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, votesResult{Votes: votes})
}
