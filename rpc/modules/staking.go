package modules

import (
	"net/http"

	"anchorledger/core"
	"anchorledger/crypto"
	"anchorledger/observability/metrics"
)

// StakingModule exposes the vote ledger and the redemption escrow of the
// staked governance market.
type StakingModule struct {
	protocol *core.Protocol
}

func NewStakingModule(protocol *core.Protocol) *StakingModule {
	return &StakingModule{protocol: protocol}
}

func (m *StakingModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "staking module not available"}
}

// EscrowResult is the JSON view of a pending redemption.
type EscrowResult struct {
	Amount              string `json:"amount"`
	WithdrawalTimestamp uint64 `json:"withdrawalTimestamp"`
}

func (m *StakingModule) Delegate(delegator, delegatee crypto.Address) *ModuleError {
	if m == nil || m.protocol == nil {
		return m.moduleUnavailable()
	}
	if err := m.protocol.Delegate(delegator, delegatee); err != nil {
		return wrapEngineError(err)
	}
	return nil
}

func (m *StakingModule) DelegateBySig(delegatee crypto.Address, nonce, expiry uint64, sig []byte) *ModuleError {
	if m == nil || m.protocol == nil {
		return m.moduleUnavailable()
	}
	if err := m.protocol.DelegateBySig(delegatee, nonce, expiry, sig); err != nil {
		return wrapEngineError(err)
	}
	return nil
}

func (m *StakingModule) CurrentVotes(addr crypto.Address) (string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", m.moduleUnavailable()
	}
	votes, err := m.protocol.CurrentVotes(addr)
	if err != nil {
		return "", wrapEngineError(err)
	}
	return bigString(votes), nil
}

func (m *StakingModule) PriorVotes(addr crypto.Address, blockNumber uint64) (string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", m.moduleUnavailable()
	}
	votes, err := m.protocol.PriorVotes(addr, blockNumber)
	if err != nil {
		return "", wrapEngineError(err)
	}
	return bigString(votes), nil
}

func (m *StakingModule) WithdrawEscrow(account crypto.Address) (string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", m.moduleUnavailable()
	}
	amount, err := m.protocol.WithdrawEscrow(account)
	if err != nil {
		return "", wrapEngineError(err)
	}
	metrics.Market().ObserveEscrow("withdraw")
	return bigString(amount), nil
}

func (m *StakingModule) PendingEscrow(account crypto.Address) (*EscrowResult, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	entry, err := m.protocol.PendingEscrow(account)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	if entry == nil {
		return nil, nil
	}
	return &EscrowResult{
		Amount:              bigString(entry.Amount),
		WithdrawalTimestamp: entry.WithdrawalTimestamp,
	}, nil
}
