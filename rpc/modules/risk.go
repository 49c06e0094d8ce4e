package modules

import (
	"net/http"

	"anchorledger/core"
	"anchorledger/crypto"
)

// RiskModule exposes collateral membership and solvency queries.
type RiskModule struct {
	protocol *core.Protocol
}

func NewRiskModule(protocol *core.Protocol) *RiskModule {
	return &RiskModule{protocol: protocol}
}

func (m *RiskModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "risk module not available"}
}

// LiquidityResult is the JSON view of an account solvency computation.
type LiquidityResult struct {
	Excess    string `json:"excess"`
	Shortfall string `json:"shortfall"`
}

func (m *RiskModule) EnterMarkets(addr crypto.Address, symbols []string) ([]string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	if err := m.protocol.EnterMarkets(addr, symbols); err != nil {
		return nil, wrapEngineError(err)
	}
	membership, err := m.protocol.Membership(addr)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	if membership == nil {
		membership = []string{}
	}
	return membership, nil
}

func (m *RiskModule) ExitMarket(addr crypto.Address, symbol string) ([]string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	if err := m.protocol.ExitMarket(addr, symbol); err != nil {
		return nil, wrapEngineError(err)
	}
	membership, err := m.protocol.Membership(addr)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	if membership == nil {
		membership = []string{}
	}
	return membership, nil
}

func (m *RiskModule) Membership(addr crypto.Address) ([]string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	membership, err := m.protocol.Membership(addr)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	if membership == nil {
		membership = []string{}
	}
	return membership, nil
}

func (m *RiskModule) AccountLiquidity(addr crypto.Address) (*LiquidityResult, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	liquidity, err := m.protocol.AccountLiquidity(addr)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &LiquidityResult{
		Excess:    bigString(liquidity.Excess),
		Shortfall: bigString(liquidity.Shortfall),
	}, nil
}
