package events

import (
	"math/big"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

const (
	TypeRiskMarketListed     = "risk.market.listed"
	TypeRiskMarketEntered    = "risk.market.entered"
	TypeRiskMarketExited     = "risk.market.exited"
	TypeRiskParamUpdated     = "risk.param.updated"
	TypeRiskPauseUpdated     = "risk.pause.updated"
	TypeRiskAdminProposed    = "risk.admin.proposed"
	TypeRiskAdminAccepted    = "risk.admin.accepted"
	TypeRiskOracleUpdated    = "risk.oracle.updated"
	TypeRiskCollateralFactor = "risk.collateral_factor.updated"
)

// RiskMarketListed marks a market admitted to the risk engine registry.
type RiskMarketListed struct {
	Symbol string
}

func (RiskMarketListed) EventType() string { return TypeRiskMarketListed }

func (e RiskMarketListed) Event() *types.Event {
	return &types.Event{
		Type:       TypeRiskMarketListed,
		Attributes: map[string]string{"symbol": normalizeAsset(e.Symbol)},
	}
}

// RiskMarketMembership marks an account entering or exiting a collateral market.
type RiskMarketMembership struct {
	Symbol  string
	Account crypto.Address
	Entered bool
}

func (e RiskMarketMembership) EventType() string {
	if e.Entered {
		return TypeRiskMarketEntered
	}
	return TypeRiskMarketExited
}

func (e RiskMarketMembership) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"symbol":  normalizeAsset(e.Symbol),
			"account": e.Account.String(),
		},
	}
}

// RiskParamUpdated records a before/after change of a protocol-wide scalar
// (close factor, liquidation incentive).
type RiskParamUpdated struct {
	Param string
	Old   *big.Int
	New   *big.Int
}

func (RiskParamUpdated) EventType() string { return TypeRiskParamUpdated }

func (e RiskParamUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskParamUpdated,
		Attributes: map[string]string{
			"param": e.Param,
			"old":   formatAmount(e.Old),
			"new":   formatAmount(e.New),
		},
	}
}

// RiskCollateralFactorUpdated records a per-market collateral factor change.
type RiskCollateralFactorUpdated struct {
	Symbol string
	Old    *big.Int
	New    *big.Int
}

func (RiskCollateralFactorUpdated) EventType() string { return TypeRiskCollateralFactor }

func (e RiskCollateralFactorUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskCollateralFactor,
		Attributes: map[string]string{
			"symbol": normalizeAsset(e.Symbol),
			"old":    formatAmount(e.Old),
			"new":    formatAmount(e.New),
		},
	}
}

// RiskPauseUpdated records a mint/borrow pause flag flip on a market.
type RiskPauseUpdated struct {
	Symbol string
	Action string
	Paused bool
}

func (RiskPauseUpdated) EventType() string { return TypeRiskPauseUpdated }

func (e RiskPauseUpdated) Event() *types.Event {
	paused := "false"
	if e.Paused {
		paused = "true"
	}
	return &types.Event{
		Type: TypeRiskPauseUpdated,
		Attributes: map[string]string{
			"symbol": normalizeAsset(e.Symbol),
			"action": e.Action,
			"paused": paused,
		},
	}
}

// RiskAdminChanged records the two-step admin handoff.
type RiskAdminChanged struct {
	Admin    crypto.Address
	Accepted bool
}

func (e RiskAdminChanged) EventType() string {
	if e.Accepted {
		return TypeRiskAdminAccepted
	}
	return TypeRiskAdminProposed
}

func (e RiskAdminChanged) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"admin": e.Admin.String()},
	}
}

// RiskOracleUpdated records a price-source swap.
type RiskOracleUpdated struct {
	Oracle string
}

func (RiskOracleUpdated) EventType() string { return TypeRiskOracleUpdated }

func (e RiskOracleUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeRiskOracleUpdated,
		Attributes: map[string]string{"oracle": e.Oracle},
	}
}
