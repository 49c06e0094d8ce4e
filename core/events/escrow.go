package events

import (
	"math/big"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

const (
	TypeEscrowDeposited       = "escrow.deposited"
	TypeEscrowWithdrawn       = "escrow.withdrawn"
	TypeEscrowDurationUpdated = "escrow.duration.updated"
	TypeEscrowGovProposed     = "escrow.gov.proposed"
	TypeEscrowGovAccepted     = "escrow.gov.accepted"
)

// EscrowDeposited records underlying parked for a redeemer behind the delay.
type EscrowDeposited struct {
	Account     crypto.Address
	Amount      *big.Int
	WithdrawAt  int64
	Immediately bool
}

func (EscrowDeposited) EventType() string { return TypeEscrowDeposited }

func (e EscrowDeposited) Event() *types.Event {
	immediate := "false"
	if e.Immediately {
		immediate = "true"
	}
	return &types.Event{
		Type: TypeEscrowDeposited,
		Attributes: map[string]string{
			"account":    e.Account.String(),
			"amount":     formatAmount(e.Amount),
			"withdrawAt": intToString(e.WithdrawAt),
			"immediate":  immediate,
		},
	}
}

// EscrowWithdrawn records a matured withdrawal released to the redeemer.
type EscrowWithdrawn struct {
	Account crypto.Address
	Amount  *big.Int
}

func (EscrowWithdrawn) EventType() string { return TypeEscrowWithdrawn }

func (e EscrowWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowWithdrawn,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// EscrowDurationUpdated records a governance change of the escrow delay.
type EscrowDurationUpdated struct {
	Old uint64
	New uint64
}

func (EscrowDurationUpdated) EventType() string { return TypeEscrowDurationUpdated }

func (e EscrowDurationUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowDurationUpdated,
		Attributes: map[string]string{
			"old": uintToString(e.Old),
			"new": uintToString(e.New),
		},
	}
}

// EscrowGovChanged records the two-step governance handoff.
type EscrowGovChanged struct {
	Gov      crypto.Address
	Accepted bool
}

func (e EscrowGovChanged) EventType() string {
	if e.Accepted {
		return TypeEscrowGovAccepted
	}
	return TypeEscrowGovProposed
}

func (e EscrowGovChanged) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"governance": e.Gov.String()},
	}
}
