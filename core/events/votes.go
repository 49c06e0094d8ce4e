package events

import (
	"math/big"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

const (
	TypeDelegateChanged = "votes.delegate.changed"
	TypeVotesChanged    = "votes.changed"
)

// DelegateChanged records a delegation move from one delegatee to another.
type DelegateChanged struct {
	Delegator    crypto.Address
	FromDelegate crypto.Address
	ToDelegate   crypto.Address
}

func (DelegateChanged) EventType() string { return TypeDelegateChanged }

func (e DelegateChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeDelegateChanged,
		Attributes: map[string]string{
			"delegator": e.Delegator.String(),
			"from":      e.FromDelegate.String(),
			"to":        e.ToDelegate.String(),
		},
	}
}

// VotesChanged records a checkpoint write for a delegatee.
type VotesChanged struct {
	Delegatee crypto.Address
	Old       *big.Int
	New       *big.Int
	Block     uint64
}

func (VotesChanged) EventType() string { return TypeVotesChanged }

func (e VotesChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeVotesChanged,
		Attributes: map[string]string{
			"delegatee": e.Delegatee.String(),
			"old":       formatAmount(e.Old),
			"new":       formatAmount(e.New),
			"block":     uintToString(e.Block),
		},
	}
}
