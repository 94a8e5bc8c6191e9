// Package escrow holds the funding policy for challenge prizes. It is pure
// balance arithmetic: no stores, no context, no logging. Callers persist the
// mutated group and member before treating the allocation as durable.
package escrow

import (
	"errors"

	groupmodels "rally/internal/group/models"
	membermodels "rally/internal/member/models"
)

// ErrInsufficientFunds is returned when the prize cost exceeds the combined
// eligible funds. Services translate it into a forbidden domain error.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Allocation describes how a prize cost was split between a group's shared
// balance and the funding member's personal balance.
type Allocation struct {
	PrizeCost          float64
	GroupContribution  float64
	MemberContribution float64
}

// Fund reserves the prize cost (prize / 4) from the group and funding member.
//
// The group balance is eligible only when the funder leads the group; a
// non-leader creator can never spend group funds. Allocation consumes the
// eligible group balance first (down to zero), then the remainder from the
// member's personal balance. A prize of zero or less moves no funds.
//
// Fund mutates group.Balance and funder.Balance in memory only.
func Fund(group *groupmodels.Group, funder *membermodels.Member, prize float64) (Allocation, error) {
	if prize <= 0 {
		return Allocation{}, nil
	}

	cost := prize / 4

	eligible := 0.0
	if group.IsLeader(funder.ID) {
		eligible = group.Balance
	}

	if cost > funder.Balance+eligible {
		return Allocation{}, ErrInsufficientFunds
	}

	fromGroup := eligible
	if fromGroup > cost {
		fromGroup = cost
	}
	fromMember := cost - fromGroup

	group.Balance -= fromGroup
	funder.Balance -= fromMember

	return Allocation{
		PrizeCost:          cost,
		GroupContribution:  fromGroup,
		MemberContribution: fromMember,
	}, nil
}
