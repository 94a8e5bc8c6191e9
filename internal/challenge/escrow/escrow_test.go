package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	groupmodels "rally/internal/group/models"
	membermodels "rally/internal/member/models"
	id "rally/pkg/domain"
)

func newGroup(balance float64, leaderID id.MemberID) *groupmodels.Group {
	return &groupmodels.Group{
		ID:       id.NewGroupID(),
		Name:     "Test Group",
		LeaderID: leaderID,
		Balance:  balance,
	}
}

func newMember(balance float64) *membermodels.Member {
	return &membermodels.Member{
		ID:      id.NewMemberID(),
		Balance: balance,
	}
}

func TestFund_MemberPaysWhenGroupEmpty(t *testing.T) {
	// Scenario: group balance 0, member balance 10, prize 8.
	member := newMember(10)
	group := newGroup(0, member.ID)

	alloc, err := Fund(group, member, 8)
	require.NoError(t, err)

	assert.Equal(t, 2.0, alloc.PrizeCost)
	assert.Equal(t, 0.0, alloc.GroupContribution)
	assert.Equal(t, 2.0, alloc.MemberContribution)
	assert.Equal(t, 8.0, member.Balance)
	assert.Equal(t, 0.0, group.Balance)
}

func TestFund_GroupPaysPartiallyForLeader(t *testing.T) {
	// Scenario: group balance 1 (requester is leader), member balance 1, prize 8.
	member := newMember(1)
	group := newGroup(1, member.ID)

	alloc, err := Fund(group, member, 8)
	require.NoError(t, err)

	assert.Equal(t, 2.0, alloc.PrizeCost)
	assert.Equal(t, 1.0, alloc.GroupContribution)
	assert.Equal(t, 1.0, alloc.MemberContribution)
	assert.Equal(t, 0.0, group.Balance)
	assert.Equal(t, 0.0, member.Balance)
}

func TestFund_GroupPaysInFullForLeader(t *testing.T) {
	member := newMember(5)
	group := newGroup(10, member.ID)

	alloc, err := Fund(group, member, 12)
	require.NoError(t, err)

	assert.Equal(t, 3.0, alloc.PrizeCost)
	assert.Equal(t, 3.0, alloc.GroupContribution)
	assert.Equal(t, 0.0, alloc.MemberContribution)
	assert.Equal(t, 7.0, group.Balance)
	assert.Equal(t, 5.0, member.Balance)
}

func TestFund_InsufficientFunds(t *testing.T) {
	// Scenario: group balance 0, member balance 1, prize 20 -> cost 5 > 1.
	member := newMember(1)
	group := newGroup(0, member.ID)

	_, err := Fund(group, member, 20)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// No balances changed.
	assert.Equal(t, 1.0, member.Balance)
	assert.Equal(t, 0.0, group.Balance)
}

func TestFund_NonLeaderCannotSpendGroupBalance(t *testing.T) {
	member := newMember(2)
	group := newGroup(100, id.NewMemberID())

	alloc, err := Fund(group, member, 8)
	require.NoError(t, err)

	assert.Equal(t, 0.0, alloc.GroupContribution)
	assert.Equal(t, 2.0, alloc.MemberContribution)
	assert.Equal(t, 100.0, group.Balance, "non-leader creator must never reduce the group balance")
	assert.Equal(t, 0.0, member.Balance)
}

func TestFund_NonLeaderInsufficientDespiteRichGroup(t *testing.T) {
	member := newMember(1)
	group := newGroup(100, id.NewMemberID())

	_, err := Fund(group, member, 20)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 100.0, group.Balance)
	assert.Equal(t, 1.0, member.Balance)
}

func TestFund_ZeroPrizeMovesNothing(t *testing.T) {
	member := newMember(3)
	group := newGroup(3, member.ID)

	alloc, err := Fund(group, member, 0)
	require.NoError(t, err)

	assert.Zero(t, alloc.PrizeCost)
	assert.Equal(t, 3.0, member.Balance)
	assert.Equal(t, 3.0, group.Balance)
}

func TestFund_SplitAlwaysSumsToPrizeCost(t *testing.T) {
	cases := []struct {
		name          string
		groupBalance  float64
		memberBalance float64
		prize         float64
	}{
		{"group covers all", 10, 0, 8},
		{"split", 1, 5, 8},
		{"member covers all", 0, 10, 10},
		{"fractional cost", 0.5, 5, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			member := newMember(tc.memberBalance)
			group := newGroup(tc.groupBalance, member.ID)

			alloc, err := Fund(group, member, tc.prize)
			require.NoError(t, err)
			assert.InDelta(t, tc.prize/4, alloc.PrizeCost, 1e-9)
			assert.InDelta(t, alloc.PrizeCost, alloc.GroupContribution+alloc.MemberContribution, 1e-9)
		})
	}
}
