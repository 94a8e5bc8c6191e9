package models

import (
	"time"

	"github.com/google/uuid"

	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
)

// DefaultGroupID identifies the platform-wide public group. Challenges created
// there must advertise a prize of at least 1, and deleting them never refunds
// the leader.
var DefaultGroupID = id.GroupID(uuid.MustParse("00000000-0000-4000-8000-000000000001"))

// LeaderOnly captures per-group policy flags that restrict actions to the
// group leader.
type LeaderOnly struct {
	Challenges bool `json:"challenges"`
}

// Group is the aggregate root for a member group.
//
// Invariants:
//   - Balance never goes negative
//   - ChallengeCount is incremented exactly once per created challenge and
//     decremented exactly once per torn-down challenge
//   - LeaderID is the only member allowed to spend the group balance
type Group struct {
	ID             id.GroupID  `json:"id"`
	Name           string      `json:"name"`
	LeaderID       id.MemberID `json:"leader_id"`
	Balance        float64     `json:"balance"`
	ChallengeCount int         `json:"challenge_count"`
	LeaderOnly     LeaderOnly  `json:"leader_only"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewGroup constructs a group with validated invariants.
func NewGroup(groupID id.GroupID, name string, leaderID id.MemberID, now time.Time) (*Group, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "group name is required")
	}
	if leaderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "group leader is required")
	}
	return &Group{
		ID:        groupID,
		Name:      name,
		LeaderID:  leaderID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsDefault reports whether this is the platform-wide public group.
func (g *Group) IsDefault() bool {
	return g.ID == DefaultGroupID
}

// IsLeader reports whether memberID leads this group.
func (g *Group) IsLeader(memberID id.MemberID) bool {
	return g.LeaderID == memberID
}

// CanDecrementChallengeCount checks the counter can go down without crossing zero.
// Use with ApplyChallengeRemoved in Execute callbacks.
func (g *Group) CanDecrementChallengeCount() error {
	if g.ChallengeCount <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "group has no challenges to remove")
	}
	return nil
}

// ApplyChallengeRemoved decrements the challenge counter.
// Call CanDecrementChallengeCount first to validate the transition.
func (g *Group) ApplyChallengeRemoved(now time.Time) {
	g.ChallengeCount--
	g.UpdatedAt = now
}
