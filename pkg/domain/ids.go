// Package domain holds primitive identifier types shared across features.
//
// Each entity gets its own UUID-backed type so a GroupID can never be passed
// where a MemberID is expected. Parse functions enforce validity at trust
// boundaries; everything past the transport layer works with typed IDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "rally/pkg/domain-errors"
)

type (
	// ChallengeID identifies a challenge.
	ChallengeID uuid.UUID
	// GroupID identifies a group.
	GroupID uuid.UUID
	// MemberID identifies a member.
	MemberID uuid.UUID
	// TaskID identifies a task, seed or member-owned.
	TaskID uuid.UUID
)

func (id ChallengeID) String() string { return uuid.UUID(id).String() }
func (id GroupID) String() string     { return uuid.UUID(id).String() }
func (id MemberID) String() string    { return uuid.UUID(id).String() }
func (id TaskID) String() string      { return uuid.UUID(id).String() }

func (id ChallengeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GroupID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id MemberID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TaskID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// NewChallengeID returns a fresh random ChallengeID.
func NewChallengeID() ChallengeID { return ChallengeID(uuid.New()) }

// NewGroupID returns a fresh random GroupID.
func NewGroupID() GroupID { return GroupID(uuid.New()) }

// NewMemberID returns a fresh random MemberID.
func NewMemberID() MemberID { return MemberID(uuid.New()) }

// NewTaskID returns a fresh random TaskID.
func NewTaskID() TaskID { return TaskID(uuid.New()) }

// ParseChallengeID validates s as a non-nil UUID.
func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s, "challenge id")
	return ChallengeID(u), err
}

// ParseGroupID validates s as a non-nil UUID.
func ParseGroupID(s string) (GroupID, error) {
	u, err := parseUUID(s, "group id")
	return GroupID(u), err
}

// ParseMemberID validates s as a non-nil UUID.
func ParseMemberID(s string) (MemberID, error) {
	u, err := parseUUID(s, "member id")
	return MemberID(u), err
}

// ParseTaskID validates s as a non-nil UUID.
func ParseTaskID(s string) (TaskID, error) {
	u, err := parseUUID(s, "task id")
	return TaskID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be nil")
	}
	return u, nil
}
