package models

import (
	"time"

	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
)

// ChallengeStatus tracks the challenge lifecycle.
//
// Transitions: active -> closing -> removed. Closing is entered the instant a
// delete or winner selection is accepted; removed is what the caller observes
// optimistically while the teardown saga runs.
type ChallengeStatus string

const (
	StatusActive  ChallengeStatus = "active"
	StatusClosing ChallengeStatus = "closing"
	StatusRemoved ChallengeStatus = "removed"
)

// TasksOrder keeps the per-type ordered task lists.
type TasksOrder struct {
	Habits  []id.TaskID `json:"habits"`
	Dailys  []id.TaskID `json:"dailys"`
	Todos   []id.TaskID `json:"todos"`
	Rewards []id.TaskID `json:"rewards"`
}

// Append adds a task ID to the list for its type.
func (o *TasksOrder) Append(taskType TaskType, taskID id.TaskID) {
	switch taskType {
	case TaskTypeHabit:
		o.Habits = append(o.Habits, taskID)
	case TaskTypeDaily:
		o.Dailys = append(o.Dailys, taskID)
	case TaskTypeTodo:
		o.Todos = append(o.Todos, taskID)
	case TaskTypeReward:
		o.Rewards = append(o.Rewards, taskID)
	}
}

// Challenge is the aggregate root for a group challenge.
//
// Invariants:
//   - PrizeCost (prize / 4) is the single source of truth for every funding,
//     refund, and payout amount
//   - GroupID and LeaderID are immutable after construction
//   - Status only ever moves forward: active -> closing -> removed
type Challenge struct {
	ID         id.ChallengeID  `json:"id"`
	Name       string          `json:"name"`
	GroupID    id.GroupID      `json:"group_id"`
	LeaderID   id.MemberID     `json:"leader_id"`
	Prize      float64         `json:"prize"`
	Official   bool            `json:"official"`
	Status     ChallengeStatus `json:"status"`
	TasksOrder TasksOrder      `json:"tasks_order"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewChallenge constructs a challenge with validated invariants.
func NewChallenge(challengeID id.ChallengeID, name string, groupID id.GroupID, leaderID id.MemberID, prize float64, now time.Time) (*Challenge, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge name is required")
	}
	if groupID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge group is required")
	}
	if leaderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge leader is required")
	}
	if prize < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge prize must not be negative")
	}
	return &Challenge{
		ID:        challengeID,
		Name:      name,
		GroupID:   groupID,
		LeaderID:  leaderID,
		Prize:     prize,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PrizeCost is the currency actually deducted and credited: one quarter of
// the advertised prize.
func (c *Challenge) PrizeCost() float64 {
	return c.Prize / 4
}

// CanClose checks the challenge can enter teardown.
func (c *Challenge) CanClose() error {
	if c.Status != StatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "challenge is already closing")
	}
	return nil
}

// ApplyClosing marks the challenge as tearing down.
// Call CanClose first to validate the transition.
func (c *Challenge) ApplyClosing(now time.Time) {
	c.Status = StatusClosing
	c.UpdatedAt = now
}
