package models

import (
	"time"

	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
)

// TaskType enumerates the supported task kinds.
type TaskType string

const (
	TaskTypeHabit  TaskType = "habit"
	TaskTypeDaily  TaskType = "daily"
	TaskTypeTodo   TaskType = "todo"
	TaskTypeReward TaskType = "reward"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeHabit, TaskTypeDaily, TaskTypeTodo, TaskTypeReward:
		return true
	}
	return false
}

// Broken-annotation reasons written onto member-owned task copies at teardown.
const (
	BrokenChallengeDeleted = "CHALLENGE_DELETED"
	BrokenChallengeClosed  = "CHALLENGE_CLOSED"
)

// Task is a unit of work bound to a challenge. A task without an owner is a
// seed template; member-owned copies carry the owner's ID. Only seed tasks
// are ever deleted at teardown; owned copies are annotated broken instead.
type Task struct {
	ID          id.TaskID      `json:"id"`
	Type        TaskType       `json:"type"`
	Text        string         `json:"text"`
	Notes       string         `json:"notes"`
	ChallengeID id.ChallengeID `json:"challenge_id"`
	OwnerID     id.MemberID    `json:"owner_id"`
	Broken      string         `json:"broken,omitempty"`
	WinnerName  string         `json:"winner_name,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsSeed reports whether the task is an unowned template.
func (t *Task) IsSeed() bool {
	return t.OwnerID.IsNil()
}

// CopyFor builds a member-owned copy of a seed task.
func (t *Task) CopyFor(ownerID id.MemberID, now time.Time) *Task {
	return &Task{
		ID:          id.NewTaskID(),
		Type:        t.Type,
		Text:        t.Text,
		Notes:       t.Notes,
		ChallengeID: t.ChallengeID,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskSpec describes a seed task supplied at challenge creation.
type TaskSpec struct {
	Type  TaskType `json:"type"`
	Text  string   `json:"text"`
	Notes string   `json:"notes"`
}

// Validate checks the spec before any entity is constructed from it.
func (s TaskSpec) Validate() error {
	if !s.Type.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown task type")
	}
	if s.Text == "" {
		return dErrors.New(dErrors.CodeValidation, "task text is required")
	}
	return nil
}

// NewSeedTask constructs an unowned task template bound to a challenge.
func NewSeedTask(spec TaskSpec, challengeID id.ChallengeID, now time.Time) *Task {
	return &Task{
		ID:          id.NewTaskID(),
		Type:        spec.Type,
		Text:        spec.Text,
		Notes:       spec.Notes,
		ChallengeID: challengeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Outcome describes why a challenge is being torn down.
type Outcome struct {
	// Reason is the broken annotation written onto member-owned copies.
	Reason string `json:"reason"`
	// WinnerID is set when the challenge completed with a winner.
	WinnerID id.MemberID `json:"winner_id"`
}

// Deleted builds the outcome for a deleted challenge.
func Deleted(reason string) Outcome {
	if reason == "" {
		reason = BrokenChallengeDeleted
	}
	return Outcome{Reason: reason}
}

// Completed builds the outcome for a challenge closed with a winner.
func Completed(winnerID id.MemberID) Outcome {
	return Outcome{Reason: BrokenChallengeClosed, WinnerID: winnerID}
}

// HasWinner reports whether the outcome carries a payout.
func (o Outcome) HasWinner() bool {
	return !o.WinnerID.IsNil()
}
