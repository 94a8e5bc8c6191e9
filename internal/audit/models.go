// Package audit records the lifecycle actions taken against challenges so
// escrow movements stay traceable after the fact.
package audit

import (
	"time"

	id "rally/pkg/domain"
)

// EventAction names the audited lifecycle actions.
type EventAction string

const (
	EventChallengeCreated EventAction = "challenge_created"
	EventChallengeDeleted EventAction = "challenge_deleted"
	EventWinnerSelected   EventAction = "winner_selected"
	EventTeardownSettled  EventAction = "teardown_settled"
)

// Event captures one audited action. Keep it transport-agnostic so stores and
// sinks can fan out.
type Event struct {
	Action      EventAction    `json:"action"`
	Timestamp   time.Time      `json:"timestamp"`
	ChallengeID id.ChallengeID `json:"challenge_id"`
	GroupID     id.GroupID     `json:"group_id,omitempty"`
	// ActorID is the member who triggered the action. Empty for events the
	// teardown saga emits on its own behalf.
	ActorID  id.MemberID `json:"actor_id,omitempty"`
	WinnerID id.MemberID `json:"winner_id,omitempty"`
	// Amount is the escrow movement tied to the action, if any.
	Amount float64 `json:"amount,omitempty"`
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string `json:"request_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
