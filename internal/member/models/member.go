package models

import (
	"time"

	id "rally/pkg/domain"
)

// NotificationPrefs controls which winner notifications a member receives.
type NotificationPrefs struct {
	EmailWonChallenge bool `json:"email_won_challenge"`
	PushWonChallenge  bool `json:"push_won_challenge"`
}

// Allows reports whether any notification channel is enabled.
func (p NotificationPrefs) Allows() bool {
	return p.EmailWonChallenge || p.PushWonChallenge
}

// Tag is a member-owned label. Challenge tags carry the challenge's ID and a
// set challenge flag; clearing the flag turns them into ordinary tags without
// losing the member's task grouping.
type Tag struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Challenge bool   `json:"challenge"`
}

// Member is the aggregate root for a platform member.
//
// Invariants:
//   - Balance never goes negative
//   - Challenges (joined set) and challenge-flagged Tags stay consistent with
//     challenge membership; teardown enforces this, creation only adds
type Member struct {
	ID           id.MemberID       `json:"id"`
	DisplayName  string            `json:"display_name"`
	Email        string            `json:"email"`
	Balance      float64           `json:"balance"`
	Challenges   []id.ChallengeID  `json:"challenges"`
	Tags         []Tag             `json:"tags"`
	Achievements []string          `json:"achievements"`
	Prefs        NotificationPrefs `json:"prefs"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HasJoined reports whether the challenge is in the member's joined set.
func (m *Member) HasJoined(challengeID id.ChallengeID) bool {
	for _, c := range m.Challenges {
		if c == challengeID {
			return true
		}
	}
	return false
}

// JoinChallenge adds the challenge to the joined set and creates the matching
// challenge tag. Joining twice is a no-op.
func (m *Member) JoinChallenge(challengeID id.ChallengeID, name string, now time.Time) {
	if m.HasJoined(challengeID) {
		return
	}
	m.Challenges = append(m.Challenges, challengeID)
	m.Tags = append(m.Tags, Tag{ID: challengeID.String(), Name: name, Challenge: true})
	m.UpdatedAt = now
}

// LeaveChallenge removes the challenge from the joined set and clears the
// challenge flag on its tag. The tag itself survives so the member keeps the
// label on personal task copies; the flag is what marks active membership.
func (m *Member) LeaveChallenge(challengeID id.ChallengeID, now time.Time) {
	kept := m.Challenges[:0]
	for _, c := range m.Challenges {
		if c != challengeID {
			kept = append(kept, c)
		}
	}
	m.Challenges = kept

	tagID := challengeID.String()
	for i := range m.Tags {
		if m.Tags[i].ID == tagID {
			m.Tags[i].Challenge = false
		}
	}
	m.UpdatedAt = now
}

// CreditBalance adds amount to the member's balance.
func (m *Member) CreditBalance(amount float64, now time.Time) {
	m.Balance += amount
	m.UpdatedAt = now
}

// AddAchievement appends an achievement entry.
func (m *Member) AddAchievement(name string, now time.Time) {
	m.Achievements = append(m.Achievements, name)
	m.UpdatedAt = now
}
