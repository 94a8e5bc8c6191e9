// Package notify delivers winner notifications. Delivery is best effort and
// deduplicated, so a retried teardown never congratulates a winner twice.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rally/internal/member/models"
	id "rally/pkg/domain"
)

// EmailSender sends a single email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// PushSender sends a single push notification.
type PushSender interface {
	SendPush(ctx context.Context, memberID id.MemberID, title, body string) error
}

// SendGuard ensures a notification key is delivered at most once.
type SendGuard interface {
	// FirstSend reports whether this is the first attempt for the key.
	FirstSend(ctx context.Context, key string) (bool, error)
}

// Notifier fans a winner notification out over the channels the member's
// preferences allow.
type Notifier struct {
	email  EmailSender
	push   PushSender
	guard  SendGuard
	logger *slog.Logger
}

// NewNotifier wires a notifier. A nil guard disables deduplication.
func NewNotifier(email EmailSender, push PushSender, guard SendGuard, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{email: email, push: push, guard: guard, logger: logger}
}

// WonChallenge notifies the member they won the named challenge. Channels the
// member has disabled are skipped; a repeat call for the same member and
// challenge is dropped by the guard. Individual channel failures are logged,
// not returned, because notification is never allowed to fail a teardown.
func (n *Notifier) WonChallenge(ctx context.Context, member *models.Member, challengeID id.ChallengeID, challengeName string) error {
	if !member.Prefs.Allows() {
		return nil
	}
	if n.guard != nil {
		key := fmt.Sprintf("notify:won:%s:%s", challengeID.String(), member.ID.String())
		first, err := n.guard.FirstSend(ctx, key)
		if err != nil {
			return fmt.Errorf("notification guard: %w", err)
		}
		if !first {
			return nil
		}
	}

	subject := fmt.Sprintf("You won the challenge %q!", challengeName)
	body := fmt.Sprintf("Congratulations! You were selected as the winner of %q.", challengeName)

	if member.Prefs.EmailWonChallenge && n.email != nil {
		if err := n.email.SendEmail(ctx, member.Email, subject, body); err != nil {
			n.logger.Warn("winner email failed",
				"member_id", member.ID.String(),
				"challenge_id", challengeID.String(),
				"error", err)
		}
	}
	if member.Prefs.PushWonChallenge && n.push != nil {
		if err := n.push.SendPush(ctx, member.ID, subject, body); err != nil {
			n.logger.Warn("winner push failed",
				"member_id", member.ID.String(),
				"challenge_id", challengeID.String(),
				"error", err)
		}
	}
	return nil
}

// LogEmailSender writes emails to the structured log. Stands in for a real
// mail provider in development.
type LogEmailSender struct {
	Logger *slog.Logger
}

func (s *LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email sent", "to", to, "subject", subject)
	return nil
}

// LogPushSender writes push notifications to the structured log.
type LogPushSender struct {
	Logger *slog.Logger
}

func (s *LogPushSender) SendPush(ctx context.Context, memberID id.MemberID, title, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("push sent", "member_id", memberID.String(), "title", title)
	return nil
}

// DefaultGuardTTL bounds how long a send-once key is remembered.
const DefaultGuardTTL = 30 * 24 * time.Hour
