// Package saga runs the challenge teardown: a best-effort fan-out of the
// removal, annotation, refund, and payout work triggered by deleting a
// challenge or selecting its winner. Branches run concurrently and settle
// independently; one branch failing never stops, retries, or rolls back
// another. Callers dispatch and move on; settled results only reach logs,
// metrics, and the audit trail.
package saga

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"rally/internal/audit"
	"rally/internal/challenge/metrics"
	challengemodels "rally/internal/challenge/models"
	groupmodels "rally/internal/group/models"
	membermodels "rally/internal/member/models"
	id "rally/pkg/domain"
)

// Branch names used in settled results, logs, and metrics.
const (
	BranchRemoveChallenge = "remove_challenge"
	BranchRemoveSeedTasks = "remove_seed_tasks"
	BranchDetachMembers   = "detach_members"
	BranchAnnotateTasks   = "annotate_tasks"
	BranchDecrementCount  = "decrement_count"
	BranchRefundLeader    = "refund_leader"
	BranchPayoutWinner    = "payout_winner"
)

// ChallengeRemover removes challenge records.
type ChallengeRemover interface {
	Remove(ctx context.Context, challengeID id.ChallengeID) error
}

// TaskStore is the slice of the task store the saga needs.
type TaskStore interface {
	RemoveUnowned(ctx context.Context, challengeID id.ChallengeID) (int, error)
	AnnotateBroken(ctx context.Context, challengeID id.ChallengeID, reason, winnerName string, now time.Time) (int, error)
}

// GroupStore is the slice of the group store the saga needs.
type GroupStore interface {
	Execute(ctx context.Context, groupID id.GroupID, validate func(*groupmodels.Group) error, mutate func(*groupmodels.Group)) (*groupmodels.Group, error)
}

// MemberStore is the slice of the member store the saga needs. All member
// mutations go through Execute: detach, refund, and payout can hit the same
// member concurrently, and a whole-record save would let the last writer
// erase its sibling's effect.
type MemberStore interface {
	FindByID(ctx context.Context, memberID id.MemberID) (*membermodels.Member, error)
	Execute(ctx context.Context, memberID id.MemberID, validate func(*membermodels.Member) error, mutate func(*membermodels.Member)) (*membermodels.Member, error)
	FindTaggedWithChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*membermodels.Member, error)
}

// WinnerNotifier sends the congratulatory winner notification.
type WinnerNotifier interface {
	WonChallenge(ctx context.Context, member *membermodels.Member, challengeID id.ChallengeID, challengeName string) error
}

// BranchResult is the settled outcome of one teardown branch.
type BranchResult struct {
	Branch string
	Err    error
}

// SettledResults holds every branch's settled outcome, in dispatch order.
type SettledResults []BranchResult

// Failed returns the branches that settled with an error.
func (r SettledResults) Failed() []BranchResult {
	var failed []BranchResult
	for _, result := range r {
		if result.Err != nil {
			failed = append(failed, result)
		}
	}
	return failed
}

// Teardown coordinates the fan-out.
type Teardown struct {
	challenges ChallengeRemover
	tasks      TaskStore
	groups     GroupStore
	members    MemberStore
	notifier   WinnerNotifier
	auditor    *audit.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Teardown.
type Option func(*Teardown)

// WithNotifier attaches the winner notifier.
func WithNotifier(notifier WinnerNotifier) Option {
	return func(t *Teardown) { t.notifier = notifier }
}

// WithAuditPublisher attaches the audit trail.
func WithAuditPublisher(auditor *audit.Publisher) Option {
	return func(t *Teardown) { t.auditor = auditor }
}

// WithMetrics attaches lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Teardown) { t.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Teardown) { t.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Teardown) { t.now = now }
}

// NewTeardown wires a teardown coordinator.
func NewTeardown(challenges ChallengeRemover, tasks TaskStore, groups GroupStore, members MemberStore, opts ...Option) *Teardown {
	t := &Teardown{
		challenges: challenges,
		tasks:      tasks,
		groups:     groups,
		members:    members,
		metrics:    metrics.NewNop(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run executes every teardown branch concurrently and returns the settled
// results. Run never returns an error: branch failures are recorded, logged,
// and counted, nothing more.
func (t *Teardown) Run(ctx context.Context, challenge *challengemodels.Challenge, outcome challengemodels.Outcome) SettledResults {
	// The winner's display name feeds the broken annotations, so it is
	// loaded once up front. A missing winner only degrades the annotation.
	winnerName := ""
	if outcome.HasWinner() {
		if winner, err := t.members.FindByID(ctx, outcome.WinnerID); err == nil {
			winnerName = winner.DisplayName
		} else {
			t.logger.Warn("winner lookup for annotation failed",
				"challenge_id", challenge.ID.String(),
				"winner_id", outcome.WinnerID.String(),
				"error", err)
		}
	}

	type branchFn struct {
		name string
		run  func(context.Context) error
	}
	branches := []branchFn{
		{BranchRemoveChallenge, func(ctx context.Context) error {
			return t.challenges.Remove(ctx, challenge.ID)
		}},
		{BranchRemoveSeedTasks, func(ctx context.Context) error {
			_, err := t.tasks.RemoveUnowned(ctx, challenge.ID)
			return err
		}},
		{BranchDetachMembers, func(ctx context.Context) error {
			return t.detachMembers(ctx, challenge.ID)
		}},
		{BranchAnnotateTasks, func(ctx context.Context) error {
			_, err := t.tasks.AnnotateBroken(ctx, challenge.ID, outcome.Reason, winnerName, t.now())
			return err
		}},
		{BranchDecrementCount, func(ctx context.Context) error {
			return t.decrementCount(ctx, challenge.GroupID)
		}},
	}
	if !outcome.HasWinner() && challenge.GroupID != groupmodels.DefaultGroupID {
		branches = append(branches, branchFn{BranchRefundLeader, func(ctx context.Context) error {
			return t.refundLeader(ctx, challenge)
		}})
	}
	if outcome.HasWinner() {
		branches = append(branches, branchFn{BranchPayoutWinner, func(ctx context.Context) error {
			return t.payoutWinner(ctx, challenge, outcome.WinnerID)
		}})
	}

	// A plain errgroup, not WithContext: a failing branch must never cancel
	// its siblings.
	results := make(SettledResults, len(branches))
	var g errgroup.Group
	for i, branch := range branches {
		g.Go(func() error {
			results[i] = BranchResult{Branch: branch.name, Err: branch.run(ctx)}
			return nil
		})
	}
	_ = g.Wait()

	t.settle(ctx, challenge, outcome, results)
	return results
}

func (t *Teardown) detachMembers(ctx context.Context, challengeID id.ChallengeID) error {
	members, err := t.members.FindTaggedWithChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if _, err := t.members.Execute(ctx, member.ID, nil, func(m *membermodels.Member) {
			m.LeaveChallenge(challengeID, t.now())
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Teardown) decrementCount(ctx context.Context, groupID id.GroupID) error {
	_, err := t.groups.Execute(ctx, groupID,
		func(g *groupmodels.Group) error { return g.CanDecrementChallengeCount() },
		func(g *groupmodels.Group) { g.ApplyChallengeRemoved(t.now()) },
	)
	return err
}

func (t *Teardown) refundLeader(ctx context.Context, challenge *challengemodels.Challenge) error {
	_, err := t.members.Execute(ctx, challenge.LeaderID, nil, func(m *membermodels.Member) {
		m.CreditBalance(challenge.PrizeCost(), t.now())
	})
	return err
}

func (t *Teardown) payoutWinner(ctx context.Context, challenge *challengemodels.Challenge, winnerID id.MemberID) error {
	winner, err := t.members.Execute(ctx, winnerID, nil, func(m *membermodels.Member) {
		m.AddAchievement(challenge.Name, t.now())
		m.CreditBalance(challenge.PrizeCost(), t.now())
	})
	if err != nil {
		return err
	}
	t.metrics.WinnerPayouts.Inc()

	// Notification only after the payout is durable.
	if t.notifier != nil && winner.Prefs.Allows() {
		if err := t.notifier.WonChallenge(ctx, winner, challenge.ID, challenge.Name); err != nil {
			t.logger.Warn("winner notification failed",
				"challenge_id", challenge.ID.String(),
				"winner_id", winnerID.String(),
				"error", err)
		}
	}
	return nil
}

func (t *Teardown) settle(ctx context.Context, challenge *challengemodels.Challenge, outcome challengemodels.Outcome, results SettledResults) {
	failed := results.Failed()
	for _, result := range failed {
		t.metrics.SagaBranchFailures.WithLabelValues(result.Branch).Inc()
		t.logger.Error("teardown branch failed",
			"challenge_id", challenge.ID.String(),
			"branch", result.Branch,
			"error", result.Err)
	}
	t.logger.Info("teardown settled",
		"challenge_id", challenge.ID.String(),
		"reason", outcome.Reason,
		"branches", len(results),
		"failed", len(failed))

	if t.auditor != nil {
		detail := outcome.Reason
		if len(failed) > 0 {
			detail = detail + ": " + failed[0].Branch + " failed"
		}
		if err := t.auditor.Emit(ctx, audit.Event{
			Action:      audit.EventTeardownSettled,
			ChallengeID: challenge.ID,
			GroupID:     challenge.GroupID,
			WinnerID:    outcome.WinnerID,
			Detail:      detail,
		}); err != nil {
			t.logger.Warn("teardown audit emit failed", "challenge_id", challenge.ID.String(), "error", err)
		}
	}
}
