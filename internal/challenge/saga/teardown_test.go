package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	challengemodels "rally/internal/challenge/models"
	challengestore "rally/internal/challenge/store/challenge"
	taskstore "rally/internal/challenge/store/task"
	groupmodels "rally/internal/group/models"
	groupstore "rally/internal/group/store"
	membermodels "rally/internal/member/models"
	memberstore "rally/internal/member/store"
	"rally/internal/notify"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

type recordingNotifier struct {
	notified []id.MemberID
}

func (n *recordingNotifier) WonChallenge(ctx context.Context, member *membermodels.Member, challengeID id.ChallengeID, challengeName string) error {
	n.notified = append(n.notified, member.ID)
	return nil
}

type TeardownSuite struct {
	suite.Suite
	ctx        context.Context
	challenges *challengestore.InMemory
	tasks      *taskstore.InMemory
	groups     *groupstore.InMemory
	members    *memberstore.InMemory
	notifier   *recordingNotifier

	group     *groupmodels.Group
	leader    *membermodels.Member
	winner    *membermodels.Member
	challenge *challengemodels.Challenge
}

func TestTeardownSuite(t *testing.T) {
	suite.Run(t, new(TeardownSuite))
}

func (s *TeardownSuite) SetupTest() {
	s.ctx = context.Background()
	s.challenges = challengestore.NewInMemory()
	s.tasks = taskstore.NewInMemory()
	s.groups = groupstore.NewInMemory()
	s.members = memberstore.NewInMemory()
	s.notifier = &recordingNotifier{}

	now := time.Now()

	s.leader = &membermodels.Member{ID: id.NewMemberID(), DisplayName: "Lea", Email: "lea@example.com", CreatedAt: now, UpdatedAt: now}
	s.winner = &membermodels.Member{
		ID: id.NewMemberID(), DisplayName: "Winnie", Email: "winnie@example.com",
		Prefs:     membermodels.NotificationPrefs{EmailWonChallenge: true},
		CreatedAt: now, UpdatedAt: now,
	}

	group, err := groupmodels.NewGroup(id.NewGroupID(), "Guild", s.leader.ID, now)
	s.Require().NoError(err)
	group.ChallengeCount = 1
	s.group = group

	challenge, err := challengemodels.NewChallenge(id.NewChallengeID(), "Marathon", group.ID, s.leader.ID, 20, now)
	s.Require().NoError(err)
	s.challenge = challenge

	seed := challengemodels.NewSeedTask(challengemodels.TaskSpec{Type: challengemodels.TaskTypeHabit, Text: "Run"}, challenge.ID, now)
	winnerCopy := seed.CopyFor(s.winner.ID, now)

	s.leader.JoinChallenge(challenge.ID, challenge.Name, now)
	s.winner.JoinChallenge(challenge.ID, challenge.Name, now)

	s.Require().NoError(s.groups.Create(s.ctx, group))
	s.Require().NoError(s.members.Create(s.ctx, s.leader))
	s.Require().NoError(s.members.Create(s.ctx, s.winner))
	s.Require().NoError(s.challenges.Create(s.ctx, challenge))
	s.Require().NoError(s.tasks.CreateMany(s.ctx, []*challengemodels.Task{seed, winnerCopy}))
}

func (s *TeardownSuite) newTeardown(opts ...Option) *Teardown {
	base := []Option{WithNotifier(s.notifier)}
	return NewTeardown(s.challenges, s.tasks, s.groups, s.members, append(base, opts...)...)
}

func (s *TeardownSuite) TestDeletedChallengeTeardown() {
	results := s.newTeardown().Run(s.ctx, s.challenge, challengemodels.Deleted(""))
	s.Empty(results.Failed())

	s.Run("challenge record is gone", func() {
		_, err := s.challenges.FindByID(s.ctx, s.challenge.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("seed tasks are gone, owned copies annotated", func() {
		tasks, err := s.tasks.ListByChallenge(s.ctx, s.challenge.ID)
		s.Require().NoError(err)
		s.Require().Len(tasks, 1)
		s.False(tasks[0].IsSeed())
		s.Equal(challengemodels.BrokenChallengeDeleted, tasks[0].Broken)
		s.Empty(tasks[0].WinnerName)
	})

	s.Run("members no longer reference the challenge", func() {
		for _, memberID := range []id.MemberID{s.leader.ID, s.winner.ID} {
			member, err := s.members.FindByID(s.ctx, memberID)
			s.Require().NoError(err)
			s.False(member.HasJoined(s.challenge.ID))
			for _, tag := range member.Tags {
				if tag.ID == s.challenge.ID.String() {
					s.False(tag.Challenge)
				}
			}
		}
	})

	s.Run("group counter decremented and leader refunded", func() {
		group, err := s.groups.FindByID(s.ctx, s.group.ID)
		s.Require().NoError(err)
		s.Equal(0, group.ChallengeCount)

		leader, err := s.members.FindByID(s.ctx, s.leader.ID)
		s.Require().NoError(err)
		s.InDelta(s.challenge.PrizeCost(), leader.Balance, 1e-9)
	})

	s.Run("no winner means no notification", func() {
		s.Empty(s.notifier.notified)
	})
}

func (s *TeardownSuite) TestCompletedChallengeTeardown() {
	results := s.newTeardown().Run(s.ctx, s.challenge, challengemodels.Completed(s.winner.ID))
	s.Empty(results.Failed())

	s.Run("winner credited and decorated", func() {
		winner, err := s.members.FindByID(s.ctx, s.winner.ID)
		s.Require().NoError(err)
		s.InDelta(s.challenge.PrizeCost(), winner.Balance, 1e-9)
		s.Contains(winner.Achievements, s.challenge.Name)
	})

	s.Run("notification attempted after payout", func() {
		s.Equal([]id.MemberID{s.winner.ID}, s.notifier.notified)
	})

	s.Run("owned copies carry the winner's name", func() {
		tasks, err := s.tasks.ListByChallenge(s.ctx, s.challenge.ID)
		s.Require().NoError(err)
		s.Require().Len(tasks, 1)
		s.Equal(challengemodels.BrokenChallengeClosed, tasks[0].Broken)
		s.Equal("Winnie", tasks[0].WinnerName)
	})

	s.Run("no refund on completion", func() {
		leader, err := s.members.FindByID(s.ctx, s.leader.ID)
		s.Require().NoError(err)
		s.Zero(leader.Balance)
	})
}

func (s *TeardownSuite) TestDefaultGroupDeletionSkipsRefund() {
	now := time.Now()
	defaultGroup, err := groupmodels.NewGroup(groupmodels.DefaultGroupID, "Commons", s.leader.ID, now)
	s.Require().NoError(err)
	defaultGroup.ChallengeCount = 1
	s.Require().NoError(s.groups.Create(s.ctx, defaultGroup))

	challenge, err := challengemodels.NewChallenge(id.NewChallengeID(), "Public Run", groupmodels.DefaultGroupID, s.leader.ID, 20, now)
	s.Require().NoError(err)
	s.Require().NoError(s.challenges.Create(s.ctx, challenge))

	results := s.newTeardown().Run(s.ctx, challenge, challengemodels.Deleted(""))
	s.Empty(results.Failed())

	for _, result := range results {
		s.NotEqual(BranchRefundLeader, result.Branch)
	}
	leader, err := s.members.FindByID(s.ctx, s.leader.ID)
	s.Require().NoError(err)
	s.Zero(leader.Balance)
}

type failingRemover struct{}

func (failingRemover) Remove(ctx context.Context, challengeID id.ChallengeID) error {
	return errors.New("storage offline")
}

func (s *TeardownSuite) TestBranchFailureDoesNotStopSiblings() {
	teardown := NewTeardown(failingRemover{}, s.tasks, s.groups, s.members, WithNotifier(s.notifier))

	results := teardown.Run(s.ctx, s.challenge, challengemodels.Deleted(""))

	failed := results.Failed()
	s.Require().Len(failed, 1)
	s.Equal(BranchRemoveChallenge, failed[0].Branch)

	// Siblings settled on their own despite the failing branch.
	group, err := s.groups.FindByID(s.ctx, s.group.ID)
	s.Require().NoError(err)
	s.Equal(0, group.ChallengeCount)

	leader, err := s.members.FindByID(s.ctx, s.leader.ID)
	s.Require().NoError(err)
	s.InDelta(s.challenge.PrizeCost(), leader.Balance, 1e-9)
}

func (s *TeardownSuite) TestNotificationSkippedWhenPrefsDisallow() {
	quiet := &membermodels.Member{ID: id.NewMemberID(), DisplayName: "Quinn", Email: "quinn@example.com", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	quiet.JoinChallenge(s.challenge.ID, s.challenge.Name, time.Now())
	s.Require().NoError(s.members.Create(s.ctx, quiet))

	results := s.newTeardown().Run(s.ctx, s.challenge, challengemodels.Completed(quiet.ID))
	s.Empty(results.Failed())

	s.Empty(s.notifier.notified)

	winner, err := s.members.FindByID(s.ctx, quiet.ID)
	s.Require().NoError(err)
	s.InDelta(s.challenge.PrizeCost(), winner.Balance, 1e-9, "payout happens even without notification")
}

// laggingMemberStore stalls at the start of every member mutation, widening
// the window in which a stale whole-record write could overwrite a sibling
// branch's effect on the same member.
type laggingMemberStore struct {
	*memberstore.InMemory
	delay time.Duration
}

func (s *laggingMemberStore) Execute(ctx context.Context, memberID id.MemberID, validate func(*membermodels.Member) error, mutate func(*membermodels.Member)) (*membermodels.Member, error) {
	time.Sleep(s.delay)
	return s.InMemory.Execute(ctx, memberID, validate, mutate)
}

func (s *TeardownSuite) TestWinnerDetachAndPayoutBothLand() {
	// The detach and payout branches mutate the winner concurrently. Both
	// effects must survive every interleaving: the winner leaves the
	// challenge and keeps the credit.
	for range 20 {
		s.SetupTest()
		members := &laggingMemberStore{InMemory: s.members, delay: 2 * time.Millisecond}
		teardown := NewTeardown(s.challenges, s.tasks, s.groups, members, WithNotifier(s.notifier))

		results := teardown.Run(s.ctx, s.challenge, challengemodels.Completed(s.winner.ID))
		s.Require().Empty(results.Failed())

		winner, err := s.members.FindByID(s.ctx, s.winner.ID)
		s.Require().NoError(err)
		s.InDelta(s.challenge.PrizeCost(), winner.Balance, 1e-9, "payout must survive the concurrent detach")
		s.False(winner.HasJoined(s.challenge.ID), "detach must survive the concurrent payout")
		for _, tag := range winner.Tags {
			if tag.ID == s.challenge.ID.String() {
				s.False(tag.Challenge)
			}
		}
	}
}

func (s *TeardownSuite) TestLeaderDetachAndRefundBothLand() {
	for range 20 {
		s.SetupTest()
		members := &laggingMemberStore{InMemory: s.members, delay: 2 * time.Millisecond}
		teardown := NewTeardown(s.challenges, s.tasks, s.groups, members, WithNotifier(s.notifier))

		results := teardown.Run(s.ctx, s.challenge, challengemodels.Deleted(""))
		s.Require().Empty(results.Failed())

		leader, err := s.members.FindByID(s.ctx, s.leader.ID)
		s.Require().NoError(err)
		s.InDelta(s.challenge.PrizeCost(), leader.Balance, 1e-9, "refund must survive the concurrent detach")
		s.False(leader.HasJoined(s.challenge.ID), "detach must survive the concurrent refund")
	}
}

func (s *TeardownSuite) TestDispatchAfterCloseIsDropped() {
	dispatcher := NewDispatcher(s.newTeardown(), 8)
	dispatcher.Close()

	s.NotPanics(func() {
		dispatcher.Dispatch(s.challenge, challengemodels.Deleted(""))
	})

	// The dropped teardown never ran.
	_, err := s.challenges.FindByID(s.ctx, s.challenge.ID)
	s.Require().NoError(err)
}

func (s *TeardownSuite) TestDispatcherDrainsOnClose() {
	teardown := s.newTeardown()
	dispatcher := NewDispatcher(teardown, 8)

	dispatcher.Dispatch(s.challenge, challengemodels.Deleted(""))
	dispatcher.Close()

	_, err := s.challenges.FindByID(s.ctx, s.challenge.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

var _ WinnerNotifier = (*notify.Notifier)(nil)
