package challengestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rally/internal/challenge/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

type ChallengeStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *ChallengeStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestChallengeStoreSuite(t *testing.T) {
	suite.Run(t, new(ChallengeStoreSuite))
}

func (s *ChallengeStoreSuite) newChallenge(name string, createdAt time.Time) *models.Challenge {
	challenge, err := models.NewChallenge(id.NewChallengeID(), name, id.NewGroupID(), id.NewMemberID(), 20, createdAt)
	s.Require().NoError(err)
	return challenge
}

func (s *ChallengeStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds challenge by ID", func() {
		challenge := s.newChallenge("Spring Cleaning", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, challenge))

		found, err := s.store.FindByID(s.ctx, challenge.ID)
		s.Require().NoError(err)
		s.Equal(challenge.Name, found.Name)
		s.Equal(models.StatusActive, found.Status)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewChallengeID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate ID", func() {
		challenge := s.newChallenge("Dupes", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, challenge))
		s.Require().ErrorIs(s.store.Create(s.ctx, challenge), sentinel.ErrConflict)
	})
}

func (s *ChallengeStoreSuite) TestUpdateAndRemove() {
	s.Run("persists status transitions", func() {
		challenge := s.newChallenge("Marathon", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, challenge))

		challenge.ApplyClosing(time.Now())
		s.Require().NoError(s.store.Update(s.ctx, challenge))

		found, err := s.store.FindByID(s.ctx, challenge.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusClosing, found.Status)
	})

	s.Run("update of unknown challenge fails", func() {
		challenge := s.newChallenge("Ghost", time.Now())
		s.Require().ErrorIs(s.store.Update(s.ctx, challenge), sentinel.ErrNotFound)
	})

	s.Run("remove is idempotent", func() {
		challenge := s.newChallenge("Gone", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, challenge))

		s.Require().NoError(s.store.Remove(s.ctx, challenge.ID))
		s.Require().NoError(s.store.Remove(s.ctx, challenge.ID))

		_, err := s.store.FindByID(s.ctx, challenge.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ChallengeStoreSuite) TestListByIDs() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := s.newChallenge("Older", base)
	newer := s.newChallenge("Newer", base.Add(time.Hour))
	official := s.newChallenge("Official", base.Add(-time.Hour))
	official.Official = true

	for _, c := range []*models.Challenge{older, newer, official} {
		s.Require().NoError(s.store.Create(s.ctx, c))
	}

	s.Run("orders official first then newest first", func() {
		listed, err := s.store.ListByIDs(s.ctx, []id.ChallengeID{older.ID, newer.ID, official.ID})
		s.Require().NoError(err)
		s.Require().Len(listed, 3)
		s.Equal(official.ID, listed[0].ID)
		s.Equal(newer.ID, listed[1].ID)
		s.Equal(older.ID, listed[2].ID)
	})

	s.Run("skips IDs that no longer exist", func() {
		listed, err := s.store.ListByIDs(s.ctx, []id.ChallengeID{newer.ID, id.NewChallengeID()})
		s.Require().NoError(err)
		s.Require().Len(listed, 1)
		s.Equal(newer.ID, listed[0].ID)
	})

	s.Run("empty input yields empty list", func() {
		listed, err := s.store.ListByIDs(s.ctx, nil)
		s.Require().NoError(err)
		s.Empty(listed)
	})
}

func (s *ChallengeStoreSuite) TestCloneIsolation() {
	challenge := s.newChallenge("Isolated", time.Now())
	challenge.TasksOrder.Append(models.TaskTypeHabit, id.NewTaskID())
	s.Require().NoError(s.store.Create(s.ctx, challenge))

	found, err := s.store.FindByID(s.ctx, challenge.ID)
	s.Require().NoError(err)
	found.TasksOrder.Habits[0] = id.NewTaskID()
	found.Name = "Mutated"

	again, err := s.store.FindByID(s.ctx, challenge.ID)
	s.Require().NoError(err)
	s.Equal("Isolated", again.Name)
	s.Equal(challenge.TasksOrder.Habits[0], again.TasksOrder.Habits[0])
}
