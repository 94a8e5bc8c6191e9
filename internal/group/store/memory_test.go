package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rally/internal/group/models"
	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
	"rally/pkg/platform/sentinel"
)

type GroupStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *GroupStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestGroupStoreSuite(t *testing.T) {
	suite.Run(t, new(GroupStoreSuite))
}

func (s *GroupStoreSuite) newGroup(name string) *models.Group {
	group, err := models.NewGroup(id.NewGroupID(), name, id.NewMemberID(), time.Now())
	s.Require().NoError(err)
	return group
}

func (s *GroupStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds group by ID", func() {
		group := s.newGroup("Adventurers")
		s.Require().NoError(s.store.Create(s.ctx, group))

		found, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Equal(group.Name, found.Name)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewGroupID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate ID", func() {
		group := s.newGroup("Dupes")
		s.Require().NoError(s.store.Create(s.ctx, group))
		s.Require().ErrorIs(s.store.Create(s.ctx, group), sentinel.ErrConflict)
	})
}

func (s *GroupStoreSuite) TestUpdates() {
	s.Run("persists balance changes", func() {
		group := s.newGroup("Treasury")
		s.Require().NoError(s.store.Create(s.ctx, group))

		group.Balance = 12.5
		s.Require().NoError(s.store.Update(s.ctx, group))

		found, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Equal(12.5, found.Balance)
	})

	s.Run("returns ErrNotFound for non-existent group", func() {
		s.Require().ErrorIs(s.store.Update(s.ctx, s.newGroup("Ghost")), sentinel.ErrNotFound)
	})

	s.Run("reads are isolated from caller mutation", func() {
		group := s.newGroup("Isolated")
		s.Require().NoError(s.store.Create(s.ctx, group))

		found, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		found.Balance = 999

		again, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Zero(again.Balance)
	})
}

func (s *GroupStoreSuite) TestExecute() {
	s.Run("validation failure leaves group untouched", func() {
		group := s.newGroup("Strict")
		s.Require().NoError(s.store.Create(s.ctx, group))

		_, err := s.store.Execute(s.ctx, group.ID,
			func(g *models.Group) error { return g.CanDecrementChallengeCount() },
			func(g *models.Group) { g.ApplyChallengeRemoved(time.Now()) },
		)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		found, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Zero(found.ChallengeCount)
	})

	s.Run("serializes concurrent mutations", func() {
		group := s.newGroup("Contended")
		group.ChallengeCount = 100
		s.Require().NoError(s.store.Create(s.ctx, group))

		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.Execute(s.ctx, group.ID,
					func(g *models.Group) error { return g.CanDecrementChallengeCount() },
					func(g *models.Group) { g.ApplyChallengeRemoved(time.Now()) },
				)
				s.NoError(err)
			}()
		}
		wg.Wait()

		found, err := s.store.FindByID(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Zero(found.ChallengeCount, "every decrement must land exactly once")
	})
}
