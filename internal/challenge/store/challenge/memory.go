// Package challengestore persists challenge aggregates. ListByIDs returns a
// stable order (official first, then newest first) so listings never shuffle
// between requests.
package challengestore

import (
	"context"
	"sort"
	"sync"

	"rally/internal/challenge/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu         sync.RWMutex
	challenges map[id.ChallengeID]*models.Challenge
}

// NewInMemory creates an empty in-memory challenge store.
func NewInMemory() *InMemory {
	return &InMemory{challenges: make(map[id.ChallengeID]*models.Challenge)}
}

// Create inserts a challenge. Fails with ErrConflict when the ID exists.
func (s *InMemory) Create(ctx context.Context, challenge *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[challenge.ID]; ok {
		return sentinel.ErrConflict
	}
	s.challenges[challenge.ID] = clone(challenge)
	return nil
}

// FindByID returns a copy of the challenge or ErrNotFound.
func (s *InMemory) FindByID(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenge, ok := s.challenges[challengeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(challenge), nil
}

// Update overwrites an existing challenge.
func (s *InMemory) Update(ctx context.Context, challenge *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[challenge.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.challenges[challenge.ID] = clone(challenge)
	return nil
}

// ListByIDs returns the challenges for the given IDs, skipping IDs that no
// longer exist, ordered official first and newest first within each bucket.
func (s *InMemory) ListByIDs(ctx context.Context, ids []id.ChallengeID) ([]*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Challenge, 0, len(ids))
	for _, challengeID := range ids {
		if challenge, ok := s.challenges[challengeID]; ok {
			result = append(result, clone(challenge))
		}
	}
	sortChallenges(result)
	return result, nil
}

// Remove deletes a challenge. Missing IDs are not an error; the teardown saga
// retries are idempotent.
func (s *InMemory) Remove(ctx context.Context, challengeID id.ChallengeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeID)
	return nil
}

func sortChallenges(challenges []*models.Challenge) {
	sort.SliceStable(challenges, func(i, j int) bool {
		a, b := challenges[i], challenges[j]
		if a.Official != b.Official {
			return a.Official
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func clone(c *models.Challenge) *models.Challenge {
	copied := *c
	copied.TasksOrder.Habits = append([]id.TaskID(nil), c.TasksOrder.Habits...)
	copied.TasksOrder.Dailys = append([]id.TaskID(nil), c.TasksOrder.Dailys...)
	copied.TasksOrder.Todos = append([]id.TaskID(nil), c.TasksOrder.Todos...)
	copied.TasksOrder.Rewards = append([]id.TaskID(nil), c.TasksOrder.Rewards...)
	return &copied
}
