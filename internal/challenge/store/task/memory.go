// Package taskstore persists challenge tasks, both unowned seed templates and
// member-owned copies. Teardown deletes seeds and annotates owned copies in
// place.
package taskstore

import (
	"context"
	"sync"
	"time"

	"rally/internal/challenge/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu    sync.RWMutex
	tasks map[id.TaskID]*models.Task
}

// NewInMemory creates an empty in-memory task store.
func NewInMemory() *InMemory {
	return &InMemory{tasks: make(map[id.TaskID]*models.Task)}
}

// CreateMany inserts a batch of tasks. Fails with ErrConflict if any ID
// already exists; on conflict nothing is inserted.
func (s *InMemory) CreateMany(ctx context.Context, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if _, ok := s.tasks[task.ID]; ok {
			return sentinel.ErrConflict
		}
	}
	for _, task := range tasks {
		s.tasks[task.ID] = clone(task)
	}
	return nil
}

// ListByChallenge returns all tasks bound to the challenge, seeds and owned
// copies alike.
func (s *InMemory) ListByChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*models.Task
	for _, task := range s.tasks {
		if task.ChallengeID == challengeID {
			tasks = append(tasks, clone(task))
		}
	}
	return tasks, nil
}

// RemoveUnowned deletes the challenge's seed templates and returns how many
// were removed. Owned copies are untouched.
func (s *InMemory) RemoveUnowned(ctx context.Context, challengeID id.ChallengeID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for taskID, task := range s.tasks {
		if task.ChallengeID == challengeID && task.IsSeed() {
			delete(s.tasks, taskID)
			removed++
		}
	}
	return removed, nil
}

// AnnotateBroken marks every member-owned copy for the challenge as broken
// with the given reason, recording the winner's name when there is one.
// Returns how many copies were annotated.
func (s *InMemory) AnnotateBroken(ctx context.Context, challengeID id.ChallengeID, reason, winnerName string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	annotated := 0
	for _, task := range s.tasks {
		if task.ChallengeID == challengeID && !task.IsSeed() {
			task.Broken = reason
			task.WinnerName = winnerName
			task.UpdatedAt = now
			annotated++
		}
	}
	return annotated, nil
}

func clone(t *models.Task) *models.Task {
	copied := *t
	return &copied
}
