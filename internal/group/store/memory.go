// Package store persists groups. The in-memory flavor backs unit tests and
// development; the postgres flavor is the production store. Both serialize
// balance and counter mutations through Execute so concurrent teardowns
// cannot lose updates.
package store

import (
	"context"
	"sync"

	"rally/internal/group/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu     sync.RWMutex
	groups map[id.GroupID]*models.Group
}

// NewInMemory creates an empty in-memory group store.
func NewInMemory() *InMemory {
	return &InMemory{groups: make(map[id.GroupID]*models.Group)}
}

// Create inserts a group. Fails with ErrConflict when the ID already exists.
func (s *InMemory) Create(ctx context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return sentinel.ErrConflict
	}
	s.groups[group.ID] = clone(group)
	return nil
}

// FindByID returns a copy of the group or ErrNotFound.
func (s *InMemory) FindByID(ctx context.Context, groupID id.GroupID) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[groupID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(group), nil
}

// Update overwrites an existing group.
func (s *InMemory) Update(ctx context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.groups[group.ID] = clone(group)
	return nil
}

// Execute runs validate-then-mutate while holding the store lock, so balance
// and counter changes against the same group are serialized.
func (s *InMemory) Execute(ctx context.Context, groupID id.GroupID, validate func(*models.Group) error, mutate func(*models.Group)) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(group)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	mutate(working)
	s.groups[groupID] = working
	return clone(working), nil
}

func clone(g *models.Group) *models.Group {
	copied := *g
	return &copied
}
