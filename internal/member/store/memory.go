// Package store persists members. FindTaggedWithChallenge is the teardown
// saga's fan-out query: every member whose tag set still references a
// challenge, whether or not the joined set agrees. Both flavors serialize
// per-member mutations through Execute so concurrent teardown branches
// cannot lose updates.
package store

import (
	"context"
	"sync"

	"rally/internal/member/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu      sync.RWMutex
	members map[id.MemberID]*models.Member
}

// NewInMemory creates an empty in-memory member store.
func NewInMemory() *InMemory {
	return &InMemory{members: make(map[id.MemberID]*models.Member)}
}

// Create inserts a member. Fails with ErrConflict when the ID already exists.
func (s *InMemory) Create(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[member.ID]; ok {
		return sentinel.ErrConflict
	}
	s.members[member.ID] = clone(member)
	return nil
}

// FindByID returns a copy of the member or ErrNotFound.
func (s *InMemory) FindByID(ctx context.Context, memberID id.MemberID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(member), nil
}

// Save overwrites an existing member.
func (s *InMemory) Save(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[member.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.members[member.ID] = clone(member)
	return nil
}

// Execute runs validate-then-mutate while holding the store lock, so
// concurrent mutations of the same member are serialized. The teardown saga
// routes its balance credits and detachments through here; two branches
// touching the same member can never overwrite each other's write.
func (s *InMemory) Execute(ctx context.Context, memberID id.MemberID, validate func(*models.Member) error, mutate func(*models.Member)) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(member)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	mutate(working)
	s.members[memberID] = working
	return clone(working), nil
}

// FindTaggedWithChallenge returns every member holding a challenge-flagged
// tag for the given challenge.
func (s *InMemory) FindTaggedWithChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tagID := challengeID.String()
	var tagged []*models.Member
	for _, member := range s.members {
		for _, tag := range member.Tags {
			if tag.ID == tagID && tag.Challenge {
				tagged = append(tagged, clone(member))
				break
			}
		}
	}
	return tagged, nil
}

func clone(m *models.Member) *models.Member {
	copied := *m
	copied.Challenges = append([]id.ChallengeID(nil), m.Challenges...)
	copied.Tags = append([]models.Tag(nil), m.Tags...)
	copied.Achievements = append([]string(nil), m.Achievements...)
	return &copied
}
