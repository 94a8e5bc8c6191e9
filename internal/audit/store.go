package audit

import (
	"context"
	"sync"

	id "rally/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByChallenge(ctx context.Context, challengeID id.ChallengeID) ([]Event, error)
}

// InMemoryStore keeps events in memory, in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByChallenge(ctx context.Context, challengeID id.ChallengeID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.ChallengeID == challengeID {
			out = append(out, event)
		}
	}
	return out, nil
}
