package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "rally/pkg/domain"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	challengeID := id.NewChallengeID()
	err := pub.Emit(context.Background(), Event{
		ChallengeID: challengeID,
		Action:      EventChallengeCreated,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), challengeID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventChallengeCreated, events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	challengeID := id.NewChallengeID()
	for range 10 {
		err := pub.Emit(context.Background(), Event{
			ChallengeID: challengeID,
			Action:      EventTeardownSettled,
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByChallenge(context.Background(), challengeID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	challengeID := id.NewChallengeID()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), Event{
				ChallengeID: challengeID,
				Action:      EventChallengeDeleted,
			})
		}()
	}
	wg.Wait()
	// Some events may be dropped with buffer size 1; the publisher must
	// neither panic nor block.
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	challengeID := id.NewChallengeID()

	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), Event{
		ChallengeID: challengeID,
		Action:      EventWinnerSelected,
	}))
	after := time.Now()

	events, err := pub.List(context.Background(), challengeID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	challengeID := id.NewChallengeID()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), Event{
		ChallengeID: challengeID,
		Action:      EventChallengeCreated,
		Timestamp:   customTime,
	}))

	events, err := pub.List(context.Background(), challengeID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) Publish(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func TestPublisher_ForwardsToSink(t *testing.T) {
	store := NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	challengeID := id.NewChallengeID()
	require.NoError(t, pub.Emit(context.Background(), Event{
		ChallengeID: challengeID,
		Action:      EventChallengeDeleted,
	}))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.keys, 1)
	assert.Equal(t, challengeID.String(), sink.keys[0])
}
