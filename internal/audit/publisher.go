package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "rally/pkg/domain"
)

// Sink receives serialized audit events for external delivery, typically a
// Kafka topic.
type Sink interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Publisher fans audit events out to a store and an optional sink. By default
// it writes synchronously; WithAsyncBuffer switches to a buffered worker so
// request paths never block on audit delivery.
type Publisher struct {
	store  Store
	sink   Sink
	logger *slog.Logger

	buffer chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery through a buffer of the given
// size. When the buffer is full events are dropped rather than blocking the
// caller.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buffer = make(chan Event, size)
	}
}

// WithSink attaches an external delivery sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher writing to the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Emit records an event. The timestamp is stamped if the caller left it zero.
// In async mode a full buffer drops the event with an error rather than
// blocking.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.buffer == nil {
		return p.deliver(ctx, event)
	}
	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("audit buffer full")
	}
}

// List returns the recorded events for a challenge.
func (p *Publisher) List(ctx context.Context, challengeID id.ChallengeID) ([]Event, error) {
	return p.store.ListByChallenge(ctx, challengeID)
}

// Close stops the async worker after draining buffered events. Safe to call
// multiple times and in sync mode.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for event := range p.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.deliver(ctx, event); err != nil {
			p.logger.Error("audit delivery failed",
				"action", event.Action,
				"challenge_id", event.ChallengeID.String(),
				"error", err)
		}
		cancel()
	}
}

func (p *Publisher) deliver(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.sink != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		if err := p.sink.Publish(ctx, event.ChallengeID.String(), payload); err != nil {
			// The store already has the event; sink delivery is best effort.
			p.logger.Warn("audit sink delivery failed",
				"action", event.Action,
				"challenge_id", event.ChallengeID.String(),
				"error", err)
		}
	}
	return nil
}
