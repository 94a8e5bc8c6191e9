package saga

import (
	"context"
	"log/slog"
	"sync"

	"rally/internal/challenge/metrics"
	challengemodels "rally/internal/challenge/models"
)

// Dispatcher runs teardowns on a background worker so request handlers can
// acknowledge and return. Dispatch never blocks; a full queue drops the
// teardown with a logged error. Close drains queued teardowns before
// returning, so a graceful shutdown finishes work already accepted.
type Dispatcher struct {
	teardown *Teardown
	queue    chan job
	wg       sync.WaitGroup
	once     sync.Once
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// mu guards closed and brackets the enqueue, so Close cannot close the
	// queue while a Dispatch is mid-send.
	mu     sync.Mutex
	closed bool
}

type job struct {
	challenge *challengemodels.Challenge
	outcome   challengemodels.Outcome
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDispatcherMetrics attaches lifecycle metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher starts a dispatcher with the given queue depth.
func NewDispatcher(teardown *Teardown, queueSize int, opts ...DispatcherOption) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		teardown: teardown,
		queue:    make(chan job, queueSize),
		logger:   slog.Default(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Dispatch enqueues a teardown and returns immediately. The caller's context
// is deliberately not carried into the saga: the request finishes long before
// the teardown does.
func (d *Dispatcher) Dispatch(challenge *challengemodels.Challenge, outcome challengemodels.Outcome) {
	label := "deleted"
	if outcome.HasWinner() {
		label = "completed"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Error("teardown dispatched after close, dropping teardown",
			"challenge_id", challenge.ID.String(),
			"reason", outcome.Reason)
		return
	}
	select {
	case d.queue <- job{challenge: challenge, outcome: outcome}:
		d.metrics.TeardownsDispatched.WithLabelValues(label).Inc()
	default:
		d.logger.Error("teardown queue full, dropping teardown",
			"challenge_id", challenge.ID.String(),
			"reason", outcome.Reason)
	}
}

// Close stops accepting work and waits for queued teardowns to settle.
// Safe to call multiple times; a Dispatch after Close drops the teardown
// instead of panicking.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.teardown.Run(context.Background(), j.challenge, j.outcome)
	}
}
