// Package service orchestrates the challenge lifecycle: creation with prize
// escrow, listing, deletion, and winner selection. Deletion and winner
// selection acknowledge the caller first and hand the actual teardown to a
// background dispatcher.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rally/internal/audit"
	"rally/internal/challenge/escrow"
	"rally/internal/challenge/metrics"
	"rally/internal/challenge/models"
	groupmodels "rally/internal/group/models"
	membermodels "rally/internal/member/models"
	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
	"rally/pkg/platform/sentinel"
	"rally/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

type ChallengeStore interface {
	Create(ctx context.Context, challenge *models.Challenge) error
	FindByID(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error)
	Update(ctx context.Context, challenge *models.Challenge) error
	ListByIDs(ctx context.Context, ids []id.ChallengeID) ([]*models.Challenge, error)
}

type TaskStore interface {
	CreateMany(ctx context.Context, tasks []*models.Task) error
	ListByChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*models.Task, error)
}

type GroupStore interface {
	FindByID(ctx context.Context, groupID id.GroupID) (*groupmodels.Group, error)
	Update(ctx context.Context, group *groupmodels.Group) error
}

type MemberStore interface {
	FindByID(ctx context.Context, memberID id.MemberID) (*membermodels.Member, error)
	Save(ctx context.Context, member *membermodels.Member) error
}

// TeardownDispatcher hands a challenge to the background teardown saga.
type TeardownDispatcher interface {
	Dispatch(challenge *models.Challenge, outcome models.Outcome)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates challenge lifecycle operations.
type Service struct {
	challenges ChallengeStore
	tasks      TaskStore
	groups     GroupStore
	members    MemberStore
	dispatcher TeardownDispatcher

	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(challenges ChallengeStore, tasks TaskStore, groups GroupStore, members MemberStore, dispatcher TeardownDispatcher, opts ...Option) *Service {
	s := &Service{
		challenges: challenges,
		tasks:      tasks,
		groups:     groups,
		members:    members,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		metrics:    metrics.NewNop(),
		tracer:     otel.Tracer("rally/challenge"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the caller's challenge definition.
type CreateInput struct {
	Name     string
	GroupID  id.GroupID
	Prize    float64
	Official bool
	Tasks    []models.TaskSpec
}

// CreateChallenge runs the creation workflow: validate the input, authorize
// the requester against the group, reserve the prize cost from eligible
// balances, construct the challenge and its seed tasks, persist everything,
// and merge the challenge into the creator's own record.
//
// The persistence step is a sequential batch of independent writes, not a
// transaction: a failure partway through surfaces as an internal error and
// leaves earlier writes in place.
func (s *Service) CreateChallenge(ctx context.Context, input CreateInput) (*models.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "challenge.Create")
	defer span.End()

	requesterID := requestcontext.RequesterID(ctx)
	if requesterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	// Validate
	if input.Name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "challenge name is required")
	}
	if input.GroupID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "challenge group is required")
	}
	if input.Prize < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "challenge prize must not be negative")
	}
	for _, spec := range input.Tasks {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	if input.Official && !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only administrators may create official challenges")
	}

	// Authorize
	group, err := s.groups.FindByID(ctx, input.GroupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	if group.LeaderOnly.Challenges && !group.IsLeader(requesterID) && !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the group leader can create challenges in this group")
	}
	if group.IsDefault() && input.Prize < 1 {
		return nil, dErrors.New(dErrors.CodeForbidden, "public challenges must advertise a prize of at least 1")
	}

	requester, err := s.members.FindByID(ctx, requesterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}

	// Fund
	allocation, err := escrow.Fund(group, requester, input.Prize)
	if err != nil {
		if errors.Is(err, escrow.ErrInsufficientFunds) {
			return nil, dErrors.New(dErrors.CodeForbidden, "insufficient funds to cover the prize")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve prize")
	}

	// Construct
	now := s.now()
	challenge, err := models.NewChallenge(id.NewChallengeID(), input.Name, group.ID, requesterID, input.Prize, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}
	challenge.Official = input.Official

	seeds := make([]*models.Task, 0, len(input.Tasks))
	for _, spec := range input.Tasks {
		seed := models.NewSeedTask(spec, challenge.ID, now)
		challenge.TasksOrder.Append(seed.Type, seed.ID)
		seeds = append(seeds, seed)
	}
	group.ChallengeCount++
	group.UpdatedAt = now

	// Persist
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist challenge")
	}
	if err := s.groups.Update(ctx, group); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist group")
	}
	if err := s.tasks.CreateMany(ctx, seeds); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist tasks")
	}

	// SyncOwner
	requester.JoinChallenge(challenge.ID, challenge.Name, now)
	copies := make([]*models.Task, 0, len(seeds))
	for _, seed := range seeds {
		copies = append(copies, seed.CopyFor(requesterID, now))
	}
	if err := s.tasks.CreateMany(ctx, copies); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist member task copies")
	}
	if err := s.members.Save(ctx, requester); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist member")
	}

	s.metrics.ChallengesCreated.Inc()
	s.logger.Info("challenge created",
		"challenge_id", challenge.ID.String(),
		"group_id", group.ID.String(),
		"prize", challenge.Prize,
		"group_contribution", allocation.GroupContribution,
		"member_contribution", allocation.MemberContribution)
	s.logAudit(ctx, audit.Event{
		Action:      audit.EventChallengeCreated,
		ChallengeID: challenge.ID,
		GroupID:     group.ID,
		ActorID:     requesterID,
		Amount:      allocation.PrizeCost,
	})

	return challenge, nil
}

// GetChallenge returns a challenge and its tasks.
func (s *Service) GetChallenge(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, []*models.Task, error) {
	ctx, span := s.tracer.Start(ctx, "challenge.Get")
	defer span.End()

	challenge, err := s.findChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.tasks.ListByChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tasks")
	}
	return challenge, tasks, nil
}

// ListChallenges returns the requester's joined challenges, official ones
// first, newest first within each bucket.
func (s *Service) ListChallenges(ctx context.Context) ([]*models.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "challenge.List")
	defer span.End()

	requesterID := requestcontext.RequesterID(ctx)
	if requesterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	requester, err := s.members.FindByID(ctx, requesterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	challenges, err := s.challenges.ListByIDs(ctx, requester.Challenges)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list challenges")
	}
	return challenges, nil
}

// DeleteChallenge acknowledges the deletion and dispatches the teardown saga.
// The caller observes the challenge as removed immediately; the fan-out runs
// in the background and its settled results never reach the caller.
func (s *Service) DeleteChallenge(ctx context.Context, challengeID id.ChallengeID) error {
	ctx, span := s.tracer.Start(ctx, "challenge.Delete")
	defer span.End()

	challenge, err := s.findChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if err := s.authorizeLifecycle(ctx, challenge); err != nil {
		return err
	}
	if err := s.markClosing(ctx, challenge); err != nil {
		return err
	}

	s.logAudit(ctx, audit.Event{
		Action:      audit.EventChallengeDeleted,
		ChallengeID: challenge.ID,
		GroupID:     challenge.GroupID,
		ActorID:     s.actor(ctx),
	})
	s.dispatcher.Dispatch(challenge, models.Deleted(""))
	return nil
}

// SelectWinner validates the proposed winner's membership, acknowledges, and
// dispatches the teardown saga with a payout outcome.
func (s *Service) SelectWinner(ctx context.Context, challengeID id.ChallengeID, winnerID id.MemberID) error {
	ctx, span := s.tracer.Start(ctx, "challenge.SelectWinner")
	defer span.End()

	challenge, err := s.findChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if err := s.authorizeLifecycle(ctx, challenge); err != nil {
		return err
	}

	winner, err := s.members.FindByID(ctx, winnerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "winner not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load winner")
	}
	if !winner.HasJoined(challenge.ID) {
		return dErrors.New(dErrors.CodeNotFound, "winner is not a participant of this challenge")
	}

	if err := s.markClosing(ctx, challenge); err != nil {
		return err
	}

	s.logAudit(ctx, audit.Event{
		Action:      audit.EventWinnerSelected,
		ChallengeID: challenge.ID,
		GroupID:     challenge.GroupID,
		ActorID:     s.actor(ctx),
		WinnerID:    winnerID,
		Amount:      challenge.PrizeCost(),
	})
	s.dispatcher.Dispatch(challenge, models.Completed(winnerID))
	return nil
}

func (s *Service) findChallenge(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	challenge, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "challenge not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
	}
	return challenge, nil
}

func (s *Service) authorizeLifecycle(ctx context.Context, challenge *models.Challenge) error {
	requesterID := requestcontext.RequesterID(ctx)
	if requesterID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if challenge.LeaderID != requesterID && !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "only the challenge leader can do this")
	}
	return nil
}

// markClosing flips the challenge into the closing state and persists it, so
// concurrent delete or winner requests against the same challenge lose.
func (s *Service) markClosing(ctx context.Context, challenge *models.Challenge) error {
	if err := challenge.CanClose(); err != nil {
		return dErrors.New(dErrors.CodeConflict, "challenge is already being removed")
	}
	challenge.ApplyClosing(s.now())
	if err := s.challenges.Update(ctx, challenge); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "challenge not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist challenge state")
	}
	return nil
}

func (s *Service) actor(ctx context.Context) id.MemberID {
	return requestcontext.RequesterID(ctx)
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}
