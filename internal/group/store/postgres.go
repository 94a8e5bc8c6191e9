package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rally/internal/group/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
	txcontext "rally/pkg/platform/tx"
)

// Postgres persists groups in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed group store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, group *models.Group) error {
	query := `
		INSERT INTO groups (id, name, leader_id, balance, challenge_count, leader_only_challenges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(group.ID), group.Name, uuid.UUID(group.LeaderID),
		group.Balance, group.ChallengeCount, group.LeaderOnly.Challenges,
		group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, groupID id.GroupID) (*models.Group, error) {
	query := `
		SELECT id, name, leader_id, balance, challenge_count, leader_only_challenges, created_at, updated_at
		FROM groups WHERE id = $1
	`
	return scanGroup(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(groupID)))
}

func (s *Postgres) Update(ctx context.Context, group *models.Group) error {
	query := `
		UPDATE groups
		SET name = $2, leader_id = $3, balance = $4, challenge_count = $5,
		    leader_only_challenges = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(group.ID), group.Name, uuid.UUID(group.LeaderID),
		group.Balance, group.ChallengeCount, group.LeaderOnly.Challenges,
		group.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Execute runs validate-then-mutate inside a transaction holding a row lock
// (SELECT ... FOR UPDATE), so balance and counter changes against the same
// group are serialized across service instances.
func (s *Postgres) Execute(ctx context.Context, groupID id.GroupID, validate func(*models.Group) error, mutate func(*models.Group)) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id, name, leader_id, balance, challenge_count, leader_only_challenges, created_at, updated_at
		FROM groups WHERE id = $1 FOR UPDATE
	`
	group, err := scanGroup(tx.QueryRowContext(ctx, query, uuid.UUID(groupID)))
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(group); err != nil {
			return nil, err
		}
	}
	mutate(group)

	update := `
		UPDATE groups
		SET balance = $2, challenge_count = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(group.ID), group.Balance, group.ChallengeCount, group.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update group under lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit group tx: %w", err)
	}
	return group, nil
}

func scanGroup(row *sql.Row) (*models.Group, error) {
	var (
		group    models.Group
		groupID  uuid.UUID
		leaderID uuid.UUID
	)
	err := row.Scan(&groupID, &group.Name, &leaderID, &group.Balance,
		&group.ChallengeCount, &group.LeaderOnly.Challenges,
		&group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	group.ID = id.GroupID(groupID)
	group.LeaderID = id.MemberID(leaderID)
	return &group, nil
}
