package challengestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rally/internal/challenge/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
	txcontext "rally/pkg/platform/tx"
)

// Postgres persists challenges in PostgreSQL. TasksOrder is stored as JSONB.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed challenge store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const challengeColumns = `id, name, group_id, leader_id, prize, official, status, tasks_order, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, challenge *models.Challenge) error {
	order, err := json.Marshal(challenge.TasksOrder)
	if err != nil {
		return fmt.Errorf("marshal tasks order: %w", err)
	}
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(challenge.ID), challenge.Name, uuid.UUID(challenge.GroupID),
		uuid.UUID(challenge.LeaderID), challenge.Prize, challenge.Official,
		string(challenge.Status), order, challenge.CreatedAt, challenge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(challengeID))
	return scanChallenge(row)
}

func (s *Postgres) Update(ctx context.Context, challenge *models.Challenge) error {
	order, err := json.Marshal(challenge.TasksOrder)
	if err != nil {
		return fmt.Errorf("marshal tasks order: %w", err)
	}
	query := `
		UPDATE challenges
		SET name = $2, prize = $3, official = $4, status = $5, tasks_order = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(challenge.ID), challenge.Name, challenge.Prize, challenge.Official,
		string(challenge.Status), order, challenge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListByIDs returns the challenges for the given IDs, ordered official first
// and newest first. IDs with no matching row are silently skipped.
func (s *Postgres) ListByIDs(ctx context.Context, ids []id.ChallengeID) ([]*models.Challenge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]uuid.UUID, 0, len(ids))
	for _, challengeID := range ids {
		raw = append(raw, uuid.UUID(challengeID))
	}
	query := `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE id = ANY($1)
		ORDER BY official DESC, created_at DESC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*models.Challenge
	for rows.Next() {
		challenge, err := scanChallengeRows(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	return challenges, nil
}

// Remove deletes a challenge row. Missing rows are not an error.
func (s *Postgres) Remove(ctx context.Context, challengeID id.ChallengeID) error {
	query := `DELETE FROM challenges WHERE id = $1`
	if _, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(challengeID)); err != nil {
		return fmt.Errorf("remove challenge: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	challenge, err := scanChallengeRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return challenge, err
}

func scanChallengeRows(row rowScanner) (*models.Challenge, error) {
	var (
		challenge   models.Challenge
		challengeID uuid.UUID
		groupID     uuid.UUID
		leaderID    uuid.UUID
		status      string
		orderRaw    []byte
	)
	err := row.Scan(&challengeID, &challenge.Name, &groupID, &leaderID,
		&challenge.Prize, &challenge.Official, &status, &orderRaw,
		&challenge.CreatedAt, &challenge.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	challenge.ID = id.ChallengeID(challengeID)
	challenge.GroupID = id.GroupID(groupID)
	challenge.LeaderID = id.MemberID(leaderID)
	challenge.Status = models.ChallengeStatus(status)
	if len(orderRaw) > 0 {
		if err := json.Unmarshal(orderRaw, &challenge.TasksOrder); err != nil {
			return nil, fmt.Errorf("unmarshal tasks order: %w", err)
		}
	}
	return &challenge, nil
}
