package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rally/internal/challenge/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
	txcontext "rally/pkg/platform/tx"
)

// Postgres persists tasks in PostgreSQL. Seed templates store a NULL owner.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed task store.
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

// CreateMany inserts a batch of tasks in a single transaction so a duplicate
// ID rolls back the whole batch.
func (s *Postgres) CreateMany(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if _, inTx := txcontext.From(ctx); inTx {
		return s.insertAll(ctx, tasks)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tasks: %w", err)
	}
	if err := s.insertAll(txcontext.WithTx(ctx, tx), tasks); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tasks: %w", err)
	}
	return nil
}

func (s *Postgres) insertAll(ctx context.Context, tasks []*models.Task) error {
	query := `
		INSERT INTO tasks (id, type, text, notes, challenge_id, owner_id, broken, winner_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	for _, task := range tasks {
		var owner any
		if !task.OwnerID.IsNil() {
			owner = uuid.UUID(task.OwnerID)
		}
		res, err := s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(task.ID), string(task.Type), task.Text, task.Notes,
			uuid.UUID(task.ChallengeID), owner, task.Broken, task.WinnerName,
			task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *Postgres) ListByChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*models.Task, error) {
	query := `
		SELECT id, type, text, notes, challenge_id, owner_id, broken, winner_name, created_at, updated_at
		FROM tasks
		WHERE challenge_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(challengeID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var (
			task   models.Task
			taskID uuid.UUID
			chalID uuid.UUID
			owner  uuid.NullUUID
			typ    string
		)
		err := rows.Scan(&taskID, &typ, &task.Text, &task.Notes, &chalID, &owner,
			&task.Broken, &task.WinnerName, &task.CreatedAt, &task.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.ID = id.TaskID(taskID)
		task.Type = models.TaskType(typ)
		task.ChallengeID = id.ChallengeID(chalID)
		if owner.Valid {
			task.OwnerID = id.MemberID(owner.UUID)
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// RemoveUnowned deletes the challenge's seed templates, leaving owned copies
// in place. Returns how many rows were removed.
func (s *Postgres) RemoveUnowned(ctx context.Context, challengeID id.ChallengeID) (int, error) {
	query := `DELETE FROM tasks WHERE challenge_id = $1 AND owner_id IS NULL`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(challengeID))
	if err != nil {
		return 0, fmt.Errorf("remove seed tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove seed tasks: %w", err)
	}
	return int(n), nil
}

// AnnotateBroken marks the challenge's member-owned copies as broken.
// Returns how many rows were annotated.
func (s *Postgres) AnnotateBroken(ctx context.Context, challengeID id.ChallengeID, reason, winnerName string, now time.Time) (int, error) {
	query := `
		UPDATE tasks
		SET broken = $2, winner_name = $3, updated_at = $4
		WHERE challenge_id = $1 AND owner_id IS NOT NULL
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(challengeID), reason, winnerName, now)
	if err != nil {
		return 0, fmt.Errorf("annotate tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("annotate tasks: %w", err)
	}
	return int(n), nil
}
