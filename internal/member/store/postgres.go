package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rally/internal/member/models"
	id "rally/pkg/domain"
	"rally/pkg/platform/sentinel"
	txcontext "rally/pkg/platform/tx"
)

// Postgres persists members in PostgreSQL. Tags are stored as JSONB so the
// teardown saga can find tagged members with a containment query; the joined
// challenge set and achievements are plain arrays.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed member store.
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

const memberColumns = `id, display_name, email, balance, challenges, tags, achievements,
	email_won_challenge, push_won_challenge, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, member *models.Member) error {
	tags, err := json.Marshal(member.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	query := `
		INSERT INTO members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(member.ID), member.DisplayName, member.Email, member.Balance,
		pq.Array(challengeStrings(member.Challenges)), tags,
		pq.Array(member.Achievements),
		member.Prefs.EmailWonChallenge, member.Prefs.PushWonChallenge,
		member.CreatedAt, member.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, memberID id.MemberID) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(memberID))
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find member: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanMember(rows)
}

func (s *Postgres) Save(ctx context.Context, member *models.Member) error {
	tags, err := json.Marshal(member.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	query := `
		UPDATE members
		SET display_name = $2, email = $3, balance = $4, challenges = $5, tags = $6,
		    achievements = $7, email_won_challenge = $8, push_won_challenge = $9,
		    updated_at = $10
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(member.ID), member.DisplayName, member.Email, member.Balance,
		pq.Array(challengeStrings(member.Challenges)), tags,
		pq.Array(member.Achievements),
		member.Prefs.EmailWonChallenge, member.Prefs.PushWonChallenge,
		member.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// FindTaggedWithChallenge returns every member holding a challenge-flagged
// tag for the given challenge, via JSONB containment on the tags column.
func (s *Postgres) FindTaggedWithChallenge(ctx context.Context, challengeID id.ChallengeID) ([]*models.Member, error) {
	// The needle carries only id and challenge so containment matches
	// regardless of the tag's name.
	needle := fmt.Sprintf(`[{"id":%q,"challenge":true}]`, challengeID.String())
	query := `SELECT ` + memberColumns + ` FROM members WHERE tags @> $1::jsonb`
	rows, err := s.execer(ctx).QueryContext(ctx, query, needle)
	if err != nil {
		return nil, fmt.Errorf("find tagged members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tagged members: %w", err)
	}
	return members, nil
}

// Execute reloads the member under a row lock, applies validate-then-mutate,
// and writes the result back in the same transaction. Concurrent mutations of
// the same member queue on the lock instead of overwriting each other.
func (s *Postgres) Execute(ctx context.Context, memberID id.MemberID, validate func(*models.Member) error, mutate func(*models.Member)) (*models.Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin member tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1 FOR UPDATE`
	member, err := scanMember(tx.QueryRowContext(ctx, query, uuid.UUID(memberID)))
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(member); err != nil {
			return nil, err
		}
	}
	mutate(member)

	tags, err := json.Marshal(member.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	update := `
		UPDATE members
		SET display_name = $2, email = $3, balance = $4, challenges = $5, tags = $6,
		    achievements = $7, email_won_challenge = $8, push_won_challenge = $9,
		    updated_at = $10
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(member.ID), member.DisplayName, member.Email, member.Balance,
		pq.Array(challengeStrings(member.Challenges)), tags,
		pq.Array(member.Achievements),
		member.Prefs.EmailWonChallenge, member.Prefs.PushWonChallenge,
		member.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update member under lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit member tx: %w", err)
	}
	return member, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*models.Member, error) {
	var (
		member     models.Member
		memberID   uuid.UUID
		challenges []string
		tagsRaw    []byte
	)
	err := row.Scan(&memberID, &member.DisplayName, &member.Email, &member.Balance,
		pq.Array(&challenges), &tagsRaw, pq.Array(&member.Achievements),
		&member.Prefs.EmailWonChallenge, &member.Prefs.PushWonChallenge,
		&member.CreatedAt, &member.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	member.ID = id.MemberID(memberID)
	for _, c := range challenges {
		challengeID, err := id.ParseChallengeID(c)
		if err != nil {
			return nil, fmt.Errorf("parse stored challenge id %q: %w", c, err)
		}
		member.Challenges = append(member.Challenges, challengeID)
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &member.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &member, nil
}

func challengeStrings(ids []id.ChallengeID) []string {
	out := make([]string, 0, len(ids))
	for _, c := range ids {
		out = append(out, c.String())
	}
	return out
}
