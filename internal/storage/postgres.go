// Package storage opens the PostgreSQL connection and keeps the schema in
// step. The per-feature stores under internal/*/store own the queries; this
// package only owns the connection and the DDL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		leader_id UUID NOT NULL,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		challenge_count INTEGER NOT NULL DEFAULT 0,
		leader_only_challenges BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		id UUID PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		challenges TEXT[] NOT NULL DEFAULT '{}',
		tags JSONB NOT NULL DEFAULT '[]',
		achievements TEXT[] NOT NULL DEFAULT '{}',
		email_won_challenge BOOLEAN NOT NULL DEFAULT FALSE,
		push_won_challenge BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS members_tags_idx ON members USING GIN (tags)`,
	`CREATE TABLE IF NOT EXISTS challenges (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		group_id UUID NOT NULL,
		leader_id UUID NOT NULL,
		prize DOUBLE PRECISION NOT NULL DEFAULT 0,
		official BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		tasks_order JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS challenges_group_idx ON challenges (group_id)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		challenge_id UUID NOT NULL,
		owner_id UUID,
		broken TEXT NOT NULL DEFAULT '',
		winner_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_challenge_idx ON tasks (challenge_id)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
