package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = "id, name, corrects, submissions, solution, tier, ignored, created_at"

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := q.sel(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (q *Queries) GetUser(ctx context.Context, name string) (*User, error) {
	var u User
	err := q.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	}
	return &u, nil
}

// UpsertUser inserts u or refreshes its crawl counters, setting u.ID.
// The ignored flag is never touched here.
func (q *Queries) UpsertUser(ctx context.Context, u *User) error {
	id, err := q.insertID(ctx, `
		INSERT INTO users (name, corrects, submissions, solution, tier, ignored, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			corrects = excluded.corrects,
			submissions = excluded.submissions,
			solution = excluded.solution,
			tier = excluded.tier
		RETURNING id
	`, u.Name, u.Corrects, u.Submissions, u.Solution, u.Tier, false, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.Name, err)
	}
	u.ID = id
	return nil
}

func (q *Queries) SetUserIgnored(ctx context.Context, name string, ignored bool) error {
	n, err := q.exec(ctx, "UPDATE users SET ignored = ? WHERE name = ?", ignored, name)
	if err != nil {
		return fmt.Errorf("set user %s ignored: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
