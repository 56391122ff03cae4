package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const boardColumns = "id, seq, title, created_at"

func (q *Queries) CountBoards(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n, "SELECT COUNT(*) FROM ranking_boards WHERE created_at >= ? AND created_at < ?", utc(from), utc(to))
	if err != nil {
		return 0, fmt.Errorf("count boards: %w", err)
	}
	return n, nil
}

// AddBoard writes b and its ranked users, setting b.ID.
func (q *Queries) AddBoard(ctx context.Context, b *Board) error {
	id, err := q.insertID(ctx, `
		INSERT INTO ranking_boards (seq, title, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`, b.Seq, b.Title, utc(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("add board %q: %w", b.Title, err)
	}
	b.ID = id

	for _, u := range b.Users {
		_, err := q.exec(ctx, "INSERT INTO ranked_users (board_id, rank, user_id) VALUES (?, ?, ?)", id, u.Rank, u.UserID)
		if err != nil {
			return fmt.Errorf("add rank %d to board %d: %w", u.Rank, id, err)
		}
	}
	return nil
}

func (q *Queries) LatestBoard(ctx context.Context) (*Board, error) {
	var b Board
	err := q.get(ctx, &b, "SELECT "+boardColumns+" FROM ranking_boards ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest board: %w", err)
	}
	if err := q.rankedUsers(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoards returns boards created in [from, to) without their users.
func (q *Queries) ListBoards(ctx context.Context, from, to time.Time) ([]Board, error) {
	var boards []Board
	err := q.sel(ctx, &boards,
		"SELECT "+boardColumns+" FROM ranking_boards WHERE created_at >= ? AND created_at < ? ORDER BY id",
		utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

func (q *Queries) rankedUsers(ctx context.Context, b *Board) error {
	err := q.sel(ctx, &b.Users, `
		SELECT ru.rank, ru.user_id, u.name
		FROM ranked_users ru JOIN users u ON u.id = ru.user_id
		WHERE ru.board_id = ? ORDER BY ru.rank
	`, b.ID)
	if err != nil {
		return fmt.Errorf("list ranked users of board %d: %w", b.ID, err)
	}
	return nil
}

// AddHook registers url. An existing hook keeps its ignored flag.
func (q *Queries) AddHook(ctx context.Context, url string) (*Hook, error) {
	var h Hook
	err := q.get(ctx, &h, `
		INSERT INTO hooks (url, ignored, created_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET url = excluded.url
		RETURNING id, url, ignored, created_at
	`, url, false, utc(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("add hook: %w", err)
	}
	return &h, nil
}

func (q *Queries) ListHooks(ctx context.Context, includeIgnored bool) ([]Hook, error) {
	query := "SELECT id, url, ignored, created_at FROM hooks"
	var args []any
	if !includeIgnored {
		query += " WHERE ignored = ?"
		args = append(args, false)
	}
	query += " ORDER BY id"

	var hooks []Hook
	if err := q.sel(ctx, &hooks, query, args...); err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	return hooks, nil
}

// IgnoreHooks marks destinations that will never accept a delivery.
func (q *Queries) IgnoreHooks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("UPDATE hooks SET ignored = ? WHERE id IN (?)", true, ids)
	if err != nil {
		return fmt.Errorf("build ignore hooks query: %w", err)
	}
	if _, err := q.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ignore hooks: %w", err)
	}
	return nil
}
