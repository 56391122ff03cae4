package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecentSolve is a first-time solve with its user's name.
type RecentSolve struct {
	Name        string    `db:"name" json:"name"`
	Problem     int       `db:"problem" json:"problem"`
	ProblemTier *int      `db:"problem_tier" json:"problem_tier"`
	SolvedAt    time.Time `db:"solved_at" json:"solved_at"`
}

// RecentScore is a score history row with its user's name.
type RecentScore struct {
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Point       int       `db:"point" json:"point"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RankRecord is a user's place on one board.
type RankRecord struct {
	BoardID   int64     `db:"board_id" json:"board_id"`
	Seq       int       `db:"seq" json:"seq"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Rank      int       `db:"rank" json:"rank"`
}

// RankChange compares a user's rank on the latest board with the one before.
type RankChange struct {
	UserID   int64  `db:"user_id" json:"user_id"`
	Name     string `db:"name" json:"name"`
	Tier     *int   `db:"tier" json:"tier"`
	Rank     int    `db:"current_rank" json:"rank"`
	PrevRank int    `db:"prev_rank" json:"prev_rank"`
	Delta    int    `db:"delta" json:"delta"`
}

// RecentSolves lists first-time solves after the given time, newest first.
// Ignored users are left out.
func (q *Queries) RecentSolves(ctx context.Context, after time.Time, limit, offset int) ([]RecentSolve, error) {
	var out []RecentSolve
	err := q.sel(ctx, &out, `
		SELECT u.name, p.problem, p.problem_tier, p.solved_at
		FROM problems p JOIN users u ON u.id = p.user_id
		WHERE p.repeat_count = 0 AND p.solved_at > ? AND u.ignored = ?
		ORDER BY p.solved_at DESC, p.id DESC
		LIMIT ? OFFSET ?
	`, utc(after), false, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent solves: %w", err)
	}
	return out, nil
}

// CountFirstSolves counts first-time solves in [from, to).
func (q *Queries) CountFirstSolves(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n, `
		SELECT COUNT(*) FROM problems
		WHERE repeat_count = 0 AND solved_at >= ? AND solved_at < ?
	`, utc(from), utc(to))
	if err != nil {
		return 0, fmt.Errorf("count first solves: %w", err)
	}
	return n, nil
}

// RecentScores lists score history across users, newest first.
func (q *Queries) RecentScores(ctx context.Context, limit, offset int) ([]RecentScore, error) {
	var out []RecentScore
	err := q.sel(ctx, &out, `
		SELECT u.name, sh.description, sh.point, sh.created_at
		FROM score_history sh JOIN users u ON u.id = sh.user_id
		WHERE u.ignored = ?
		ORDER BY sh.created_at DESC, sh.id DESC
		LIMIT ? OFFSET ?
	`, false, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent scores: %w", err)
	}
	return out, nil
}

// UserRankHistory returns the user's rank on every board created in
// [from, to), oldest first.
func (q *Queries) UserRankHistory(ctx context.Context, userID int64, from, to time.Time) ([]RankRecord, error) {
	var out []RankRecord
	err := q.sel(ctx, &out, `
		SELECT rb.id AS board_id, rb.seq, rb.title, rb.created_at, ru.rank
		FROM ranked_users ru JOIN ranking_boards rb ON rb.id = ru.board_id
		WHERE ru.user_id = ? AND rb.created_at >= ? AND rb.created_at < ?
		ORDER BY rb.created_at, rb.id
		LIMIT 200
	`, userID, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("rank history of user %d: %w", userID, err)
	}
	return out, nil
}

// TopGainers compares the two newest boards and returns the users present
// on both, biggest climb first. It returns nothing until two boards exist.
func (q *Queries) TopGainers(ctx context.Context, limit int) ([]RankChange, error) {
	var ids []int64
	if err := q.sel(ctx, &ids, "SELECT id FROM ranking_boards ORDER BY id DESC LIMIT 2"); err != nil {
		return nil, fmt.Errorf("latest boards: %w", err)
	}
	if len(ids) < 2 {
		return nil, nil
	}

	var out []RankChange
	err := q.sel(ctx, &out, `
		SELECT u.id AS user_id, u.name, u.tier,
			cur.rank AS current_rank, prev.rank AS prev_rank, prev.rank - cur.rank AS delta
		FROM ranked_users cur
		JOIN ranked_users prev ON prev.user_id = cur.user_id AND prev.board_id = ?
		JOIN users u ON u.id = cur.user_id
		WHERE cur.board_id = ?
		ORDER BY delta DESC, cur.rank
		LIMIT ?
	`, ids[1], ids[0], limit)
	if err != nil {
		return nil, fmt.Errorf("top gainers of board %d: %w", ids[0], err)
	}
	return out, nil
}

// SearchUsers matches names containing term, case-insensitively. Ignored
// users are left out.
func (q *Queries) SearchUsers(ctx context.Context, term string, limit int) ([]User, error) {
	pattern := "%" + strings.ToLower(term) + "%"
	var out []User
	err := q.sel(ctx, &out, `
		SELECT `+userColumns+` FROM users
		WHERE LOWER(name) LIKE ? AND ignored = ?
		ORDER BY COALESCE(tier, -1) DESC, corrects DESC, id
		LIMIT ?
	`, pattern, false, limit)
	if err != nil {
		return nil, fmt.Errorf("search users %q: %w", term, err)
	}
	return out, nil
}
