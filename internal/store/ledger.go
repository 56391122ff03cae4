package store

import (
	"context"
	"fmt"
	"time"
)

// AddSolvedProblem appends p, filling in its repeat count (records of the
// same user and problem that precede it) and ID.
func (q *Queries) AddSolvedProblem(ctx context.Context, p *SolvedProblem) error {
	repeat, err := q.CountSolves(ctx, p.UserID, p.Problem)
	if err != nil {
		return err
	}
	p.Repeat = repeat

	id, err := q.insertID(ctx, `
		INSERT INTO problems (user_id, problem, problem_tier, solved_at, level, repeat_count)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, p.UserID, p.Problem, p.ProblemTier, utc(p.SolvedAt), p.Level, p.Repeat)
	if err != nil {
		return fmt.Errorf("add problem %d for user %d: %w", p.Problem, p.UserID, err)
	}
	p.ID = id
	return nil
}

func (q *Queries) CountSolves(ctx context.Context, userID int64, problem int) (int, error) {
	var n int
	err := q.get(ctx, &n, "SELECT COUNT(*) FROM problems WHERE user_id = ? AND problem = ?", userID, problem)
	if err != nil {
		return 0, fmt.Errorf("count solves of %d by user %d: %w", problem, userID, err)
	}
	return n, nil
}

// ListSolvedProblems returns the user's records solved in [from, to),
// newest first.
func (q *Queries) ListSolvedProblems(ctx context.Context, userID int64, from, to time.Time) ([]SolvedProblem, error) {
	var out []SolvedProblem
	err := q.sel(ctx, &out, `
		SELECT id, user_id, problem, problem_tier, solved_at, level, repeat_count
		FROM problems WHERE user_id = ? AND solved_at >= ? AND solved_at < ?
		ORDER BY solved_at DESC, id DESC
	`, userID, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("list problems of user %d: %w", userID, err)
	}
	return out, nil
}

// AddScore appends e and sets its ID.
func (q *Queries) AddScore(ctx context.Context, e *ScoreEntry) error {
	id, err := q.insertID(ctx, `
		INSERT INTO score_history (user_id, description, point, event_id, problem_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, e.UserID, e.Description, e.Point, e.EventID, e.ProblemID, utc(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("add score for user %d: %w", e.UserID, err)
	}
	e.ID = id
	return nil
}

// HasOrdinaryScore reports whether the user already holds a solve-driven,
// non-event award created in [from, to).
func (q *Queries) HasOrdinaryScore(ctx context.Context, userID int64, from, to time.Time) (bool, error) {
	var n int
	err := q.get(ctx, &n, `
		SELECT COUNT(*) FROM score_history
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
			AND event_id IS NULL AND problem_id IS NOT NULL
	`, userID, utc(from), utc(to))
	if err != nil {
		return false, fmt.Errorf("check ordinary score of user %d: %w", userID, err)
	}
	return n > 0, nil
}

// HasEventScore reports whether the user was already credited by eventID
// for any of their records of problem.
func (q *Queries) HasEventScore(ctx context.Context, userID, eventID int64, problem int) (bool, error) {
	var n int
	err := q.get(ctx, &n, `
		SELECT COUNT(*) FROM score_history sh
		JOIN problems p ON p.id = sh.problem_id
		WHERE sh.user_id = ? AND sh.event_id = ? AND p.user_id = ? AND p.problem = ?
	`, userID, eventID, userID, problem)
	if err != nil {
		return false, fmt.Errorf("check event %d score of user %d: %w", eventID, userID, err)
	}
	return n > 0, nil
}

func (q *Queries) UserScoreHistory(ctx context.Context, userID int64, limit int) ([]ScoreEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ScoreEntry
	err := q.sel(ctx, &out, `
		SELECT id, user_id, description, point, event_id, problem_id, created_at
		FROM score_history WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list score history of user %d: %w", userID, err)
	}
	return out, nil
}

// SumScores totals point deltas per user over [from, to).
func (q *Queries) SumScores(ctx context.Context, from, to time.Time) (map[int64]int, error) {
	var rows []struct {
		UserID int64 `db:"user_id"`
		Total  int   `db:"total"`
	}
	err := q.sel(ctx, &rows, `
		SELECT user_id, SUM(point) AS total FROM score_history
		WHERE created_at >= ? AND created_at < ?
		GROUP BY user_id
	`, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("sum scores: %w", err)
	}

	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.UserID] = r.Total
	}
	return totals, nil
}

// ListBias returns stored totals joined with user names, highest first.
func (q *Queries) ListBias(ctx context.Context) ([]Bias, error) {
	var out []Bias
	err := q.sel(ctx, &out, `
		SELECT b.user_id, u.name, b.total_point, b.updated_at, u.ignored
		FROM user_bias_total b JOIN users u ON u.id = b.user_id
		ORDER BY b.total_point DESC, b.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list bias: %w", err)
	}
	return out, nil
}

func (q *Queries) UpsertBias(ctx context.Context, userID int64, total int, at time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO user_bias_total (user_id, total_point, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_point = excluded.total_point,
			updated_at = excluded.updated_at
	`, userID, total, utc(at))
	if err != nil {
		return fmt.Errorf("upsert bias of user %d: %w", userID, err)
	}
	return nil
}
