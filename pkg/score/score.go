// Package score decides which points a newly observed solve earns.
//
// Two independent ledgers are evaluated per solve. The ordinary ledger
// grants at most one point per user per calendar day, only for first-time
// solves whose level clears LevelFloor. The event ledger grants one point per
// (event, problem) for every ongoing event listing the problem.
package score

import (
	"context"
	"fmt"
	"time"

	"github.com/anabada/biaslotto/internal/store"
)

// LevelFloor is the lowest problem-minus-user tier gap that still earns an
// ordinary point.
const LevelFloor = -5

// Ledger is the slice of storage the classifier writes to.
type Ledger interface {
	AddSolvedProblem(ctx context.Context, p *store.SolvedProblem) error
	AddScore(ctx context.Context, e *store.ScoreEntry) error
	HasOrdinaryScore(ctx context.Context, userID int64, from, to time.Time) (bool, error)
	HasEventScore(ctx context.Context, userID, eventID int64, problem int) (bool, error)
	OngoingEvents(ctx context.Context, at time.Time) ([]store.Event, error)
}

// Solve is one incremental candidate.
type Solve struct {
	Problem     int
	SolvedAt    time.Time
	ProblemTier *int
}

// Decision is what a solve earned.
type Decision struct {
	Record      store.SolvedProblem
	Ordinary    bool
	EventAwards []int64
}

// Points is the number of score entries the decision produced.
func (d Decision) Points() int {
	n := len(d.EventAwards)
	if d.Ordinary {
		n++
	}
	return n
}

// Classifier applies the scoring rules.
type Classifier struct {
	ledger     Ledger
	levelFloor int
	loc        *time.Location
}

// New returns a classifier whose calendar days are taken in loc.
func New(ledger Ledger, levelFloor int, loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{ledger: ledger, levelFloor: levelFloor, loc: loc}
}

// Apply records s for user and appends every score entry it earns.
// Solves of one user must be applied in ascending solution id order.
func (c *Classifier) Apply(ctx context.Context, user *store.User, s Solve) (Decision, error) {
	rec := store.SolvedProblem{
		UserID:      user.ID,
		Problem:     s.Problem,
		ProblemTier: s.ProblemTier,
		SolvedAt:    s.SolvedAt,
		Level:       Level(s.ProblemTier, user.Tier),
	}
	if err := c.ledger.AddSolvedProblem(ctx, &rec); err != nil {
		return Decision{}, err
	}
	d := Decision{Record: rec}

	ordinary, err := c.ordinary(ctx, &rec)
	if err != nil {
		return d, err
	}
	if ordinary {
		err := c.ledger.AddScore(ctx, &store.ScoreEntry{
			UserID:      user.ID,
			Description: fmt.Sprintf("solved problem %d", rec.Problem),
			Point:       1,
			ProblemID:   &rec.ID,
			CreatedAt:   rec.SolvedAt,
		})
		if err != nil {
			return d, err
		}
		d.Ordinary = true
	}

	events, err := c.ledger.OngoingEvents(ctx, rec.SolvedAt)
	if err != nil {
		return d, err
	}
	for i := range events {
		ev := &events[i]
		if !ev.HasProblem(rec.Problem) {
			continue
		}
		credited, err := c.ledger.HasEventScore(ctx, user.ID, ev.ID, rec.Problem)
		if err != nil {
			return d, err
		}
		if credited {
			continue
		}
		err = c.ledger.AddScore(ctx, &store.ScoreEntry{
			UserID:      user.ID,
			Description: fmt.Sprintf("event #%d: solved problem %d", ev.ID, rec.Problem),
			Point:       1,
			EventID:     &ev.ID,
			ProblemID:   &rec.ID,
			CreatedAt:   rec.SolvedAt,
		})
		if err != nil {
			return d, err
		}
		d.EventAwards = append(d.EventAwards, ev.ID)
	}

	return d, nil
}

func (c *Classifier) ordinary(ctx context.Context, rec *store.SolvedProblem) (bool, error) {
	if rec.Repeat != 0 || rec.Level == nil || *rec.Level < c.levelFloor {
		return false, nil
	}
	from, to := Day(rec.SolvedAt, c.loc)
	scored, err := c.ledger.HasOrdinaryScore(ctx, rec.UserID, from, to)
	if err != nil {
		return false, err
	}
	return !scored, nil
}

// Level is problemTier - userTier, or nil when either is unknown.
func Level(problemTier, userTier *int) *int {
	if problemTier == nil || userTier == nil {
		return nil
	}
	l := *problemTier - *userTier
	return &l
}

// Day returns the calendar day containing t in loc as [from, to).
func Day(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
