package ledger

import (
	"context"
	"time"

	"github.com/anabada/biaslotto/internal/store"
)

// Store is what monthly aggregation reads and writes.
type Store interface {
	SumScores(ctx context.Context, from, to time.Time) (map[int64]int, error)
	ListBias(ctx context.Context) ([]store.Bias, error)
	UpsertBias(ctx context.Context, userID int64, total int, at time.Time) error
}

// Month returns the calendar month containing t in loc as [from, to).
func Month(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}

// AggregateMonth sums the score history of the month containing ref and
// writes every total that differs from the stored one. Users holding a
// stored total without entries this month are reset to 0.
// It returns the fresh totals and the number of rows written.
func AggregateMonth(ctx context.Context, s Store, ref time.Time, loc *time.Location) (map[int64]int, int, error) {
	from, to := Month(ref, loc)
	totals, err := s.SumScores(ctx, from, to)
	if err != nil {
		return nil, 0, err
	}

	stored, err := s.ListBias(ctx)
	if err != nil {
		return nil, 0, err
	}
	current := make(map[int64]int, len(stored))
	for _, b := range stored {
		current[b.UserID] = b.TotalPoint
		if _, ok := totals[b.UserID]; !ok {
			totals[b.UserID] = 0
		}
	}

	written := 0
	for userID, total := range totals {
		if old, ok := current[userID]; ok && old == total {
			continue
		}
		if err := s.UpsertBias(ctx, userID, total, ref); err != nil {
			return nil, written, err
		}
		written++
	}
	return totals, written, nil
}
