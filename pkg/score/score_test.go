package score

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anabada/biaslotto/internal/store"
)

var seoul, _ = time.LoadLocation("Asia/Seoul")

func intp(v int) *int { return &v }

func setup(t *testing.T, tier *int) (*store.Store, *store.User, *Classifier) {
	t.Helper()
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "score.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u := &store.User{Name: "alice", Corrects: 10, Submissions: 20, Tier: tier}
	require.NoError(t, st.UpsertUser(context.Background(), u))
	return st, u, New(st, LevelFloor, seoul)
}

func history(t *testing.T, st *store.Store, u *store.User) []store.ScoreEntry {
	t.Helper()
	out, err := st.UserScoreHistory(context.Background(), u.ID, 100)
	require.NoError(t, err)
	return out
}

func TestOneOrdinaryPointPerDay(t *testing.T) {
	ctx := context.Background()
	st, u, c := setup(t, intp(10))

	morning := time.Date(2025, 8, 3, 0, 30, 0, 0, seoul)
	d1, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: morning, ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.True(t, d1.Ordinary)

	d2, err := c.Apply(ctx, u, Solve{Problem: 1001, SolvedAt: morning.Add(20 * time.Hour), ProblemTier: intp(12)})
	require.NoError(t, err)
	assert.False(t, d2.Ordinary)

	// next local day
	d3, err := c.Apply(ctx, u, Solve{Problem: 1002, SolvedAt: morning.Add(24 * time.Hour), ProblemTier: intp(12)})
	require.NoError(t, err)
	assert.True(t, d3.Ordinary)

	assert.Len(t, history(t, st, u), 2)
}

func TestRepeatSolveEarnsNoOrdinaryPoint(t *testing.T) {
	ctx := context.Background()
	_, u, c := setup(t, intp(10))

	day := time.Date(2025, 8, 3, 12, 0, 0, 0, seoul)
	_, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: day.AddDate(0, 0, -1), ProblemTier: intp(10)})
	require.NoError(t, err)

	d, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: day, ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Record.Repeat)
	assert.False(t, d.Ordinary)
}

func TestLevelFloorBlocksOrdinaryButNotEvent(t *testing.T) {
	ctx := context.Background()
	st, u, c := setup(t, intp(15))

	at := time.Date(2025, 8, 10, 12, 0, 0, 0, seoul)
	ev := &store.Event{Title: "summer", Begin: at.Add(-time.Hour), End: at.Add(time.Hour), Problems: []int{1000}}
	require.NoError(t, st.AddEvent(ctx, ev))

	d, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: at, ProblemTier: intp(9)})
	require.NoError(t, err)
	require.NotNil(t, d.Record.Level)
	assert.Equal(t, -6, *d.Record.Level)
	assert.False(t, d.Ordinary)
	assert.Equal(t, []int64{ev.ID}, d.EventAwards)

	entries := history(t, st, u)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].EventID)
	assert.Equal(t, ev.ID, *entries[0].EventID)
}

func TestLevelAtFloorEarnsOrdinaryPoint(t *testing.T) {
	_, u, c := setup(t, intp(15))
	d, err := c.Apply(context.Background(), u, Solve{Problem: 1000, SolvedAt: time.Now(), ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.True(t, d.Ordinary)
}

func TestUnknownLevelEarnsNoOrdinaryPoint(t *testing.T) {
	ctx := context.Background()

	_, u, c := setup(t, nil)
	d, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: time.Now(), ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.Nil(t, d.Record.Level)
	assert.False(t, d.Ordinary)

	_, u2, c2 := setup(t, intp(3))
	d, err = c2.Apply(ctx, u2, Solve{Problem: 1000, SolvedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, d.Ordinary)
}

func TestOneEventPointPerProblem(t *testing.T) {
	ctx := context.Background()
	st, u, c := setup(t, intp(10))

	begin := time.Date(2025, 8, 1, 0, 0, 0, 0, seoul)
	ev := &store.Event{Title: "august", Begin: begin, End: begin.AddDate(0, 1, 0), Problems: []int{1000, 2000}}
	require.NoError(t, st.AddEvent(ctx, ev))

	d1, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: begin.Add(time.Hour), ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.True(t, d1.Ordinary)
	assert.Equal(t, []int64{ev.ID}, d1.EventAwards)
	assert.Equal(t, 2, d1.Points())

	d2, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: begin.AddDate(0, 0, 3), ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.False(t, d2.Ordinary)
	assert.Empty(t, d2.EventAwards)

	// same day, other listed problem: capped ordinary, fresh event point
	d3, err := c.Apply(ctx, u, Solve{Problem: 2000, SolvedAt: begin.Add(2 * time.Hour), ProblemTier: intp(10)})
	require.NoError(t, err)
	assert.False(t, d3.Ordinary)
	assert.Equal(t, []int64{ev.ID}, d3.EventAwards)

	assert.Len(t, history(t, st, u), 3)
}

func TestEventWindowIsOpen(t *testing.T) {
	ctx := context.Background()
	st, u, c := setup(t, intp(10))

	begin := time.Date(2025, 8, 1, 0, 0, 0, 0, seoul)
	ev := &store.Event{Title: "edge", Begin: begin, End: begin.Add(time.Hour), Problems: []int{1000, 1001}}
	require.NoError(t, st.AddEvent(ctx, ev))

	d, err := c.Apply(ctx, u, Solve{Problem: 1000, SolvedAt: begin})
	require.NoError(t, err)
	assert.Empty(t, d.EventAwards)

	d, err = c.Apply(ctx, u, Solve{Problem: 1001, SolvedAt: begin.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, d.EventAwards)
}

func TestDayUsesLocation(t *testing.T) {
	// 2025-08-03 16:00 UTC is 2025-08-04 01:00 in Seoul.
	from, to := Day(time.Date(2025, 8, 3, 16, 0, 0, 0, time.UTC), seoul)
	assert.Equal(t, time.Date(2025, 8, 4, 0, 0, 0, 0, seoul), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}
