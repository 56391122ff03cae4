package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anabada/biaslotto/internal/store"
	"github.com/anabada/biaslotto/pkg/judge"
)

var seoul, _ = time.LoadLocation("Asia/Seoul")

type fakeJudge struct {
	members    []judge.Member
	membersErr error
	recent     map[string][]judge.Solve
	recentErr  map[string]error
	all        map[string][]int
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		recent:    map[string][]judge.Solve{},
		recentErr: map[string]error{},
		all:       map[string][]int{},
	}
}

func (f *fakeJudge) GroupMembers(context.Context) ([]judge.Member, error) {
	return f.members, f.membersErr
}

func (f *fakeJudge) UserTier(context.Context, string) (int, error) { return 10, nil }

func (f *fakeJudge) ProblemTier(context.Context, int) (int, error) { return 10, nil }

func (f *fakeJudge) RecentSolves(_ context.Context, name string, since int64) ([]judge.Solve, error) {
	if err := f.recentErr[name]; err != nil {
		return nil, err
	}
	var out []judge.Solve
	for _, s := range f.recent[name] {
		if s.SolutionID > since {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeJudge) LastSolutionID(context.Context, string) (int64, error) { return 100, nil }

func (f *fakeJudge) AllSolves(_ context.Context, name string) ([]int, error) {
	return f.all[name], nil
}

type hookServer struct {
	*httptest.Server
	mu       sync.Mutex
	contents []string
}

func newHookServer(t *testing.T, status int) *hookServer {
	t.Helper()
	h := &hookServer{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		h.contents = append(h.contents, body["content"])
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hookServer) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contents)
}

func setup(t *testing.T, j Judge) (*store.Store, *Pipeline) {
	t.Helper()
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := New(st, j, nil, nil, Options{
		Secret:      "secret",
		LevelFloor:  -5,
		Location:    seoul,
		AnnounceTop: 10,
		SiteURL:     "https://example.org",
	})
	return st, p
}

func TestRunAnnouncesOnlyWhenDrawChanges(t *testing.T) {
	ctx := context.Background()
	j := newFakeJudge()
	j.members = []judge.Member{
		{Name: "alice", Corrects: 2, Submissions: 4},
		{Name: "bob", Corrects: 0, Submissions: 1},
	}
	j.all["alice"] = []int{1000, 1001}
	st, p := setup(t, j)

	good := newHookServer(t, http.StatusNoContent)
	gone := newHookServer(t, http.StatusNotFound)
	_, err := st.AddHook(ctx, good.URL)
	require.NoError(t, err)
	goneHook, err := st.AddHook(ctx, gone.URL)
	require.NoError(t, err)

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, seoul)

	// first sight of alice: baseline only, nothing to draw
	rep, err := p.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ColdInit)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Points)
	assert.False(t, rep.Changed)
	assert.Zero(t, good.count())

	bias, err := st.ListBias(ctx)
	require.NoError(t, err)
	assert.Empty(t, bias)

	// alice solves two new problems today: one ordinary point
	j.members[0] = judge.Member{Name: "alice", Corrects: 4, Submissions: 6}
	j.recent["alice"] = []judge.Solve{
		{SolutionID: 101, Problem: 2000, SolvedAt: now.Add(-2 * time.Hour)},
		{SolutionID: 102, Problem: 2001, SolvedAt: now.Add(-time.Hour)},
	}
	rep, err = p.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Incremental)
	assert.Equal(t, 1, rep.Points)
	assert.Equal(t, 1, rep.BiasWrites)
	require.True(t, rep.Changed)
	require.NotNil(t, rep.Board)
	assert.Equal(t, "2025-08 draw #1", rep.Board.Title)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, []int64{goneHook.ID}, rep.Ignored)

	require.Equal(t, 1, good.count())
	assert.Contains(t, good.contents[0], "1. `alice`: 1 points")

	hooks, err := st.ListHooks(ctx, false)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, good.URL, hooks[0].URL)

	alice, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(102), alice.Solution)

	// nothing new: no board, no announcement
	rep, err = p.Run(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, rep.Changed)
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, gone.count())

	from, to := time.Date(2025, 8, 1, 0, 0, 0, 0, seoul), time.Date(2025, 9, 1, 0, 0, 0, 0, seoul)
	n, err := st.CountBoards(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunIsolatesFailingMember(t *testing.T) {
	ctx := context.Background()
	j := newFakeJudge()
	st, p := setup(t, j)

	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, st.UpsertUser(ctx, &store.User{Name: name, Corrects: 1, Submissions: 1, Solution: 10}))
	}

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, seoul)
	j.members = []judge.Member{
		{Name: "alice", Corrects: 2, Submissions: 2},
		{Name: "bob", Corrects: 2, Submissions: 2},
	}
	j.recentErr["alice"] = judge.ErrUnavailable
	j.recent["bob"] = []judge.Solve{{SolutionID: 11, Problem: 3000, SolvedAt: now}}

	rep, err := p.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Incremental)
	assert.Equal(t, 1, rep.Points)

	alice, err := st.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Submissions, "failed member keeps its old snapshot")

	bob, err := st.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(11), bob.Solution)
}

func TestRunLeavesStoreUntouchedOnRosterFailure(t *testing.T) {
	ctx := context.Background()
	j := newFakeJudge()
	j.membersErr = errors.New("judge down")
	st, p := setup(t, j)

	_, err := p.Run(ctx, time.Now())
	require.Error(t, err)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestDrawSkipsIgnoredUsers(t *testing.T) {
	ctx := context.Background()
	st, p := setup(t, newFakeJudge())

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, seoul)
	for i, name := range []string{"alice", "bob"} {
		u := &store.User{Name: name, Corrects: 1, Submissions: 1}
		require.NoError(t, st.UpsertUser(ctx, u))
		require.NoError(t, st.UpsertBias(ctx, u.ID, 5+i, now))
	}
	require.NoError(t, st.SetUserIgnored(ctx, "bob", true))

	draw, err := p.Draw(ctx, st, now)
	require.NoError(t, err)
	require.Len(t, draw, 1)
	assert.Equal(t, "alice", draw[0].Name)
}

func TestBoardTitle(t *testing.T) {
	assert.Equal(t, "2025-12 draw #3", BoardTitle(time.Date(2025, 12, 31, 23, 0, 0, 0, seoul), 3))
}

func TestRunSkipsAnnouncementWhenMonthStartEmptiesDraw(t *testing.T) {
	ctx := context.Background()
	j := newFakeJudge()
	st, p := setup(t, j)
	require.NoError(t, st.UpsertUser(ctx, &store.User{Name: "alice", Corrects: 1, Submissions: 1, Solution: 100}))

	hook := newHookServer(t, http.StatusNoContent)
	_, err := st.AddHook(ctx, hook.URL)
	require.NoError(t, err)

	aug := time.Date(2025, 8, 31, 20, 0, 0, 0, seoul)
	j.members = []judge.Member{{Name: "alice", Corrects: 2, Submissions: 2}}
	j.recent["alice"] = []judge.Solve{{SolutionID: 101, Problem: 2000, SolvedAt: aug}}
	rep, err := p.Run(ctx, aug)
	require.NoError(t, err)
	require.True(t, rep.Changed)
	assert.True(t, rep.Announced)
	require.Equal(t, 1, hook.count())

	sep := time.Date(2025, 9, 1, 0, 5, 0, 0, seoul)
	rep, err = p.Run(ctx, sep)
	require.NoError(t, err)
	require.True(t, rep.Changed)
	require.NotNil(t, rep.Board)
	assert.Equal(t, "2025-09 draw #1", rep.Board.Title)
	assert.Empty(t, rep.Board.Users)
	assert.False(t, rep.Announced)
	assert.Zero(t, rep.Delivered)
	assert.Equal(t, 1, hook.count())

	latest, err := st.LatestBoard(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.Board.ID, latest.ID)
}

func TestSendTestReachesEveryActiveDestination(t *testing.T) {
	ctx := context.Background()
	st, p := setup(t, newFakeJudge())

	n, err := p.SendTest(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	u := &store.User{Name: "alice"}
	require.NoError(t, st.UpsertUser(ctx, u))
	require.NoError(t, st.UpsertBias(ctx, u.ID, 3, time.Now()))

	good := newHookServer(t, http.StatusNoContent)
	gone := newHookServer(t, http.StatusNotFound)
	_, err = st.AddHook(ctx, good.URL)
	require.NoError(t, err)
	goneHook, err := st.AddHook(ctx, gone.URL)
	require.NoError(t, err)

	n, err = p.SendTest(ctx, time.Now())
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, err.Error(), "hook#")
	require.Equal(t, 1, good.count())
	assert.Contains(t, good.contents[0], "Test announcement")
	assert.Contains(t, good.contents[0], "1. `alice`: 3 points")

	hooks, err := st.ListHooks(ctx, false)
	require.NoError(t, err)
	assert.Len(t, hooks, 2)
	assert.Contains(t, []int64{hooks[0].ID, hooks[1].ID}, goneHook.ID)
}
