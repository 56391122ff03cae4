package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ranklistPage = `<html><body><table id="ranklist"><tbody>
<tr><td>1</td><td><a href="/user/alice">alice</a></td><td>hi</td><td>1,204</td><td>2,310</td><td>52%</td></tr>
<tr><td>2</td><td><a href="/user/bob">bob</a></td><td></td><td>0</td><td>3</td><td>0%</td></tr>
<tr><td colspan="6">broken</td></tr>
</tbody></table></body></html>`

func statusRow(id int64, problem int, ts int64) string {
	return fmt.Sprintf(`<tr><td>%d</td><td>alice</td><td><a href="/problem/%d">%d</a></td><td>맞았습니다!!</td><td>2020</td><td>0</td><td>C++17</td><td>100</td><td><a class="real-time-update" data-timestamp="%d">1분 전</a></td></tr>`,
		id, problem, problem, ts)
}

func statusPage(rows ...string) string {
	return `<table id="status-table"><tbody>` + strings.Join(rows, "") + `</tbody></table>`
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:     srv.URL,
		SolvedACURL: srv.URL + "/api/v3",
		GroupID:     "42",
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxPages:    5,
	})
}

func TestGroupMembers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/group/ranklist/42/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, ranklistPage)
	})
	mux.HandleFunc("/group/ranklist/42/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table id="ranklist"><tbody></tbody></table>`)
	})

	members, err := newTestClient(t, mux).GroupMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Member{
		{Name: "alice", Corrects: 1204, Submissions: 2310},
		{Name: "bob", Corrects: 0, Submissions: 3},
	}, members)
}

func TestRecentSolvesPaginatesUntilSince(t *testing.T) {
	base := time.Date(2025, 8, 3, 12, 0, 0, 0, time.UTC).Unix()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("user_id"))
		assert.Equal(t, "4", r.URL.Query().Get("result_id"))
		switch r.URL.Query().Get("top") {
		case "":
			fmt.Fprint(w, statusPage(statusRow(130, 1003, base+30), statusRow(120, 1002, base+20)))
		case "119":
			fmt.Fprint(w, statusPage(statusRow(110, 1001, base+10), statusRow(100, 1000, base)))
		default:
			t.Errorf("unexpected top %q", r.URL.Query().Get("top"))
		}
	})

	solves, err := newTestClient(t, mux).RecentSolves(context.Background(), "alice", 100)
	require.NoError(t, err)
	require.Len(t, solves, 3)
	assert.Equal(t, int64(110), solves[0].SolutionID)
	assert.Equal(t, 1001, solves[0].Problem)
	assert.Equal(t, time.Unix(base+10, 0).UTC(), solves[0].SolvedAt)
	assert.Equal(t, int64(130), solves[2].SolutionID)
}

func TestRecentSolvesFailsWhenPageBudgetRunsOut(t *testing.T) {
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		top := int64(1000)
		if v := r.URL.Query().Get("top"); v != "" {
			_, err := fmt.Sscan(v, &top)
			assert.NoError(t, err)
		}
		fmt.Fprint(w, statusPage(statusRow(top, 1000, 0), statusRow(top-1, 1001, 0)))
	})

	solves, err := newTestClient(t, mux).RecentSolves(context.Background(), "alice", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Nil(t, solves)
	assert.EqualValues(t, 5, pages.Load())
}

func TestRecentSolvesStopsOnEmptyPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("top") == "" {
			fmt.Fprint(w, statusPage(statusRow(130, 1003, 0)))
			return
		}
		fmt.Fprint(w, statusPage())
	})

	solves, err := newTestClient(t, mux).RecentSolves(context.Background(), "alice", 100)
	require.NoError(t, err)
	require.Len(t, solves, 1)
	assert.Equal(t, int64(130), solves[0].SolutionID)
}

func TestLastSolutionIDAndAllSolves(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, statusPage(statusRow(555, 1000, 0), statusRow(554, 1001, 0)))
	})
	mux.HandleFunc("/user/alice", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="problem-list"><a>1000</a> <a>1001</a> <a>x</a></div><div class="problem-list"><a>9999</a></div>`)
	})

	c := newTestClient(t, mux)
	last, err := c.LastSolutionID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(555), last)

	problems, err := c.AllSolves(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1001}, problems)
}

func TestTiers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/problem/show", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("problemId") == "404" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"problemId": 1000, "level": 1}`)
	})
	mux.HandleFunc("/api/v3/user/show", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("handle"))
		fmt.Fprint(w, `{"handle": "alice", "tier": 14}`)
	})

	c := newTestClient(t, mux)
	tier, err := c.ProblemTier(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, tier)

	_, err = c.ProblemTier(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	tier, err = c.UserTier(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 14, tier)
}
