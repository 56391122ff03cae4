// Package crawl diffs freshly fetched ranklist counters against the stored
// user snapshot and decides how much of a user's history to pull.
package crawl

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/anabada/biaslotto/internal/logger"
	"github.com/anabada/biaslotto/internal/store"
	"github.com/anabada/biaslotto/pkg/judge"
	"github.com/anabada/biaslotto/pkg/score"
)

// DefaultTierCacheSize bounds the per-run problem tier cache.
const DefaultTierCacheSize = 8192

// Epoch is the solve time recorded for baseline history whose real solve
// times are unknown.
var Epoch = time.Unix(0, 0).UTC()

// Judge is the subset of the judge client a reconcile needs.
type Judge interface {
	UserTier(ctx context.Context, name string) (int, error)
	ProblemTier(ctx context.Context, problem int) (int, error)
	RecentSolves(ctx context.Context, name string, since int64) ([]judge.Solve, error)
	LastSolutionID(ctx context.Context, name string) (int64, error)
	AllSolves(ctx context.Context, name string) ([]int, error)
}

// Writer persists reconciled users and baseline records.
type Writer interface {
	UpsertUser(ctx context.Context, u *store.User) error
	AddSolvedProblem(ctx context.Context, p *store.SolvedProblem) error
}

// Kind tells the caller what a reconcile did.
type Kind int

const (
	Skip Kind = iota
	Incremental
	ColdInit
)

func (k Kind) String() string {
	switch k {
	case Incremental:
		return "incremental"
	case ColdInit:
		return "cold_init"
	default:
		return "skip"
	}
}

// Outcome of one reconcile. User is the stored row after the upsert and is
// nil on Skip. Solves holds the incremental candidates in ascending solution
// id order; Baseline holds the problems recorded by a cold init.
type Outcome struct {
	Kind     Kind
	User     *store.User
	Solves   []score.Solve
	Baseline []int
}

// Run is the state of a single crawl run. Build a new one per run.
type Run struct {
	judge Judge
	log   *logger.Logger
	tiers *lru.Cache
}

// NewRun creates a run with an empty problem tier cache of cacheSize.
func NewRun(j Judge, log *logger.Logger, cacheSize int) (*Run, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultTierCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create tier cache: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Run{judge: j, log: log, tiers: cache}, nil
}

// Reconcile compares m against known (nil for a user never seen before).
//
// A known user is reconciled incrementally from its stored last solution id;
// an unknown user is cold-initialized with its full solved set at Epoch.
// Fetch failures of the solve list abort before any write so the user is
// retried next run; tier lookups that fail only leave the tier unknown.
func (r *Run) Reconcile(ctx context.Context, w Writer, known *store.User, m judge.Member) (Outcome, error) {
	if m.Corrects == 0 {
		return Outcome{Kind: Skip}, nil
	}
	if known != nil && known.Submissions == m.Submissions {
		return Outcome{Kind: Skip}, nil
	}
	if known != nil {
		return r.incremental(ctx, w, known, m)
	}
	return r.coldInit(ctx, w, m)
}

func (r *Run) incremental(ctx context.Context, w Writer, known *store.User, m judge.Member) (Outcome, error) {
	solves, err := r.judge.RecentSolves(ctx, m.Name, known.Solution)
	if err != nil {
		return Outcome{}, fmt.Errorf("recent solves of %s: %w", m.Name, err)
	}

	u := &store.User{
		Name:        m.Name,
		Corrects:    m.Corrects,
		Submissions: m.Submissions,
		Solution:    known.Solution,
		Tier:        r.userTier(ctx, m.Name, known.Tier),
	}
	candidates := make([]score.Solve, 0, len(solves))
	for _, s := range solves {
		if s.SolutionID > u.Solution {
			u.Solution = s.SolutionID
		}
		candidates = append(candidates, score.Solve{
			Problem:     s.Problem,
			SolvedAt:    s.SolvedAt,
			ProblemTier: r.ProblemTier(ctx, s.Problem),
		})
	}

	if err := w.UpsertUser(ctx, u); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Incremental, User: u, Solves: candidates}, nil
}

func (r *Run) coldInit(ctx context.Context, w Writer, m judge.Member) (Outcome, error) {
	last, err := r.judge.LastSolutionID(ctx, m.Name)
	if err != nil {
		return Outcome{}, fmt.Errorf("last solution of %s: %w", m.Name, err)
	}
	problems, err := r.judge.AllSolves(ctx, m.Name)
	if err != nil {
		return Outcome{}, fmt.Errorf("solved problems of %s: %w", m.Name, err)
	}

	u := &store.User{
		Name:        m.Name,
		Corrects:    m.Corrects,
		Submissions: m.Submissions,
		Solution:    last,
		Tier:        r.userTier(ctx, m.Name, nil),
	}
	if err := w.UpsertUser(ctx, u); err != nil {
		return Outcome{}, err
	}

	for _, p := range problems {
		tier := r.ProblemTier(ctx, p)
		rec := &store.SolvedProblem{
			UserID:      u.ID,
			Problem:     p,
			ProblemTier: tier,
			SolvedAt:    Epoch,
			Level:       score.Level(tier, u.Tier),
		}
		if err := w.AddSolvedProblem(ctx, rec); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Kind: ColdInit, User: u, Baseline: problems}, nil
}

func (r *Run) userTier(ctx context.Context, name string, stored *int) *int {
	tier, err := r.judge.UserTier(ctx, name)
	if err != nil {
		r.log.Warn("user tier unavailable", "user", name, "error", err)
		return stored
	}
	return &tier
}

// ProblemTier returns the cached tier of problem, fetching it on a miss.
// Failed lookups return nil and are not cached.
func (r *Run) ProblemTier(ctx context.Context, problem int) *int {
	if v, ok := r.tiers.Get(problem); ok {
		tier := v.(int)
		return &tier
	}
	tier, err := r.judge.ProblemTier(ctx, problem)
	if err != nil {
		r.log.Warn("problem tier unavailable", "problem", problem, "error", err)
		return nil
	}
	r.tiers.Add(problem, tier)
	return &tier
}
