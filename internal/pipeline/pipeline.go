// Package pipeline runs one complete crawl: reconcile every group member,
// score new solves, aggregate the month, redraw the lottery and announce
// the board when the draw changed.
//
// All writes of a run share one transaction. Each member is processed
// inside its own savepoint so a failing member only loses its own writes.
// The announcement goes out after the commit; destinations that reject it
// permanently are then marked ignored outside the run transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anabada/biaslotto/internal/logger"
	"github.com/anabada/biaslotto/internal/store"
	"github.com/anabada/biaslotto/pkg/alert"
	"github.com/anabada/biaslotto/pkg/crawl"
	"github.com/anabada/biaslotto/pkg/judge"
	"github.com/anabada/biaslotto/pkg/ledger"
	"github.com/anabada/biaslotto/pkg/lottery"
	"github.com/anabada/biaslotto/pkg/score"
)

// Judge is everything a run fetches from the judge.
type Judge interface {
	crawl.Judge
	GroupMembers(ctx context.Context) ([]judge.Member, error)
}

// Options tunes scoring, drawing and announcing.
type Options struct {
	Secret        string
	Exponent      float64
	LevelFloor    int
	Location      *time.Location
	TierCacheSize int
	AnnounceTop   int
	SiteURL       string
}

// Pipeline wires a store, a judge and the announcement destinations.
type Pipeline struct {
	store     *store.Store
	judge     Judge
	notifiers []alert.Notifier
	log       *logger.Logger
	opts      Options
	engine    *lottery.Engine
}

// New creates a pipeline. notifiers are announced to in addition to the
// hooks stored in the database.
func New(st *store.Store, j Judge, notifiers []alert.Notifier, log *logger.Logger, opts Options) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		store:     st,
		judge:     j,
		notifiers: notifiers,
		log:       log,
		opts:      opts,
		engine:    lottery.NewEngine(opts.Secret, opts.Exponent, opts.Location),
	}
}

// Report summarizes a run.
type Report struct {
	RunID       string       `json:"run_id"`
	Members     int          `json:"members"`
	Skipped     int          `json:"skipped"`
	Incremental int          `json:"incremental"`
	ColdInit    int          `json:"cold_init"`
	Failed      int          `json:"failed"`
	Points      int          `json:"points"`
	BiasWrites  int          `json:"bias_writes"`
	Changed     bool         `json:"changed"`
	Board       *store.Board `json:"board,omitempty"`
	Announced   bool         `json:"announced"`
	Delivered   int          `json:"delivered"`
	Ignored     []int64      `json:"ignored_hooks,omitempty"`
}

// RunOnce runs at the current time.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	_, err := p.Run(ctx, time.Now())
	return err
}

// Run performs one crawl at now.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (*Report, error) {
	rep := &Report{RunID: uuid.NewString()}
	log := p.log.With("run_id", rep.RunID)
	log.Info("crawl started")

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return rep, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prev, err := p.Draw(ctx, tx, now)
	if err != nil {
		return rep, fmt.Errorf("previous draw: %w", err)
	}

	members, err := p.judge.GroupMembers(ctx)
	if err != nil {
		return rep, fmt.Errorf("group members: %w", err)
	}
	rep.Members = len(members)

	if err := p.crawlMembers(ctx, tx, log, members, rep); err != nil {
		return rep, err
	}

	_, rep.BiasWrites, err = ledger.AggregateMonth(ctx, tx, now, p.opts.Location)
	if err != nil {
		return rep, fmt.Errorf("aggregate month: %w", err)
	}

	cur, err := p.Draw(ctx, tx, now)
	if err != nil {
		return rep, fmt.Errorf("draw: %w", err)
	}

	if lottery.Equal(prev, cur) {
		if err := tx.Commit(); err != nil {
			return rep, fmt.Errorf("commit: %w", err)
		}
		committed = true
		log.Info("crawl finished, draw unchanged", "members", rep.Members, "points", rep.Points, "failed", rep.Failed)
		return rep, nil
	}

	rep.Changed = true
	board, err := p.saveBoard(ctx, tx, cur, now)
	if err != nil {
		return rep, err
	}
	rep.Board = board

	hooks, err := tx.ListHooks(ctx, false)
	if err != nil {
		return rep, err
	}

	if err := tx.Commit(); err != nil {
		return rep, fmt.Errorf("commit: %w", err)
	}
	committed = true
	log.Info("draw changed, board saved", "board", board.Title, "points", rep.Points, "failed", rep.Failed)

	// The first run of a month resets every total, leaving nothing to list.
	if len(cur) == 0 {
		log.Info("draw is empty, announcement skipped", "board", board.Title)
		return rep, nil
	}
	rep.Announced = true
	p.announce(ctx, log, hooks, cur, board, rep)
	return rep, nil
}

func (p *Pipeline) crawlMembers(ctx context.Context, tx *store.Tx, log *logger.Logger, members []judge.Member, rep *Report) error {
	run, err := crawl.NewRun(p.judge, log, p.opts.TierCacheSize)
	if err != nil {
		return err
	}
	classifier := score.New(tx, p.opts.LevelFloor, p.opts.Location)

	users, err := tx.ListUsers(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]*store.User, len(users))
	for i := range users {
		known[users[i].Name] = &users[i]
	}

	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}

		sp := fmt.Sprintf("member_%d", i)
		if err := tx.Savepoint(ctx, sp); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		kind, points, err := p.crawlMember(ctx, tx, run, classifier, known[m.Name], m)
		if err != nil {
			if rbErr := tx.RollbackTo(ctx, sp); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback member %s: %w", m.Name, rbErr))
			}
			rep.Failed++
			log.Warn("member skipped", "user", m.Name, "error", err)
		} else {
			rep.Points += points
			switch kind {
			case crawl.Skip:
				rep.Skipped++
			case crawl.Incremental:
				rep.Incremental++
			case crawl.ColdInit:
				rep.ColdInit++
			}
		}

		if err := tx.Release(ctx, sp); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) crawlMember(ctx context.Context, tx *store.Tx, run *crawl.Run, c *score.Classifier, known *store.User, m judge.Member) (crawl.Kind, int, error) {
	out, err := run.Reconcile(ctx, tx, known, m)
	if err != nil {
		return crawl.Skip, 0, err
	}

	switch out.Kind {
	case crawl.ColdInit:
		p.log.Debug("user initialized", "user", m.Name, "problems", len(out.Baseline))
	case crawl.Incremental:
		points := 0
		for _, s := range out.Solves {
			d, err := c.Apply(ctx, out.User, s)
			if err != nil {
				return out.Kind, 0, err
			}
			if d.Points() > 0 {
				p.log.Debug("points awarded", "user", m.Name, "problem", s.Problem, "ordinary", d.Ordinary, "events", d.EventAwards)
			}
			points += d.Points()
		}
		return out.Kind, points, nil
	}
	return out.Kind, 0, nil
}

// BiasLister reads the stored monthly totals.
type BiasLister interface {
	ListBias(ctx context.Context) ([]store.Bias, error)
}

// Draw computes the lottery over the stored totals of non-ignored users.
func (p *Pipeline) Draw(ctx context.Context, q BiasLister, now time.Time) ([]lottery.Entry, error) {
	bias, err := q.ListBias(ctx)
	if err != nil {
		return nil, err
	}
	return p.engine.Draw(Entries(bias), now), nil
}

// Entries converts stored totals into lottery entries, dropping ignored users.
func Entries(bias []store.Bias) []lottery.Entry {
	out := make([]lottery.Entry, 0, len(bias))
	for _, b := range bias {
		if b.Ignored {
			continue
		}
		out = append(out, lottery.Entry{UserID: b.UserID, Name: b.Name, Score: b.TotalPoint})
	}
	return out
}

func (p *Pipeline) saveBoard(ctx context.Context, tx *store.Tx, draw []lottery.Entry, now time.Time) (*store.Board, error) {
	from, to := ledger.Month(now, p.opts.Location)
	n, err := tx.CountBoards(ctx, from, to)
	if err != nil {
		return nil, err
	}

	b := &store.Board{
		Seq:       n + 1,
		CreatedAt: now,
	}
	b.Title = BoardTitle(now.In(p.opts.Location), b.Seq)
	for i, e := range draw {
		b.Users = append(b.Users, store.RankedUser{Rank: i + 1, UserID: e.UserID, Name: e.Name})
	}
	if err := tx.AddBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// BoardTitle names the seq-th board of the month of local.
func BoardTitle(local time.Time, seq int) string {
	return fmt.Sprintf("%s draw #%d", local.Format("2006-01"), seq)
}

// destinations gathers the stored hooks and the configured notifiers.
func (p *Pipeline) destinations(hooks []store.Hook) *alert.Manager {
	mgr := alert.NewManager(nil)
	for _, h := range hooks {
		mgr.Add(alert.NewHook(h.ID, h.URL))
	}
	mgr.Add(p.notifiers...)
	return mgr
}

// SendTest delivers the current draw to every active hook and configured
// notifier. It returns how many destinations were tried and the joined
// delivery errors. No hook is marked ignored.
func (p *Pipeline) SendTest(ctx context.Context, now time.Time) (int, error) {
	hooks, err := p.store.ListHooks(ctx, false)
	if err != nil {
		return 0, err
	}
	draw, err := p.Draw(ctx, p.store, now)
	if err != nil {
		return 0, fmt.Errorf("draw: %w", err)
	}

	mgr := p.destinations(hooks)
	if !mgr.HasNotifiers() {
		return 0, nil
	}
	n := alert.NewNotification("Test announcement", p.opts.SiteURL, draw, p.opts.AnnounceTop, now)
	return len(hooks) + len(p.notifiers), mgr.Broadcast(ctx, n)
}

func (p *Pipeline) announce(ctx context.Context, log *logger.Logger, hooks []store.Hook, draw []lottery.Entry, board *store.Board, rep *Report) {
	mgr := p.destinations(hooks)
	if !mgr.HasNotifiers() {
		return
	}

	n := alert.NewNotification(board.Title, p.opts.SiteURL, draw, p.opts.AnnounceTop, board.CreatedAt)
	for _, r := range mgr.Announce(ctx, n) {
		if r.Err == nil {
			rep.Delivered++
			continue
		}
		hook, isHook := r.Notifier.(*alert.Discord)
		if r.Permanent() && isHook && hook.HookID != 0 {
			rep.Ignored = append(rep.Ignored, hook.HookID)
			log.Warn("destination rejected announcement permanently, ignoring it", "destination", r.Notifier.Name(), "error", r.Err)
			continue
		}
		log.Warn("announcement failed", "destination", r.Notifier.Name(), "error", r.Err)
	}

	if err := p.store.IgnoreHooks(ctx, rep.Ignored); err != nil {
		log.Error("mark hooks ignored", "error", err)
	}
}
