package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anabada/biaslotto/internal/config"
	"github.com/anabada/biaslotto/internal/logger"
	"github.com/anabada/biaslotto/internal/pipeline"
	"github.com/anabada/biaslotto/internal/scheduler"
	"github.com/anabada/biaslotto/internal/store"
	"github.com/anabada/biaslotto/internal/tunnel"
	"github.com/anabada/biaslotto/pkg/alert"
	"github.com/anabada/biaslotto/pkg/judge"
	"github.com/anabada/biaslotto/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app is the loaded configuration plus an open database, reached through
// the SSH tunnel when one is configured.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *store.Store
	tunnel *tunnel.Tunnel
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if cfg.Tunnel.Enabled {
		a.tunnel, err = tunnel.Open(ctx, cfg.Tunnel, log)
		if err != nil {
			return nil, fmt.Errorf("open tunnel: %w", err)
		}
	}

	a.db, err = store.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.tunnel != nil {
		a.tunnel.Close()
	}
	a.log.Sync()
}

// registerHooks stores the webhooks listed in config so they share the
// ignore bookkeeping of hooks added from the CLI.
func (a *app) registerHooks(ctx context.Context) error {
	for _, url := range a.cfg.Alerts.DiscordWebhooks {
		if _, err := a.db.AddHook(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) buildNotifiers() []alert.Notifier {
	var notifiers []alert.Notifier

	if a.cfg.Alerts.Slack.Enabled && a.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(a.cfg.Alerts.Slack.WebhookURL))
	}
	if a.cfg.Alerts.Webhook.Enabled && a.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(a.cfg.Alerts.Webhook.URL, a.cfg.Alerts.Webhook.Secret))
	}

	return notifiers
}

func (a *app) buildPipeline() *pipeline.Pipeline {
	cfg := a.cfg
	j := judge.New(judge.Options{
		BaseURL:     cfg.Judge.BaseURL,
		SolvedACURL: cfg.Judge.SolvedACURL,
		GroupID:     cfg.Judge.GroupID,
		UserAgent:   cfg.Judge.UserAgent,
		Timeout:     cfg.Judge.ParseTimeout(),
		MaxPages:    cfg.Judge.MaxStatusPages,
	})
	if cfg.Lottery.Seed == "" {
		a.log.Warn("lottery seed is empty, draws are predictable")
	}
	return pipeline.New(a.db, j, a.buildNotifiers(), a.log, pipeline.Options{
		Secret:        cfg.Lottery.Seed,
		Exponent:      cfg.Lottery.Exponent,
		LevelFloor:    cfg.Scoring.LevelFloor,
		Location:      cfg.Scoring.Location(),
		TierCacheSize: cfg.Judge.TierCacheSize,
		AnnounceTop:   cfg.Lottery.AnnounceTop,
		SiteURL:       cfg.Alerts.SiteURL,
	})
}

func runCrawl(jsonOutput bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registerHooks(ctx); err != nil {
		return err
	}

	rep, err := a.buildPipeline().Run(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Fprintf(os.Stderr, "run %s: %d members (%d skipped, %d incremental, %d initialized, %d failed), %d points\n",
		rep.RunID, rep.Members, rep.Skipped, rep.Incremental, rep.ColdInit, rep.Failed, rep.Points)
	switch {
	case rep.Changed && !rep.Announced:
		fmt.Fprintf(os.Stderr, "draw changed: %s is empty, nothing announced\n", rep.Board.Title)
	case rep.Changed:
		fmt.Fprintf(os.Stderr, "draw changed: %s, delivered to %d destinations, %d hooks ignored\n",
			rep.Board.Title, rep.Delivered, len(rep.Ignored))
	default:
		fmt.Fprintln(os.Stderr, "draw unchanged")
	}
	return nil
}

func runDraw(jsonOutput bool, limit int) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	draw, err := a.buildPipeline().Draw(ctx, a.db, time.Now())
	if err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	if limit > 0 && len(draw) > limit {
		draw = draw[:limit]
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(draw)
	}

	if len(draw) == 0 {
		fmt.Println("nobody has points this month (try crawling first: biaslotto crawl)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tPOINTS")
	for i, e := range draw {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, e.Name, e.Score)
	}
	return w.Flush()
}

func runServe(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.db, port, a.cfg.Scoring.Location(), a.log)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemon(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	if err := a.registerHooks(ctx); err != nil {
		return err
	}

	sched := scheduler.New(a.buildPipeline(), a.log, a.cfg.Schedule.ParseCrawlInterval())
	srv := server.New(a.db, port, a.cfg.Scoring.Location(), a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	a.log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHookAdd(url string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.db.AddHook(ctx, url)
	if err != nil {
		return err
	}
	fmt.Printf("hook #%d registered (ignored: %t)\n", h.ID, h.Ignored)
	return nil
}

func runHookList(all bool) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	hooks, err := a.db.ListHooks(ctx, all)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIGNORED\tURL\tCREATED")
	for _, h := range hooks {
		fmt.Fprintf(w, "%d\t%t\t%s\t%s\n", h.ID, h.Ignored, maskURL(h.URL), h.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runHookTest() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registerHooks(ctx); err != nil {
		return err
	}
	n, err := a.buildPipeline().SendTest(ctx, time.Now())
	if n == 0 && err == nil {
		fmt.Println("no active webhooks or notifiers configured")
		return nil
	}
	if err != nil {
		return fmt.Errorf("test announcement: %w", err)
	}
	fmt.Printf("test announcement delivered to %d destinations\n", n)
	return nil
}

// maskURL hides the token part of a webhook URL.
func maskURL(u string) string {
	i := strings.LastIndex(u, "/")
	if i < 0 || len(u)-i <= 5 {
		return u
	}
	return u[:i+5] + "..."
}

func runEventAdd(title, begin, end string, problems []int) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	loc := a.cfg.Scoring.Location()
	b, err := parseTime(begin, loc)
	if err != nil {
		return fmt.Errorf("--begin: %w", err)
	}
	e, err := parseTime(end, loc)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	ev := &store.Event{Title: title, Begin: b, End: e, Problems: problems}
	if err := a.db.AddEvent(ctx, ev); err != nil {
		return err
	}
	fmt.Printf("event #%d %q created with %d problems\n", ev.ID, ev.Title, len(ev.Problems))
	return nil
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func runEventList() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.db.ListEvents(ctx)
	if err != nil {
		return err
	}

	loc := a.cfg.Scoring.Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tBEGIN\tEND\tPROBLEMS")
	for _, ev := range events {
		ids := make([]string, len(ev.Problems))
		for i, p := range ev.Problems {
			ids[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ev.ID, ev.Title,
			ev.Begin.In(loc).Format("2006-01-02 15:04"),
			ev.End.In(loc).Format("2006-01-02 15:04"),
			strings.Join(ids, ","))
	}
	return w.Flush()
}

func runUserIgnore(name string, ignored bool) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.SetUserIgnored(ctx, name, ignored); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s has not been crawled yet", name)
		}
		return err
	}
	fmt.Printf("user %s ignored: %t\n", name, ignored)
	return nil
}
