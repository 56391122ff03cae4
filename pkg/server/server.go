package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anabada/biaslotto/internal/logger"
	"github.com/anabada/biaslotto/internal/store"
	"github.com/anabada/biaslotto/pkg/crawl"
	"github.com/anabada/biaslotto/pkg/ledger"
)

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	ListBias(ctx context.Context) ([]store.Bias, error)
	LatestBoard(ctx context.Context) (*store.Board, error)
	ListBoards(ctx context.Context, from, to time.Time) ([]store.Board, error)
	GetUser(ctx context.Context, name string) (*store.User, error)
	UserScoreHistory(ctx context.Context, userID int64, limit int) ([]store.ScoreEntry, error)
	OngoingEvents(ctx context.Context, at time.Time) ([]store.Event, error)
	ListEvents(ctx context.Context) ([]store.Event, error)
	ListSolvedProblems(ctx context.Context, userID int64, from, to time.Time) ([]store.SolvedProblem, error)
	UserRankHistory(ctx context.Context, userID int64, from, to time.Time) ([]store.RankRecord, error)
	SearchUsers(ctx context.Context, term string, limit int) ([]store.User, error)
	TopGainers(ctx context.Context, limit int) ([]store.RankChange, error)
	RecentSolves(ctx context.Context, after time.Time, limit, offset int) ([]store.RecentSolve, error)
	RecentScores(ctx context.Context, limit, offset int) ([]store.RecentScore, error)
	CountFirstSolves(ctx context.Context, from, to time.Time) (int, error)
}

// Server provides the HTTP API.
type Server struct {
	store Store
	port  int
	loc   *time.Location
	log   *logger.Logger
	now   func() time.Time
}

// New creates a new HTTP server. Month queries are resolved in loc.
func New(s Store, port int, loc *time.Location, log *logger.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store: s,
		port:  port,
		loc:   loc,
		log:   log,
		now:   time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api/v1")
	{
		api.GET("/bias", s.handleBias)
		api.GET("/boards", s.handleBoards)
		api.GET("/boards/latest", s.handleLatestBoard)
		api.GET("/boards/top-gainers", s.handleTopGainers)
		api.GET("/users", s.handleSearchUsers)
		api.GET("/users/:name/history", s.handleUserHistory)
		api.GET("/users/:name/problems", s.handleUserProblems)
		api.GET("/users/:name/rank-history", s.handleUserRankHistory)
		api.GET("/events", s.handleEvents)
		api.GET("/events/ongoing", s.handleOngoingEvents)
		api.GET("/statistics/recent-solves", s.handleRecentSolves)
		api.GET("/statistics/recent-scores", s.handleRecentScores)
		api.GET("/statistics/monthly", s.handleMonthlyStats)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleBias(c *gin.Context) {
	all, err := s.store.ListBias(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	bias := make([]store.Bias, 0, len(all))
	for _, b := range all {
		if !b.Ignored {
			bias = append(bias, b)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": bias, "count": len(bias)})
}

func (s *Server) handleLatestBoard(c *gin.Context) {
	b, err := s.store.LatestBoard(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

// month resolves the month query parameter, defaulting to the current
// month. It writes a 400 and returns false on a malformed value.
func (s *Server) month(c *gin.Context) (from, to time.Time, ok bool) {
	ref := s.now().In(s.loc)
	if m := c.Query("month"); m != "" {
		t, err := time.ParseInLocation("2006-01", m, s.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must look like 2006-01"})
			return time.Time{}, time.Time{}, false
		}
		ref = t
	}
	from, to = ledger.Month(ref, s.loc)
	return from, to, true
}

// intQuery reads a positive integer parameter no larger than upper. It
// writes a 400 and returns false when the value is out of range.
func intQuery(c *gin.Context, name string, def, upper int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > upper {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be between 1 and %d", name, upper)})
		return 0, false
	}
	return n, true
}

// page reads the limit and 1-based page parameters as limit and offset.
func page(c *gin.Context, def int) (limit, offset int, ok bool) {
	limit, ok = intQuery(c, "limit", def, 100)
	if !ok {
		return 0, 0, false
	}
	p, ok := intQuery(c, "page", 1, 10000)
	if !ok {
		return 0, 0, false
	}
	return limit, (p - 1) * limit, true
}

func (s *Server) handleBoards(c *gin.Context) {
	from, to, ok := s.month(c)
	if !ok {
		return
	}
	boards, err := s.store.ListBoards(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": boards, "count": len(boards), "month": from.Format("2006-01")})
}

func (s *Server) handleTopGainers(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10, 100)
	if !ok {
		return
	}
	gainers, err := s.store.TopGainers(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gainers, "count": len(gainers)})
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	term := strings.TrimSpace(c.Query("search"))
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search is required"})
		return
	}
	users, err := s.store.SearchUsers(c.Request.Context(), term, 50)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "count": len(users)})
}

func (s *Server) handleUserHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 100, 1000)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	u, err := s.store.GetUser(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	history, err := s.store.UserScoreHistory(ctx, u.ID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.Name, "data": history, "count": len(history)})
}

// handleUserProblems lists a user's solve records, all of them unless a
// month is given.
func (s *Server) handleUserProblems(c *gin.Context) {
	from, to := time.Time{}, s.now().AddDate(0, 0, 1)
	if c.Query("month") != "" {
		var ok bool
		if from, to, ok = s.month(c); !ok {
			return
		}
	}

	ctx := c.Request.Context()
	u, err := s.store.GetUser(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	problems, err := s.store.ListSolvedProblems(ctx, u.ID, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.Name, "data": problems, "count": len(problems)})
}

func (s *Server) handleUserRankHistory(c *gin.Context) {
	from, to, ok := s.month(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	u, err := s.store.GetUser(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	history, err := s.store.UserRankHistory(ctx, u.ID, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.Name, "data": history, "count": len(history), "month": from.Format("2006-01")})
}

func (s *Server) handleEvents(c *gin.Context) {
	events, err := s.store.ListEvents(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

func (s *Server) handleOngoingEvents(c *gin.Context) {
	events, err := s.store.OngoingEvents(c.Request.Context(), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

func (s *Server) handleRecentSolves(c *gin.Context) {
	limit, offset, ok := page(c, 10)
	if !ok {
		return
	}
	solves, err := s.store.RecentSolves(c.Request.Context(), crawl.Epoch, limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": solves, "count": len(solves)})
}

func (s *Server) handleRecentScores(c *gin.Context) {
	limit, offset, ok := page(c, 10)
	if !ok {
		return
	}
	scores, err := s.store.RecentScores(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": scores, "count": len(scores)})
}

type monthCount struct {
	Month  string `json:"month"`
	Solved int    `json:"solved"`
}

// handleMonthlyStats counts first-time solves per month, oldest first,
// ending with the current month. Baseline history is only in the total.
func (s *Server) handleMonthlyStats(c *gin.Context) {
	months, ok := intQuery(c, "months", 12, 120)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	from, to := ledger.Month(s.now(), s.loc)
	stats := make([]monthCount, months)
	for i := months - 1; i >= 0; i-- {
		n, err := s.store.CountFirstSolves(ctx, from, to)
		if err != nil {
			s.fail(c, err)
			return
		}
		stats[i] = monthCount{Month: from.Format("2006-01"), Solved: n}
		to = from
		from, _ = ledger.Month(from.AddDate(0, 0, -1), s.loc)
	}

	total, err := s.store.CountFirstSolves(ctx, time.Time{}, s.now().AddDate(0, 0, 1))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats, "count": len(stats), "total": total})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.log.Error("api request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
