package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// User is a crawled group member.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Corrects    int       `db:"corrects" json:"corrects"`
	Submissions int       `db:"submissions" json:"submissions"`
	Solution    int64     `db:"solution" json:"solution"`
	Tier        *int      `db:"tier" json:"tier"`
	Ignored     bool      `db:"ignored" json:"ignored"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// SolvedProblem is one observed solve, repeats included.
type SolvedProblem struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Problem     int       `db:"problem" json:"problem"`
	ProblemTier *int      `db:"problem_tier" json:"problem_tier"`
	SolvedAt    time.Time `db:"solved_at" json:"solved_at"`
	Level       *int      `db:"level" json:"level"`
	Repeat      int       `db:"repeat_count" json:"repeat"`
}

// ScoreEntry is one append-only point award.
type ScoreEntry struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Description string    `db:"description" json:"description"`
	Point       int       `db:"point" json:"point"`
	EventID     *int64    `db:"event_id" json:"event_id,omitempty"`
	ProblemID   *int64    `db:"problem_id" json:"problem_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Bias is a user's running total for the current month.
type Bias struct {
	UserID     int64     `db:"user_id" json:"user_id"`
	Name       string    `db:"name" json:"name"`
	TotalPoint int       `db:"total_point" json:"total_point"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
	Ignored    bool      `db:"ignored" json:"-"`
}

// Event grants bonus points for listed problems inside [Begin, End].
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Begin     time.Time `db:"begin_at" json:"begin"`
	End       time.Time `db:"end_at" json:"end"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Problems  []int     `db:"-" json:"problems"`
}

// HasProblem reports whether problem is listed under the event.
func (e *Event) HasProblem(problem int) bool {
	for _, p := range e.Problems {
		if p == problem {
			return true
		}
	}
	return false
}

// Board is one persisted lottery drawing.
type Board struct {
	ID        int64        `db:"id" json:"id"`
	Seq       int          `db:"seq" json:"seq"`
	Title     string       `db:"title" json:"title"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	Users     []RankedUser `db:"-" json:"users"`
}

// RankedUser is one line of a board.
type RankedUser struct {
	Rank   int    `db:"rank" json:"rank"`
	UserID int64  `db:"user_id" json:"user_id"`
	Name   string `db:"name" json:"name"`
}

// Hook is an announcement destination.
type Hook struct {
	ID        int64     `db:"id" json:"id"`
	URL       string    `db:"url" json:"-"`
	Ignored   bool      `db:"ignored" json:"ignored"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store owns the database handle. Its embedded Queries run outside any
// transaction; use Begin for a run-scoped transaction.
type Store struct {
	*Queries
	db *sqlx.DB
}

// New opens the database for driver ("sqlite" or "pgx") and runs migrations.
func New(driver, dsn string) (*Store, error) {
	schema := sqliteSchema
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	case "pgx", "postgres":
		driver = "pgx"
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{Queries: &Queries{ext: db}, db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin starts a transaction. All writes of one crawl run go through it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Queries: &Queries{ext: tx}, tx: tx}, nil
}

// Tx is a run-scoped transaction.
type Tx struct {
	*Queries
	tx *sqlx.Tx
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Savepoint marks a point that RollbackTo can return to without aborting
// the whole transaction.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (t *Tx) Release(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Queries holds every statement the crawler and the API issue. It runs
// against either the pool or a transaction.
type Queries struct {
	ext sqlx.ExtContext
}

func (q *Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertID runs an INSERT ... RETURNING id statement.
func (q *Queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.ext.QueryRowxContext(ctx, q.ext.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
