// Package lottery turns monthly scores into a seeded, weighted ranking.
//
// Every user is replicated floor(score^Exponent) times into a pool, the pool
// is shuffled by a generator seeded from the secret, the calendar month and
// the grand total of scores, and the pool is then reduced to the first
// occurrence of each user. The result is reproducible for identical inputs
// within a month and changes whenever the score distribution changes.
package lottery

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// DefaultExponent is the pool weighting exponent.
const DefaultExponent = 1.05

// Entry is one ranked user.
type Entry struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}

// Engine draws rankings.
type Engine struct {
	secret   string
	exponent float64
	loc      *time.Location
}

// NewEngine creates an engine. A non-positive exponent selects
// DefaultExponent; a nil location selects UTC.
func NewEngine(secret string, exponent float64, loc *time.Location) *Engine {
	if exponent <= 0 {
		exponent = DefaultExponent
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{secret: secret, exponent: exponent, loc: loc}
}

// Rank sorts entries in place by score descending, then user id ascending.
func Rank(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// Weight is the number of pool copies a score earns.
func (e *Engine) Weight(score int) int {
	if score <= 0 {
		return 0
	}
	return int(math.Floor(math.Pow(float64(score), e.exponent)))
}

// Pool expands ranked entries into their weighted copies, in rank order.
func (e *Engine) Pool(ranked []Entry) []Entry {
	var pool []Entry
	for _, en := range ranked {
		for i := e.Weight(en.Score); i > 0; i-- {
			pool = append(pool, en)
		}
	}
	return pool
}

// Seed derives the seed string for a draw at now over ranked.
func (e *Engine) Seed(ranked []Entry, now time.Time) string {
	local := now.In(e.loc)
	total := 0
	for _, en := range ranked {
		total += en.Score
	}
	return fmt.Sprintf("%s-%d-%d", e.secret, local.Year()*100+int(local.Month()), total)
}

// Draw ranks entries, shuffles the weighted pool and returns each user once,
// in order of first appearance. Users with a zero weight never appear.
// The input slice is sorted in place.
func (e *Engine) Draw(entries []Entry, now time.Time) []Entry {
	ranked := Rank(entries)
	pool := e.Pool(ranked)

	rng := newRand(e.Seed(ranked, now))
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return dedup(pool)
}

func newRand(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
}

func dedup(pool []Entry) []Entry {
	seen := make(map[int64]bool)
	out := make([]Entry, 0)
	for _, en := range pool {
		if seen[en.UserID] {
			continue
		}
		seen[en.UserID] = true
		out = append(out, en)
	}
	return out
}

// Equal reports whether two draws list the same users with the same scores
// in the same order.
func Equal(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserID != b[i].UserID || a[i].Score != b[i].Score {
			return false
		}
	}
	return true
}
