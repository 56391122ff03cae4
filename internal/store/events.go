package store

import (
	"context"
	"fmt"
	"time"
)

const eventColumns = "id, title, begin_at, end_at, created_at"

// AddEvent inserts e with its problem list and sets e.ID.
func (q *Queries) AddEvent(ctx context.Context, e *Event) error {
	if !e.End.After(e.Begin) {
		return fmt.Errorf("event %q ends before it begins", e.Title)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	id, err := q.insertID(ctx, `
		INSERT INTO events (title, begin_at, end_at, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, e.Title, utc(e.Begin), utc(e.End), utc(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("add event %q: %w", e.Title, err)
	}
	e.ID = id

	for _, p := range e.Problems {
		_, err := q.exec(ctx, `
			INSERT INTO event_problems (event_id, problem) VALUES (?, ?)
			ON CONFLICT(event_id, problem) DO NOTHING
		`, id, p)
		if err != nil {
			return fmt.Errorf("add problem %d to event %d: %w", p, id, err)
		}
	}
	return nil
}

// OngoingEvents returns events whose open interval (begin, end) contains at.
func (q *Queries) OngoingEvents(ctx context.Context, at time.Time) ([]Event, error) {
	var events []Event
	err := q.sel(ctx, &events,
		"SELECT "+eventColumns+" FROM events WHERE begin_at < ? AND end_at > ? ORDER BY id",
		utc(at), utc(at))
	if err != nil {
		return nil, fmt.Errorf("list ongoing events: %w", err)
	}
	return q.withProblems(ctx, events)
}

func (q *Queries) ListEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := q.sel(ctx, &events, "SELECT "+eventColumns+" FROM events ORDER BY begin_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return q.withProblems(ctx, events)
}

func (q *Queries) withProblems(ctx context.Context, events []Event) ([]Event, error) {
	for i := range events {
		err := q.sel(ctx, &events[i].Problems,
			"SELECT problem FROM event_problems WHERE event_id = ? ORDER BY problem", events[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list problems of event %d: %w", events[i].ID, err)
		}
	}
	return events, nil
}
