package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/anabada/biaslotto/pkg/lottery"
)

// DefaultTop is how many draw entries an announcement lists.
const DefaultTop = 10

// Notification is the data sent to alert destinations.
type Notification struct {
	Title     string          `json:"title"`
	SiteURL   string          `json:"site_url"`
	Entries   []lottery.Entry `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewNotification keeps the first top entries of draw.
func NewNotification(title, siteURL string, draw []lottery.Entry, top int, at time.Time) *Notification {
	if top <= 0 {
		top = DefaultTop
	}
	if len(draw) > top {
		draw = draw[:top]
	}
	return &Notification{
		Title:     title,
		SiteURL:   siteURL,
		Entries:   append([]lottery.Entry(nil), draw...),
		CreatedAt: at,
	}
}

// Lines renders the announcement body.
func (n *Notification) Lines() []string {
	lines := []string{"The lottery draw has changed."}
	if n.SiteURL != "" {
		lines = append(lines, fmt.Sprintf("See %s for details!", n.SiteURL))
	}
	lines = append(lines, "")
	for i, e := range n.Entries {
		lines = append(lines, fmt.Sprintf("%d. `%s`: %d points", i+1, e.Name, e.Score))
	}
	return lines
}

// Text is Lines joined by newlines, headed by the title when set.
func (n *Notification) Text() string {
	body := strings.Join(n.Lines(), "\n")
	if n.Title == "" {
		return body
	}
	return "**" + n.Title + "**\n" + body
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Result is the outcome of one delivery.
type Result struct {
	Notifier Notifier
	Err      error
}

// Permanent reports whether the destination will never accept a delivery.
func (r Result) Permanent() bool {
	return IsPermanent(r.Err)
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// Add registers more notifiers.
func (m *Manager) Add(notifiers ...Notifier) {
	m.notifiers = append(m.notifiers, notifiers...)
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Announce sends n to every notifier, one after another, and reports each
// outcome in registration order.
func (m *Manager) Announce(ctx context.Context, n *Notification) []Result {
	results := make([]Result, 0, len(m.notifiers))
	for _, notifier := range m.notifiers {
		results = append(results, Result{Notifier: notifier, Err: notifier.Send(ctx, n)})
	}
	return results
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, r := range m.Announce(ctx, n) {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Notifier.Name(), r.Err))
		}
	}
	return errors.Join(errs...)
}

// Discord API error codes meaning the webhook is gone for good.
var permanentCodes = []int{
	10003, // unknown channel
	10015, // unknown webhook
	50013, // missing permissions
	50027, // invalid webhook token
}

// DeliveryError describes a failed delivery. Status is 0 when no response
// arrived; Code is the Discord error code from the response body, if any.
type DeliveryError struct {
	Status int
	Code   int
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != 0:
		return fmt.Sprintf("status %d, code %d", e.Status, e.Code)
	default:
		return fmt.Sprintf("status %d", e.Status)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent reports whether retrying is pointless.
func (e *DeliveryError) Permanent() bool {
	if slices.Contains(permanentCodes, e.Code) {
		return true
	}
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent()
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, header http.Header) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("create request: %w", err)}
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()

	var apiErr struct {
		Code int `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &apiErr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || slices.Contains(permanentCodes, apiErr.Code) {
		return &DeliveryError{Status: resp.StatusCode, Code: apiErr.Code}
	}
	return nil
}
