package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnavailable wraps lookups that returned no usable data.
var ErrUnavailable = errors.New("judge data unavailable")

// Member is one row of the group ranklist.
type Member struct {
	Name        string
	Corrects    int
	Submissions int
}

// Solve is an accepted submission.
type Solve struct {
	SolutionID int64
	Problem    int
	SolvedAt   time.Time
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	SolvedACURL string
	GroupID     string
	UserAgent   string
	Timeout     time.Duration
	MaxPages    int
}

// Client reads group rosters and solve histories from the judge site and
// tier ratings from solved.ac.
type Client struct {
	client      *http.Client
	baseURL     string
	solvedACURL string
	groupID     string
	userAgent   string
	maxPages    int
}

// New creates a judge client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	return &Client{
		client:      &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		solvedACURL: strings.TrimRight(opts.SolvedACURL, "/"),
		groupID:     opts.GroupID,
		userAgent:   opts.UserAgent,
		maxPages:    opts.MaxPages,
	}
}

func (c *Client) newRequest(ctx context.Context, url, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", url, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", accept)
	return req, nil
}

// fetchDocument GETs an HTML page and parses it.
func (c *Client) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := c.newRequest(ctx, url, "text/html")
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d: %w", url, resp.StatusCode, ErrUnavailable)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}
