package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

type solvedACProblem struct {
	ProblemID int  `json:"problemId"`
	Level     *int `json:"level"`
}

type solvedACUser struct {
	Handle string `json:"handle"`
	Tier   *int   `json:"tier"`
}

// ProblemTier returns the solved.ac level of a problem.
func (c *Client) ProblemTier(ctx context.Context, problem int) (int, error) {
	q := url.Values{}
	q.Set("problemId", strconv.Itoa(problem))

	var p solvedACProblem
	if err := c.getJSON(ctx, c.solvedACURL+"/problem/show?"+q.Encode(), &p); err != nil {
		return 0, fmt.Errorf("problem %d tier: %w", problem, err)
	}
	if p.Level == nil {
		return 0, fmt.Errorf("problem %d tier: %w", problem, ErrUnavailable)
	}
	return *p.Level, nil
}

// UserTier returns the solved.ac tier of a user.
func (c *Client) UserTier(ctx context.Context, name string) (int, error) {
	q := url.Values{}
	q.Set("handle", name)

	var u solvedACUser
	if err := c.getJSON(ctx, c.solvedACURL+"/user/show?"+q.Encode(), &u); err != nil {
		return 0, fmt.Errorf("user %s tier: %w", name, err)
	}
	if u.Tier == nil {
		return 0, fmt.Errorf("user %s tier: %w", name, ErrUnavailable)
	}
	return *u.Tier, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := c.newRequest(ctx, u, "application/json")
	if err != nil {
		return err
	}
	req.Header.Set("x-solvedac-language", "ko")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solved.ac status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
