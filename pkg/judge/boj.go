package judge

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// GroupMembers reads every page of the group ranklist.
func (c *Client) GroupMembers(ctx context.Context) ([]Member, error) {
	if c.groupID == "" {
		return nil, fmt.Errorf("group id is not configured")
	}

	var members []Member
	for page := 1; page <= c.maxPages; page++ {
		u := fmt.Sprintf("%s/group/ranklist/%s/%d", c.baseURL, url.PathEscape(c.groupID), page)
		doc, err := c.fetchDocument(ctx, u)
		if err != nil {
			if page > 1 {
				break
			}
			return nil, err
		}

		rows := doc.Find("#ranklist tbody tr")
		if rows.Length() == 0 {
			break
		}
		rows.Each(func(_ int, row *goquery.Selection) {
			if m, ok := parseMemberRow(row); ok {
				members = append(members, m)
			}
		})
	}
	return members, nil
}

// parseMemberRow reads rank | id | status message | corrects | submissions | rate.
func parseMemberRow(row *goquery.Selection) (Member, bool) {
	cells := row.Find("td")
	if cells.Length() < 5 {
		return Member{}, false
	}
	name := strings.TrimSpace(cells.Eq(1).Text())
	corrects, err1 := atoi(cells.Eq(3).Text())
	submissions, err2 := atoi(cells.Eq(4).Text())
	if name == "" || err1 != nil || err2 != nil {
		return Member{}, false
	}
	return Member{Name: name, Corrects: corrects, Submissions: submissions}, true
}

// RecentSolves returns accepted submissions by name with a solution id
// greater than since, oldest first. It fails with ErrUnavailable when the
// page budget runs out before the listing reaches since, so a partial
// backlog is never returned.
func (c *Client) RecentSolves(ctx context.Context, name string, since int64) ([]Solve, error) {
	var solves []Solve
	top := int64(0)
	reached := false

	for page := 0; page < c.maxPages && !reached; page++ {
		q := url.Values{}
		q.Set("user_id", name)
		q.Set("result_id", "4")
		if top > 0 {
			q.Set("top", strconv.FormatInt(top, 10))
		}

		doc, err := c.fetchDocument(ctx, c.baseURL+"/status?"+q.Encode())
		if err != nil {
			return nil, err
		}

		rows := parseStatusRows(doc)
		if len(rows) == 0 {
			reached = true
			break
		}

		for _, s := range rows {
			if s.SolutionID <= since {
				reached = true
				break
			}
			solves = append(solves, s)
		}
		top = rows[len(rows)-1].SolutionID - 1
	}
	if !reached {
		return nil, fmt.Errorf("status of %s: %d pages read before solution %d: %w",
			name, c.maxPages, since, ErrUnavailable)
	}

	sort.Slice(solves, func(i, j int) bool {
		return solves[i].SolutionID < solves[j].SolutionID
	})
	return solves, nil
}

// LastSolutionID returns the newest submission id by name, 0 if none.
func (c *Client) LastSolutionID(ctx context.Context, name string) (int64, error) {
	q := url.Values{}
	q.Set("user_id", name)

	doc, err := c.fetchDocument(ctx, c.baseURL+"/status?"+q.Encode())
	if err != nil {
		return 0, err
	}

	var last int64
	doc.Find("#status-table tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		id, err := strconv.ParseInt(strings.TrimSpace(row.Find("td").First().Text()), 10, 64)
		if err != nil {
			return true
		}
		last = id
		return false
	})
	return last, nil
}

// AllSolves returns every problem the user has solved.
func (c *Client) AllSolves(ctx context.Context, name string) ([]int, error) {
	doc, err := c.fetchDocument(ctx, c.baseURL+"/user/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	var problems []int
	doc.Find(".problem-list").First().Find("a").Each(func(_ int, a *goquery.Selection) {
		if p, err := atoi(a.Text()); err == nil {
			problems = append(problems, p)
		}
	})
	return problems, nil
}

func parseStatusRows(doc *goquery.Document) []Solve {
	var out []Solve
	doc.Find("#status-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		id, err := strconv.ParseInt(strings.TrimSpace(cells.Eq(0).Text()), 10, 64)
		if err != nil {
			return
		}
		problem, err := atoi(cells.Eq(2).Text())
		if err != nil {
			return
		}

		s := Solve{SolutionID: id, Problem: problem}
		if ts, ok := row.Find("[data-timestamp]").Attr("data-timestamp"); ok {
			if sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil {
				s.SolvedAt = time.Unix(sec, 0).UTC()
			}
		}
		if s.SolvedAt.IsZero() {
			s.SolvedAt = time.Now().UTC()
		}
		out = append(out, s)
	})
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(strings.ReplaceAll(s, ",", "")))
}
