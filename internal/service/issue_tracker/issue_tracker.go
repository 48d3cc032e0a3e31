package issue_tracker

import (
	"context"
	"time"

	"basegraph.app/digest/internal/model"
)

// PageSize is the fixed page size adapters request from their backend.
const PageSize = 100

// Query is a backend search. Expr carries the backend's own query language
// (Bugzilla URL parameters, JQL); the structured fields serve backends
// without one. A non-empty IDs restricts the search to those keys.
type Query struct {
	Expr    string   `json:"expr,omitempty"`
	Project string   `json:"project,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Days    int      `json:"days,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

// SearchPage is one page of results plus the backend-reported total for the
// whole query.
type SearchPage struct {
	Issues []model.Issue `json:"issues"`
	Total  int           `json:"total"`
}

type ChangelogOptions struct {
	Since  time.Time // zero means full history
	Fields []string  // empty means every field
}

type Tracker interface {
	Name() string
	SearchPage(ctx context.Context, q Query, offset, limit int) (*SearchPage, error)
	BuildQuery(c model.Criterion, days int) Query
	// BuildProjectQuery selects every issue of a project whose status
	// category is Done and that was updated within the last days days.
	BuildProjectQuery(project string, days int) Query
	IDQuery(ids []string) Query
	FetchChangelogs(ctx context.Context, issues []model.Issue, opts ChangelogOptions) (map[string][]model.ChangeEntry, error)
	// BrowseURL links a human to the same search in the backend's UI.
	BrowseURL(q Query) string
}

// Search requests pages of PageSize until it holds as many issues as the
// backend reported, keeping the order received.
func Search(ctx context.Context, t Tracker, q Query) ([]model.Issue, error) {
	var all []model.Issue
	for {
		page, err := t.SearchPage(ctx, q, len(all), PageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Issues...)
		if len(all) >= page.Total || len(page.Issues) == 0 {
			return all, nil
		}
	}
}

// FetchByIDs resolves keys to full issues in chunks of PageSize. Keys the
// backend does not return are silently absent from the result.
func FetchByIDs(ctx context.Context, t Tracker, ids []string) ([]model.Issue, error) {
	var all []model.Issue
	for start := 0; start < len(ids); start += PageSize {
		end := min(start+PageSize, len(ids))
		issues, err := Search(ctx, t, t.IDQuery(ids[start:end]))
		if err != nil {
			return nil, err
		}
		all = append(all, issues...)
	}
	return all, nil
}

func sinceDays(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}
