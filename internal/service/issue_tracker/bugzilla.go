package issue_tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/mapper"
	"basegraph.app/digest/internal/model"
)

const bugzillaName = "bugzilla"

// Bugzilla statuses that count as Done.
var bugzillaDoneStatuses = []string{"RESOLVED", "VERIFIED", "CLOSED"}

type bugzillaTracker struct {
	baseURL string
	apiKey  string
	http    *http.Client
	mapper  *mapper.BugzillaMapper
}

type bugzillaSearchResponse struct {
	Bugs         []mapper.BugzillaBug `json:"bugs"`
	TotalMatches *int                 `json:"total_matches,omitempty"`
}

type bugzillaCountResponse struct {
	BugCount int `json:"bug_count"`
}

type bugzillaHistoryResponse struct {
	Bugs []mapper.BugzillaHistory `json:"bugs"`
}

func NewBugzillaTracker(cfg config.BugzillaConfig, httpClient *http.Client) (Tracker, error) {
	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "BUGZILLA_URL")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "BUGZILLA_API_KEY")
	}
	if len(missing) > 0 {
		return nil, &config.ConfigurationError{Missing: missing}
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	return &bugzillaTracker{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		mapper:  mapper.NewBugzillaMapper(baseURL),
	}, nil
}

func (t *bugzillaTracker) Name() string {
	return bugzillaName
}

func (t *bugzillaTracker) BuildQuery(c model.Criterion, days int) Query {
	v := url.Values{}
	for _, s := range bugzillaDoneStatuses {
		v.Add("bug_status", s)
	}
	v.Set("f1", "delta_ts")
	v.Set("o1", "greaterthan")
	v.Set("v1", fmt.Sprintf("-%dd", days))

	switch {
	case c.Whiteboard != "":
		v.Set("status_whiteboard_type", "substring")
		v.Set("status_whiteboard", c.Whiteboard)
		if c.Product != "" {
			v.Set("product", c.Product)
		}
	default:
		v.Set("product", c.Product)
		if c.Component != "" {
			v.Set("component", c.Component)
		}
	}
	return Query{Expr: v.Encode(), Days: days}
}

func (t *bugzillaTracker) BuildProjectQuery(project string, days int) Query {
	return t.BuildQuery(model.Criterion{Product: project}, days)
}

func (t *bugzillaTracker) IDQuery(ids []string) Query {
	v := url.Values{}
	v.Set("id", strings.Join(ids, ","))
	return Query{Expr: v.Encode(), IDs: ids}
}

func (t *bugzillaTracker) SearchPage(ctx context.Context, q Query, offset, limit int) (*SearchPage, error) {
	v, err := url.ParseQuery(q.Expr)
	if err != nil {
		return nil, &BackendError{Backend: bugzillaName, Op: "search", Err: fmt.Errorf("parsing query: %w", err)}
	}
	v.Set("include_fields", strings.Join(mapper.BugzillaFields, ","))
	v.Set("order", "bug_id")
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))

	var resp bugzillaSearchResponse
	if err := t.get(ctx, "search", "/rest/bug?"+v.Encode(), &resp); err != nil {
		return nil, err
	}

	total := offset + len(resp.Bugs)
	if resp.TotalMatches != nil {
		total = *resp.TotalMatches
	} else if len(resp.Bugs) == limit {
		if total, err = t.count(ctx, q); err != nil {
			return nil, err
		}
	}

	return &SearchPage{
		Issues: mapper.MapAll(t.mapper, resp.Bugs),
		Total:  total,
	}, nil
}

// count asks for the match count alone; older Bugzilla releases omit
// total_matches from paged searches.
func (t *bugzillaTracker) count(ctx context.Context, q Query) (int, error) {
	v, _ := url.ParseQuery(q.Expr)
	v.Set("count_only", "1")

	var resp bugzillaCountResponse
	if err := t.get(ctx, "count", "/rest/bug?"+v.Encode(), &resp); err != nil {
		return 0, err
	}
	return resp.BugCount, nil
}

func (t *bugzillaTracker) FetchChangelogs(ctx context.Context, issues []model.Issue, opts ChangelogOptions) (map[string][]model.ChangeEntry, error) {
	out := make(map[string][]model.ChangeEntry, len(issues))
	keys := make([]string, 0, len(issues))
	for _, issue := range issues {
		keys = append(keys, issue.Key)
	}

	for start := 0; start < len(keys); start += PageSize {
		chunk := keys[start:min(start+PageSize, len(keys))]

		v := url.Values{}
		for _, id := range chunk[1:] {
			v.Add("ids", id)
		}
		if !opts.Since.IsZero() {
			v.Set("new_since", opts.Since.UTC().Format("2006-01-02T15:04:05Z"))
		}

		var resp bugzillaHistoryResponse
		path := "/rest/bug/" + url.PathEscape(chunk[0]) + "/history"
		if encoded := v.Encode(); encoded != "" {
			path += "?" + encoded
		}
		if err := t.get(ctx, "history", path, &resp); err != nil {
			return nil, err
		}

		for _, bug := range resp.Bugs {
			key := strconv.FormatInt(bug.ID, 10)
			out[key] = filterFields(t.mapper.MapHistory(bug.History), opts.Fields)
		}
	}
	return out, nil
}

func (t *bugzillaTracker) BrowseURL(q Query) string {
	return t.baseURL + "/buglist.cgi?" + q.Expr
}

func (t *bugzillaTracker) get(ctx context.Context, op, path string, out any) error {
	return doJSON(ctx, t.http, jsonRequest{
		backend: bugzillaName,
		op:      op,
		method:  http.MethodGet,
		url:     t.baseURL + path,
		headers: map[string]string{"X-BUGZILLA-API-KEY": t.apiKey},
	}, out)
}

// filterFields keeps only changes to the named fields and drops entries left
// empty. No fields means keep everything.
func filterFields(entries []model.ChangeEntry, fields []string) []model.ChangeEntry {
	if len(fields) == 0 {
		return entries
	}
	want := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		want[f] = struct{}{}
	}

	out := entries[:0]
	for _, e := range entries {
		kept := e.Changes[:0]
		for _, c := range e.Changes {
			if _, ok := want[c.Field]; ok {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			e.Changes = kept
			out = append(out, e)
		}
	}
	return out
}
