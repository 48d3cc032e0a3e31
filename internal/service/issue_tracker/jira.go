package issue_tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/mapper"
	"basegraph.app/digest/internal/model"
)

const (
	jiraName = "jira"
	// jiraBulkChangelogLimit is the most issues one bulkfetch call accepts.
	jiraBulkChangelogLimit = 1000
)

type jiraTracker struct {
	baseURL string
	apiKey  string
	http    *http.Client
	mapper  *mapper.JiraMapper
}

type jiraSearchRequest struct {
	JQL        string   `json:"jql"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type jiraSearchResponse struct {
	StartAt    int                `json:"startAt"`
	MaxResults int                `json:"maxResults"`
	Total      int                `json:"total"`
	Issues     []mapper.JiraIssue `json:"issues"`
}

type jiraChangelogRequest struct {
	IssueIDsOrKeys []string `json:"issueIdsOrKeys"`
	FieldIDs       []string `json:"fieldIds,omitempty"`
	MaxResults     int      `json:"maxResults"`
	NextPageToken  string   `json:"nextPageToken,omitempty"`
}

type jiraChangelogResponse struct {
	IssueChangeLogs []struct {
		IssueID         string                     `json:"issueId"`
		ChangeHistories []mapper.JiraChangeHistory `json:"changeHistories"`
	} `json:"issueChangeLogs"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func NewJiraTracker(cfg config.JiraConfig, httpClient *http.Client) (Tracker, error) {
	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "JIRA_URL")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "JIRA_API_KEY")
	}
	if len(missing) > 0 {
		return nil, &config.ConfigurationError{Missing: missing}
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	return &jiraTracker{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		mapper:  mapper.NewJiraMapper(baseURL),
	}, nil
}

func (t *jiraTracker) Name() string {
	return jiraName
}

func (t *jiraTracker) BuildQuery(c model.Criterion, days int) Query {
	var clauses []string
	if c.Product != "" {
		clauses = append(clauses, "project = "+jqlQuote(c.Product))
	}
	switch {
	case c.Whiteboard != "":
		clauses = append(clauses, "labels = "+jqlQuote(c.Whiteboard))
	case c.Component != "":
		clauses = append(clauses, "component = "+jqlQuote(c.Component))
	}
	return Query{Expr: doneWithin(clauses, days), Days: days}
}

func (t *jiraTracker) BuildProjectQuery(project string, days int) Query {
	return t.BuildQuery(model.Criterion{Product: project}, days)
}

func (t *jiraTracker) IDQuery(ids []string) Query {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, jqlQuote(id))
	}
	return Query{Expr: "key in (" + strings.Join(quoted, ", ") + ")", IDs: ids}
}

func (t *jiraTracker) SearchPage(ctx context.Context, q Query, offset, limit int) (*SearchPage, error) {
	var resp jiraSearchResponse
	err := t.post(ctx, "search", "/rest/api/2/search", jiraSearchRequest{
		JQL:        q.Expr,
		StartAt:    offset,
		MaxResults: limit,
		Fields:     mapper.JiraFields,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &SearchPage{
		Issues: mapper.MapAll(t.mapper, resp.Issues),
		Total:  resp.Total,
	}, nil
}

func (t *jiraTracker) FetchChangelogs(ctx context.Context, issues []model.Issue, opts ChangelogOptions) (map[string][]model.ChangeEntry, error) {
	out := make(map[string][]model.ChangeEntry, len(issues))
	keyByID := make(map[string]string, len(issues))
	keys := make([]string, 0, len(issues))
	for _, issue := range issues {
		keys = append(keys, issue.Key)
		keyByID[issue.Key] = issue.Key
		if issue.ID != "" {
			keyByID[issue.ID] = issue.Key
		}
	}

	for start := 0; start < len(keys); start += jiraBulkChangelogLimit {
		req := jiraChangelogRequest{
			IssueIDsOrKeys: keys[start:min(start+jiraBulkChangelogLimit, len(keys))],
			FieldIDs:       opts.Fields,
			MaxResults:     jiraBulkChangelogLimit,
		}
		for {
			var resp jiraChangelogResponse
			if err := t.post(ctx, "changelog", "/rest/api/3/changelog/bulkfetch", req, &resp); err != nil {
				return nil, err
			}
			for _, log := range resp.IssueChangeLogs {
				key, ok := keyByID[log.IssueID]
				if !ok {
					key = log.IssueID
				}
				for _, entry := range t.mapper.MapHistory(log.ChangeHistories) {
					if !opts.Since.IsZero() && entry.When.Before(opts.Since) {
						continue
					}
					out[key] = append(out[key], entry)
				}
			}
			if resp.NextPageToken == "" {
				break
			}
			req.NextPageToken = resp.NextPageToken
		}
	}
	return out, nil
}

func (t *jiraTracker) BrowseURL(q Query) string {
	return t.baseURL + "/issues/?jql=" + url.QueryEscape(q.Expr)
}

func (t *jiraTracker) post(ctx context.Context, op, path string, body, out any) error {
	return doJSON(ctx, t.http, jsonRequest{
		backend: jiraName,
		op:      op,
		method:  http.MethodPost,
		url:     t.baseURL + path,
		headers: map[string]string{"Authorization": "Bearer " + t.apiKey},
		body:    body,
	}, out)
}

func doneWithin(clauses []string, days int) string {
	clauses = append(clauses, "statusCategory = Done", fmt.Sprintf("updated >= -%dd", days))
	return strings.Join(clauses, " AND ") + " ORDER BY updated DESC"
}

func jqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
