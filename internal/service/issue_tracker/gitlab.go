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
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const gitLabName = "gitlab"

type gitLabTracker struct {
	webURL string
	client *gitlab.Client
	mapper *mapper.GitLabMapper
}

func NewGitLabTracker(cfg config.GitLabConfig, httpClient *http.Client) (Tracker, error) {
	if cfg.Token == "" {
		return nil, &config.ConfigurationError{Missing: []string{"GITLAB_TOKEN"}}
	}

	webURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if webURL == "" {
		webURL = "https://gitlab.com"
	}

	client, err := gitlab.NewClient(cfg.Token,
		gitlab.WithBaseURL(webURL+"/api/v4"),
		gitlab.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &gitLabTracker{
		webURL: webURL,
		client: client,
		mapper: mapper.NewGitLabMapper(),
	}, nil
}

func (t *gitLabTracker) Name() string {
	return gitLabName
}

func (t *gitLabTracker) BuildQuery(c model.Criterion, days int) Query {
	q := Query{Project: c.Product, Days: days}
	switch {
	case c.Whiteboard != "":
		q.Labels = []string{c.Whiteboard}
	case c.Component != "":
		q.Labels = []string{c.Component}
	}
	return q
}

// BuildProjectQuery selects closed issues, GitLab's only Done state.
func (t *gitLabTracker) BuildProjectQuery(project string, days int) Query {
	return t.BuildQuery(model.Criterion{Product: project}, days)
}

func (t *gitLabTracker) IDQuery(ids []string) Query {
	return Query{IDs: ids}
}

// SearchPage maps offset onto GitLab's page numbers. An offset that is not a
// multiple of limit yields a short page; callers advance by what they got.
func (t *gitLabTracker) SearchPage(ctx context.Context, q Query, offset, limit int) (*SearchPage, error) {
	if len(q.IDs) > 0 {
		return t.lookup(ctx, q.IDs, offset, limit)
	}

	page := offset/limit + 1
	skip := offset % limit

	var (
		issues []*gitlab.Issue
		resp   *gitlab.Response
		err    error
	)
	labels := gitlab.LabelOptions(q.Labels)
	since := sinceDays(q.Days)

	if q.Project != "" {
		opts := &gitlab.ListProjectIssuesOptions{
			State:        gitlab.Ptr("closed"),
			UpdatedAfter: &since,
			OrderBy:      gitlab.Ptr("updated_at"),
			Sort:         gitlab.Ptr("desc"),
		}
		if len(labels) > 0 {
			opts.Labels = &labels
		}
		setInt(&opts.Page, page)
		setInt(&opts.PerPage, limit)
		issues, resp, err = t.client.Issues.ListProjectIssues(q.Project, opts, gitlab.WithContext(ctx))
	} else {
		opts := &gitlab.ListIssuesOptions{
			State:        gitlab.Ptr("closed"),
			Scope:        gitlab.Ptr("all"),
			UpdatedAfter: &since,
			OrderBy:      gitlab.Ptr("updated_at"),
			Sort:         gitlab.Ptr("desc"),
		}
		if len(labels) > 0 {
			opts.Labels = &labels
		}
		setInt(&opts.Page, page)
		setInt(&opts.PerPage, limit)
		issues, resp, err = t.client.Issues.ListIssues(opts, gitlab.WithContext(ctx))
	}
	if err != nil {
		return nil, gitLabError("search", resp, err)
	}

	if skip > len(issues) {
		skip = len(issues)
	}
	return &SearchPage{
		Issues: mapper.MapAll[*gitlab.Issue](t.mapper, issues[skip:]),
		Total:  int(resp.TotalItems),
	}, nil
}

// lookup fetches issues one by one; GitLab has no cross-project key search.
func (t *gitLabTracker) lookup(ctx context.Context, keys []string, offset, limit int) (*SearchPage, error) {
	result := &SearchPage{Total: len(keys)}
	if offset >= len(keys) {
		return result, nil
	}

	for _, key := range keys[offset:min(offset+limit, len(keys))] {
		project, iid, err := mapper.ParseGitLabKey(key)
		if err != nil {
			result.Total--
			continue
		}
		gi, resp, err := t.client.Issues.GetIssue(project, iid, nil, gitlab.WithContext(ctx))
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				result.Total--
				continue
			}
			return nil, gitLabError("get issue", resp, err)
		}
		result.Issues = append(result.Issues, t.mapper.Map(gi))
	}
	return result, nil
}

// FetchChangelogs walks state events issue by issue, sequentially, to stay
// inside GitLab's rate limits.
func (t *gitLabTracker) FetchChangelogs(ctx context.Context, issues []model.Issue, opts ChangelogOptions) (map[string][]model.ChangeEntry, error) {
	out := make(map[string][]model.ChangeEntry, len(issues))
	for _, issue := range issues {
		project, iid, err := mapper.ParseGitLabKey(issue.Key)
		if err != nil {
			continue
		}

		listOpts := &gitlab.ListStateEventsOptions{}
		setInt(&listOpts.PerPage, PageSize)
		setInt(&listOpts.Page, 1)

		var entries []model.ChangeEntry
		for {
			events, resp, err := t.client.ResourceStateEvents.ListIssueStateEvents(project, iid, listOpts, gitlab.WithContext(ctx))
			if err != nil {
				return nil, gitLabError("state events", resp, err)
			}
			entries = append(entries, t.mapper.MapStateEvents(events)...)
			if resp.NextPage == 0 {
				break
			}
			listOpts.Page = resp.NextPage
		}

		var kept []model.ChangeEntry
		for _, e := range filterFields(entries, opts.Fields) {
			if opts.Since.IsZero() || !e.When.Before(opts.Since) {
				kept = append(kept, e)
			}
		}
		out[issue.Key] = kept
	}
	return out, nil
}

func (t *gitLabTracker) BrowseURL(q Query) string {
	v := url.Values{}
	v.Set("state", "closed")
	for _, l := range q.Labels {
		v.Add("label_name[]", l)
	}
	if q.Project == "" {
		return t.webURL + "/dashboard/issues?" + v.Encode()
	}
	return t.webURL + "/" + q.Project + "/-/issues?" + v.Encode()
}

func gitLabError(op string, resp *gitlab.Response, err error) error {
	be := &BackendError{Backend: gitLabName, Op: op, Err: err}
	if resp != nil {
		be.StatusCode = resp.StatusCode
	}
	return be
}

// setInt assigns to pagination fields whatever their integer width.
func setInt[T ~int | ~int64](dst *T, v int) {
	*dst = T(v)
}
