package mapper

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"basegraph.app/digest/internal/model"
)

type JiraIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields JiraIssueFields `json:"fields"`
}

type JiraIssueFields struct {
	Summary        string      `json:"summary"`
	Project        JiraProject `json:"project"`
	Components     []JiraName  `json:"components,omitempty"`
	Status         JiraStatus  `json:"status"`
	Resolution     *JiraName   `json:"resolution,omitempty"`
	Assignee       *JiraUser   `json:"assignee,omitempty"`
	Updated        JiraTime    `json:"updated"`
	ResolutionDate JiraTime    `json:"resolutiondate"`
	Labels         []string    `json:"labels,omitempty"`
	Security       *JiraName   `json:"security,omitempty"`
}

type JiraProject struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type JiraName struct {
	Name string `json:"name"`
}

type JiraStatus struct {
	Name           string `json:"name"`
	StatusCategory struct {
		Key string `json:"key"`
	} `json:"statusCategory"`
}

type JiraUser struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// JiraChangeHistory is one entry of a changelog bulk fetch.
type JiraChangeHistory struct {
	ID      string           `json:"id"`
	Author  *JiraUser        `json:"author,omitempty"`
	Created JiraTime         `json:"created"`
	Items   []JiraChangeItem `json:"items"`
}

type JiraChangeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// JiraFields is the field list every search requests.
var JiraFields = []string{
	"summary", "project", "components", "status", "resolution", "assignee",
	"updated", "resolutiondate", "labels", "security",
}

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// JiraTime accepts Jira's string timestamps and the epoch milliseconds the
// changelog bulk fetch returns.
type JiraTime struct {
	time.Time
}

func (t *JiraTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{jiraTimeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: jiraTimeLayout, Value: s}
}

func (t JiraTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(jiraTimeLayout))
}

type JiraMapper struct {
	baseURL string
}

func NewJiraMapper(baseURL string) *JiraMapper {
	return &JiraMapper{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (m *JiraMapper) Map(ji JiraIssue) model.Issue {
	f := ji.Fields
	issue := model.Issue{
		Key:            ji.Key,
		ID:             ji.ID,
		Summary:        strings.TrimSpace(f.Summary),
		Project:        f.Project.Key,
		Status:         f.Status.Name,
		StatusCategory: JiraStatusCategory(f.Status.StatusCategory.Key),
		Updated:        f.Updated.Time,
		Labels:         dedupeStrings(f.Labels),
	}
	if len(f.Components) > 0 {
		issue.Component = f.Components[0].Name
	}
	if f.Resolution != nil {
		issue.Resolution = f.Resolution.Name
	}
	if f.Assignee != nil {
		issue.Assignee = model.Assignee{Name: f.Assignee.DisplayName, Email: f.Assignee.EmailAddress}
	}
	if !f.ResolutionDate.IsZero() {
		resolved := f.ResolutionDate.Time
		issue.Resolved = &resolved
	}
	if f.Security != nil {
		issue.IsSecure = true
		issue.Groups = []string{jiraSecurityGroup(f.Security.Name)}
	}
	if ji.Key != "" {
		issue.URL = m.baseURL + "/browse/" + ji.Key
	}
	return issue
}

func (m *JiraMapper) MapHistory(histories []JiraChangeHistory) []model.ChangeEntry {
	out := make([]model.ChangeEntry, 0, len(histories))
	for _, h := range histories {
		entry := model.ChangeEntry{When: h.Created.Time}
		if h.Author != nil {
			entry.Who = h.Author.DisplayName
		}
		for _, item := range h.Items {
			entry.Changes = append(entry.Changes, model.Change{
				Field: item.Field,
				From:  item.FromString,
				To:    item.ToString,
			})
		}
		out = append(out, entry)
	}
	return out
}

// JiraStatusCategory maps Jira's statusCategory keys (new, indeterminate,
// done).
func JiraStatusCategory(key string) model.StatusCategory {
	switch key {
	case "done":
		return model.StatusCategoryDone
	case "indeterminate":
		return model.StatusCategoryInProgress
	default:
		return model.StatusCategoryToDo
	}
}

// jiraSecurityGroup names the restriction group for a security level.
func jiraSecurityGroup(level string) string {
	if strings.Contains(strings.ToLower(level), "confidential") {
		return "confidential"
	}
	return "security"
}
