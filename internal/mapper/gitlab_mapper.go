package mapper

import (
	"fmt"
	"strings"

	"basegraph.app/digest/internal/model"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

type GitLabMapper struct{}

func NewGitLabMapper() *GitLabMapper {
	return &GitLabMapper{}
}

// Map keys GitLab issues as "<project path>#<iid>", which is what GitLab
// itself prints as the full reference.
func (m *GitLabMapper) Map(gi *gitlab.Issue) model.Issue {
	if gi == nil {
		return model.Issue{}
	}

	project := projectPath(gi)
	issue := model.Issue{
		Key:            GitLabKey(project, int64(gi.IID)),
		ID:             fmt.Sprintf("%d", gi.ID),
		Summary:        strings.TrimSpace(gi.Title),
		Project:        project,
		Status:         gi.State,
		StatusCategory: gitLabStatusCategory(gi.State),
		Labels:         dedupeStrings(gi.Labels),
		URL:            gi.WebURL,
	}
	if gi.IID == 0 {
		issue.Key = ""
	}
	if len(gi.Labels) > 0 {
		issue.Component = gi.Labels[0]
	}
	if gi.UpdatedAt != nil {
		issue.Updated = gi.UpdatedAt.UTC()
	}
	if gi.ClosedAt != nil {
		closed := gi.ClosedAt.UTC()
		issue.Resolved = &closed
		issue.Resolution = "closed"
	}

	switch {
	case gi.Assignee != nil:
		issue.Assignee = model.Assignee{Name: gi.Assignee.Name, Email: gi.Assignee.Username}
	case len(gi.Assignees) > 0 && gi.Assignees[0] != nil:
		issue.Assignee = model.Assignee{Name: gi.Assignees[0].Name, Email: gi.Assignees[0].Username}
	}

	if gi.Confidential {
		issue.IsSecure = true
		issue.Groups = []string{"confidential"}
	}
	return issue
}

// MapStateEvents turns resource state events into status changes.
func (m *GitLabMapper) MapStateEvents(events []*gitlab.StateEvent) []model.ChangeEntry {
	out := make([]model.ChangeEntry, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		entry := model.ChangeEntry{
			Changes: []model.Change{{Field: "state", To: string(e.State)}},
		}
		if e.CreatedAt != nil {
			entry.When = e.CreatedAt.UTC()
		}
		if e.User != nil {
			entry.Who = e.User.Username
		}
		out = append(out, entry)
	}
	return out
}

// GitLabKey formats the display key of an issue.
func GitLabKey(projectPath string, iid int64) string {
	return fmt.Sprintf("%s#%d", projectPath, iid)
}

// ParseGitLabKey splits "group/app#12" into its project path and IID.
func ParseGitLabKey(key string) (string, int64, error) {
	idx := strings.LastIndex(key, "#")
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("invalid gitlab issue key %q", key)
	}
	var iid int64
	if _, err := fmt.Sscanf(key[idx+1:], "%d", &iid); err != nil || iid <= 0 {
		return "", 0, fmt.Errorf("invalid gitlab issue key %q", key)
	}
	return key[:idx], iid, nil
}

func projectPath(gi *gitlab.Issue) string {
	if gi.References != nil && gi.References.Full != "" {
		if idx := strings.LastIndex(gi.References.Full, "#"); idx > 0 {
			return gi.References.Full[:idx]
		}
	}
	return fmt.Sprintf("%d", gi.ProjectID)
}

func gitLabStatusCategory(state string) model.StatusCategory {
	if state == "closed" {
		return model.StatusCategoryDone
	}
	return model.StatusCategoryToDo
}
