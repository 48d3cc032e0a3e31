package mapper

import (
	"strconv"
	"strings"
	"time"

	"basegraph.app/digest/internal/model"
)

// BugzillaBug is the subset of a /rest/bug record the digest reads.
type BugzillaBug struct {
	ID               int64               `json:"id"`
	Summary          string              `json:"summary"`
	Product          string              `json:"product"`
	Component        string              `json:"component"`
	Status           string              `json:"status"`
	Resolution       string              `json:"resolution"`
	AssignedTo       string              `json:"assigned_to"`
	AssignedToDetail *BugzillaUserDetail `json:"assigned_to_detail,omitempty"`
	LastChangeTime   string              `json:"last_change_time"`
	LastResolved     *string             `json:"cf_last_resolved,omitempty"`
	Keywords         []string            `json:"keywords,omitempty"`
	Whiteboard       string              `json:"whiteboard,omitempty"`
	Groups           []string            `json:"groups,omitempty"`
}

type BugzillaUserDetail struct {
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Email    string `json:"email"`
}

// BugzillaHistory is one bug's entry in a /rest/bug/{id}/history response.
type BugzillaHistory struct {
	ID      int64                  `json:"id"`
	History []BugzillaHistoryEntry `json:"history"`
}

type BugzillaHistoryEntry struct {
	When    string           `json:"when"`
	Who     string           `json:"who"`
	Changes []BugzillaChange `json:"changes"`
}

type BugzillaChange struct {
	FieldName string `json:"field_name"`
	Removed   string `json:"removed"`
	Added     string `json:"added"`
}

// BugzillaFields is the include_fields list every search requests.
var BugzillaFields = []string{
	"id", "summary", "product", "component", "status", "resolution",
	"assigned_to", "assigned_to_detail", "last_change_time", "cf_last_resolved",
	"keywords", "whiteboard", "groups",
}

// bugzillaNobody is the placeholder account Bugzilla assigns unowned bugs to.
const bugzillaNobody = "nobody@mozilla.org"

type BugzillaMapper struct {
	baseURL string
}

func NewBugzillaMapper(baseURL string) *BugzillaMapper {
	return &BugzillaMapper{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (m *BugzillaMapper) Map(bug BugzillaBug) model.Issue {
	key := strconv.FormatInt(bug.ID, 10)
	if bug.ID == 0 {
		key = ""
	}

	issue := model.Issue{
		Key:            key,
		Summary:        strings.TrimSpace(bug.Summary),
		Project:        bug.Product,
		Component:      bug.Component,
		Status:         bug.Status,
		StatusCategory: BugzillaStatusCategory(bug.Status),
		Resolution:     bug.Resolution,
		Assignee:       m.mapAssignee(bug),
		Updated:        parseBugzillaTime(bug.LastChangeTime),
		Labels:         dedupeStrings(append(append([]string{}, bug.Keywords...), whiteboardTags(bug.Whiteboard)...)),
		Groups:         dedupeStrings(bug.Groups),
		IsSecure:       len(bug.Groups) > 0,
	}
	if key != "" {
		issue.URL = m.ShowURL(key)
	}
	if bug.LastResolved != nil && *bug.LastResolved != "" {
		resolved := parseBugzillaTime(*bug.LastResolved)
		if !resolved.IsZero() {
			issue.Resolved = &resolved
		}
	}
	return issue
}

// ShowURL links to the bug page.
func (m *BugzillaMapper) ShowURL(key string) string {
	return m.baseURL + "/show_bug.cgi?id=" + key
}

// MapHistory converts history records, oldest first as Bugzilla returns them.
func (m *BugzillaMapper) MapHistory(entries []BugzillaHistoryEntry) []model.ChangeEntry {
	out := make([]model.ChangeEntry, 0, len(entries))
	for _, e := range entries {
		entry := model.ChangeEntry{
			When: parseBugzillaTime(e.When),
			Who:  e.Who,
		}
		for _, c := range e.Changes {
			entry.Changes = append(entry.Changes, model.Change{
				Field: c.FieldName,
				From:  c.Removed,
				To:    c.Added,
			})
		}
		out = append(out, entry)
	}
	return out
}

func (m *BugzillaMapper) mapAssignee(bug BugzillaBug) model.Assignee {
	if bug.AssignedTo == bugzillaNobody {
		return model.Assignee{}
	}
	a := model.Assignee{Email: bug.AssignedTo}
	if d := bug.AssignedToDetail; d != nil {
		a.Name = d.RealName
		if a.Email == "" {
			a.Email = d.Email
		}
	}
	return a
}

// BugzillaStatusCategory folds Bugzilla's workflow states into three buckets.
func BugzillaStatusCategory(status string) model.StatusCategory {
	switch strings.ToUpper(status) {
	case "RESOLVED", "VERIFIED", "CLOSED":
		return model.StatusCategoryDone
	case "ASSIGNED", "REOPENED", "IN_PROGRESS":
		return model.StatusCategoryInProgress
	default:
		return model.StatusCategoryToDo
	}
}

// whiteboardTags splits "[fxa] [sng-2]" style whiteboards into tags.
func whiteboardTags(whiteboard string) []string {
	var tags []string
	for _, part := range strings.FieldsFunc(whiteboard, func(r rune) bool {
		return r == '[' || r == ']'
	}) {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func parseBugzillaTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
