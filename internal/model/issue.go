package model

import "time"

type StatusCategory string

const (
	StatusCategoryToDo       StatusCategory = "todo"
	StatusCategoryInProgress StatusCategory = "in_progress"
	StatusCategoryDone       StatusCategory = "done"
)

// Issue is the canonical, backend-independent issue shape. Mappers build it
// from a backend response; nothing mutates it afterwards.
type Issue struct {
	Key            string         `json:"key"`          // display identifier, e.g. "1834512", "FXA-93", "group/app#12"
	ID             string         `json:"id,omitempty"` // backend-internal identifier when it differs from Key
	Summary        string         `json:"summary"`
	Project        string         `json:"project"`
	Component      string         `json:"component,omitempty"`
	Status         string         `json:"status"`
	StatusCategory StatusCategory `json:"status_category"`
	Resolution     string         `json:"resolution,omitempty"`
	Assignee       Assignee       `json:"assignee"`
	Updated        time.Time      `json:"updated"`
	Resolved       *time.Time     `json:"resolved,omitempty"`
	Labels         []string       `json:"labels,omitempty"`
	Groups         []string       `json:"groups,omitempty"`
	IsSecure       bool           `json:"is_secure"`
	URL            string         `json:"url"`
}

type Assignee struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// DisplayName prefers the human name and falls back to the address.
func (a Assignee) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Email != "" {
		return a.Email
	}
	return "nobody"
}

// RankTime is the timestamp used to order issues for highlights: the
// resolution time when known, else the last update.
func (i Issue) RankTime() time.Time {
	if i.Resolved != nil {
		return *i.Resolved
	}
	return i.Updated
}

// ChangeEntry is one history record of an issue, e.g. a status transition.
type ChangeEntry struct {
	When    time.Time `json:"when"`
	Who     string    `json:"who"`
	Changes []Change  `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}
