package issue_tracker

import (
	"fmt"
	"net/http"

	"basegraph.app/digest/core/config"
)

// New builds the tracker cfg.Backend selects.
func New(cfg config.TrackerConfig, httpClient *http.Client) (Tracker, error) {
	switch cfg.Backend {
	case config.BackendBugzilla:
		return NewBugzillaTracker(cfg.Bugzilla, httpClient)
	case config.BackendJira:
		return NewJiraTracker(cfg.Jira, httpClient)
	case config.BackendGitLab:
		return NewGitLabTracker(cfg.GitLab, httpClient)
	default:
		return nil, fmt.Errorf("unknown tracker backend %q", cfg.Backend)
	}
}
