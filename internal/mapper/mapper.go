package mapper

import (
	"basegraph.app/digest/internal/model"
)

// IssueMapper translates one backend-native issue into the canonical shape.
// T is the decoded backend payload.
type IssueMapper[T any] interface {
	Map(native T) model.Issue
}

// MapAll applies m to every element, preserving order.
func MapAll[T any](m IssueMapper[T], natives []T) []model.Issue {
	issues := make([]model.Issue, 0, len(natives))
	for _, n := range natives {
		issues = append(issues, m.Map(n))
	}
	return issues
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
