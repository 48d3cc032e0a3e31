package service

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"basegraph.app/digest/internal/model"
)

type reportInput struct {
	title          string
	days           int
	summary        *Summary
	issues         []model.Issue
	omitted        []model.OmittedCandidate
	removed        model.RemovedCounts
	highlightLimit int
}

// highlight is one slot of the top-N list. Omitted slots keep only their
// category so nothing about a restricted issue reaches the report.
type highlight struct {
	issue    *model.Issue
	category model.RestrictionCategory
	rank     time.Time
	key      string
}

func reportTitle(f model.Filter) string {
	if len(f.Criteria()) == 0 {
		return "selected issues"
	}
	return f.Title()
}

func composeReport(in reportInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Resolved issues: %s\n\n", in.title)
	if in.days > 0 {
		fmt.Fprintf(&b, "Issues resolved in the last %d days.\n\n", in.days)
	}
	if overview := strings.TrimSpace(in.summary.Overview); overview != "" {
		b.WriteString(overview)
		b.WriteString("\n\n")
	}

	notes := make(map[string]string, len(in.summary.Highlights))
	for _, h := range in.summary.Highlights {
		notes[strings.TrimSpace(h.ID)] = strings.TrimSpace(h.Note)
	}

	b.WriteString("## Highlights\n\n")
	for _, h := range topHighlights(in.issues, in.omitted, in.highlightLimit) {
		if h.issue == nil {
			fmt.Fprintf(&b, "- _candidate omitted (restricted: %s)_\n", h.category)
			continue
		}
		line := issueLink(*h.issue) + ": " + oneLine(h.issue.Summary)
		if note := notes[h.issue.Key]; note != "" {
			line += ". " + oneLine(note)
		}
		b.WriteString("- " + line + "\n")
	}

	fmt.Fprintf(&b, "\n## Resolved issues (%d)\n\n", len(in.issues))
	for _, issue := range in.issues {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", issueLink(issue), oneLine(issue.Summary), oneLine(issue.Assignee.DisplayName()))
	}

	b.WriteString("\n")
	b.WriteString(removedLine(in.removed))
	b.WriteString("\n")
	return b.String()
}

// noChangesMarkdown is never empty: it says so and links to the search.
func noChangesMarkdown(title string, f model.Filter, removed model.RemovedCounts, fallbackURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Resolved issues: %s\n\n", title)
	if f.Days > 0 {
		fmt.Fprintf(&b, "No changes detected in the last %d days.\n\n", f.Days)
	} else {
		b.WriteString("No changes detected.\n\n")
	}
	fmt.Fprintf(&b, "[Open the search in the tracker](%s)\n\n", fallbackURL)
	b.WriteString(removedLine(removed))
	b.WriteString("\n")
	return b.String()
}

// topHighlights ranks qualified and omitted issues together by resolution
// time, newest first, and keeps the first limit.
func topHighlights(issues []model.Issue, omitted []model.OmittedCandidate, limit int) []highlight {
	all := make([]highlight, 0, len(issues)+len(omitted))
	for i := range issues {
		all = append(all, highlight{issue: &issues[i], rank: issues[i].RankTime(), key: issues[i].Key})
	}
	for _, o := range omitted {
		all = append(all, highlight{category: o.Category, rank: o.RankTime, key: o.Key})
	}

	slices.SortStableFunc(all, func(a, b highlight) int {
		if c := b.rank.Compare(a.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func removedLine(r model.RemovedCounts) string {
	return fmt.Sprintf("_Removed: %d security, %d confidential, %d duplicates, %d invalid._",
		r.Security, r.Confidential, r.Duplicates, r.Invalid)
}

func issueLink(issue model.Issue) string {
	label := strings.NewReplacer("[", "", "]", "").Replace(issue.Key)
	if issue.URL == "" {
		return label
	}
	return fmt.Sprintf("[%s](%s)", label, issue.URL)
}

// oneLine keeps backend text from starting new Markdown blocks.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
