package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/digest/common/llm"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service/issue_tracker"
)

// Summary is the model's structured answer. Notes are keyed by issue key so
// a hallucinated key simply matches nothing.
type Summary struct {
	Overview   string          `json:"overview" jsonschema:"description=Two or three sentences describing what the resolved issues achieved as a whole"`
	Highlights []HighlightNote `json:"highlights" jsonschema:"description=One short note per notable issue"`
}

type HighlightNote struct {
	ID   string `json:"id" jsonschema:"description=The issue key exactly as given"`
	Note string `json:"note" jsonschema:"description=One sentence on why this change matters"`
}

type SummaryRequest struct {
	Title      string
	Days       int
	Issues     []model.Issue
	Changelogs map[string][]model.ChangeEntry
}

type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*Summary, error)
}

const summarizerSystemPrompt = `You write release digests for an open source project.
You receive resolved issues as JSON. Each has a key, summary, component, assignee and recent status changes.
Describe the work plainly for a technical audience. Do not invent issues, people or links.
Only use keys that appear in the input. Do not output HTML.`

type llmSummarizer struct {
	client llm.Client
}

func NewSummarizer(client llm.Client) Summarizer {
	return &llmSummarizer{client: client}
}

type promptIssue struct {
	Key       string   `json:"key"`
	Summary   string   `json:"summary"`
	Component string   `json:"component,omitempty"`
	Assignee  string   `json:"assignee"`
	Resolved  string   `json:"resolved,omitempty"`
	Changes   []string `json:"changes,omitempty"`
}

func (s *llmSummarizer) Summarize(ctx context.Context, req SummaryRequest) (*Summary, error) {
	issues := make([]promptIssue, 0, len(req.Issues))
	for _, issue := range req.Issues {
		p := promptIssue{
			Key:       issue.Key,
			Summary:   issue.Summary,
			Component: issue.Component,
			Assignee:  issue.Assignee.DisplayName(),
		}
		if issue.Resolved != nil {
			p.Resolved = issue.Resolved.Format(time.DateOnly)
		}
		for _, entry := range req.Changelogs[issue.Key] {
			for _, c := range entry.Changes {
				p.Changes = append(p.Changes, fmt.Sprintf("%s: %s -> %s", c.Field, c.From, c.To))
			}
		}
		issues = append(issues, p)
	}

	payload, err := json.Marshal(issues)
	if err != nil {
		return nil, fmt.Errorf("encoding issues: %w", err)
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Digest: %s\n", req.Title)
	if req.Days > 0 {
		fmt.Fprintf(&prompt, "Window: last %d days\n", req.Days)
	}
	prompt.WriteString("Issues:\n")
	prompt.Write(payload)

	var summary Summary
	resp, err := s.client.Chat(ctx, llm.Request{
		SystemPrompt: summarizerSystemPrompt,
		UserPrompt:   prompt.String(),
		SchemaName:   "digest_summary",
		Schema:       llm.GenerateSchema[Summary](),
		Temperature:  llm.Temp(0.2),
	}, &summary)
	if err != nil {
		return nil, &issue_tracker.BackendError{Backend: "summarizer", Op: "summarize", Err: err}
	}

	slog.InfoContext(ctx, "summary generated",
		"model", s.client.Model(),
		"issues", len(req.Issues),
		"highlights", len(summary.Highlights),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	return &summary, nil
}
