package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"basegraph.app/digest/common/logger"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/queue"
	"basegraph.app/digest/internal/render"
	"basegraph.app/digest/internal/restriction"
	"basegraph.app/digest/internal/service/issue_tracker"
)

const finalizeConcurrency = 4

// digestInput is everything finalize needs, whichever mode produced it.
type digestInput struct {
	sessionID string
	filter    model.Filter
	keys      []string
	removed   model.RemovedCounts
	omitted   []model.OmittedCandidate
}

func sessionInput(sess *model.Session) digestInput {
	return digestInput{
		sessionID: sess.ID,
		filter:    sess.Filter,
		keys:      sess.Qualified,
		removed:   sess.Removed,
		omitted:   sess.Omitted,
	}
}

// chunkResult is one detail fetch plus the change history of its public
// issues.
type chunkResult struct {
	issues     []model.Issue
	changelogs map[string][]model.ChangeEntry
}

func (s *digestService) finalize(ctx context.Context, tracker issue_tracker.Tracker, in digestInput) (*FinalizeResponse, error) {
	sc := logger.StartSpan(ctx, "digest.finalize", attribute.Int("keys", len(in.keys)))
	defer sc.End()
	ctx = sc.Context()

	chunks, err := s.fetchDetails(ctx, tracker, in)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	byKey := make(map[string]model.Issue, len(in.keys))
	changelogs := make(map[string][]model.ChangeEntry)
	for _, chunk := range chunks {
		for _, issue := range chunk.issues {
			byKey[issue.Key] = issue
		}
		for key, entries := range chunk.changelogs {
			changelogs[key] = entries
		}
	}

	// Details are re-checked: an issue may have been restricted since it was
	// enumerated, and explicit ids were never checked at all.
	removed := in.removed
	omitted := append([]model.OmittedCandidate(nil), in.omitted...)
	var qualified []model.Issue
	for _, key := range in.keys {
		issueCtx := logger.WithLogFields(ctx, logger.LogFields{IssueKey: logger.Ptr(key)})
		issue, ok := byKey[key]
		if !ok {
			removed.Invalid++
			slog.WarnContext(issueCtx, "qualified issue missing from detail fetch")
			continue
		}
		if category := restriction.Check(issue); category != model.RestrictionNone {
			slog.InfoContext(issueCtx, "issue restricted since enumeration", "category", category)
			removed.AddRestricted(category)
			omitted = append(omitted, model.OmittedCandidate{Key: key, Category: category, RankTime: issue.RankTime()})
			continue
		}
		if strings.TrimSpace(issue.Summary) == "" {
			removed.Invalid++
			continue
		}
		qualified = append(qualified, issue)
	}

	title := reportTitle(in.filter)
	var markdown string
	if len(qualified) == 0 {
		markdown = noChangesMarkdown(title, in.filter, removed, s.fallbackURL(tracker, in))
	} else {
		summary, err := s.summarizer.Summarize(ctx, SummaryRequest{
			Title:      title,
			Days:       in.filter.Days,
			Issues:     qualified,
			Changelogs: changelogs,
		})
		if err != nil {
			sc.RecordError(err)
			return nil, fmt.Errorf("summarizing %d issues: %w", len(qualified), err)
		}
		markdown = composeReport(reportInput{
			title:          title,
			days:           in.filter.Days,
			summary:        summary,
			issues:         qualified,
			omitted:        omitted,
			removed:        removed,
			highlightLimit: s.cfg.HighlightLimit,
		})
	}

	resp := &FinalizeResponse{
		Output:  markdown,
		HTML:    render.MarkdownToHTML(markdown),
		Count:   len(qualified),
		Removed: removed,
	}
	resp.ReportID = s.archive(ctx, in, resp)

	sc.SetAttributes(attribute.Int("qualified", len(qualified)), attribute.Int("removed", removed.Total()))
	slog.InfoContext(ctx, "finalize completed",
		"title", logger.Truncate(title, 120),
		"qualified", len(qualified),
		"removed_security", removed.Security,
		"removed_confidential", removed.Confidential,
		"removed_duplicates", removed.Duplicates,
		"removed_invalid", removed.Invalid)

	return resp, nil
}

// fetchDetails resolves keys in chunks of the adapter page size. Chunks run
// concurrently; each fetches its own change history once its details are in.
func (s *digestService) fetchDetails(ctx context.Context, tracker issue_tracker.Tracker, in digestInput) ([]chunkResult, error) {
	var since time.Time
	if in.filter.Days > 0 {
		since = s.now().UTC().AddDate(0, 0, -in.filter.Days)
	}

	chunks := make([]chunkResult, (len(in.keys)+issue_tracker.PageSize-1)/issue_tracker.PageSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(finalizeConcurrency)

	for i := range chunks {
		start := i * issue_tracker.PageSize
		ids := in.keys[start:min(start+issue_tracker.PageSize, len(in.keys))]
		g.Go(func() error {
			issues, err := issue_tracker.Search(gctx, tracker, tracker.IDQuery(ids))
			if err != nil {
				return fmt.Errorf("fetching details: %w", err)
			}

			var public []model.Issue
			for _, issue := range issues {
				if restriction.Check(issue) == model.RestrictionNone {
					public = append(public, issue)
				}
			}
			var changelogs map[string][]model.ChangeEntry
			if len(public) > 0 {
				changelogs, err = tracker.FetchChangelogs(gctx, public, issue_tracker.ChangelogOptions{Since: since})
				if err != nil {
					return fmt.Errorf("fetching change history: %w", err)
				}
			}

			chunks[i] = chunkResult{issues: issues, changelogs: changelogs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *digestService) fallbackURL(tracker issue_tracker.Tracker, in digestInput) string {
	if qs := s.queries(tracker, in.filter); len(qs) > 0 {
		return tracker.BrowseURL(qs[0])
	}
	if len(in.keys) > 0 {
		return tracker.BrowseURL(tracker.IDQuery(in.keys))
	}
	return tracker.BrowseURL(issue_tracker.Query{Days: in.filter.Days})
}

// archive stores and announces the report when those are configured. Both
// are best effort: the caller already has the report.
func (s *digestService) archive(ctx context.Context, in digestInput, resp *FinalizeResponse) *int64 {
	if s.reports == nil && s.publisher == nil {
		return nil
	}

	report := &model.Report{
		ID:        s.newID(),
		Backend:   s.tracker.Name(),
		Filter:    in.filter,
		Markdown:  resp.Output,
		HTML:      resp.HTML,
		Qualified: resp.Count,
		Removed:   resp.Removed,
	}
	if in.sessionID != "" {
		report.SessionID = &in.sessionID
	}

	var reportID *int64
	if s.reports != nil {
		if err := s.reports.Create(ctx, report); err != nil {
			slog.ErrorContext(ctx, "failed to archive report", "error", err, "report_id", report.ID)
			return nil
		}
		reportID = &report.ID
	}

	if s.publisher != nil {
		ev := queue.ReportEvent{
			ReportID:     report.ID,
			SessionID:    in.sessionID,
			Backend:      report.Backend,
			Title:        reportTitle(in.filter),
			Qualified:    report.Qualified,
			Security:     report.Removed.Security,
			Confidential: report.Removed.Confidential,
		}
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
			ev.TraceID = logger.Ptr(spanCtx.TraceID().String())
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			slog.WarnContext(ctx, "failed to publish report", "error", err, "report_id", report.ID)
		}
	}

	return reportID
}
