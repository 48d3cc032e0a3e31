package service

import (
	"context"
	"fmt"
	"strings"

	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/restriction"
	"basegraph.app/digest/internal/service/issue_tracker"
)

type outcome int

const (
	outcomeQualified outcome = iota
	outcomeDuplicate
	outcomeRestricted
	outcomeInvalid
)

// evaluation is the verdict on one candidate, in the order pages return them.
type evaluation struct {
	issue    model.Issue
	outcome  outcome
	category model.RestrictionCategory
	err      *ValidationError
}

// evaluator applies dedup, the restriction filter and validation, and keeps
// the removed counters. Phased, oneshot and stream enumeration all go
// through it.
type evaluator struct {
	seen    map[string]struct{}
	added   []string
	removed model.RemovedCounts
}

func newEvaluator(seen []string) *evaluator {
	ev := &evaluator{seen: make(map[string]struct{}, len(seen))}
	for _, key := range seen {
		ev.seen[key] = struct{}{}
	}
	return ev
}

func (ev *evaluator) evaluate(issue model.Issue) evaluation {
	key := strings.TrimSpace(issue.Key)
	if key == "" {
		ev.removed.Invalid++
		return evaluation{issue: issue, outcome: outcomeInvalid, err: &ValidationError{Reason: "missing identifier"}}
	}
	if _, ok := ev.seen[key]; ok {
		ev.removed.Duplicates++
		return evaluation{issue: issue, outcome: outcomeDuplicate}
	}
	ev.seen[key] = struct{}{}
	ev.added = append(ev.added, key)

	if category := restriction.Check(issue); category != model.RestrictionNone {
		ev.removed.AddRestricted(category)
		return evaluation{issue: issue, outcome: outcomeRestricted, category: category}
	}
	if strings.TrimSpace(issue.Summary) == "" {
		ev.removed.Invalid++
		return evaluation{issue: issue, outcome: outcomeInvalid, err: &ValidationError{Key: key, Reason: "missing summary"}}
	}
	return evaluation{issue: issue, outcome: outcomeQualified}
}

// step fetches one backend page at the session position, evaluates it and
// advances the session in place. emit, when set, sees every evaluation in
// order. The caller persists the session.
func (s *digestService) step(ctx context.Context, tracker issue_tracker.Tracker, sess *model.Session, pageSize int, emit func(evaluation) error) ([]string, error) {
	if pageSize <= 0 || pageSize > issue_tracker.PageSize {
		pageSize = s.cfg.PageSize
	}

	queries := s.queries(tracker, sess.Filter)
	if len(queries) != len(sess.QueryTotals) {
		return nil, protocolErrorf(ProtocolBadCursor, "session %s does not match its filter", sess.ID)
	}

	skipConsumed(sess)
	if sess.Exhausted {
		sess.Seq++
		return nil, nil
	}

	pos := sess.Position
	page, err := tracker.SearchPage(ctx, queries[pos.Query], pos.Offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("searching %s at offset %d: %w", sess.Filter.Criteria()[pos.Query], pos.Offset, err)
	}

	ev := newEvaluator(sess.Seen)
	qualified := make([]string, 0, len(page.Issues))
	for _, issue := range page.Issues {
		e := ev.evaluate(issue)
		switch e.outcome {
		case outcomeQualified:
			qualified = append(qualified, issue.Key)
		case outcomeRestricted:
			sess.Omitted = append(sess.Omitted, model.OmittedCandidate{
				Key:      issue.Key,
				Category: e.category,
				RankTime: issue.RankTime(),
			})
		}
		if emit != nil {
			if err := emit(e); err != nil {
				return nil, err
			}
		}
	}

	sess.Seen = append(sess.Seen, ev.added...)
	sess.Qualified = append(sess.Qualified, qualified...)
	sess.Removed.Merge(ev.removed)

	// Backends drift between requests, and page-numbered backends return
	// short pages for unaligned offsets. Only an empty page ends a query
	// early; otherwise the latest reported total wins.
	sess.Position.Offset += len(page.Issues)
	if len(page.Issues) == 0 {
		sess.QueryTotals[pos.Query] = sess.Position.Offset
	} else {
		sess.QueryTotals[pos.Query] = max(page.Total, sess.Position.Offset)
	}

	skipConsumed(sess)
	sess.Seq++
	return qualified, nil
}

// skipConsumed moves the position past every query whose results are fully
// read, marking the session exhausted after the last one.
func skipConsumed(sess *model.Session) {
	for sess.Position.Query < len(sess.QueryTotals) &&
		sess.Position.Offset >= sess.QueryTotals[sess.Position.Query] {
		sess.Position = model.Position{Query: sess.Position.Query + 1}
	}
	sess.Exhausted = sess.Position.Query >= len(sess.QueryTotals)
}
