package service

import (
	"context"
	"errors"
	"log/slog"

	"basegraph.app/digest/common/logger"
	"basegraph.app/digest/internal/model"
)

// streamBuffer bounds how far evaluation may run ahead of delivery.
const streamBuffer = 16

type StreamEventType string

const (
	EventValid   StreamEventType = "valid"
	EventInvalid StreamEventType = "invalid"
	EventDone    StreamEventType = "done"
	EventError   StreamEventType = "error"
)

// StreamEvent is one line of a stream response. Summaries travel only on
// valid events.
type StreamEvent struct {
	Type     StreamEventType      `json:"type"`
	ID       string               `json:"id,omitempty"`
	Summary  string               `json:"summary,omitempty"`
	Assignee string               `json:"assignee,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Output   string               `json:"output,omitempty"`
	HTML     string               `json:"html,omitempty"`
	Removed  *model.RemovedCounts `json:"removed,omitempty"`
	Total    *int                 `json:"total,omitempty"`
	ReportID *int64               `json:"report_id,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Terminal reports whether no event follows this one.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func (s *digestService) Stream(ctx context.Context, req DiscoverRequest) (<-chan StreamEvent, error) {
	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(events)
		s.runStream(ctx, req, events)
	}()
	return events, nil
}

func (s *digestService) runStream(parent context.Context, req DiscoverRequest, events chan<- StreamEvent) {
	ctx, cancel := s.withBudget(parent)
	defer cancel()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Mode:      logger.Ptr("stream"),
		Backend:   logger.Ptr(s.tracker.Name()),
		Component: "digest.service.stream",
	})
	sc := logger.StartSpan(ctx, "digest.stream")
	defer sc.End()
	ctx = sc.Context()

	send := func(ev StreamEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fail := func(err error) {
		sc.RecordError(err)
		if parent.Err() != nil {
			slog.InfoContext(ctx, "stream consumer went away", "error", err)
			return
		}
		slog.ErrorContext(ctx, "stream failed", "error", err)
		// The budget may be spent; the consumer is still listening on parent.
		select {
		case events <- StreamEvent{Type: EventError, Error: err.Error()}:
		case <-parent.Done():
		}
	}

	tracker := s.trackerFor(req.SkipCache)
	sess, _, err := s.open(ctx, tracker, req.Filter)
	if err != nil {
		fail(err)
		return
	}

	emit := func(e evaluation) error {
		return send(streamEventFor(e))
	}
	for !sess.Exhausted {
		if _, err := s.step(ctx, tracker, sess, s.cfg.PageSize, emit); err != nil {
			fail(err)
			return
		}
	}

	in := sessionInput(sess)
	in.sessionID = ""
	resp, err := s.finalize(ctx, tracker, in)
	if err != nil {
		fail(err)
		return
	}

	total := resp.Count
	if err := send(StreamEvent{
		Type:     EventDone,
		Output:   resp.Output,
		HTML:     resp.HTML,
		Removed:  &resp.Removed,
		Total:    &total,
		ReportID: resp.ReportID,
	}); err != nil && !errors.Is(err, context.Canceled) {
		fail(err)
	}
}

func streamEventFor(e evaluation) StreamEvent {
	switch e.outcome {
	case outcomeQualified:
		return StreamEvent{
			Type:     EventValid,
			ID:       e.issue.Key,
			Summary:  e.issue.Summary,
			Assignee: e.issue.Assignee.DisplayName(),
		}
	case outcomeDuplicate:
		return StreamEvent{Type: EventInvalid, ID: e.issue.Key, Summary: e.issue.Summary, Reason: "duplicate"}
	case outcomeRestricted:
		// The summary of a restricted issue is itself restricted.
		return StreamEvent{Type: EventInvalid, ID: e.issue.Key, Reason: "restricted: " + string(e.category)}
	default:
		reason := "invalid"
		if e.err != nil {
			reason = e.err.Reason
		}
		return StreamEvent{Type: EventInvalid, ID: e.issue.Key, Summary: e.issue.Summary, Reason: reason}
	}
}
