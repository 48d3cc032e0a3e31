package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/digest/common/id"
	"basegraph.app/digest/common/logger"
	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/queue"
	"basegraph.app/digest/internal/service/issue_tracker"
	"basegraph.app/digest/internal/store"
)

type DiscoverRequest struct {
	Filter    model.Filter
	SkipCache bool
}

// Candidate is the minimal reference discover surfaces for a public issue.
type Candidate struct {
	ID             string
	LastChangeTime time.Time
	Product        string
	Component      string
}

type DiscoverResponse struct {
	SessionID  string
	Cursor     string // empty when there is nothing to enumerate
	Total      int
	Candidates []Candidate
	Removed    model.RemovedCounts
}

type PageRequest struct {
	Cursor    string
	PageSize  int
	SkipCache bool
}

type PageResponse struct {
	QualifiedIDs []string
	NextCursor   string // empty iff the enumeration is exhausted
	Total        int
	Removed      model.RemovedCounts
}

// FinalizeRequest names either an exhausted session or an explicit id set.
// Days bounds the change history fetched for explicit ids.
type FinalizeRequest struct {
	SessionID string
	IDs       []string
	Days      int
	SkipCache bool
}

type FinalizeResponse struct {
	Output   string
	HTML     string
	Count    int
	Removed  model.RemovedCounts
	ReportID *int64
}

type DigestService interface {
	Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResponse, error)
	Page(ctx context.Context, req PageRequest) (*PageResponse, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResponse, error)
	Oneshot(ctx context.Context, req DiscoverRequest) (*FinalizeResponse, error)
	// Stream validates req synchronously, then evaluates in the background.
	// The channel ends with exactly one done or error event.
	Stream(ctx context.Context, req DiscoverRequest) (<-chan StreamEvent, error)
}

// DigestDeps wires a DigestService. Reports and Publisher are optional.
type DigestDeps struct {
	Tracker    issue_tracker.Tracker
	Cache      *redis.Client
	CacheTTL   time.Duration
	Sessions   store.SessionStore
	Reports    store.ReportStore
	Publisher  queue.Publisher
	Summarizer Summarizer
	Config     config.DigestConfig
	Now        func() time.Time
	NewID      func() int64
}

type digestService struct {
	tracker    issue_tracker.Tracker
	cache      *redis.Client
	cacheTTL   time.Duration
	sessions   store.SessionStore
	reports    store.ReportStore
	publisher  queue.Publisher
	summarizer Summarizer
	cfg        config.DigestConfig
	now        func() time.Time
	newID      func() int64
}

func NewDigestService(deps DigestDeps) DigestService {
	cfg := deps.Config
	if cfg.PageSize <= 0 || cfg.PageSize > issue_tracker.PageSize {
		cfg.PageSize = issue_tracker.PageSize
	}
	if cfg.HighlightLimit <= 0 {
		cfg.HighlightLimit = 5
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = id.New
	}
	return &digestService{
		tracker:    deps.Tracker,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		sessions:   deps.Sessions,
		reports:    deps.Reports,
		publisher:  deps.Publisher,
		summarizer: deps.Summarizer,
		cfg:        cfg,
		now:        now,
		newID:      newID,
	}
}

func (s *digestService) Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResponse, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Mode:      logger.Ptr("discover"),
		Backend:   logger.Ptr(s.tracker.Name()),
		Component: "digest.service.discover",
	})
	sc := logger.StartSpan(ctx, "digest.discover")
	defer sc.End()
	ctx = sc.Context()

	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}

	tracker := s.trackerFor(req.SkipCache)
	sess, batches, err := s.open(ctx, tracker, req.Filter)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	// The first batch is evaluated on a scratch tally; pages evaluate the same
	// issues again and own the session's counters.
	ev := newEvaluator(nil)
	var candidates []Candidate
	for _, batch := range batches {
		for _, issue := range batch {
			if e := ev.evaluate(issue); e.outcome == outcomeQualified {
				candidates = append(candidates, Candidate{
					ID:             issue.Key,
					LastChangeTime: issue.Updated,
					Product:        issue.Project,
					Component:      issue.Component,
				})
			}
		}
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("creating session: %w", err)
	}

	resp := &DiscoverResponse{
		SessionID:  sess.ID,
		Total:      max(sess.BackendTotal()-ev.removed.Total(), 0),
		Candidates: candidates,
		Removed:    ev.removed,
	}
	if !sess.Exhausted {
		resp.Cursor = encodeCursor(sess.ID, sess.Seq)
	}

	sc.SetAttributes(
		attribute.String("session_id", sess.ID),
		attribute.Int("backend_total", sess.BackendTotal()),
		attribute.Int("candidates", len(candidates)),
	)
	slog.InfoContext(ctx, "discover completed",
		"session_id", sess.ID,
		"criteria", len(sess.QueryTotals),
		"backend_total", sess.BackendTotal(),
		"candidates", len(candidates),
		"removed", ev.removed.Total())

	return resp, nil
}

func (s *digestService) Page(ctx context.Context, req PageRequest) (*PageResponse, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	sessionID, seq, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID),
		Mode:      logger.Ptr("page"),
		Backend:   logger.Ptr(s.tracker.Name()),
		Component: "digest.service.page",
	})
	sc := logger.StartSpan(ctx, "digest.page", attribute.String("session_id", sessionID))
	defer sc.End()
	ctx = sc.Context()

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Seq != seq || sess.Exhausted {
		return nil, protocolErrorf(ProtocolStaleCursor, "cursor is stale: session %s is at step %d", sessionID, sess.Seq)
	}

	qualified, err := s.step(ctx, s.trackerFor(req.SkipCache), sess, req.PageSize, nil)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	if err := s.sessions.Advance(ctx, sess, seq); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, protocolErrorf(ProtocolStaleCursor, "cursor is stale: session %s advanced concurrently", sessionID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocolErrorf(ProtocolBadCursor, "cursor does not name a live enumeration")
		}
		return nil, fmt.Errorf("saving session: %w", err)
	}

	resp := &PageResponse{
		QualifiedIDs: qualified,
		Total:        sess.Total(),
		Removed:      sess.Removed,
	}
	if !sess.Exhausted {
		resp.NextCursor = encodeCursor(sess.ID, sess.Seq)
	}

	sc.SetAttributes(attribute.Int("qualified", len(qualified)), attribute.Bool("exhausted", sess.Exhausted))
	slog.InfoContext(ctx, "page completed",
		"seq", sess.Seq,
		"qualified", len(qualified),
		"total", resp.Total,
		"exhausted", sess.Exhausted)

	return resp, nil
}

func (s *digestService) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResponse, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Mode:      logger.Ptr("finalize"),
		Backend:   logger.Ptr(s.tracker.Name()),
		Component: "digest.service.finalize",
	})

	var in digestInput
	switch {
	case req.SessionID != "":
		ctx = logger.WithLogFields(ctx, logger.LogFields{SessionID: logger.Ptr(req.SessionID)})
		sess, err := s.loadSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if !sess.Exhausted {
			return nil, protocolErrorf(ProtocolUnfinished, "session %s is not exhausted; page until no cursor is returned", sess.ID)
		}
		in = sessionInput(sess)
	default:
		keys, duplicates := dedupeKeys(req.IDs)
		in = digestInput{
			filter:  model.Filter{Days: req.Days},
			keys:    keys,
			removed: model.RemovedCounts{Duplicates: duplicates},
		}
	}

	return s.finalize(ctx, s.trackerFor(req.SkipCache), in)
}

func (s *digestService) Oneshot(ctx context.Context, req DiscoverRequest) (*FinalizeResponse, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Mode:      logger.Ptr("oneshot"),
		Backend:   logger.Ptr(s.tracker.Name()),
		Component: "digest.service.oneshot",
	})
	sc := logger.StartSpan(ctx, "digest.oneshot")
	defer sc.End()
	ctx = sc.Context()

	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}

	tracker := s.trackerFor(req.SkipCache)
	sess, _, err := s.open(ctx, tracker, req.Filter)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	if limit := s.cfg.OneshotMaxTotal; limit > 0 && sess.BackendTotal() > limit {
		return nil, protocolErrorf(ProtocolTooLarge,
			"%d candidates exceed the oneshot limit of %d; use discover and page", sess.BackendTotal(), limit)
	}

	for !sess.Exhausted {
		if _, err := s.step(ctx, tracker, sess, s.cfg.PageSize, nil); err != nil {
			sc.RecordError(err)
			return nil, err
		}
	}

	in := sessionInput(sess)
	in.sessionID = ""
	return s.finalize(ctx, tracker, in)
}

// open builds one query per criterion, fetches each query's first page and
// returns an unsaved session positioned at the start.
func (s *digestService) open(ctx context.Context, tracker issue_tracker.Tracker, filter model.Filter) (*model.Session, [][]model.Issue, error) {
	queries := s.queries(tracker, filter)
	sess := &model.Session{
		ID:          uuid.NewString(),
		Backend:     tracker.Name(),
		Filter:      filter,
		QueryTotals: make([]int, len(queries)),
		CreatedAt:   s.now().UTC(),
	}

	batches := make([][]model.Issue, len(queries))
	for i, q := range queries {
		page, err := tracker.SearchPage(ctx, q, 0, s.cfg.PageSize)
		if err != nil {
			return nil, nil, fmt.Errorf("searching %s: %w", filter.Criteria()[i], err)
		}
		sess.QueryTotals[i] = max(page.Total, len(page.Issues))
		batches[i] = page.Issues
	}

	sess.Exhausted = sess.BackendTotal() == 0
	return sess, batches, nil
}

func (s *digestService) queries(tracker issue_tracker.Tracker, filter model.Filter) []issue_tracker.Query {
	criteria := filter.Criteria()
	queries := make([]issue_tracker.Query, 0, len(criteria))
	for _, c := range criteria {
		if c.Component == "" && c.Whiteboard == "" {
			queries = append(queries, tracker.BuildProjectQuery(c.Product, filter.Days))
			continue
		}
		queries = append(queries, tracker.BuildQuery(c, filter.Days))
	}
	return queries
}

func (s *digestService) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocolErrorf(ProtocolBadCursor, "session %s does not name a live enumeration", sessionID)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Backend != s.tracker.Name() {
		return nil, protocolErrorf(ProtocolBadCursor, "session %s belongs to backend %s", sessionID, sess.Backend)
	}
	return sess, nil
}

// trackerFor wraps the base tracker with the search cache for one request.
// Skipping the cache is a per-request choice and never leaks to others.
func (s *digestService) trackerFor(skipCache bool) issue_tracker.Tracker {
	return issue_tracker.NewCachedTracker(s.tracker, s.cache, issue_tracker.CacheOptions{
		TTL:       s.cacheTTL,
		SkipCache: skipCache,
	})
}

func (s *digestService) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Budget)
}

func validateFilter(f model.Filter) error {
	for _, c := range f.Components {
		if strings.TrimSpace(c.Product) == "" || strings.TrimSpace(c.Component) == "" {
			return protocolErrorf(ProtocolInvalidFilter, "component %q needs both a product and a component", c.String())
		}
	}
	if len(f.Criteria()) == 0 {
		return protocolErrorf(ProtocolInvalidFilter, "filter needs at least one component, whiteboard or project")
	}
	if f.Days < 1 {
		return protocolErrorf(ProtocolInvalidFilter, "days must be at least 1, got %d", f.Days)
	}
	return nil
}

// dedupeKeys keeps the first occurrence of every non-empty key and counts
// the repeats.
func dedupeKeys(ids []string) ([]string, int) {
	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	duplicates := 0
	for _, key := range ids {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, duplicates
}
