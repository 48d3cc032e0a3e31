package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"basegraph.app/digest/common/llm"
	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/queue"
	"basegraph.app/digest/internal/service/issue_tracker"
	"basegraph.app/digest/internal/store"
)

const backendTimeout = 30 * time.Second

// Infra is the optional infrastructure a process has connected. Nil fields
// switch the matching feature off: no Redis means in-memory sessions and no
// search cache, no pool means no report archive.
type Infra struct {
	Redis *redis.Client
	Pool  *pgxpool.Pool
}

// NewFromConfig builds a DigestService for cfg. Construction fails fast when
// the selected backend or the summarizer lacks credentials.
func NewFromConfig(cfg config.Config, infra Infra) (DigestService, error) {
	tracker, err := issue_tracker.New(cfg.Tracker, issue_tracker.NewHTTPClient(backendTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}

	client, err := llm.New(llm.Config{
		Provider:  cfg.Summarizer.Provider,
		APIKey:    cfg.Summarizer.APIKey,
		BaseURL:   cfg.Summarizer.BaseURL,
		Model:     cfg.Summarizer.Model,
		MaxTokens: cfg.Summarizer.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating summarizer: %w", err)
	}

	deps := DigestDeps{
		Tracker:    tracker,
		Summarizer: NewSummarizer(client),
		Config:     cfg.Digest,
	}

	if infra.Redis != nil {
		deps.Cache = infra.Redis
		deps.CacheTTL = cfg.Redis.CacheTTL
		deps.Sessions = store.NewRedisSessionStore(infra.Redis, cfg.Redis.SessionTTL)
		if cfg.Redis.ReportStream != "" {
			deps.Publisher = queue.NewRedisPublisher(infra.Redis, cfg.Redis.ReportStream, slog.Default())
		}
	} else {
		deps.Sessions = store.NewMemorySessionStore(cfg.Redis.SessionTTL)
	}

	if infra.Pool != nil {
		deps.Reports = store.NewReportStore(infra.Pool)
	}

	slog.Info("digest service configured",
		"backend", tracker.Name(),
		"summarizer", cfg.Summarizer.Provider,
		"redis", infra.Redis != nil,
		"archive", infra.Pool != nil)

	return NewDigestService(deps), nil
}
