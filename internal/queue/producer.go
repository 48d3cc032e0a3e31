package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ReportEvent announces a finalized digest to whoever follows the report
// stream. It carries identifiers and counts, never report text.
type ReportEvent struct {
	ReportID     int64
	SessionID    string
	Backend      string
	Title        string
	Qualified    int
	Security     int
	Confidential int
	TraceID      *string
}

type Publisher interface {
	Publish(ctx context.Context, ev ReportEvent) error
	Close() error
}

type redisPublisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, stream string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisPublisher) Publish(ctx context.Context, ev ReportEvent) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: eventValues(ev),
	}).Err(); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	p.logger.InfoContext(ctx, "published report", "report_id", ev.ReportID, "backend", ev.Backend, "qualified", ev.Qualified)
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

func eventValues(ev ReportEvent) map[string]any {
	values := map[string]any{
		"report_id":    ev.ReportID,
		"backend":      ev.Backend,
		"title":        ev.Title,
		"qualified":    ev.Qualified,
		"security":     ev.Security,
		"confidential": ev.Confidential,
	}
	if ev.SessionID != "" {
		values["session_id"] = ev.SessionID
	}
	if ev.TraceID != nil && *ev.TraceID != "" {
		values["trace_id"] = *ev.TraceID
	}
	return values
}
