package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basegraph.app/digest/internal/queue"
)

func newWatchCmd(v *viper.Viper, opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow finalized reports as servers archive them",
		Long: `watch joins a consumer group on the report stream and prints one line
per finalized report until interrupted.

Example:
  digest watch --redis-url redis://localhost:6379 --stream digest_reports`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, v, opts)
		},
	}

	hostname, _ := os.Hostname()
	flags := cmd.Flags()
	flags.String("redis-url", os.Getenv("REDIS_URL"), "Redis carrying the report stream")
	flags.String("stream", envOr("REPORT_STREAM", "digest_reports"), "report stream name")
	flags.String("group", "digest-watch", "consumer group")
	flags.String("consumer", envOr("HOSTNAME", hostname), "consumer name within the group")
	flags.Duration("block", 5*time.Second, "how long one read waits for new reports")
	flags.Duration("reclaim-idle", time.Minute, "take over reports another follower left unacknowledged this long")

	for _, name := range []string{"redis-url", "stream", "group", "consumer", "block", "reclaim-idle"} {
		_ = v.BindPFlag("watch."+name, flags.Lookup(name))
	}
	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper, opts Options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	url := v.GetString("watch.redis-url")
	if url == "" {
		return errors.New("--redis-url (or REDIS_URL) is required")
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	defer client.Close()

	consumer, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
		Stream:    v.GetString("watch.stream"),
		Group:     v.GetString("watch.group"),
		Consumer:  v.GetString("watch.consumer"),
		BatchSize: 10,
		Block:     v.GetDuration("watch.block"),
	})
	if err != nil {
		return err
	}
	return watch(ctx, consumer, v.GetDuration("watch.reclaim-idle"), opts.Stdout)
}

// watch prints and acknowledges reports until ctx ends. Stale reports of
// other followers are taken over first. A canceled context is a normal exit.
func watch(ctx context.Context, consumer *queue.RedisConsumer, reclaimIdle time.Duration, w io.Writer) error {
	reclaimed, err := consumer.Reclaim(ctx, reclaimIdle)
	if err != nil {
		return err
	}
	if err := printReports(ctx, consumer, reclaimed, w); err != nil {
		return err
	}

	for ctx.Err() == nil {
		messages, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := printReports(ctx, consumer, messages, w); err != nil {
			return err
		}
	}
	return nil
}

func printReports(ctx context.Context, consumer *queue.RedisConsumer, messages []queue.Message, w io.Writer) error {
	for _, msg := range messages {
		if _, err := fmt.Fprintln(w, reportLine(msg.Event)); err != nil {
			return err
		}
		if err := consumer.Ack(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func reportLine(ev queue.ReportEvent) string {
	line := fmt.Sprintf("report %d [%s] %s: %d qualified, %d security and %d confidential removed",
		ev.ReportID, ev.Backend, ev.Title, ev.Qualified, ev.Security, ev.Confidential)
	if ev.TraceID != nil {
		line += " trace=" + *ev.TraceID
	}
	return line
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
