package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basegraph.app/digest/common/id"
	"basegraph.app/digest/common/logger"
	"basegraph.app/digest/core/config"
	"basegraph.app/digest/core/db"
	"basegraph.app/digest/internal/http/dto"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/render"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/streamclient"
)

const (
	formatMarkdown = "md"
	formatText     = "text"
	formatHTML     = "html"
)

func addDigestFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.StringArray("component", nil, "PRODUCT:COMPONENT to include (repeatable)")
	flags.StringArray("whiteboard", nil, "whiteboard tag to include (repeatable)")
	flags.StringArray("project", nil, "whole project to include (repeatable)")
	flags.Int("days", 7, "look back this many days")
	flags.String("format", formatMarkdown, "output format: md, text or html")
	flags.String("server", "", "run on a remote digest server (e.g. http://localhost:8080)")
	flags.Bool("skip-cache", false, "bypass the search cache")

	for _, name := range []string{"days", "format", "server", "skip-cache"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

func runDigest(cmd *cobra.Command, v *viper.Viper, opts Options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	filter, err := filterFromFlags(cmd, v)
	if err != nil {
		return err
	}

	format := strings.ToLower(v.GetString("format"))
	switch format {
	case formatMarkdown, formatText, formatHTML:
	default:
		return fmt.Errorf("unsupported --format %q (want md, text or html)", format)
	}

	progress := streamclient.NewProgressLog(opts.Stderr)
	skipCache := v.GetBool("skip-cache")

	var done *service.StreamEvent
	if server := v.GetString("server"); server != "" {
		done, err = streamclient.NewClient(server, opts.HTTPClient).Stream(ctx, digestRequest(filter, skipCache), progress.Observe)
	} else {
		done, err = runLocal(ctx, opts.NewService, service.DiscoverRequest{Filter: filter, SkipCache: skipCache}, progress.Observe)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(opts.Stdout, formatReport(done, format))
	return err
}

func runLocal(ctx context.Context, newService ServiceFactory, req service.DiscoverRequest, observe func(service.StreamEvent) error) (*service.StreamEvent, error) {
	svc, cleanup, err := newService(ctx)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	events, err := svc.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return streamclient.Drain(ctx, events, observe)
}

// filterFromFlags merges flags with the config file. Repeatable flags given on
// the command line replace the file's lists rather than extending them.
func filterFromFlags(cmd *cobra.Command, v *viper.Viper) (model.Filter, error) {
	filter := model.Filter{
		Whiteboards: stringList(cmd, v, "whiteboard"),
		Projects:    stringList(cmd, v, "project"),
		Days:        v.GetInt("days"),
	}
	for _, raw := range stringList(cmd, v, "component") {
		ref, err := model.ParseComponentRef(raw)
		if err != nil {
			return model.Filter{}, fmt.Errorf("Bad --component %q: %w", raw, err)
		}
		filter.Components = append(filter.Components, ref)
	}
	return filter, nil
}

func stringList(cmd *cobra.Command, v *viper.Viper, name string) []string {
	if cmd.Flags().Changed(name) {
		values, _ := cmd.Flags().GetStringArray(name)
		return values
	}
	return v.GetStringSlice(name)
}

func digestRequest(filter model.Filter, skipCache bool) dto.DigestRequest {
	req := dto.DigestRequest{
		Whiteboards: filter.Whiteboards,
		Projects:    filter.Projects,
		Days:        filter.Days,
		SkipCache:   skipCache,
	}
	for _, c := range filter.Components {
		req.Components = append(req.Components, dto.ComponentRequest{Product: c.Product, Component: c.Component})
	}
	return req
}

func formatReport(done *service.StreamEvent, format string) string {
	switch format {
	case formatText:
		return render.MarkdownToText(done.Output)
	case formatHTML:
		if done.HTML != "" {
			return done.HTML
		}
		return render.MarkdownToHTML(done.Output)
	default:
		if strings.HasSuffix(done.Output, "\n") {
			return done.Output
		}
		return done.Output + "\n"
	}
}

// localService wires the service the way the server does, from the
// environment. Redis and Postgres stay optional. Logs go to stderr.
func localService(stderr io.Writer) ServiceFactory {
	return func(ctx context.Context) (service.DigestService, func(), error) {
		cfg, err := config.Load(config.ServiceTypeCLI)
		if err != nil {
			return nil, nil, err
		}
		logger.SetupWriter(cfg, stderr)
		return connect(ctx, cfg)
	}
}

func connect(ctx context.Context, cfg config.Config) (service.DigestService, func(), error) {
	if err := id.Init(1); err != nil {
		return nil, nil, fmt.Errorf("initializing id generator: %w", err)
	}

	var infra service.Infra
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = client.Close() })
		infra.Redis = client
	}

	if cfg.DB.Enabled() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		closers = append(closers, database.Close)
		infra.Pool = database.Pool()
	}

	svc, err := service.NewFromConfig(cfg, infra)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
