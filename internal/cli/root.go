// Package cli implements the digest command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basegraph.app/digest/internal/service"
)

// ServiceFactory builds the digest service for a local run. The returned
// cleanup releases whatever infrastructure the service holds.
type ServiceFactory func(ctx context.Context) (service.DigestService, func(), error)

// Options are the process seams of the command tree. Zero values fall back to
// the real process: os.Stdout, os.Stderr, a service built from the
// environment and http.DefaultClient.
type Options struct {
	Stdout     io.Writer
	Stderr     io.Writer
	NewService ServiceFactory
	HTTPClient *http.Client
}

// Execute runs the digest command with the process defaults.
func Execute(ctx context.Context) error {
	return NewRootCmd(Options{}).ExecuteContext(ctx)
}

// NewRootCmd builds a fresh command tree. Each tree carries its own viper
// instance, so trees do not share flag state.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.NewService == nil {
		opts.NewService = localService(opts.Stderr)
	}

	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "digest",
		Short: "Digest of recently resolved issues",
		Long: `digest summarizes the issues resolved in the last N days for a set of
components, whiteboard tags or projects. Restricted issues never reach the
report.

Credentials come from the environment (BUGZILLA_API_KEY, JIRA_API_KEY or
GITLAB_TOKEN, and SUMMARIZER_API_KEY). With --server the digest runs on a
remote digest server instead and no credentials are needed locally.

Example:
  digest --component "Firefox:Address Bar" --whiteboard sng --days 7`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDigest(cmd, v, opts)
		},
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .digest.yaml)")
	root.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))

	addDigestFlags(root, v)
	root.AddCommand(newWatchCmd(v, opts))

	return root
}

func initConfig(v *viper.Viper, cfgFile string, stderr io.Writer) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		v.AddConfigPath(cwd)
		v.SetConfigType("yaml")
		v.SetConfigName(".digest")
	}

	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit --config must exist; the default file is optional.
		if cfgFile != "" {
			return fmt.Errorf("reading config file: %w", err)
		}
		return nil
	}
	if v.GetBool("verbose") {
		fmt.Fprintln(stderr, "Using config file:", v.ConfigFileUsed())
	}
	return nil
}
