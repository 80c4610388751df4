package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/graphbatch/internal/cliconfig"
	"github.com/bft-labs/graphbatch/pkg/graphbatch"
	"github.com/bft-labs/graphbatch/pkg/log"
)

const longHelp = `Batch Graph API calls without hand-rolling the batch endpoint.

Requests are queued, sent in batches of up to 50 on a fixed cadence and
matched back to their callers by position. Failed sub-requests can be
retried on a later batch.

Configure via file ($HOME/.graphbatch/config.toml or .yaml), GRAPHBATCH_*
environment variables (a .env file in the working directory is loaded
first), or flags. Flags win over environment, environment over file.`

var exampleUsage = strings.TrimSpace(`
  graphbatch send requests.jsonl --access-token <token>
  cat requests.jsonl | graphbatch send --retry-times 2
  graphbatch watch --spool-dir /var/spool/graphbatch --metrics-addr :9100
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries state shared by the subcommands.
type app struct {
	cfg     cliconfig.Config
	cfgPath string
	zlog    zerolog.Logger
	logger  log.Logger
}

func main() {
	a := &app{
		cfg:  cliconfig.DefaultConfig(),
		zlog: cliconfig.Logger(),
	}

	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		a.zlog.Error().Err(err).Msg("graphbatch")
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "graphbatch",
		Short:         "Batch Graph API requests",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.graphbatch/config.toml)")
	flags.StringVar(&a.cfg.AccessToken, "access-token", a.cfg.AccessToken, "Graph API access token")
	flags.StringVar(&a.cfg.GraphURL, "graph-url", a.cfg.GraphURL, "Graph API host")
	if err := flags.MarkHidden("graph-url"); err != nil {
		a.zlog.Info().Err(err).Msg("failed to hide graph-url flag")
	}
	flags.StringVar(&a.cfg.APIVersion, "api-version", a.cfg.APIVersion, "Graph API version")
	flags.DurationVar(&a.cfg.Delay, "delay", a.cfg.Delay, "interval between automatic flushes")
	flags.IntVar(&a.cfg.RetryTimes, "retry-times", a.cfg.RetryTimes, "retries per failed request")
	flags.BoolVar(&a.cfg.IncludeHeaders, "include-headers", a.cfg.IncludeHeaders, "return sub-response headers")
	flags.DurationVar(&a.cfg.HTTPTimeout, "timeout", a.cfg.HTTPTimeout, "HTTP timeout per batch call")
	flags.DurationVar(&a.cfg.DrainTimeout, "drain-timeout", a.cfg.DrainTimeout, "how long shutdown waits for queued requests")
	flags.Float64Var(&a.cfg.RateLimit, "rate-limit", a.cfg.RateLimit, "max batch calls per second (0 = unlimited)")
	flags.IntVar(&a.cfg.RateBurst, "rate-burst", a.cfg.RateBurst, "rate limiter burst")
	flags.StringVar(&a.cfg.SpoolDir, "spool-dir", a.cfg.SpoolDir, "directory watched for request files")
	flags.StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "serve Prometheus metrics on this address")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&a.cfg.LogFile, "log-file", a.cfg.LogFile, "write JSON logs to this rotated file instead of stderr")

	root.AddCommand(newSendCmd(a), newWatchCmd(a))
	return root
}

// loadConfig layers file, environment and flags, then builds the logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	// Build set of changed flags
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	zl, err := cliconfig.NewLogger(a.cfg)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.zlog = zl
	a.logger = log.NewZerologAdapterWithLogger(zl)

	a.zlog.Debug().Interface("config", a.cfg.Masked()).Msg("configuration")
	return nil
}

// serviceConfig converts the CLI configuration for the service.
func (a *app) serviceConfig() graphbatch.Config {
	return graphbatch.Config{
		AccessToken:    a.cfg.AccessToken,
		GraphURL:       a.cfg.GraphURL,
		APIVersion:     a.cfg.APIVersion,
		Delay:          a.cfg.Delay,
		RetryTimes:     a.cfg.RetryTimes,
		IncludeHeaders: a.cfg.IncludeHeaders,
		HTTPTimeout:    a.cfg.HTTPTimeout,
		RateLimit:      a.cfg.RateLimit,
		RateBurst:      a.cfg.RateBurst,
		SpoolDir:       a.cfg.SpoolDir,
		MetricsAddr:    a.cfg.MetricsAddr,
		DrainTimeout:   a.cfg.DrainTimeout,
	}
}

// newService builds a service; extra options are for tests.
func (a *app) newService(cfg graphbatch.Config, opts ...graphbatch.Option) (*graphbatch.Service, error) {
	opts = append([]graphbatch.Option{graphbatch.WithLogger(a.logger)}, opts...)
	return graphbatch.New(cfg, opts...)
}
