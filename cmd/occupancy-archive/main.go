package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/export"
	"time-value-analyser/occupancy-archive/internal/metrics"
	"time-value-analyser/occupancy-archive/internal/source"
	"time-value-analyser/occupancy-archive/internal/store"
	"time-value-analyser/occupancy-archive/internal/util"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const (
	exitOK       = 0
	exitFailure  = 1
	exitNoSource = 1
	exitUsage    = 2
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: exitUsage, err: err} }

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, export.ErrInvalidDay):
		return exitUsage
	case errors.Is(err, source.ErrNoSources):
		return exitNoSource
	}
	return exitFailure
}

// options are the global flags.
type options struct {
	configPath string
	include    []string
	exclude    []string
	place      string
	day        string
	format     string
	since      string
	cache      bool
	verbose    bool
}

// app is the state shared by all commands, built once per invocation.
type app struct {
	opts   options
	stdout io.Writer
	now    func() time.Time

	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	registry *source.Registry
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, now: time.Now}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "occupancy-archive",
		Short:   "Capture, archive and analyse car park occupancy snapshots",
		Version: Version,
		Long: `occupancy-archive periodically downloads occupancy payloads from public
parking providers, stores them verbatim in a timestamp partitioned tree and
reconstructs per-place time series, statistics and exports from that archive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath()))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return usageError(errors.New("missing command"))
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() {
				return nil
			}
			return a.setup(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "config.yml", "path to YAML config")
	pf.StringArrayVarP(&a.opts.include, "include", "i", nil, "regex selecting source ids (repeatable, OR)")
	pf.StringArrayVarP(&a.opts.exclude, "exclude", "e", nil, "regex removing source ids (repeatable, OR)")
	pf.StringVarP(&a.opts.place, "place", "p", "", "regex selecting place ids")
	pf.StringVarP(&a.opts.day, "day", "d", "", "day to export: today, yesterday or YYYY-MM-DD")
	pf.StringVarP(&a.opts.format, "format", "f", "text", "output format: text, json, csv or influxdb")
	pf.StringVar(&a.opts.since, "since", "", "only read snapshots at or after this date (YYYY-MM-DD or RFC3339)")
	pf.BoolVarP(&a.opts.cache, "cache", "c", false, "cache provider responses and reuse them")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newListCmd(a),
		newStoreCmd(a, "store", false),
		newStoreCmd(a, "store-meta", true),
		newDumpCmd(a, "dump", false),
		newDumpCmd(a, "dump-meta", true),
		newTestCmd(a),
		newLoadCmd(a),
		newLoadMetaCmd(a),
		newLoadStatsCmd(a),
		newExportCmd(a),
		newExportCSVCmd(a),
		newToInfluxCmd(a),
		newCollectCmd(a),
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError(fmt.Errorf("%s takes no arguments, got %q", cmd.CommandPath(), args))
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// setup validates flags and builds logger, config, store and registry.
func (a *app) setup(ctx context.Context) error {
	switch a.opts.format {
	case "text", "json", "csv", "influxdb":
	default:
		return usageError(fmt.Errorf("invalid format %q: want text, json, csv or influxdb", a.opts.format))
	}
	if a.log == nil {
		log, err := newLogger(a.opts.verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.log = log
	}
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	storeOpts := []store.Option{store.WithLogger(a.log)}
	if cfg.Mirror.S3Bucket != "" {
		m, err := store.NewS3Mirror(ctx, store.S3MirrorConfig{
			Bucket:   cfg.Mirror.S3Bucket,
			Region:   cfg.Mirror.S3Region,
			Endpoint: cfg.Mirror.S3Endpoint,
			Prefix:   cfg.Mirror.S3Prefix,
		})
		if err != nil {
			return fmt.Errorf("init s3 mirror: %w", err)
		}
		storeOpts = append(storeOpts, store.WithMirror(m))
	}
	a.store = store.New(cfg.Storage.Root, storeOpts...)

	var cache util.BodyCache
	if a.opts.cache {
		cache = store.NewCache(cfg.Cache.MaxKeys, cfg.Cache.TTL, cfg.Cache.Dir)
	}
	fetcher := util.NewFetcher(util.FetcherConfig{
		Timeout:       cfg.HTTP.Timeout,
		UserAgent:     cfg.HTTP.UserAgent,
		Attempts:      cfg.HTTP.Attempts,
		Backoff:       cfg.HTTP.Backoff,
		MaxBackoff:    cfg.HTTP.MaxBackoff,
		RatePerSecond: cfg.HTTP.RatePerSecond,
		Burst:         cfg.HTTP.Burst,
	}, cache, a.log)
	a.registry, err = source.NewFromConfig(cfg, fetcher)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}
	return nil
}

// sources applies --include/--exclude. Invalid expressions are usage errors.
func (a *app) sources() ([]source.Source, error) {
	srcs, err := a.registry.List(a.opts.include, a.opts.exclude)
	if err != nil && !errors.Is(err, source.ErrNoSources) {
		return nil, usageError(err)
	}
	return srcs, err
}

func (a *app) location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.cfg.Export.Timezone)
	if err != nil {
		return nil, fmt.Errorf("export timezone: %w", err)
	}
	return loc, nil
}

// since parses --since in the reporting timezone; empty means everything.
func (a *app) since() (*time.Time, error) {
	s := strings.TrimSpace(a.opts.since)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	loc, err := a.location()
	if err != nil {
		return nil, err
	}
	d, err := export.ParseDay(s, a.now(), loc)
	if err != nil {
		return nil, usageError(fmt.Errorf("--since: %w", err))
	}
	t := d.Start(loc)
	return &t, nil
}

// pushMetrics sends the registry to the configured pushgateway after batch
// commands.
func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.Metrics.PushGateway == "" {
		return
	}
	if err := metrics.Push(ctx, a.cfg.Metrics.PushGateway, a.cfg.Metrics.Job); err != nil {
		a.log.Warn("metrics push failed", zap.Error(err))
	}
}
