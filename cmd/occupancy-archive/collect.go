package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/capture"
	"time-value-analyser/occupancy-archive/internal/export"
	"time-value-analyser/occupancy-archive/internal/metrics"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/sink"
	"time-value-analyser/occupancy-archive/internal/source"
)

type collectOptions struct {
	interval  time.Duration
	metaEvery time.Duration
	listen    string
	once      bool
}

func newCollectCmd(a *app) *cobra.Command {
	var o collectOptions
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Capture snapshots on an interval, push them to sinks and serve /metrics",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			sinks, err := sink.FromConfig(a.cfg)
			if err != nil {
				return err
			}
			for _, s := range sinks {
				if c, ok := s.(interface{ Close() }); ok {
					defer c.Close()
				}
			}
			dirs, err := a.directories(srcs)
			if err != nil {
				return err
			}
			c := &collector{app: a, sources: srcs, sinks: sinks, runner: a.runner(), dirs: dirs}
			return c.loop(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&o.interval, "interval", 15*time.Minute, "capture interval")
	f.DurationVar(&o.metaEvery, "meta-interval", 24*time.Hour, "metadata capture interval")
	f.StringVar(&o.listen, "listen", "", "metrics listen address (default from config)")
	f.BoolVar(&o.once, "once", false, "run a single cycle then exit")
	return cmd
}

type collector struct {
	app      *app
	sources  []source.Source
	sinks    []sink.Sink
	runner   *capture.Runner
	dirs     []model.Directory
	lastMeta time.Time
}

func (c *collector) loop(ctx context.Context, o collectOptions) error {
	log := c.app.log
	if o.interval <= 0 {
		return usageError(fmt.Errorf("--interval must be positive, got %s", o.interval))
	}

	var srv *http.Server
	if !o.once {
		addr := o.listen
		if addr == "" {
			addr = c.app.cfg.Metrics.ListenAddress
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("serving /metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("collector started", zap.Int("sources", len(c.sources)), zap.Duration("interval", o.interval), zap.Int("sinks", len(c.sinks)))
	if err := c.runOnce(ctx, o); err != nil || o.once {
		return err
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
			if err := c.runOnce(ctx, o); err != nil {
				return err
			}
		}
	}
}

// runOnce captures metadata when due and a snapshot, then pushes the
// snapshot's observations to all sinks. Only storage failures end the loop.
func (c *collector) runOnce(ctx context.Context, o collectOptions) error {
	log := c.app.log
	start := time.Now()
	ds := downloaders(c.sources)

	if c.lastMeta.IsZero() || start.Sub(c.lastMeta) >= o.metaEvery {
		cycle, err := c.runner.Capture(ctx, ds, model.ClassMetadata)
		if err != nil {
			return err
		}
		c.lastMeta = start
		c.refreshDirectories(cycle)
	}

	cycle, err := c.runner.Capture(ctx, ds, model.ClassSnapshot)
	if err != nil {
		return err
	}
	points := export.Points(c.observations(cycle), c.dirs)
	if err := sink.PushAll(ctx, c.sinks, points, log); err != nil {
		// sinks are retried on the next cycle; the archive already has the data
		log.Warn("cycle push incomplete", zap.String("run_id", cycle.RunID), zap.Error(err))
	}
	c.app.pushMetrics(ctx)
	log.Info("cycle finished",
		zap.String("run_id", cycle.RunID),
		zap.Duration("took", time.Since(start).Truncate(time.Millisecond)),
		zap.Int("failed", len(cycle.Failed())),
		zap.Int("points", len(points)))
	return nil
}

func (c *collector) observations(cycle capture.Cycle) model.SeriesSet {
	set := model.SeriesSet{}
	for i, res := range cycle.Results {
		if res.Err != nil || res.Payload == nil {
			continue
		}
		obs, err := c.sources[i].TransformSnapshot(res.Payload)
		if err != nil {
			c.app.log.Warn("transform failed", zap.String("source_id", res.SourceID), zap.Error(err))
			continue
		}
		for _, ob := range obs {
			set[ob.PlaceID] = append(set[ob.PlaceID], model.Entry{Timestamp: cycle.Timestamp, NumFree: ob.NumFree})
		}
	}
	return set
}

func (c *collector) refreshDirectories(cycle capture.Cycle) {
	for i, res := range cycle.Results {
		if res.Err != nil || res.Payload == nil {
			continue
		}
		dir, err := c.sources[i].TransformMetadata(res.Payload)
		if err != nil {
			c.app.log.Warn("metadata transform failed", zap.String("source_id", res.SourceID), zap.Error(err))
			continue
		}
		c.dirs[i] = dir
	}
}
