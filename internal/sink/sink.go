package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/metrics"
	"time-value-analyser/occupancy-archive/internal/model"
)

// Sink is the minimal interface all sinks must implement.
type Sink interface {
	Name() string
	Push(ctx context.Context, points []model.Point) error
}

// FromConfig builds every sink that has a URL configured.
func FromConfig(cfg *config.Config) ([]Sink, error) {
	var sinks []Sink
	if strings.TrimSpace(cfg.Victoria.URL) != "" {
		sinks = append(sinks, NewVictoria(cfg.Victoria, cfg.HTTP.UserAgent))
	}
	if strings.TrimSpace(cfg.Influx.URL) != "" {
		s, err := NewInflux(cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("init influxdb sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if strings.TrimSpace(cfg.Loki.URL) != "" {
		sinks = append(sinks, NewLoki(cfg.Loki, cfg.HTTP.UserAgent))
	}
	return sinks, nil
}

// PushAll fans points out to all sinks concurrently. Every sink is tried;
// the returned error joins the failures.
func PushAll(ctx context.Context, sinks []Sink, points []model.Point, log *zap.Logger) error {
	if len(points) == 0 || len(sinks) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(sinks))
	for _, sk := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sk.Push(ctx, points); err != nil {
				errCh <- fmt.Errorf("push -> %s: %w", sk.Name(), err)
				return
			}
			metrics.PointsPushed.WithLabelValues(sk.Name()).Add(float64(len(points)))
		}()
	}
	wg.Wait()
	close(errCh)

	var msgs []string
	for e := range errCh {
		log.Warn("sink push failed", zap.Error(e))
		msgs = append(msgs, e.Error())
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%d of %d sink(s) failed: %s", len(msgs), len(sinks), strings.Join(msgs, "; "))
	}
	return nil
}
