package sink

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
)

// Influx writes points through the InfluxDB v2 blocking write API in
// batches of cfg.BatchSize.
type Influx struct {
	cfg    config.InfluxConfig
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInflux(cfg config.InfluxConfig) (*Influx, error) {
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influxdb needs org and bucket")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, influxdb2.DefaultOptions().SetBatchSize(uint(cfg.BatchSize)))
	return &Influx{cfg: cfg, client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

func (s *Influx) Name() string { return "influxdb" }

func (s *Influx) Push(ctx context.Context, points []model.Point) error {
	batch := make([]*write.Point, 0, min(len(points), s.cfg.BatchSize))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.write.WritePoint(ctx, batch...); err != nil {
			return fmt.Errorf("influxdb write: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for _, p := range points {
		measurement := p.Measurement
		if s.cfg.Measurement != "" {
			measurement = s.cfg.Measurement
		}
		fields := make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		batch = append(batch, influxdb2.NewPoint(measurement, p.Tags, fields, p.Timestamp))
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *Influx) Close() { s.client.Close() }
