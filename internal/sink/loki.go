package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/util"
)

// Line is one log line with its stream labels.
type Line struct {
	Labels    map[string]string
	Timestamp time.Time
	Body      map[string]any
}

// Loki pushes log lines. Points are logged as one JSON line each; capture
// failures are pushed with PushLines.
type Loki struct {
	cfg       config.LokiConfig
	userAgent string
	client    *http.Client
}

func NewLoki(cfg config.LokiConfig, userAgent string) *Loki {
	to := cfg.Timeout
	if to == 0 {
		to = 10 * time.Second
	}
	return &Loki{cfg: cfg, userAgent: userAgent, client: util.NewHTTPClient(to)}
}

func (l *Loki) Name() string { return "loki" }

func (l *Loki) Push(ctx context.Context, points []model.Point) error {
	lines := make([]Line, 0, len(points))
	for _, p := range points {
		body := map[string]any{"measurement": p.Measurement}
		for k, v := range p.Tags {
			body[k] = v
		}
		for k, v := range p.Fields {
			body[k] = v
		}
		lbls := map[string]string{"kind": "observation"}
		if id := p.Tags["source_id"]; id != "" {
			lbls["source_id"] = id
		}
		lines = append(lines, Line{Labels: lbls, Timestamp: p.Timestamp, Body: body})
	}
	return l.PushLines(ctx, lines)
}

// PushLines sends lines to /loki/api/v1/push. Every line gets the configured
// job label.
func (l *Loki) PushLines(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}

	type stream struct {
		Stream map[string]string `json:"stream"`
		Values [][2]string       `json:"values"`
	}
	payload := struct {
		Streams []stream `json:"streams"`
	}{}
	for _, ln := range lines {
		body, err := json.Marshal(ln.Body)
		if err != nil {
			return fmt.Errorf("encode loki line: %w", err)
		}
		lbls := map[string]string{"job": l.cfg.Job}
		for k, v := range ln.Labels {
			lbls[k] = v
		}
		// Loki expects ns timestamp as a decimal string
		payload.Streams = append(payload.Streams, stream{
			Stream: lbls,
			Values: [][2]string{{fmt.Sprintf("%d", ln.Timestamp.UnixNano()), string(body)}},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(l.cfg.URL, "/")+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.cfg.TenantID)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki push failed http %d", resp.StatusCode)
	}
	return nil
}
