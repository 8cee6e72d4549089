package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/util"
)

type victoriaSink struct {
	cfg       config.VictoriaConfig
	userAgent string
	client    *http.Client
}

func NewVictoria(cfg config.VictoriaConfig, userAgent string) Sink {
	to := cfg.Timeout
	if to == 0 {
		to = 10 * time.Second
	}
	return &victoriaSink{cfg: cfg, userAgent: userAgent, client: util.NewHTTPClient(to)}
}

func (v *victoriaSink) Name() string { return "victoria" }

// Push posts one Prometheus text line per point field, named
// <measurement>_<field>, with millisecond timestamps.
func (v *victoriaSink) Push(ctx context.Context, points []model.Point) error {
	if len(points) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, p := range points {
		lbls := labels(p.Tags)
		for _, field := range sortedFields(p.Fields) {
			fmt.Fprintf(&buf, "%s_%s{%s} %g %d\n", p.Measurement, field, lbls, p.Fields[field], p.Timestamp.UnixMilli())
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(v.cfg.URL, "/")+"/api/v1/import/prometheus", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("victoria push failed: %s", resp.Status)
	}
	return nil
}

// labels renders tags sorted by key for stable series identity.
func labels(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=\"%s\"", k, escape(tags[k]))
	}
	return b.String()
}

func sortedFields(fields map[string]float64) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escape(s string) string { return labelEscaper.Replace(s) }
