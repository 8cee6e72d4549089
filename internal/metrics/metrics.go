package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every collector of this process. A dedicated registry keeps
// tests independent of the global default one.
var Registry = prometheus.NewRegistry()

var (
	PayloadsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupancy",
		Name:      "payloads_written_total",
		Help:      "Payloads written to the snapshot store",
	}, []string{"source_id", "class"})

	PayloadsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupancy",
		Name:      "payloads_dropped_total",
		Help:      "Stored payloads skipped on load because they could not be parsed",
	}, []string{"source_id", "class"})

	MirrorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupancy",
		Name:      "mirror_errors_total",
		Help:      "Failed uploads to the snapshot mirror",
	}, []string{"mirror"})

	CaptureErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupancy",
		Name:      "capture_errors_total",
		Help:      "Provider downloads that failed and were stored as error payloads",
	}, []string{"source_id", "class"})

	CaptureDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "occupancy",
		Name:      "capture_duration_seconds",
		Help:      "Time spent downloading one payload from a provider",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"source_id", "class"})

	LastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "occupancy",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful capture per source",
	}, []string{"source_id", "class"})

	PointsPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupancy",
		Name:      "points_pushed_total",
		Help:      "Points delivered to time-series sinks",
	}, []string{"sink"})
)

func init() {
	Registry.MustRegister(
		PayloadsWritten, PayloadsDropped, MirrorErrors,
		CaptureErrors, CaptureDuration, LastSuccess, PointsPushed,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Push sends the current registry to a Prometheus pushgateway.
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Dump returns a human-readable snapshot of counters and gauges (for logging).
func Dump() string {
	mfs, err := Registry.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			pairs := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				pairs = append(pairs, lp.GetName()+"="+lp.GetValue())
			}
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				v = float64(m.GetHistogram().GetSampleCount())
			}
			out = append(out, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(pairs, ","), v))
		}
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}
