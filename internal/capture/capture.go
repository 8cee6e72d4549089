package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"time-value-analyser/occupancy-archive/internal/metrics"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/sink"
)

// Downloader is the provider side of a capture.
type Downloader interface {
	ID() string
	DownloadSnapshot(ctx context.Context) (any, error)
	DownloadMetadata(ctx context.Context) (any, error)
}

// Writer persists captured payloads.
type Writer interface {
	Put(ctx context.Context, sourceID string, ts time.Time, payload any, class model.PayloadClass) error
}

// ErrorReporter forwards capture failures, e.g. to Loki.
type ErrorReporter interface {
	PushLines(ctx context.Context, lines []sink.Line) error
}

// CaptureError is a failed provider download. It is recovered by storing an
// error payload in place of the expected one.
type CaptureError struct {
	SourceID string
	Class    model.PayloadClass
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s %s: %v", e.SourceID, e.Class, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Type classifies the failure for the error payload and logs.
func (e *CaptureError) Type() string {
	var ne net.Error
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded), errors.As(e.Err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	}
	root := e.Err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	t := reflect.TypeOf(root)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "error"
	}
	return t.Name()
}

// Result is the outcome of one source in one cycle.
type Result struct {
	SourceID string
	Class    model.PayloadClass
	Payload  any // nil when the provider has nothing for this class
	Err      *CaptureError
	Duration time.Duration
}

// Cycle groups the results of one invocation. All payloads of a cycle share
// Timestamp.
type Cycle struct {
	RunID     string
	Timestamp time.Time
	Results   []Result
}

type Runner struct {
	store    Writer
	reporter ErrorReporter
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func WithReporter(rep ErrorReporter) Option { return func(r *Runner) { r.reporter = rep } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// New returns a runner writing to store. A nil store makes Capture fail;
// Download works without one.
func New(store Writer, opts ...Option) *Runner {
	r := &Runner{store: store, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Download fetches class from every source concurrently. A failing source
// never cancels the others. Results keep the order of sources.
func (r *Runner) Download(ctx context.Context, sources []Downloader, class model.PayloadClass) []Result {
	results := make([]Result, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = r.download(ctx, src, class)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) download(ctx context.Context, src Downloader, class model.PayloadClass) Result {
	res := Result{SourceID: src.ID(), Class: class}
	start := time.Now()
	var err error
	switch class {
	case model.ClassSnapshot:
		res.Payload, err = src.DownloadSnapshot(ctx)
	case model.ClassMetadata:
		res.Payload, err = src.DownloadMetadata(ctx)
	default:
		err = fmt.Errorf("cannot download payload class %q", class)
	}
	res.Duration = time.Since(start)
	metrics.CaptureDuration.WithLabelValues(res.SourceID, string(class)).Observe(res.Duration.Seconds())
	if err != nil {
		res.Payload = nil
		res.Err = &CaptureError{SourceID: res.SourceID, Class: class, Err: err}
	}
	return res
}

// Capture downloads class from all sources and stores every payload under
// one UTC timestamp. Failed downloads are stored as error payloads. Only
// storage failures are returned.
func (r *Runner) Capture(ctx context.Context, sources []Downloader, class model.PayloadClass) (Cycle, error) {
	if r.store == nil {
		return Cycle{}, errors.New("capture: no store configured")
	}
	cycle := Cycle{
		RunID:     uuid.NewString(),
		Timestamp: r.now().UTC().Truncate(time.Second),
	}
	log := r.log.With(zap.String("run_id", cycle.RunID), zap.String("class", string(class)))
	cycle.Results = r.Download(ctx, sources, class)

	var (
		errs  []error
		lines []sink.Line
	)
	for _, res := range cycle.Results {
		if res.Err != nil {
			log.Warn("capture failed",
				zap.String("source_id", res.SourceID),
				zap.String("error_type", res.Err.Type()),
				zap.Error(res.Err.Err))
			metrics.CaptureErrors.WithLabelValues(res.SourceID, string(class)).Inc()
			body := ErrorPayload(res.Err, cycle.RunID)
			if err := r.store.Put(ctx, res.SourceID, cycle.Timestamp, body, model.ClassError); err != nil {
				errs = append(errs, err)
			}
			lines = append(lines, sink.Line{
				Labels:    map[string]string{"source_id": res.SourceID, "class": string(class), "kind": "capture_error"},
				Timestamp: cycle.Timestamp,
				Body:      body,
			})
			continue
		}
		if res.Payload == nil {
			log.Debug("nothing to store", zap.String("source_id", res.SourceID))
			continue
		}
		if err := r.store.Put(ctx, res.SourceID, cycle.Timestamp, res.Payload, class); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.LastSuccess.WithLabelValues(res.SourceID, string(class)).Set(float64(cycle.Timestamp.Unix()))
	}

	if r.reporter != nil && len(lines) > 0 {
		if err := r.reporter.PushLines(ctx, lines); err != nil {
			log.Warn("reporting capture errors failed", zap.Error(err))
		}
	}
	return cycle, errors.Join(errs...)
}

// ErrorPayload is the document stored in place of a failed download.
func ErrorPayload(err *CaptureError, runID string) map[string]any {
	return map[string]any{
		"error_type": err.Type(),
		"error":      err.Err.Error(),
		"run_id":     runID,
	}
}

// Failed returns the results that carry an error.
func (c Cycle) Failed() []Result {
	var out []Result
	for _, r := range c.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
