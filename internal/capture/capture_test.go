package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/sink"
	"time-value-analyser/occupancy-archive/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	id       string
	snapshot any
	metadata any
	err      error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) DownloadSnapshot(context.Context) (any, error) { return f.snapshot, f.err }

func (f *fakeSource) DownloadMetadata(context.Context) (any, error) { return f.metadata, f.err }

type fakeReporter struct {
	mu    sync.Mutex
	lines []sink.Line
	err   error
}

func (f *fakeReporter) PushLines(_ context.Context, lines []sink.Line) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, lines...)
	return f.err
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

var now = time.Date(2024, 3, 1, 10, 0, 0, 700_000_000, time.FixedZone("CET", 3600))

func TestCaptureStoresPayloadsAndErrors(t *testing.T) {
	ctx := context.Background()
	st := store.New(t.TempDir())
	rep := &fakeReporter{err: errors.New("loki down")}
	core, logs := observer.New(zap.InfoLevel)

	r := New(st, WithLogger(zap.New(core)), WithReporter(rep), WithClock(func() time.Time { return now }))
	sources := []Downloader{
		&fakeSource{id: "ok", snapshot: []any{map[string]any{"place_name": "A", "num_free": 1}}},
		&fakeSource{id: "broken", err: fmt.Errorf("parse page: %w", &parseError{"no table"})},
		&fakeSource{id: "late", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)},
	}

	cycle, err := r.Capture(ctx, sources, model.ClassSnapshot)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), cycle.Timestamp)
	assert.NotEmpty(t, cycle.RunID)
	require.Len(t, cycle.Results, 3)
	assert.Equal(t, "ok", cycle.Results[0].SourceID)
	assert.Len(t, cycle.Failed(), 2)

	snaps, err := st.Load("ok", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, cycle.Timestamp, snaps[0].Timestamp)

	errs, err := st.Load("broken", model.ClassError, nil)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, map[string]any{
		"error_type": "parseError",
		"error":      "parse page: no table",
		"run_id":     cycle.RunID,
	}, errs[0].Payload)

	late, err := st.Load("late", model.ClassError, nil)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, "timeout", late[0].Payload.(map[string]any)["error_type"])

	none, err := st.Load("broken", model.ClassSnapshot, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Len(t, rep.lines, 2)
	assert.Equal(t, 2, logs.FilterMessage("capture failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("reporting capture errors failed").Len())
}

func TestCaptureSkipsAbsentMetadata(t *testing.T) {
	st := store.New(t.TempDir())
	r := New(st)
	cycle, err := r.Capture(context.Background(), []Downloader{&fakeSource{id: "nometa"}}, model.ClassMetadata)
	require.NoError(t, err)
	assert.Empty(t, cycle.Failed())

	ids, err := st.Sources(model.ClassMetadata)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCaptureReturnsStorageErrors(t *testing.T) {
	st := store.New(t.TempDir())
	r := New(st)
	// a channel cannot be encoded as JSON
	_, err := r.Capture(context.Background(), []Downloader{&fakeSource{id: "x", snapshot: make(chan int)}}, model.ClassSnapshot)
	var se *store.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "x", se.SourceID)
}

func TestCaptureNeedsStore(t *testing.T) {
	_, err := New(nil).Capture(context.Background(), nil, model.ClassSnapshot)
	assert.Error(t, err)
}

func TestDownloadDoesNotStore(t *testing.T) {
	results := New(nil).Download(context.Background(), []Downloader{
		&fakeSource{id: "a", metadata: map[string]any{"k": "v"}},
		&fakeSource{id: "b", err: errors.New("boom")},
	}, model.ClassMetadata)
	require.Len(t, results, 2)
	assert.Equal(t, map[string]any{"k": "v"}, results[0].Payload)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, "b", results[1].Err.SourceID)
	assert.Equal(t, "errorString", results[1].Err.Type())
}

func TestCaptureErrorUnwraps(t *testing.T) {
	cause := &parseError{"x"}
	err := error(&CaptureError{SourceID: "s", Class: model.ClassSnapshot, Err: fmt.Errorf("w: %w", cause)})
	var pe *parseError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "capture s snapshot: w: x", err.Error())
}
