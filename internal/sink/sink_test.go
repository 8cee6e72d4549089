package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the influxdb client keeps idle keep-alive connections to the test server
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var ts = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func points() []model.Point {
	return []model.Point{{
		Measurement: "occupancy",
		Tags:        map[string]string{"source_id": "x", "place_id": "x-A", "place_name": `Haus "A"`},
		Timestamp:   ts,
		Fields:      map[string]float64{"num_free": 3, "num_all": 20},
	}}
}

type recorder struct {
	mu      sync.Mutex
	path    string
	headers http.Header
	body    string
}

func (r *recorder) server(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.path, r.headers, r.body = req.URL.Path, req.Header.Clone(), string(b)
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVictoriaPush(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusNoContent)

	s := NewVictoria(config.VictoriaConfig{URL: srv.URL + "/"}, "ua/1")
	require.NoError(t, s.Push(context.Background(), points()))

	assert.Equal(t, "/api/v1/import/prometheus", rec.path)
	assert.Equal(t, "ua/1", rec.headers.Get("User-Agent"))
	lbls := `place_id="x-A",place_name="Haus \"A\"",source_id="x"`
	assert.Equal(t,
		"occupancy_num_all{"+lbls+"} 20 1709287200000\n"+
			"occupancy_num_free{"+lbls+"} 3 1709287200000\n", rec.body)
}

func TestVictoriaPushFailure(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusBadRequest)
	err := NewVictoria(config.VictoriaConfig{URL: srv.URL}, "").Push(context.Background(), points())
	assert.ErrorContains(t, err, "victoria push failed")
}

func TestLokiPushLines(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusNoContent)

	l := NewLoki(config.LokiConfig{URL: srv.URL, TenantID: "t1", Job: "occupancy-archive"}, "")
	err := l.PushLines(context.Background(), []Line{{
		Labels:    map[string]string{"source_id": "x", "class": "snapshot"},
		Timestamp: ts,
		Body:      map[string]any{"error_type": "timeout"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "/loki/api/v1/push", rec.path)
	assert.Equal(t, "t1", rec.headers.Get("X-Scope-OrgID"))

	var got struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal([]byte(rec.body), &got))
	require.Len(t, got.Streams, 1)
	assert.Equal(t, map[string]string{"job": "occupancy-archive", "source_id": "x", "class": "snapshot"}, got.Streams[0].Stream)
	assert.Equal(t, "1709287200000000000", got.Streams[0].Values[0][0])
	assert.JSONEq(t, `{"error_type":"timeout"}`, got.Streams[0].Values[0][1])
}

func TestLokiPushPoints(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusNoContent)
	require.NoError(t, NewLoki(config.LokiConfig{URL: srv.URL, Job: "j"}, "").Push(context.Background(), points()))
	assert.Contains(t, rec.body, `\"num_free\":3`)
	assert.Contains(t, rec.body, `"kind":"observation"`)
}

func TestInfluxPush(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		batches = append(batches, req.URL.Path+"?"+req.URL.RawQuery+"\n"+string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewInflux(config.InfluxConfig{URL: srv.URL, Token: "tok", Org: "o", Bucket: "b", BatchSize: 1})
	require.NoError(t, err)
	defer s.Close()

	pts := append(points(), points()...)
	require.NoError(t, s.Push(context.Background(), pts))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Contains(t, batches[0], "/api/v2/write")
	assert.Contains(t, batches[0], "bucket=b")
	assert.Contains(t, batches[0], "occupancy,")
	assert.Contains(t, batches[0], "num_free=3")
}

func TestNewInfluxNeedsBucket(t *testing.T) {
	_, err := NewInflux(config.InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

type fakeSink struct {
	name string
	err  error
	got  int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Push(_ context.Context, pts []model.Point) error {
	f.got = len(pts)
	return f.err
}

func TestPushAllTriesEverySink(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("boom")}

	err := PushAll(context.Background(), []Sink{bad, ok}, points(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push -> bad: boom")
	assert.Equal(t, 1, ok.got)
	assert.Equal(t, 1, bad.got)

	assert.NoError(t, PushAll(context.Background(), []Sink{bad}, nil, zap.NewNop()))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Victoria: config.VictoriaConfig{URL: "http://vm:8428"},
		Loki:     config.LokiConfig{URL: "http://loki:3100"},
	}
	sinks, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.Equal(t, "victoria", sinks[0].Name())
	assert.Equal(t, "loki", sinks[1].Name())
}
