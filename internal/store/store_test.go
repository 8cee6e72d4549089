package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"time-value-analyser/occupancy-archive/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestPutLayoutAndRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	payload := map[string]any{"data": []any{map[string]any{"place_name": "A", "num_free": 5.0}}}

	local := time.Date(2024, 3, 1, 11, 0, 0, 900_000_000, time.FixedZone("CET", 3600))
	require.NoError(t, s.Put(context.Background(), "x", local, payload, model.ClassSnapshot))

	want := filepath.Join(root, "snapshot", "x", "2024-03", "2024-03-01-10-00-00.json")
	assert.FileExists(t, want)
	assert.Equal(t, want, s.Path("x", model.ClassSnapshot, t0))

	snaps, err := s.Load("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, model.Snapshot{
		SourceID: "x", Timestamp: t0, Class: model.ClassSnapshot, Location: want, Payload: payload,
	}, snaps[0])

	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(root, "snapshot", "x", "2024-03", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPutSameSecondOverwrites(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Put(context.Background(), "x", t0, 1, model.ClassSnapshot))
	require.NoError(t, s.Put(context.Background(), "x", t0.Add(500*time.Millisecond), 2, model.ClassSnapshot))
	snaps, err := s.Load("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2.0, snaps[0].Payload)
}

func TestPutRejectsInvalidClass(t *testing.T) {
	err := New(t.TempDir()).Put(context.Background(), "x", t0, 1, model.PayloadClass("bogus"))
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "x", se.SourceID)
}

func TestPutReportsIOFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("not a dir"), 0644))
	err := New(root).Put(context.Background(), "x", t0, 1, model.ClassSnapshot)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "write", se.Op)
	assert.Equal(t, t0, se.Timestamp)
}

func TestFindAscendingWithMin(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	stamps := []time.Time{
		t0.AddDate(0, 1, 0),
		t0,
		t0.AddDate(0, -2, 0),
		t0.Add(time.Hour),
	}
	for i, ts := range stamps {
		require.NoError(t, s.Put(ctx, "x", ts, i, model.ClassSnapshot))
	}
	// unrelated files are ignored
	monthDir := filepath.Join(s.Root(), "snapshot", "x", "2024-03")
	require.NoError(t, os.WriteFile(filepath.Join(monthDir, "notes.json"), []byte("{}"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "snapshot", "x", "misc"), 0755))

	all, err := s.Find("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
	}

	min := t0.Add(time.Minute)
	some, err := s.Find("x", model.ClassSnapshot, &min)
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, t0.Add(time.Hour), some[0].Timestamp)

	none, err := s.Find("nobody", model.ClassSnapshot, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLoadDropsMalformedFiles(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(t.TempDir(), WithLogger(zap.New(core)))
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "x", t0, []any{1.0}, model.ClassSnapshot))
	require.NoError(t, s.Put(ctx, "x", t0.Add(2*time.Minute), []any{3.0}, model.ClassSnapshot))
	bad := s.Path("x", model.ClassSnapshot, t0.Add(time.Minute))
	require.NoError(t, os.WriteFile(bad, []byte(`{"truncated": `), 0644))

	snaps, err := s.Load("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, []any{3.0}, snaps[1].Payload)
	require.Equal(t, 1, logs.FilterMessage("dropping unreadable payload").Len())
	assert.Equal(t, bad, logs.All()[0].ContextMap()["path"])
}

func TestLoadLatestMetadata(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	_, ok, err := s.LoadLatestMetadata("x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "x", t0, "old", model.ClassMetadata))
	require.NoError(t, s.Put(ctx, "x", t0.Add(time.Hour), "new", model.ClassMetadata))
	require.NoError(t, os.WriteFile(s.Path("x", model.ClassMetadata, t0.Add(2*time.Hour)), []byte("nope"), 0644))

	v, ok, err := s.LoadLatestMetadata("x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", v)

	ids, err := s.Sources(model.ClassMetadata)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeMirror) Name() string { return "fake" }

func (f *fakeMirror) Put(_ context.Context, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

func TestMirrorReceivesRelativeKeys(t *testing.T) {
	m := &fakeMirror{}
	s := New(t.TempDir(), WithMirror(m))
	require.NoError(t, s.Put(context.Background(), "x", t0, 1, model.ClassError))
	assert.Equal(t, []string{"error/x/2024-03/2024-03-01-10-00-00.json"}, m.keys)

	m.err = errors.New("offline")
	assert.NoError(t, s.Put(context.Background(), "x", t0.Add(time.Second), 1, model.ClassError))
}
