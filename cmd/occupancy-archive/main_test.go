package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/store"
)

// writeConfig writes a config with every tree below a temp dir and one
// generic JSON source "x" served from url.
func writeConfig(t *testing.T, url string) (path, root string) {
	t.Helper()
	root = t.TempDir()
	cfg := fmt.Sprintf(`storage:
  root: %[1]s/snapshots
export:
  root: %[1]s/export
cache:
  dir: %[1]s/cache
http:
  attempts: 1
sources:
  - id: x
    type: json
    url: %[2]s
    items_path: data
`, root, url)
	path = filepath.Join(root, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, root
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCodes(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1")
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing command", nil, exitUsage},
		{"unknown command", []string{"bogus"}, exitUsage},
		{"unknown flag", []string{"--config", cfg, "list", "--nope"}, exitUsage},
		{"stray argument", []string{"--config", cfg, "list", "extra"}, exitUsage},
		{"invalid format", []string{"--config", cfg, "list", "-f", "yaml"}, exitUsage},
		{"invalid include regex", []string{"--config", cfg, "list", "-i", "("}, exitUsage},
		{"invalid day", []string{"--config", cfg, "export-csv", "-d", "31.12.2024"}, exitUsage},
		{"include matches nothing", []string{"--config", cfg, "list", "-i", "^nothing$"}, exitNoSource},
		{"list", []string{"--config", cfg, "list", "-i", "^x$"}, exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, tt.want, code, stderr)
		})
	}
}

func TestIncludeMatchingNothingIsReported(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1")
	code, _, stderr := execute(t, "--config", cfg, "load", "-i", "^nothing$")
	assert.Equal(t, exitNoSource, code)
	assert.Contains(t, stderr, "no source matches")
}

func TestListIncludesBuiltins(t *testing.T) {
	cfg, _ := writeConfig(t, "http://127.0.0.1:1")
	code, stdout, _ := execute(t, "--config", cfg, "list", "-e", "^x$")
	require.Equal(t, exitOK, code)
	for _, id := range []string{"bahn-api-parken", "bonn-bcp-parken", "dresden-parken", "parken-in-ulm"} {
		assert.Contains(t, stdout, id)
	}
	for _, line := range strings.Split(stdout, "\n") {
		assert.False(t, strings.HasPrefix(line, "x "), line)
	}
}

func TestStoreThenLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"place_name":"A","num_free":5},{"place_name":"B","num_free":null}]}`))
	}))
	defer srv.Close()
	cfg, root := writeConfig(t, srv.URL)

	code, stdout, stderr := execute(t, "--config", cfg, "store", "-i", "^x$")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "1 source(s), 0 failed")

	entries, err := store.New(filepath.Join(root, "snapshots")).Find("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	code, stdout, stderr = execute(t, "--config", cfg, "load", "-i", "^x$", "-f", "csv")
	require.Equal(t, exitOK, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "place_id,timestamp,num_free", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "x-A,"))
	assert.True(t, strings.HasSuffix(lines[1], ",5"))
	assert.True(t, strings.HasSuffix(lines[2], ","))

	code, stdout, _ = execute(t, "--config", cfg, "load", "-i", "^x$", "-p", "x-B", "-f", "json")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"place_id": "x-B"`)
	assert.NotContains(t, stdout, "x-A")

	code, stdout, _ = execute(t, "--config", cfg, "load-stats", "-i", "^x$", "-f", "csv")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "x-A,1,1,0,5,5,5,5,5,0,0,")

	code, stdout, _ = execute(t, "--config", cfg, "export", "-i", "^x$")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"source_id": "x"`)
	assert.Contains(t, stdout, `"x-A"`)
}

func TestTestAndDumpDoNotStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"place_name":"A","num_free":5}]}`))
	}))
	defer srv.Close()
	cfg, root := writeConfig(t, srv.URL)

	code, stdout, stderr := execute(t, "--config", cfg, "test", "-i", "^x$")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "x")

	code, stdout, _ = execute(t, "--config", cfg, "dump", "-i", "^x$")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"num_free": 5`)

	_, err := os.Stat(filepath.Join(root, "snapshots"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreRecordsProviderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	cfg, root := writeConfig(t, srv.URL)

	code, stdout, stderr := execute(t, "--config", cfg, "store", "-i", "^x$")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "1 failed")

	snaps, err := store.New(filepath.Join(root, "snapshots")).Load("x", model.ClassError, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Contains(t, snaps[0].Payload.(map[string]any)["error"], "http 404")
}

func TestExportCSVDay(t *testing.T) {
	cfg, root := writeConfig(t, "http://127.0.0.1:1")
	st := store.New(filepath.Join(root, "snapshots"))
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.Put(context.Background(), "x", ts, []any{map[string]any{"place_name": "A", "num_free": 5}}, model.ClassSnapshot))

	code, stdout, stderr := execute(t, "--config", cfg, "export-csv", "-i", "^x$", "-d", "2024-03-01")
	require.Equal(t, exitOK, code, stderr)
	path := strings.TrimSpace(stdout)
	assert.Equal(t, filepath.Join(root, "export", "csv", "2024", "2024-03-01.csv"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,x-A\n2024-03-01T10:00:00+01:00,5\n", string(b))
}

func TestCollectOncePushesToVictoria(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"place_name":"A","num_free":3}]}`))
	}))
	defer provider.Close()

	pushed := make(chan string, 1)
	vm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/import/prometheus", r.URL.Path)
		var b bytes.Buffer
		_, _ = b.ReadFrom(r.Body)
		pushed <- b.String()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer vm.Close()
	t.Setenv("VICTORIA_URL", vm.URL)

	cfg, root := writeConfig(t, provider.URL)
	code, stdout, stderr := execute(t, "--config", cfg, "collect", "--once", "-i", "^x$")
	require.Equal(t, exitOK, code, stderr)
	assert.Empty(t, stdout)

	select {
	case body := <-pushed:
		assert.Contains(t, body, "occupancy_num_free{")
		assert.Contains(t, body, `place_id="x-A"`)
	default:
		t.Fatal("nothing pushed to victoria")
	}

	files, err := store.New(filepath.Join(root, "snapshots")).Find("x", model.ClassSnapshot, nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
