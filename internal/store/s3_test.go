package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time-value-analyser/occupancy-archive/internal/model"
)

func TestS3MirrorUploadsPayload(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	m, err := NewS3Mirror(context.Background(), S3MirrorConfig{
		Bucket: "archive", Region: "eu-central-1", Endpoint: srv.URL, Prefix: "occupancy/",
	})
	require.NoError(t, err)

	s := New(t.TempDir(), WithMirror(m))
	require.NoError(t, s.Put(context.Background(), "x", t0, map[string]any{"k": "v"}, model.ClassSnapshot))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/archive/occupancy/snapshot/x/2024-03/2024-03-01-10-00-00.json", path)
	assert.Contains(t, body, `"k": "v"`)
}

func TestS3MirrorNeedsBucket(t *testing.T) {
	_, err := NewS3Mirror(context.Background(), S3MirrorConfig{})
	assert.Error(t, err)
}
