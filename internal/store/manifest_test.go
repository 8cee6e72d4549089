package store

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csv", "manifest.json")

	m, err := LoadManifest(path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	require.NotNil(t, m.Days)

	m.Days["2024-03-02"] = ExportedDay{File: "b.csv", Rows: 0, ExportedAt: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)}
	m.Days["2024-03-01"] = ExportedDay{File: "a.csv", Rows: 12}
	require.NoError(t, SaveManifest(path, m))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, got.SortedDays())
	assert.Equal(t, 12, got.Days["2024-03-01"].Rows)
}
