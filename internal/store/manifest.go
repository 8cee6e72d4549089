package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ExportedDay records one finished day export.
type ExportedDay struct {
	File       string    `json:"file"`
	Rows       int       `json:"rows"`
	ExportedAt time.Time `json:"exported_at"`
}

// ExportManifest lists the days already exported under an export root, so
// repeated invocations only fill gaps.
type ExportManifest struct {
	Days map[string]ExportedDay `json:"days"` // key: YYYY-MM-DD
}

func LoadManifest(path string) (ExportManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ExportManifest{Days: map[string]ExportedDay{}}, err
	}
	var m ExportManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return ExportManifest{Days: map[string]ExportedDay{}}, err
	}
	if m.Days == nil {
		m.Days = map[string]ExportedDay{}
	}
	return m, nil
}

func SaveManifest(path string, m ExportManifest) error {
	b, err := json.MarshalIndent(m, "", " ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SortedDays returns the recorded day keys ascending.
func (m ExportManifest) SortedDays() []string {
	days := make([]string, 0, len(m.Days))
	for d := range m.Days {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}
