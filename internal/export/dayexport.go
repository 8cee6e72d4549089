package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/series"
	"time-value-analyser/occupancy-archive/internal/store"
)

const manifestName = "manifest.json"

// Archive is the part of the snapshot store the day exporter reads.
type Archive interface {
	series.Loader
	Find(sourceID string, class model.PayloadClass, min *time.Time) ([]store.FileEntry, error)
}

// DayExporter writes one wide CSV per local calendar day to
// {Root}/csv/{YYYY}/{YYYY-MM-DD}.csv and records finished days in
// {Root}/csv/manifest.json.
type DayExporter struct {
	Archive  Archive
	Sources  []series.Transformer
	Root     string
	Location *time.Location
	Log      *zap.Logger
	Now      func() time.Time
}

func (x *DayExporter) dir() string { return filepath.Join(x.Root, "csv") }

// DayPath is the export file of day.
func (x *DayExporter) DayPath(day Day) string {
	return filepath.Join(x.dir(), fmt.Sprintf("%04d", day.Year), day.String()+".csv")
}

func (x *DayExporter) logger() *zap.Logger {
	if x.Log == nil {
		return zap.NewNop()
	}
	return x.Log
}

func (x *DayExporter) now() time.Time {
	if x.Now == nil {
		return time.Now()
	}
	return x.Now()
}

// Run exports day when given (overwriting an earlier export). Without a day
// it exports every day from the earliest stored snapshot through yesterday
// that has not been exported yet. It returns the days written. Only finished
// days are recorded in the manifest, so a partial export of today is
// rewritten by a later run.
func (x *DayExporter) Run(ctx context.Context, day *Day) ([]Day, error) {
	today := DayOf(x.now(), x.Location)
	manifestPath := filepath.Join(x.dir(), manifestName)
	manifest, err := store.LoadManifest(manifestPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		manifest.Days, err = x.scanExported()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read export manifest: %w", err)
	}

	var todo []Day
	if day != nil {
		todo = []Day{*day}
	} else {
		first, ok, err := x.earliest()
		if err != nil {
			return nil, err
		}
		if !ok {
			x.logger().Info("nothing stored yet, no days to export")
			return nil, nil
		}
		yesterday := today.AddDays(-1)
		for d := first; !yesterday.Before(d); d = d.AddDays(1) {
			if _, done := manifest.Days[d.String()]; !done {
				todo = append(todo, d)
			}
		}
	}
	if len(todo) == 0 {
		return nil, nil
	}

	min := todo[0].Start(x.Location)
	set, err := series.LoadAll(ctx, x.Archive, x.Sources, &min, nil)
	if err != nil {
		return nil, err
	}
	var written []Day
	for _, d := range todo {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		rows, err := x.writeDay(set, d)
		if err != nil {
			return written, err
		}
		written = append(written, d)
		// a day that is not over yet is exported again by the next gap fill
		if d.Before(today) {
			manifest.Days[d.String()] = store.ExportedDay{
				File:       x.DayPath(d),
				Rows:       rows,
				ExportedAt: x.now().UTC(),
			}
		}
		if err := store.SaveManifest(manifestPath, manifest); err != nil {
			return written, fmt.Errorf("write export manifest: %w", err)
		}
	}
	return written, nil
}

func (x *DayExporter) writeDay(set model.SeriesSet, d Day) (int, error) {
	table := WideDay(set, d, x.Location)
	path := x.DayPath(d)
	if len(table.Rows) == 0 {
		x.logger().Info(fmt.Sprintf("exporting empty %s to %s", d, path))
	} else {
		x.logger().Info(fmt.Sprintf("exporting %s to %s", d, path), zap.Int("rows", len(table.Rows)))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := table.WriteCSV(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return len(table.Rows), nil
}

// earliest returns the local day of the oldest stored snapshot of any source.
func (x *DayExporter) earliest() (Day, bool, error) {
	var (
		first time.Time
		found bool
	)
	for _, src := range x.Sources {
		entries, err := x.Archive.Find(src.ID(), model.ClassSnapshot, nil)
		if err != nil {
			return Day{}, false, err
		}
		if len(entries) > 0 && (!found || entries[0].Timestamp.Before(first)) {
			first, found = entries[0].Timestamp, true
		}
	}
	if !found {
		return Day{}, false, nil
	}
	return DayOf(first, x.Location), true, nil
}

var (
	yearDir = regexp.MustCompile(`^\d{4}$`)
	dayFile = regexp.MustCompile(`^(\d{4})-\d{2}-\d{2}\.csv$`)
)

// scanExported rebuilds the exported set from file names when there is no
// manifest. Only {YYYY}/{YYYY-MM-DD}.csv with a matching year directory and a
// valid date counts.
func (x *DayExporter) scanExported() (map[string]store.ExportedDay, error) {
	days := map[string]store.ExportedDay{}
	years, err := os.ReadDir(x.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return days, nil
		}
		return nil, err
	}
	for _, y := range years {
		if !y.IsDir() || !yearDir.MatchString(y.Name()) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(x.dir(), y.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			m := dayFile.FindStringSubmatch(f.Name())
			if f.IsDir() || m == nil || m[1] != y.Name() {
				continue
			}
			key := m[0][:len(dayLayout)]
			if _, err := time.Parse(dayLayout, key); err != nil {
				continue
			}
			days[key] = store.ExportedDay{File: filepath.Join(x.dir(), y.Name(), f.Name())}
		}
	}
	return days, nil
}
