package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/metrics"
	"time-value-analyser/occupancy-archive/internal/model"
)

const (
	monthLayout = "2006-01"
	fileLayout  = "2006-01-02-15-04-05"
	fileExt     = ".json"
)

// Mirror receives a copy of every written payload, keyed by its path
// relative to the store root.
type Mirror interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
}

// Store is the append-only, timestamp partitioned snapshot store:
//
//	{root}/{class}/{source_id}/{YYYY-MM}/{YYYY-MM-DD-HH-MM-SS}.json
//
// Timestamps are UTC at second precision. The file name is both the sort key
// and the idempotency key; a rewrite within the same second overwrites.
type Store struct {
	root   string
	log    *zap.Logger
	mirror Mirror
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMirror(m Mirror) Option { return func(s *Store) { s.mirror = m } }

func New(root string, opts ...Option) *Store {
	s := &Store{root: root, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

// FileEntry is one stored payload location.
type FileEntry struct {
	Timestamp time.Time
	Location  string
}

// Normalize truncates ts to the store's UTC second resolution.
func Normalize(ts time.Time) time.Time { return ts.UTC().Truncate(time.Second) }

// Path returns the location a payload of this identity is stored at.
func (s *Store) Path(sourceID string, class model.PayloadClass, ts time.Time) string {
	ts = Normalize(ts)
	return filepath.Join(s.root, string(class), sourceID, ts.Format(monthLayout), ts.Format(fileLayout)+fileExt)
}

// Put durably writes payload. The file is written to a temporary name and
// renamed into place so readers never observe partial documents.
func (s *Store) Put(ctx context.Context, sourceID string, ts time.Time, payload any, class model.PayloadClass) error {
	ts = Normalize(ts)
	path := s.Path(sourceID, class, ts)
	fail := func(op string, err error) error {
		return &StorageError{Op: op, SourceID: sourceID, Class: class, Timestamp: ts, Path: path, Err: err}
	}
	if !class.Valid() {
		return fail("write", fmt.Errorf("invalid payload class %q", class))
	}

	data, err := json.MarshalIndent(payload, "", " ")
	if err != nil {
		return fail("encode", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail("write", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail("write", err)
	}
	// CreateTemp creates 0600 files
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fail("write", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fail("write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fail("write", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fail("write", err)
	}
	s.log.Info("writing", zap.String("path", path), zap.String("source_id", sourceID), zap.String("class", string(class)))
	metrics.PayloadsWritten.WithLabelValues(sourceID, string(class)).Inc()

	if s.mirror != nil {
		key := filepath.ToSlash(strings.TrimPrefix(path, s.root+string(filepath.Separator)))
		if err := s.mirror.Put(ctx, key, data); err != nil {
			// the local copy is authoritative; a failed mirror upload is retried by the next sync
			s.log.Warn("mirror upload failed", zap.String("mirror", s.mirror.Name()), zap.String("key", key), zap.Error(err))
			metrics.MirrorErrors.WithLabelValues(s.mirror.Name()).Inc()
		}
	}
	return nil
}

// Find lists stored payloads ascending by timestamp. Entries strictly before
// min are omitted; whole month partitions before min's month are skipped
// without being listed.
func (s *Store) Find(sourceID string, class model.PayloadClass, min *time.Time) ([]FileEntry, error) {
	base := filepath.Join(s.root, string(class), sourceID)
	months, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", SourceID: sourceID, Class: class, Path: base, Err: err}
	}
	var minUTC time.Time
	minMonth := ""
	if min != nil {
		minUTC = min.UTC()
		minMonth = minUTC.Format(monthLayout)
	}

	var out []FileEntry
	for _, m := range months {
		if !m.IsDir() {
			continue
		}
		if _, err := time.Parse(monthLayout, m.Name()); err != nil {
			continue
		}
		if minMonth != "" && m.Name() < minMonth {
			continue
		}
		dir := filepath.Join(base, m.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, &StorageError{Op: "list", SourceID: sourceID, Class: class, Path: dir, Err: err}
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, fileExt) {
				continue
			}
			ts, err := time.ParseInLocation(fileLayout, strings.TrimSuffix(name, fileExt), time.UTC)
			if err != nil {
				continue
			}
			if min != nil && ts.Before(minUTC) {
				continue
			}
			out = append(out, FileEntry{Timestamp: ts, Location: filepath.Join(dir, name)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Load is Find plus reading and decoding every file. Files that cannot be
// read or parsed are logged and dropped: a multi-year load must not fail over
// a single corrupt legacy file.
func (s *Store) Load(sourceID string, class model.PayloadClass, min *time.Time) ([]model.Snapshot, error) {
	entries, err := s.Find(sourceID, class, min)
	if err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, 0, len(entries))
	for _, e := range entries {
		payload, err := readPayload(e.Location)
		if err != nil {
			s.log.Warn("dropping unreadable payload", zap.String("path", e.Location), zap.String("source_id", sourceID), zap.Error(err))
			metrics.PayloadsDropped.WithLabelValues(sourceID, string(class)).Inc()
			continue
		}
		out = append(out, model.Snapshot{SourceID: sourceID, Timestamp: e.Timestamp, Class: class, Location: e.Location, Payload: payload})
	}
	return out, nil
}

// LoadLatestMetadata returns the newest metadata payload that parses.
func (s *Store) LoadLatestMetadata(sourceID string) (any, bool, error) {
	entries, err := s.Find(sourceID, model.ClassMetadata, nil)
	if err != nil {
		return nil, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		payload, err := readPayload(entries[i].Location)
		if err != nil {
			s.log.Warn("skipping unreadable metadata", zap.String("path", entries[i].Location), zap.Error(err))
			metrics.PayloadsDropped.WithLabelValues(sourceID, string(model.ClassMetadata)).Inc()
			continue
		}
		return payload, true, nil
	}
	return nil, false, nil
}

// Sources lists the source ids that have payloads of the given class.
func (s *Store) Sources(class model.PayloadClass) ([]string, error) {
	base := filepath.Join(s.root, string(class))
	dirs, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Class: class, Path: base, Err: err}
	}
	var ids []string
	for _, d := range dirs {
		if d.IsDir() {
			ids = append(ids, d.Name())
		}
	}
	return ids, nil
}

func readPayload(path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
