package series

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"time-value-analyser/occupancy-archive/internal/filter"
	"time-value-analyser/occupancy-archive/internal/model"
)

// Transformer is the part of a source the assembler needs.
type Transformer interface {
	ID() string
	TransformSnapshot(raw any) ([]model.Observation, error)
}

// TransformError ties a failed transform to the snapshot it came from.
type TransformError struct {
	SourceID  string
	Timestamp time.Time
	Location  string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s snapshot %s (%s): %v", e.SourceID, e.Timestamp.UTC().Format(time.RFC3339), e.Location, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Unwrap removes the legacy nesting some stored payloads carry, where the
// payload was written as {source_id: payload}.
func Unwrap(sourceID string, raw any) any {
	for {
		m, ok := raw.(map[string]any)
		if !ok || len(m) != 1 {
			return raw
		}
		inner, ok := m[sourceID]
		if !ok {
			return raw
		}
		raw = inner
	}
}

// Assemble transforms snapshots in ascending timestamp order and appends
// every observation to its place's series. Series keep the raw observation
// cadence; nothing is deduplicated. A transform failure aborts with a
// *TransformError.
func Assemble(src Transformer, snapshots []model.Snapshot) (model.SeriesSet, error) {
	ordered := make([]model.Snapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	set := model.SeriesSet{}
	for _, snap := range ordered {
		obs, err := src.TransformSnapshot(Unwrap(src.ID(), snap.Payload))
		if err != nil {
			return nil, &TransformError{SourceID: src.ID(), Timestamp: snap.Timestamp, Location: snap.Location, Err: err}
		}
		for _, o := range obs {
			set[o.PlaceID] = append(set[o.PlaceID], model.Entry{Timestamp: snap.Timestamp, NumFree: o.NumFree})
		}
	}
	return set, nil
}

// Loader is the part of the snapshot store LoadAll reads from.
type Loader interface {
	Load(sourceID string, class model.PayloadClass, min *time.Time) ([]model.Snapshot, error)
}

// LoadAll loads and assembles every source in parallel and merges the
// results. Places not matching placeFilter (when non-empty) are dropped.
func LoadAll[S Transformer](ctx context.Context, loader Loader, sources []S, min *time.Time, placeFilter *filter.Regex) (model.SeriesSet, error) {
	var (
		mu     sync.Mutex
		merged = model.SeriesSet{}
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snaps, err := loader.Load(src.ID(), model.ClassSnapshot, min)
			if err != nil {
				return err
			}
			set, err := Assemble(src, snaps)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, s := range set {
				if placeFilter.Empty() || placeFilter.Match(id) {
					merged[id] = s
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Compact drops entries that repeat the previous value. It is a
// presentation helper for exports; statistics need the uncompacted series.
func Compact(s model.Series) model.Series {
	out := make(model.Series, 0, len(s))
	for i, e := range s {
		if i > 0 && equal(e.NumFree, out[len(out)-1].NumFree) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func equal(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// PlaceIDs returns the keys of set sorted.
func PlaceIDs(set model.SeriesSet) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
