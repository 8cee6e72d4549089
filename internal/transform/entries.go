package transform

import (
	"fmt"

	"time-value-analyser/occupancy-archive/internal/model"
)

type entryConfig struct {
	idKeys   []string
	nameKeys []string
	freeKeys []string
	allKeys  []string
	repair   Repair
	keep     func(map[string]any) bool
}

// Option customizes the standard entry mapping.
type Option func(*entryConfig)

// WithIDKeys sets the fields holding provider identifiers. Identifiers win
// over names when both are present.
func WithIDKeys(keys ...string) Option { return func(c *entryConfig) { c.idKeys = keys } }

// WithNameKeys sets the fields holding human readable place names.
func WithNameKeys(keys ...string) Option { return func(c *entryConfig) { c.nameKeys = keys } }

// WithFreeKeys sets the count fields, in order of preference.
func WithFreeKeys(keys ...string) Option { return func(c *entryConfig) { c.freeKeys = keys } }

// WithTotalKeys sets the capacity fields.
func WithTotalKeys(keys ...string) Option { return func(c *entryConfig) { c.allKeys = keys } }

// WithRepair applies r to every entry before mapping.
func WithRepair(r Repair) Option { return func(c *entryConfig) { c.repair = r } }

// WithFilter drops repaired entries for which keep returns false.
func WithFilter(keep func(map[string]any) bool) Option { return func(c *entryConfig) { c.keep = keep } }

func newEntryConfig(opts []Option) entryConfig {
	c := entryConfig{
		idKeys:   []string{"place_id"},
		nameKeys: []string{"place_name"},
		freeKeys: []string{"num_free", "num_current"},
		allKeys:  []string{"num_all"},
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Entries maps a list of raw entries to canonical observations.
//
// Every entry needs an identity (id or name field) and at least one count
// field; otherwise a *MissingFieldError is returned. A count field that is
// present but null or non-numeric yields an absent reading.
func Entries(sourceID string, raw any, opts ...Option) ([]model.Observation, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: want list of entries, got %T: %w", sourceID, raw, ErrUnexpectedShape)
	}
	c := newEntryConfig(opts)

	out := make([]model.Observation, 0, len(list))
	for i, it := range list {
		entry, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: entry %d is %T: %w", sourceID, i, it, ErrUnexpectedShape)
		}
		if c.repair != nil {
			entry = c.repair(entry, Version(entry))
		}
		if c.keep != nil && !c.keep(entry) {
			continue
		}

		placeID := ""
		if id := PickString(entry, c.idKeys...); id != "" {
			placeID = normalizeID(sourceID, id)
		} else if name := PickString(entry, c.nameKeys...); name != "" && Slug(name) != "" {
			placeID = PlaceID(sourceID, name)
		}
		if placeID == "" {
			return nil, &MissingFieldError{SourceID: sourceID, Index: i, Fields: append(append([]string{}, c.idKeys...), c.nameKeys...)}
		}

		free, _, ok := lookup(entry, c.freeKeys...)
		if !ok {
			return nil, &MissingFieldError{SourceID: sourceID, Index: i, Fields: c.freeKeys}
		}
		obs := model.Observation{PlaceID: placeID, NumFree: Int(free)}
		if all, _, ok := lookup(entry, c.allKeys...); ok {
			obs.NumAll = Int(all)
		}
		out = append(out, obs)
	}
	return out, nil
}
