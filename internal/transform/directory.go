package transform

import (
	"fmt"
	"strings"

	"time-value-analyser/occupancy-archive/internal/model"
)

// DirectoryBuilder collects places of one source and guards place_id
// uniqueness.
type DirectoryBuilder struct {
	dir model.Directory
}

func NewDirectory(sourceID, webURL string) *DirectoryBuilder {
	return &DirectoryBuilder{dir: model.Directory{
		SourceID:     sourceID,
		SourceWebURL: webURL,
		Places:       make(map[string]model.Place),
	}}
}

func sameName(a, b string) bool {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(Fold(s))), " ") }
	return norm(a) == norm(b)
}

// Add inserts p. An empty PlaceID is derived from PlaceName. Adding a place
// whose id is taken by a differently named place fails with
// *InconsistentDirectoryError; a repeat of the same place only fills in
// fields the first entry left empty.
func (b *DirectoryBuilder) Add(p model.Place) error {
	if p.PlaceID == "" {
		p.PlaceID = PlaceID(b.dir.SourceID, p.PlaceName)
	}
	if p.PlaceID == "" || p.PlaceID == b.dir.SourceID {
		return &MissingFieldError{SourceID: b.dir.SourceID, Index: len(b.dir.Places), Fields: []string{"place_id", "place_name"}}
	}
	prev, ok := b.dir.Places[p.PlaceID]
	if !ok {
		b.dir.Places[p.PlaceID] = p
		return nil
	}
	if !sameName(prev.PlaceName, p.PlaceName) {
		return &InconsistentDirectoryError{SourceID: b.dir.SourceID, PlaceID: p.PlaceID, Names: [2]string{prev.PlaceName, p.PlaceName}}
	}
	if prev.PlaceURL == "" {
		prev.PlaceURL = p.PlaceURL
	}
	if prev.CityName == "" {
		prev.CityName = p.CityName
	}
	if prev.Address == "" {
		prev.Address = p.Address
	}
	if prev.Coordinates == nil {
		prev.Coordinates = p.Coordinates
	}
	if prev.NumAll == nil {
		prev.NumAll = p.NumAll
	}
	b.dir.Places[p.PlaceID] = prev
	return nil
}

func (b *DirectoryBuilder) Directory() model.Directory { return b.dir }

// Places maps a list of canonical-shaped metadata entries
// ({place_name, place_id?, place_url?, city_name?, address?, coordinates?,
// num_all?}) to a directory. Optional fields default to empty.
func Places(sourceID, webURL string, raw any) (model.Directory, error) {
	b := NewDirectory(sourceID, webURL)
	if raw == nil {
		return b.Directory(), nil
	}
	list, ok := raw.([]any)
	if !ok {
		return model.Directory{}, fmt.Errorf("%s: want list of places, got %T: %w", sourceID, raw, ErrUnexpectedShape)
	}
	for i, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			return model.Directory{}, fmt.Errorf("%s: place %d is %T: %w", sourceID, i, it, ErrUnexpectedShape)
		}
		p := model.Place{
			PlaceName: PickString(m, "place_name", "name"),
			PlaceURL:  PickString(m, "place_url", "url"),
			CityName:  PickString(m, "city_name", "city"),
			Address:   PickString(m, "address"),
			NumAll:    Int(m["num_all"]),
		}
		if id := PickString(m, "place_id"); id != "" {
			p.PlaceID = normalizeID(sourceID, id)
		}
		if p.PlaceName == "" {
			p.PlaceName = PickString(m, "place_id")
		}
		if c, ok := m["coordinates"]; ok {
			p.Coordinates = Coordinates(c)
		} else {
			p.Coordinates = Coordinates(m)
		}
		if err := b.Add(p); err != nil {
			return model.Directory{}, err
		}
	}
	return b.Directory(), nil
}
