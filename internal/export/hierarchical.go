package export

import (
	"strings"

	"time-value-analyser/occupancy-archive/internal/model"
)

// PlaceExport is a place with its series attached.
type PlaceExport struct {
	model.Place
	Series model.Series `json:"series"`
}

// SourceExport groups the places of one source.
type SourceExport struct {
	SourceID     string                 `json:"source_id"`
	SourceWebURL string                 `json:"source_web_url"`
	Places       map[string]PlaceExport `json:"places"`
}

// Hierarchical nests set below the directories of their sources. Series
// without a directory entry are attached to the source whose id prefixes the
// place_id, with only the place_id filled in.
func Hierarchical(dirs []model.Directory, set model.SeriesSet) map[string]SourceExport {
	out := make(map[string]SourceExport, len(dirs))
	for _, d := range dirs {
		se := SourceExport{SourceID: d.SourceID, SourceWebURL: d.SourceWebURL, Places: map[string]PlaceExport{}}
		for id, p := range d.Places {
			se.Places[id] = PlaceExport{Place: p, Series: model.Series{}}
		}
		out[d.SourceID] = se
	}
	for placeID, s := range set {
		sourceID := owner(out, placeID)
		if sourceID == "" {
			continue
		}
		se := out[sourceID]
		pe, ok := se.Places[placeID]
		if !ok {
			pe = PlaceExport{Place: model.Place{PlaceID: placeID}}
		}
		pe.Series = s
		se.Places[placeID] = pe
	}
	return out
}

// owner returns the longest source id that prefixes placeID.
func owner(out map[string]SourceExport, placeID string) string {
	best := ""
	for id := range out {
		if strings.HasPrefix(placeID, id+"-") && len(id) > len(best) {
			best = id
		}
	}
	return best
}
