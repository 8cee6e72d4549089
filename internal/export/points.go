package export

import (
	"sort"
	"strings"

	"time-value-analyser/occupancy-archive/internal/model"
)

const Measurement = "occupancy"

// Points converts every present observation of set into a sink point,
// enriched with place metadata from dirs when known. The result is ordered by
// timestamp, then place_id.
func Points(set model.SeriesSet, dirs []model.Directory) []model.Point {
	type known struct {
		sourceID string
		place    model.Place
	}
	places := map[string]known{}
	for _, d := range dirs {
		for id, p := range d.Places {
			places[id] = known{sourceID: d.SourceID, place: p}
		}
	}
	var out []model.Point
	for _, placeID := range sortedKeys(set) {
		k, ok := places[placeID]
		sourceID := k.sourceID
		if !ok {
			sourceID = guessSource(dirs, placeID)
		}
		tags := map[string]string{"place_id": placeID}
		if sourceID != "" {
			tags["source_id"] = sourceID
		}
		if k.place.PlaceName != "" {
			tags["place_name"] = k.place.PlaceName
		}
		if k.place.CityName != "" {
			tags["city_name"] = k.place.CityName
		}
		for _, e := range set[placeID] {
			if e.NumFree == nil {
				continue
			}
			fields := map[string]float64{"num_free": float64(*e.NumFree)}
			if k.place.NumAll != nil {
				fields["num_all"] = float64(*k.place.NumAll)
			}
			out = append(out, model.Point{Measurement: Measurement, Tags: tags, Timestamp: e.Timestamp, Fields: fields})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func guessSource(dirs []model.Directory, placeID string) string {
	best := ""
	for _, d := range dirs {
		if strings.HasPrefix(placeID, d.SourceID+"-") && len(d.SourceID) > len(best) {
			best = d.SourceID
		}
	}
	return best
}
