package model

import "time"

// PayloadClass names one of the independently partitioned persistence streams.
type PayloadClass string

const (
	ClassSnapshot PayloadClass = "snapshot"
	ClassMetadata PayloadClass = "metadata"
	ClassError    PayloadClass = "error"
)

// Classes lists every payload class in a fixed order.
var Classes = []PayloadClass{ClassSnapshot, ClassMetadata, ClassError}

func (c PayloadClass) Valid() bool {
	switch c {
	case ClassSnapshot, ClassMetadata, ClassError:
		return true
	}
	return false
}

// Snapshot is one stored raw payload. Payload is the decoded JSON value
// exactly as captured (object, array or scalar); it is never rewritten.
type Snapshot struct {
	SourceID  string
	Timestamp time.Time // UTC, second precision
	Class     PayloadClass
	Location  string // file path inside the store
	Payload   any
}

// Observation is the canonical reading of one place in one snapshot.
// NumFree == nil means the provider reported no reading (not zero).
type Observation struct {
	PlaceID string `json:"place_id"`
	NumFree *int   `json:"num_free"`
	NumAll  *int   `json:"num_all,omitempty"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is the canonical metadata of one physical place.
type Place struct {
	PlaceID     string  `json:"place_id"`
	PlaceName   string  `json:"place_name"`
	PlaceURL    string  `json:"place_url,omitempty"`
	CityName    string  `json:"city_name,omitempty"`
	Address     string  `json:"address,omitempty"`
	Coordinates *LatLon `json:"coordinates,omitempty"`
	NumAll      *int    `json:"num_all,omitempty"`
}

// Directory holds all known places of one source keyed by place_id.
type Directory struct {
	SourceID     string           `json:"source_id"`
	SourceWebURL string           `json:"source_web_url"`
	Places       map[string]Place `json:"places"`
}

// Entry is one point in a reconstructed place history.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	NumFree   *int      `json:"num_free"`
}

// Series is ordered by ascending Timestamp.
type Series []Entry

// SeriesSet maps place_id to its series. place_ids are source-prefixed, so
// sets of different sources can be merged by plain union.
type SeriesSet map[string]Series

// Point is one tagged numeric sample for an external time-series sink.
type Point struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Timestamp   time.Time          `json:"time"`
	Fields      map[string]float64 `json:"fields"`
}

// Int returns a pointer to v, handy for optional counts.
func Int(v int) *int { return &v }
