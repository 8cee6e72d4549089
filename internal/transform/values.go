package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"time-value-analyser/occupancy-archive/internal/model"
)

// Int coerces a decoded JSON value to an integer count. Anything that is not
// a number or a numeric string yields nil, the absent value.
func Int(v any) *int {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return model.Int(n)
	case int64:
		return model.Int(int(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return model.Int(int(math.Round(n)))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return model.Int(int(i))
		}
		if f, err := n.Float64(); err == nil {
			return Int(f)
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return model.Int(i)
		}
	}
	return nil
}

// Float coerces a decoded JSON value to a float.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(n, ",", ".")), 64)
		return f, err == nil
	}
	return 0, false
}

// String renders scalars as trimmed strings; nil and containers yield "".
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool, int, int64:
		return fmt.Sprint(s)
	}
	return ""
}

// PickString returns the first non-empty string value among keys.
func PickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := String(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// lookup returns the value of the first key present in m, even if null.
func lookup(m map[string]any, keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, k, true
		}
	}
	return nil, "", false
}

// Coordinates understands [lat, lon], {"lat":..,"lon":..} and
// {"latitude":..,"longitude":..} shapes.
func Coordinates(v any) *model.LatLon {
	switch c := v.(type) {
	case []any:
		if len(c) != 2 {
			return nil
		}
		lat, ok1 := Float(c[0])
		lon, ok2 := Float(c[1])
		if ok1 && ok2 {
			return &model.LatLon{Lat: lat, Lon: lon}
		}
	case map[string]any:
		latV, _, ok1 := lookup(c, "lat", "latitude")
		lonV, _, ok2 := lookup(c, "lon", "lng", "longitude")
		if !ok1 || !ok2 {
			return nil
		}
		lat, ok1 := Float(latV)
		lon, ok2 := Float(lonV)
		if ok1 && ok2 {
			return &model.LatLon{Lat: lat, Lon: lon}
		}
	}
	return nil
}
