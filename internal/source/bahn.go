package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/transform"
)

const bahnID = "bahn-api-parken"

// The API only publishes coarse buckets for free spaces.
var bahnBuckets = map[string]int{
	"bis 10": 10,
	"> 10":   20,
	"> 30":   40,
	"> 50":   60,
}

type bahnSource struct {
	base
	spacesURL string
	token     string
}

func NewBahnSource(cfg config.SourceConfig, get Getter) *bahnSource {
	return &bahnSource{
		base:      base{id: bahnID, webURL: defaultStr(cfg.URL, "https://api.deutschebahn.com/bahnpark/v1/spaces/occupancies"), get: get},
		spacesURL: defaultStr(cfg.MetadataURL, "https://api.deutschebahn.com/bahnpark/v1/spaces"),
		token:     strings.TrimSpace(cfg.Token),
	}
}

func (s *bahnSource) headers() (map[string]string, error) {
	if s.token == "" {
		return nil, errors.New("bahn: no api token configured (BAHN_API_TOKEN)")
	}
	return map[string]string{
		"Accept":        "application/json;charset=utf-8",
		"Authorization": "Bearer " + s.token,
	}, nil
}

func (s *bahnSource) DownloadSnapshot(ctx context.Context) (any, error) {
	h, err := s.headers()
	if err != nil {
		return nil, err
	}
	return s.getJSON(ctx, s.webURL, h)
}

func (s *bahnSource) DownloadMetadata(ctx context.Context) (any, error) {
	h, err := s.headers()
	if err != nil {
		return nil, err
	}
	return s.getJSON(ctx, s.spacesURL, h)
}

func bahnFree(text string) any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if n, ok := bahnBuckets[text]; ok {
		return n
	}
	fields := strings.Fields(text)
	return intOrNil(fields[len(fields)-1])
}

// TransformSnapshot accepts the full API document as well as the bare
// allocation list that early collector versions stored. A document without
// allocations is an API error response and yields no observations.
func (s *bahnSource) TransformSnapshot(raw any) ([]model.Observation, error) {
	var list []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		list = v
	case map[string]any:
		a, ok := v["allocations"].([]any)
		if !ok {
			return nil, nil
		}
		list = a
	default:
		return nil, fmt.Errorf("%s: got %T: %w", s.id, raw, transform.ErrUnexpectedShape)
	}

	entries := make([]any, 0, len(list))
	for _, it := range list {
		e, ok := it.(map[string]any)
		if !ok {
			entries = append(entries, it)
			continue
		}
		space, _ := e["space"].(map[string]any)
		flat := map[string]any{}
		if space != nil {
			flat["place_name"] = transform.PickString(space, "name", "nameDisplay", "title")
		}
		if alloc, ok := e["allocation"].(map[string]any); ok {
			flat["num_all"] = alloc["capacity"]
			flat["num_free"] = bahnFree(transform.String(alloc["text"]))
		}
		entries = append(entries, flat)
	}
	return transform.Entries(s.id, entries)
}

func (s *bahnSource) TransformMetadata(raw any) (model.Directory, error) {
	b := transform.NewDirectory(s.id, s.webURL)
	var list []any
	switch v := raw.(type) {
	case nil:
		return b.Directory(), nil
	case []any:
		list = v
	case map[string]any:
		list, _ = v["items"].([]any)
	default:
		return model.Directory{}, fmt.Errorf("%s: got %T: %w", s.id, raw, transform.ErrUnexpectedShape)
	}
	for _, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name := transform.PickString(m, "name", "nameDisplay", "title")
		if name == "" {
			continue
		}
		p := model.Place{
			PlaceName:   name,
			PlaceURL:    transform.PickString(m, "url"),
			NumAll:      transform.Int(m["numberParkingPlaces"]),
			Coordinates: transform.Coordinates(m["geoLocation"]),
		}
		if addr, ok := m["address"].(map[string]any); ok {
			p.CityName = transform.PickString(addr, "cityName", "city")
			parts := []string{}
			if street := transform.PickString(addr, "street"); street != "" {
				parts = append(parts, street)
			}
			if loc := strings.TrimSpace(transform.PickString(addr, "postalCode") + " " + p.CityName); loc != "" {
				parts = append(parts, loc)
			}
			p.Address = strings.Join(parts, ", ")
		}
		if err := b.Add(p); err != nil {
			return model.Directory{}, err
		}
	}
	return b.Directory(), nil
}
