package source

import (
	"context"
	"encoding/xml"
	"fmt"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/transform"
)

const bonnID = "bonn-bcp-parken"

// bonnSource reads the BCP XML feed. Car parks with a non-zero status are
// closed or not reporting.
type bonnSource struct {
	base
	feedURL string
}

func NewBonnSource(cfg config.SourceConfig, get Getter) *bonnSource {
	return &bonnSource{
		base:    base{id: bonnID, webURL: defaultStr(cfg.WebURL, "https://www.bcp-bonn.de/"), get: get},
		feedURL: defaultStr(cfg.URL, "http://www.bcp-bonn.de/stellplatz/bcpext.xml"),
	}
}

type bonnFeed struct {
	Parkhaus []struct {
		Lfdnr       string `xml:"lfdnr"`
		Bezeichnung string `xml:"bezeichnung"`
		Gesamt      string `xml:"gesamt"`
		Frei        string `xml:"frei"`
		Status      string `xml:"status"`
		Tendenz     string `xml:"tendenz"`
	} `xml:"parkhaus"`
}

func (s *bonnSource) download(ctx context.Context) ([]any, error) {
	body, err := s.get.Get(ctx, s.feedURL, nil)
	if err != nil {
		return nil, err
	}
	var feed bonnFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%s: decode xml: %w", s.id, err)
	}
	out := make([]any, 0, len(feed.Parkhaus))
	for _, p := range feed.Parkhaus {
		out = append(out, map[string]any{
			"lfdnr":       intOrNil(p.Lfdnr),
			"bezeichnung": p.Bezeichnung,
			"gesamt":      intOrNil(p.Gesamt),
			"frei":        intOrNil(p.Frei),
			"status":      intOrNil(p.Status),
			"tendenz":     intOrNil(p.Tendenz),
		})
	}
	return out, nil
}

func (s *bonnSource) DownloadSnapshot(ctx context.Context) (any, error) { return s.download(ctx) }

// DownloadMetadata reuses the feed: it is the only place names and
// capacities are published.
func (s *bonnSource) DownloadMetadata(ctx context.Context) (any, error) { return s.download(ctx) }

func (s *bonnSource) TransformSnapshot(raw any) ([]model.Observation, error) {
	return transform.Entries(s.id, raw,
		transform.WithIDKeys(),
		transform.WithNameKeys("bezeichnung"),
		transform.WithFreeKeys("frei"),
		transform.WithTotalKeys("gesamt"),
		transform.WithFilter(func(e map[string]any) bool {
			st := transform.Int(e["status"])
			return st != nil && *st == 0
		}),
	)
}

func (s *bonnSource) TransformMetadata(raw any) (model.Directory, error) {
	b := transform.NewDirectory(s.id, s.webURL)
	if raw == nil {
		return b.Directory(), nil
	}
	list, ok := raw.([]any)
	if !ok {
		return model.Directory{}, fmt.Errorf("%s: want list, got %T: %w", s.id, raw, transform.ErrUnexpectedShape)
	}
	for _, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name := transform.PickString(m, "bezeichnung")
		if name == "" {
			continue
		}
		if err := b.Add(model.Place{PlaceName: name, CityName: "Bonn", NumAll: transform.Int(m["gesamt"])}); err != nil {
			return model.Directory{}, err
		}
	}
	return b.Directory(), nil
}
