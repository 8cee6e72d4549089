package source

import (
	"context"
	"net/url"

	"golang.org/x/net/html"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/transform"
)

const ulmID = "parken-in-ulm"

type ulmSource struct {
	base
}

func NewUlmSource(cfg config.SourceConfig, get Getter) *ulmSource {
	return &ulmSource{base{id: ulmID, webURL: defaultStr(cfg.URL, "https://www.parken-in-ulm.de/"), get: get}}
}

type ulmRow struct {
	name, href, total, free string
}

func children(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	}
	return out
}

func (s *ulmSource) rows(ctx context.Context) ([]ulmRow, error) {
	body, err := s.get.Get(ctx, s.webURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	var rows []ulmRow
	tables := findAll(doc, "table", func(n *html.Node) bool { return attr(n, "width") == "790" })
	for _, table := range tables {
		for _, tr := range findAll(table, "tr", func(n *html.Node) bool { return attr(n, "id") != "" }) {
			tds := children(tr, "td")
			if len(tds) < 4 {
				continue
			}
			r := ulmRow{name: text(tds[0]), total: text(tds[1]), free: text(tds[2])}
			if a := findFirst(tds[0], "a", nil); a != nil {
				r.href = attr(a, "href")
			}
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func (s *ulmSource) DownloadSnapshot(ctx context.Context) (any, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]any{
			"place_name":  r.name,
			"num_all":     intOrNil(r.total),
			"num_current": intOrNil(r.free),
		})
	}
	return out, nil
}

func (s *ulmSource) DownloadMetadata(ctx context.Context) (any, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(s.webURL)
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		place := map[string]any{
			"place_name": r.name,
			"city_name":  "Ulm",
			"num_all":    intOrNil(r.total),
		}
		if r.href != "" && baseURL != nil {
			if ref, err := url.Parse(r.href); err == nil {
				place["place_url"] = baseURL.ResolveReference(ref).String()
			}
		}
		out = append(out, place)
	}
	return out, nil
}

func (s *ulmSource) TransformSnapshot(raw any) ([]model.Observation, error) {
	return transform.Entries(s.id, raw)
}

func (s *ulmSource) TransformMetadata(raw any) (model.Directory, error) {
	return transform.Places(s.id, s.webURL, raw)
}
