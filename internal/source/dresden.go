package source

import (
	"context"

	"golang.org/x/net/html"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/transform"
)

const dresdenID = "dresden-parken"

// dresdenVersion is written into every entry captured by this collector.
// Version 1 payloads stored the free count (the "Frei" column) as
// num_current; version 2 stores it as num_free.
const dresdenVersion = 2

var dresdenRepair = transform.Rename("num_current", "num_free", dresdenVersion)

type dresdenSource struct {
	base
}

func NewDresdenSource(cfg config.SourceConfig, get Getter) *dresdenSource {
	return &dresdenSource{base{id: dresdenID, webURL: defaultStr(cfg.URL, "https://www.dresden.de/freie-parkplaetze"), get: get}}
}

func (s *dresdenSource) DownloadSnapshot(ctx context.Context) (any, error) {
	body, err := s.get.Get(ctx, s.webURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	var out []any
	for _, div := range findAll(doc, "div", func(n *html.Node) bool { return hasClass(n, "element_table") }) {
		thead := findFirst(div, "thead", nil)
		tbody := findFirst(div, "tbody", nil)
		if thead == nil || tbody == nil {
			continue
		}
		ths := findAll(thead, "th", nil)
		if len(ths) < 2 {
			continue
		}
		group := text(ths[1])

		for _, tr := range findAll(tbody, "tr", nil) {
			tds := children(tr, "td")
			if len(tds) < 4 {
				continue
			}
			cell := func(i int) string {
				if c := findFirst(tds[i], "div", func(n *html.Node) bool { return hasClass(n, "content") }); c != nil {
					return text(c)
				}
				return text(tds[i])
			}
			out = append(out, map[string]any{
				transform.VersionKey: dresdenVersion,
				"group_name":         group,
				"place_name":         cell(1),
				"num_all":            intOrNil(cell(2)),
				"num_free":           intOrNil(cell(3)),
			})
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func (s *dresdenSource) DownloadMetadata(context.Context) (any, error) { return nil, nil }

func (s *dresdenSource) TransformSnapshot(raw any) ([]model.Observation, error) {
	return transform.Entries(s.id, raw, transform.WithRepair(dresdenRepair))
}

func (s *dresdenSource) TransformMetadata(raw any) (model.Directory, error) {
	return transform.Places(s.id, s.webURL, raw)
}
