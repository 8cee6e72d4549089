package source

import (
	"context"
	"fmt"

	"time-value-analyser/occupancy-archive/internal/config"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/transform"
)

// jsonSource is a config-declared provider that already publishes a list of
// entries close to the canonical shape.
type jsonSource struct {
	base
	cfg config.SourceConfig
}

func NewJSONSource(cfg config.SourceConfig, get Getter) *jsonSource {
	return &jsonSource{base: base{id: cfg.ID, webURL: defaultStr(cfg.WebURL, cfg.URL), get: get}, cfg: cfg}
}

func (s *jsonSource) headers() map[string]string {
	if s.cfg.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.cfg.Token}
}

func (s *jsonSource) DownloadSnapshot(ctx context.Context) (any, error) {
	v, err := s.getJSON(ctx, s.cfg.URL, s.headers())
	if err != nil {
		return nil, err
	}
	items, ok := pathGet(v, s.cfg.ItemsPath)
	if !ok {
		return nil, fmt.Errorf("%s: items path %q not found", s.id, s.cfg.ItemsPath)
	}
	return items, nil
}

func (s *jsonSource) DownloadMetadata(ctx context.Context) (any, error) {
	if s.cfg.MetadataURL == "" {
		return nil, nil
	}
	return s.getJSON(ctx, s.cfg.MetadataURL, s.headers())
}

func (s *jsonSource) TransformSnapshot(raw any) ([]model.Observation, error) {
	opts := []transform.Option{}
	if s.cfg.NameField != "" {
		opts = append(opts, transform.WithNameKeys(s.cfg.NameField))
	}
	if s.cfg.FreeField != "" {
		opts = append(opts, transform.WithFreeKeys(s.cfg.FreeField))
	}
	if s.cfg.TotalField != "" {
		opts = append(opts, transform.WithTotalKeys(s.cfg.TotalField))
	}
	return transform.Entries(s.id, raw, opts...)
}

func (s *jsonSource) TransformMetadata(raw any) (model.Directory, error) {
	dir, err := transform.Places(s.id, s.webURL, raw)
	if err != nil {
		return model.Directory{}, err
	}
	if s.cfg.CityName != "" {
		for id, p := range dir.Places {
			if p.CityName == "" {
				p.CityName = s.cfg.CityName
				dir.Places[id] = p
			}
		}
	}
	return dir, nil
}
