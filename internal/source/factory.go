package source

import (
	"fmt"

	"time-value-analyser/occupancy-archive/internal/config"
)

type constructor func(config.SourceConfig, Getter) Source

// builtins is the closed set of provider variants compiled into the binary.
var builtins = map[string]constructor{
	bahnID:    func(c config.SourceConfig, g Getter) Source { return NewBahnSource(c, g) },
	bonnID:    func(c config.SourceConfig, g Getter) Source { return NewBonnSource(c, g) },
	dresdenID: func(c config.SourceConfig, g Getter) Source { return NewDresdenSource(c, g) },
	ulmID:     func(c config.SourceConfig, g Getter) Source { return NewUlmSource(c, g) },
}

// NewFromConfig builds the process registry: every built-in provider that
// is not disabled, plus every configured generic provider. Id collisions
// fail startup.
func NewFromConfig(cfg *config.Config, get Getter) (*Registry, error) {
	reg := NewRegistry()
	for id, ctor := range builtins {
		sc := cfg.Lookup(id)
		if sc.Disabled || sc.Type != "" {
			continue
		}
		if err := reg.Register(ctor(sc, get)); err != nil {
			return nil, err
		}
	}
	for _, sc := range cfg.Sources {
		if sc.Disabled {
			continue
		}
		switch sc.Type {
		case "":
			if _, ok := builtins[sc.ID]; !ok {
				return nil, fmt.Errorf("source %q: not a built-in provider and no type given", sc.ID)
			}
		case "json":
			if err := reg.Register(NewJSONSource(sc, get)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("source %q: unknown type %q", sc.ID, sc.Type)
		}
	}
	return reg, nil
}
