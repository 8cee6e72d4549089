package source

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"time-value-analyser/occupancy-archive/internal/filter"
	"time-value-analyser/occupancy-archive/internal/model"
)

// Source is the capability set of one provider. Download* talk to the
// provider; Transform* interpret stored raw payloads and must be pure, since
// they run over years of history at read time.
type Source interface {
	ID() string
	WebURL() string
	// DownloadSnapshot returns the current raw occupancy payload.
	DownloadSnapshot(ctx context.Context) (any, error)
	// DownloadMetadata returns the raw place directory, or nil if the
	// provider publishes none.
	DownloadMetadata(ctx context.Context) (any, error)
	TransformSnapshot(raw any) ([]model.Observation, error)
	TransformMetadata(raw any) (model.Directory, error)
}

// Getter downloads a URL; *util.Fetcher implements it.
type Getter interface {
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// ErrNoSources is returned when a filter leaves no source. Callers must
// treat it as fatal.
var ErrNoSources = errors.New("no source matches the given filters")

type DuplicateSourceError struct {
	ID string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("source_id %q already registered by a different source", e.ID)
}

type UnknownSourceError struct {
	ID string
}

func (e *UnknownSourceError) Error() string { return fmt.Sprintf("unknown source_id %q", e.ID) }

// Registry maps source ids to sources. It is filled once at startup and only
// read afterwards.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func same(a, b Source) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Register adds s. Registering the identical source twice is a no-op;
// a different source under a taken id is a *DuplicateSourceError.
func (r *Registry) Register(s Source) error {
	if s == nil || s.ID() == "" {
		return errors.New("register: source without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sources[s.ID()]; ok {
		if same(prev, s) {
			return nil
		}
		return &DuplicateSourceError{ID: s.ID()}
	}
	r.sources[s.ID()] = s
	return nil
}

func (r *Registry) Resolve(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, &UnknownSourceError{ID: id}
	}
	return s, nil
}

// IDs returns all registered ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the sources whose id matches any include expression (all if
// none given) and no exclude expression, sorted by id. An empty result is
// reported as ErrNoSources rather than returned silently.
func (r *Registry) List(include, exclude []string) ([]Source, error) {
	inc, err := filter.New(include...)
	if err != nil {
		return nil, err
	}
	exc, err := filter.New(exclude...)
	if err != nil {
		return nil, err
	}
	var out []Source
	for _, id := range r.IDs() {
		if filter.Allow(id, inc, exc) {
			s, _ := r.Resolve(id)
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoSources
	}
	return out, nil
}
