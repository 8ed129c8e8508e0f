package permitsync

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/adapter"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

// Source is a registered source: its descriptor, the adapter built for its
// strategy and its retry policy.
type Source struct {
	Desc    model.SourceDescriptor
	Adapter adapter.Adapter
	Policy  resilience.Policy
}

// ID returns the source id.
func (s *Source) ID() string { return s.Desc.ID }

// ErrUnknownSource is returned for ids that are not registered.
var ErrUnknownSource = errors.New("unknown source")

// Registry holds sources in registration order.
type Registry struct {
	sources map[string]*Source
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register adds a source. Ids must be unique.
func (r *Registry) Register(s *Source) error {
	if s == nil || s.Adapter == nil {
		return eris.New("permitsync: source without adapter")
	}
	id := s.ID()
	if _, dup := r.sources[id]; dup {
		return eris.Errorf("permitsync: duplicate source %q", id)
	}
	r.sources[id] = s
	r.order = append(r.order, id)
	return nil
}

// Get returns a source by id.
func (r *Registry) Get(id string) (*Source, error) {
	s, ok := r.sources[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "permitsync: get %q", id)
	}
	return s, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []*Source {
	out := make([]*Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// Select returns the named sources, or all sources when ids is empty.
func (r *Registry) Select(ids []string) ([]*Source, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	out := make([]*Source, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int { return len(r.order) }

// BuildRegistry validates descs, builds an adapter and retry policy for each
// enabled source and registers them. Configuration problems are permanent
// errors naming the offending source.
func BuildRegistry(descs []model.SourceDescriptor, deps adapter.Deps, base resilience.Policy) (*Registry, error) {
	reg := NewRegistry()
	for _, desc := range descs {
		if desc.Disabled {
			continue
		}
		if err := desc.Validate(); err != nil {
			return nil, resilience.NewError(resilience.KindPermanent, "permitsync: source config", err)
		}
		a, err := adapter.New(desc, deps)
		if err != nil {
			return nil, err
		}
		policy, err := resilience.FromSettings(desc.Retry, base)
		if err != nil {
			return nil, eris.Wrapf(err, "permitsync: source %q", desc.ID)
		}
		if err := reg.Register(&Source{Desc: desc, Adapter: a, Policy: policy}); err != nil {
			return nil, resilience.NewError(resilience.KindPermanent, "permitsync: source config", err)
		}
	}
	return reg, nil
}
