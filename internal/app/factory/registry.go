// Package factory maps actor type tags to constructors of their domain logic.
package factory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/app/config"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Definition is what a constructor receives about the actor it builds.
type Definition struct {
	ID      string
	Type    string
	Inputs  []string
	Outputs []string
	Params  yaml.Node
}

// FromConfig converts a configured actor into a Definition.
func FromConfig(a config.ActorConfig) Definition {
	return Definition{
		ID:      a.ID,
		Type:    a.Type,
		Inputs:  append([]string(nil), a.Inputs...),
		Outputs: append([]string(nil), a.Outputs...),
		Params:  a.Params,
	}
}

// Decode decodes the params block into v. A missing block leaves v untouched.
func (d Definition) Decode(v any) error {
	if d.Params.Kind == 0 {
		return nil
	}
	if err := d.Params.Decode(v); err != nil {
		return fmt.Errorf("%w: actor %q params: %v", domain.ErrConfiguration, d.ID, err)
	}
	return nil
}

// HasInput reports whether ch is one of the declared inputs.
func (d Definition) HasInput(ch string) bool {
	for _, in := range d.Inputs {
		if in == ch {
			return true
		}
	}
	return false
}

// Deps are the shared services handed to every constructor.
type Deps struct {
	Obs ports.Observability
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Obs == nil {
		d.Obs = observability.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type Constructor func(def Definition, deps Deps) (ports.Logic, error)

// Registry holds constructors by type tag.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor. Empty tags and duplicate tags are rejected.
func (r *Registry) Register(tag string, c Constructor) error {
	if tag == "" {
		return fmt.Errorf("%w: empty actor type", domain.ErrConfiguration)
	}
	if c == nil {
		return fmt.Errorf("%w: nil constructor for actor type %q", domain.ErrConfiguration, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ctors[tag]; dup {
		return fmt.Errorf("%w: actor type %q already registered", domain.ErrConfiguration, tag)
	}
	r.ctors[tag] = c
	return nil
}

// Build constructs the logic for def.
func (r *Registry) Build(def Definition, deps Deps) (ports.Logic, error) {
	r.mu.RLock()
	c, ok := r.ctors[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: actor %q: unknown type %q", domain.ErrConfiguration, def.ID, def.Type)
	}

	logic, err := c(def, deps.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("actor %q (%s): %w", def.ID, def.Type, err)
	}
	if logic == nil {
		return nil, fmt.Errorf("%w: actor %q: constructor for %q returned no logic", domain.ErrConfiguration, def.ID, def.Type)
	}
	return logic, nil
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
