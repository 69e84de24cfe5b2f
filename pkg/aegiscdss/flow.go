package aegiscdss

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → StreamIN → StreamOUT
// without touching the underlying hexagonal wiring.
type Flow struct {
	cfg  *Config
	opts []Option
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures what feeds the actor network (collectors, code-built actors).
type StreamInOption func(*Flow)

// StreamOutOption configures where warnings go and how the runtime reports.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw Option values to the builder for advanced scenarios.
func (f *Flow) Options(opts ...Option) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// StreamIN records input-side overrides.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records output-side overrides and builds a Runtime ready to run.
// The actor network is validated here.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends Option values during Conf.
func WithFlowOptions(opts ...Option) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInCollector injects a custom collector (MQTT, HL7, simulators, etc.).
func StreamInCollector(name string, col Collector) StreamInOption {
	return func(f *Flow) {
		if f != nil && col != nil {
			f.appendOptions(WithCollector(name, col))
		}
	}
}

// StreamInActor adds an actor built in code next to the configured ones.
func StreamInActor(cfg ActorConfig, logic Logic) StreamInOption {
	return func(f *Flow) {
		if f != nil && logic != nil {
			f.appendOptions(WithActor(cfg, logic))
		}
	}
}

// StreamInActorType registers a custom actor type referenced by the config.
func StreamInActorType(tag string, ctor Constructor) StreamInOption {
	return func(f *Flow) {
		if f != nil && ctor != nil {
			f.appendOptions(WithActorType(tag, ctor))
		}
	}
}

// StreamInObservability overrides the default Prometheus-based observability stack.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutSink attaches a Sink to the given channels.
func StreamOutSink(s Sink, channels ...string) StreamOutOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithSink(s, channels...))
		}
	}
}

// StreamOutCallback installs a sink built from a simple callback function.
func StreamOutCallback(name string, fn WarningFunc, channels ...string) StreamOutOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithSink(NewCallbackSink(name, fn), channels...))
		}
	}
}

// StreamOutLeafs attaches s to every output channel of the leaf actors, which
// is where the network's final warnings are published.
func StreamOutLeafs(s Sink) StreamOutOption {
	return func(f *Flow) {
		if f == nil || s == nil {
			return
		}
		leafs := leafOutputs(f.cfg.Actors)
		if len(leafs) > 0 {
			f.appendOptions(WithSink(s, leafs...))
		}
	}
}

// StreamOutObservability replaces the default observability backend.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

func (f *Flow) appendOptions(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}

// leafOutputs returns the outputs no configured actor consumes, in declaration order.
func leafOutputs(actors []ActorConfig) []string {
	consumed := make(map[string]struct{})
	for _, a := range actors {
		for _, in := range a.Inputs {
			consumed[in] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, a := range actors {
		for _, o := range a.Outputs {
			if _, ok := consumed[o]; ok {
				continue
			}
			if _, dup := seen[o]; dup {
				continue
			}
			seen[o] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}
