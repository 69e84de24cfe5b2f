package aegiscdss

import (
	"log/slog"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/adapters/redisbridge"
)

// Option customizes the dependencies used by Runtime.
type Option func(*runtimeOverrides)

type runtimeOverrides struct {
	observability Observability
	logger        *slog.Logger
	instanceID    string
	now           func() time.Time
	collectors    []namedCollector
	sinks         []attachedSink
	transport     redisbridge.Transport
	types         []customType
	actors        []programmaticActor
}

type customType struct {
	tag  string
	ctor Constructor
}

type programmaticActor struct {
	cfg   ActorConfig
	logic Logic
}

// WithObservability plugs in a custom observability backend. The runtime then
// exposes no Prometheus registry of its own.
func WithObservability(obs Observability) Option {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger replaces the slog logger built from the logging config.
func WithLogger(l *slog.Logger) Option {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithInstanceID fixes the runtime identity instead of generating a UUID.
func WithInstanceID(id string) Option {
	return func(o *runtimeOverrides) {
		o.instanceID = id
	}
}

// WithClock sets the clock used to stamp payloads that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *runtimeOverrides) {
		o.now = now
	}
}

// WithCollector adds a collector (simulator, MQTT client, HL7 listener, ...)
// whose updates are published on the runtime bus.
func WithCollector(name string, col Collector) Option {
	return func(o *runtimeOverrides) {
		if col != nil {
			o.collectors = append(o.collectors, namedCollector{name: name, col: col})
		}
	}
}

// WithSink delivers every payload published on channels to s.
func WithSink(s Sink, channels ...string) Option {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, attachedSink{sink: s, channels: append([]string(nil), channels...)})
		}
	}
}

// WithActorType registers a custom actor type usable from the config file.
func WithActorType(tag string, ctor Constructor) Option {
	return func(o *runtimeOverrides) {
		o.types = append(o.types, customType{tag: tag, ctor: ctor})
	}
}

// WithActor adds an actor built in code. It joins the configured actors in
// topology validation.
func WithActor(cfg ActorConfig, logic Logic) Option {
	return func(o *runtimeOverrides) {
		o.actors = append(o.actors, programmaticActor{cfg: cfg, logic: logic})
	}
}

// WithRedisTransport replaces the go-redis connection of the bridge.
func WithRedisTransport(tr redisbridge.Transport) Option {
	return func(o *runtimeOverrides) {
		o.transport = tr
	}
}
