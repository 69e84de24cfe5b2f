package aegiscdss

import (
	base "github.com/ghalamif/AegisCDSS/pkg/aegiscdss"
)

// Re-exported errors for convenience.
var (
	ErrConfiguration     = base.ErrConfiguration
	ErrCyclicTopology    = base.ErrCyclicTopology
	ErrNotRunning        = base.ErrNotRunning
	ErrAlreadyStarted    = base.ErrAlreadyStarted
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisCDSS directly.
type (
	Config          = base.Config
	ActorConfig     = base.ActorConfig
	DispatchPolicy  = base.DispatchPolicy
	MetricsConfig   = base.MetricsConfig
	LoggingConfig   = base.LoggingConfig
	TracingConfig   = base.TracingConfig
	RedisConfig     = base.RedisConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	ReplayConfig    = base.ReplayConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	Option          = base.Option
	Publisher       = base.Publisher
	Payload         = base.Payload
	Update          = base.Update
	Snapshot        = base.Snapshot
	Logic           = base.Logic
	LogicFunc       = base.LogicFunc
	Emitter         = base.Emitter
	Collector       = base.Collector
	Observability   = base.Observability
	Field           = base.Field
	Graph           = base.Graph
	CycleError      = base.CycleError
	Definition      = base.Definition
	Deps            = base.Deps
	Constructor     = base.Constructor
	Sink            = base.Sink
	Warning         = base.Warning
	WarningFunc     = base.WarningFunc
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...Option) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(name string, col Collector) StreamInOption {
	return base.StreamInCollector(name, col)
}

func StreamInActor(cfg ActorConfig, logic Logic) StreamInOption {
	return base.StreamInActor(cfg, logic)
}

func StreamInActorType(tag string, ctor Constructor) StreamInOption {
	return base.StreamInActorType(tag, ctor)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink, channels ...string) StreamOutOption {
	return base.StreamOutSink(s, channels...)
}

func StreamOutCallback(name string, fn WarningFunc, channels ...string) StreamOutOption {
	return base.StreamOutCallback(name, fn, channels...)
}

func StreamOutLeafs(s Sink) StreamOutOption {
	return base.StreamOutLeafs(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithCollector(name string, col Collector) Option {
	return base.WithCollector(name, col)
}

func WithSink(s Sink, channels ...string) Option {
	return base.WithSink(s, channels...)
}

func WithActorType(tag string, ctor Constructor) Option {
	return base.WithActorType(tag, ctor)
}

func WithActor(cfg ActorConfig, logic Logic) Option {
	return base.WithActor(cfg, logic)
}

// Sink adapters.
func NewCallbackSink(name string, fn WarningFunc) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan Warning, func()) {
	return base.NewChannelSink(name, buffer)
}
