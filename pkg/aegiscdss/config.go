package aegiscdss

import (
	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/adapters/opcua"
	"github.com/ghalamif/AegisCDSS/internal/adapters/redisbridge"
	"github.com/ghalamif/AegisCDSS/internal/adapters/tracing"
	"github.com/ghalamif/AegisCDSS/internal/app/config"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// ActorConfig declares one actor: channels, rules and type parameters.
	ActorConfig = config.ActorConfig
	// DispatchPolicy selects how the channel bus runs subscriber handlers.
	DispatchPolicy = ports.DispatchPolicy
	DispatchMode   = ports.DispatchMode
	// MetricsConfig configures the HTTP server carrying /metrics.
	MetricsConfig = config.MetricsConfig
	LoggingConfig = observability.LoggingConfig
	TracingConfig = tracing.Config
	RedisConfig   = config.RedisConfig
	// RedisBridgeConfig is the connection and channel list of the bridge.
	RedisBridgeConfig = redisbridge.Config
	OPCUAConfig       = config.OPCUAConfig
	// OPCUANodeConfig maps a monitored node to a channel.
	OPCUANodeConfig = opcua.NodeConfig
	ReplayConfig    = config.ReplayConfig
)

const (
	DispatchSequential = ports.DispatchSequential
	DispatchPerHandler = ports.DispatchPerHandler
	DispatchPool       = ports.DispatchPool
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes, defaults and validates an in-memory YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
