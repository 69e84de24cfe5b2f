package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/adapters/opcua"
	"github.com/ghalamif/AegisCDSS/internal/adapters/redisbridge"
	"github.com/ghalamif/AegisCDSS/internal/adapters/replay"
	"github.com/ghalamif/AegisCDSS/internal/adapters/tracing"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// DefaultVersion is assumed when a file carries no version key.
const DefaultVersion = "1.0"

// SupportedVersions is the range of configuration schema versions Load accepts.
const SupportedVersions = ">= 1.0, < 2.0"

type Config struct {
	Version string                      `yaml:"version"`
	Bus     ports.DispatchPolicy        `yaml:"bus"`
	Metrics MetricsConfig               `yaml:"metrics"`
	Logging observability.LoggingConfig `yaml:"logging"`
	Tracing tracing.Config              `yaml:"tracing"`
	Redis   RedisConfig                 `yaml:"redis"`
	OPCUA   OPCUAConfig                 `yaml:"opcua"`
	Replay  ReplayConfig                `yaml:"replay"`
	Actors  []ActorConfig               `yaml:"actors"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled            bool `yaml:"enabled"`
	redisbridge.Config `yaml:",inline"`
}

type OPCUAConfig struct {
	Enabled      bool `yaml:"enabled"`
	opcua.Config `yaml:",inline"`
}

type ReplayConfig struct {
	Enabled       bool `yaml:"enabled"`
	replay.Config `yaml:",inline"`
}

// ActorConfig declares one actor. Rules is a list of rule-sets, each mapping a
// channel to a condition token; Params is decoded by the actor's constructor.
type ActorConfig struct {
	ID      string              `yaml:"id"`
	Type    string              `yaml:"type"`
	Inputs  []string            `yaml:"inputs"`
	Outputs []string            `yaml:"outputs"`
	Rules   []map[string]string `yaml:"rules"`
	Params  yaml.Node           `yaml:"params"`
}

// RuleExpression parses the actor's rules. Without rules, a message on any
// input fires the actor.
func (a ActorConfig) RuleExpression() (domain.RuleExpression, error) {
	if len(a.Rules) == 0 {
		return domain.AnyOf(a.Inputs...), nil
	}
	expr, err := domain.ParseRuleExpression(a.Rules)
	if err != nil {
		return nil, fmt.Errorf("actor %q: %w", a.ID, err)
	}
	return expr, nil
}

// Load reads path. A relative replay path is resolved against the directory
// of the config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Replay.Path != "" && !filepath.IsAbs(cfg.Replay.Path) {
		cfg.Replay.Path = filepath.Join(filepath.Dir(path), cfg.Replay.Path)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Bus.Mode == "" {
		c.Bus.Mode = ports.DispatchPerHandler
	}
	if c.Bus.MaxBatch == 0 {
		c.Bus.MaxBatch = 64
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.TimeFormat == "" {
		c.Logging.TimeFormat = observability.DefaultTimeFormat
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "aegis-cdss"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "aegis:"
	}
	if c.Replay.Speed < 0 {
		c.Replay.Speed = 0
	}

	if c.OPCUA.Enabled {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}
	if _, err := ports.ParseDispatchMode(string(c.Bus.Mode)); err != nil {
		return fmt.Errorf("%w: bus: %v", domain.ErrConfiguration, err)
	}
	if c.Bus.Workers < 0 {
		return fmt.Errorf("%w: bus.workers must not be negative", domain.ErrConfiguration)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required", domain.ErrConfiguration)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0, 1]", domain.ErrConfiguration)
	}
	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("%w: redis config: %v", domain.ErrConfiguration, err)
		}
	}
	if c.OPCUA.Enabled {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("%w: opcua config: %v", domain.ErrConfiguration, err)
		}
	}
	if c.Replay.Enabled && c.Replay.Path == "" {
		return fmt.Errorf("%w: replay.path is required", domain.ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(c.Actors))
	for i, a := range c.Actors {
		if a.ID == "" {
			return fmt.Errorf("%w: actors[%d]: id is required", domain.ErrConfiguration, i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: duplicate actor id %q", domain.ErrConfiguration, a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Type == "" {
			return fmt.Errorf("%w: actor %q: type is required", domain.ErrConfiguration, a.ID)
		}
		if err := noDuplicates(a.Inputs); err != nil {
			return fmt.Errorf("%w: actor %q inputs: %v", domain.ErrConfiguration, a.ID, err)
		}
		if err := noDuplicates(a.Outputs); err != nil {
			return fmt.Errorf("%w: actor %q outputs: %v", domain.ErrConfiguration, a.ID, err)
		}
		expr, err := a.RuleExpression()
		if err != nil {
			return err
		}
		if err := expr.Validate(a.Inputs); err != nil {
			return fmt.Errorf("actor %q: %w", a.ID, err)
		}
	}
	return nil
}

func checkVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: version %q: %v", domain.ErrConfiguration, raw, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: version %s is not supported (want %s)", domain.ErrConfiguration, v, SupportedVersions)
	}
	return nil
}

func noDuplicates(chs []string) error {
	seen := make(map[string]struct{}, len(chs))
	for _, ch := range chs {
		if ch == "" {
			return fmt.Errorf("empty channel name")
		}
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("duplicate channel %q", ch)
		}
		seen[ch] = struct{}{}
	}
	return nil
}

