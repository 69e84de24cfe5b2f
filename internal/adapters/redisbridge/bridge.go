// Package redisbridge mirrors selected local channels over Redis pub/sub so
// that several runtimes can share alarm and feature channels.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// OriginAttr marks payloads that arrived from another instance. The bridge
// never forwards such payloads back out.
const OriginAttr = "aegis.origin"

const publishTimeout = 2 * time.Second

type Config struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	Channels []string `yaml:"channels"`
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("redis addr is required")
	}
	if len(c.Channels) == 0 {
		return errors.New("redis bridge needs at least one channel")
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch == "" {
			return errors.New("redis bridge channel must not be empty")
		}
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("redis bridge channel %q listed twice", ch)
		}
		seen[ch] = struct{}{}
	}
	return nil
}

// Envelope is the wire form of a bridged payload.
type Envelope struct {
	Origin  string         `json:"origin"`
	Channel string         `json:"channel"`
	Payload domain.Payload `json:"payload"`
}

// Transport is the slice of Redis the bridge needs.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topics ...string) (Inbox, error)
	Close() error
}

// Inbox delivers raw messages for the subscribed topics until closed.
type Inbox interface {
	Messages() <-chan []byte
	Close() error
}

type Bridge struct {
	cfg    Config
	origin string
	tr     Transport
	obs    ports.Observability

	bridged map[string]struct{}

	mu      sync.Mutex
	subs    []ports.Subscription
	inbox   Inbox
	wg      sync.WaitGroup
	started bool
}

// New builds a bridge for the instance identified by origin.
func New(cfg Config, origin string, tr Transport, obs ports.Observability) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if origin == "" {
		return nil, errors.New("redis bridge origin is required")
	}
	if tr == nil {
		return nil, errors.New("redis bridge transport is required")
	}
	if obs == nil {
		obs = observability.Nop{}
	}
	b := &Bridge{cfg: cfg, origin: origin, tr: tr, obs: obs, bridged: make(map[string]struct{}, len(cfg.Channels))}
	for _, ch := range cfg.Channels {
		b.bridged[ch] = struct{}{}
	}
	return b, nil
}

func (b *Bridge) Origin() string { return b.origin }

func (b *Bridge) topic(channel string) string { return b.cfg.Prefix + channel }

// Start subscribes to the Redis topics first and then to the local channels,
// so nothing published locally is lost while the remote side comes up.
func (b *Bridge) Start(ctx context.Context, reg ports.Registry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("redis bridge already started")
	}

	topics := make([]string, 0, len(b.cfg.Channels))
	for _, ch := range b.cfg.Channels {
		topics = append(topics, b.topic(ch))
	}
	inbox, err := b.tr.Subscribe(ctx, topics...)
	if err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	subs := make([]ports.Subscription, 0, len(b.cfg.Channels))
	for _, ch := range b.cfg.Channels {
		sub, err := reg.Subscribe(ch, b.outbound)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			_ = inbox.Close()
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		subs = append(subs, sub)
	}

	b.subs = subs
	b.inbox = inbox
	b.started = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.inbound(reg, inbox.Messages())
	}()
	b.obs.LogInfo("redis_bridge_started",
		ports.Field{Key: "origin", Value: b.origin},
		ports.Field{Key: "channels", Value: b.cfg.Channels})
	return nil
}

// Stop detaches from the local registry and closes the Redis subscription.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	subs, inbox := b.subs, b.inbox
	b.subs, b.inbox = nil, nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	err := inbox.Close()
	b.wg.Wait()
	return err
}

func (b *Bridge) outbound(channel string, p domain.Payload) {
	if _, remote := p.Attrs[OriginAttr]; remote {
		return
	}
	data, err := json.Marshal(Envelope{Origin: b.origin, Channel: channel, Payload: p})
	if err != nil {
		b.obs.LogWarn("redis_bridge_encode_failed",
			ports.Field{Key: "channel", Value: channel},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.tr.Publish(ctx, b.topic(channel), data); err != nil {
		b.obs.LogError("redis_bridge_publish_failed", err, ports.Field{Key: "channel", Value: channel})
		return
	}
	b.obs.IncCounter(observability.BridgeForwarded, 1, "out")
}

func (b *Bridge) inbound(reg ports.Registry, msgs <-chan []byte) {
	for data := range msgs {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.obs.LogWarn("redis_bridge_decode_failed", ports.Field{Key: "error", Value: err.Error()})
			continue
		}
		if env.Origin == b.origin {
			continue
		}
		if _, ok := b.bridged[env.Channel]; !ok {
			b.obs.LogWarn("redis_bridge_channel_ignored",
				ports.Field{Key: "channel", Value: env.Channel},
				ports.Field{Key: "origin", Value: env.Origin})
			continue
		}

		p := env.Payload
		attrs := make(map[string]any, len(p.Attrs)+1)
		for k, v := range p.Attrs {
			attrs[k] = v
		}
		attrs[OriginAttr] = env.Origin
		p.Attrs = attrs

		if err := reg.Publish(env.Channel, p); err != nil {
			b.obs.LogWarn("redis_bridge_local_publish_failed",
				ports.Field{Key: "channel", Value: env.Channel},
				ports.Field{Key: "error", Value: err.Error()})
			continue
		}
		b.obs.IncCounter(observability.BridgeForwarded, 1, "in")
	}
}
