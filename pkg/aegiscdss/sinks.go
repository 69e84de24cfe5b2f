package aegiscdss

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("aegiscdss: channel sink closed")

// Warning is one payload delivered to a sink, with the channel it was published on.
type Warning struct {
	Channel string
	Payload Payload
}

// WarningFunc handles warnings delivered to a callback sink.
type WarningFunc func(Warning) error

// Sink receives the payloads of the channels it is attached to, typically
// the warning channels at the leafs of the actor network.
type Sink interface {
	Deliver(w Warning) error
	Name() string
}

// NewCallbackSink adapts a WarningFunc into a Sink so callers can plug
// arbitrary functions without defining structs.
func NewCallbackSink(name string, fn WarningFunc) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes warnings via a channel; it returns the sink, the
// read-only channel, and a close function that the caller should invoke after
// the runtime has shut down.
func NewChannelSink(name string, buffer int) (Sink, <-chan Warning, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Warning, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   WarningFunc
}

func (s *callbackSink) Deliver(w Warning) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(w)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	mu     sync.RWMutex
	ch     chan Warning
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) Deliver(w Warning) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- w:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending deliveries before closing the channel they send on.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// Attach subscribes s to channels of a running runtime. The returned function
// detaches it again.
func (rt *Runtime) Attach(s Sink, channels ...string) (func(), error) {
	if s == nil {
		return nil, fmt.Errorf("sink is required")
	}
	subs, err := rt.attach(attachedSink{sink: s, channels: channels})
	if err != nil {
		return nil, err
	}
	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}, nil
}

func (rt *Runtime) attach(a attachedSink) ([]ports.Subscription, error) {
	if len(a.channels) == 0 {
		return nil, fmt.Errorf("%w: sink %q has no channels", ErrConfiguration, a.sink.Name())
	}
	subs := make([]ports.Subscription, 0, len(a.channels))
	for _, ch := range a.channels {
		sub, err := rt.bus.Subscribe(ch, func(channel string, p Payload) {
			if err := a.sink.Deliver(Warning{Channel: channel, Payload: p}); err != nil {
				rt.obs.LogError("sink_delivery_failed", err,
					ports.Field{Key: "sink", Value: a.sink.Name()},
					ports.Field{Key: "channel", Value: channel})
			}
		})
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, fmt.Errorf("attach sink %q to %s: %w", a.sink.Name(), ch, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
