package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/adapters/queue"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// ErrClosed is returned by Subscribe and Publish after Close.
var ErrClosed = errors.New("aegiscdss: registry closed")

const defaultMaxBatch = 64

// LocalBus is the in-process channel registry. Handlers run according to the
// dispatch mode: inline on the publisher, on a per-subscription goroutine, or on
// a fixed pool where each subscription is pinned to one worker. The two queued
// modes preserve per-subscription delivery order.
type LocalBus struct {
	policy ports.DispatchPolicy
	obs    ports.Observability

	mu      sync.RWMutex
	subs    map[string][]*subscription
	workers []*worker
	closed  bool

	next atomic.Uint64
	wg   sync.WaitGroup
}

type subscription struct {
	id      string
	channel string
	handler ports.Handler
	bus     *LocalBus
	worker  *worker
	owned   bool
	active  atomic.Bool
}

type worker struct {
	mb   ports.Mailbox
	quit chan struct{}
	once sync.Once
}

// New creates a bus. A nil obs discards logs and metrics.
func New(policy ports.DispatchPolicy, obs ports.Observability) (*LocalBus, error) {
	mode, err := ports.ParseDispatchMode(string(policy.Mode))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	policy.Mode = mode
	if policy.MaxBatch <= 0 {
		policy.MaxBatch = defaultMaxBatch
	}
	if obs == nil {
		obs = observability.Nop{}
	}

	b := &LocalBus{
		policy: policy,
		obs:    obs,
		subs:   make(map[string][]*subscription),
	}

	if mode == ports.DispatchPool {
		n := policy.Workers
		if n <= 0 {
			n = runtime.NumCPU()
		}
		b.policy.Workers = n
		b.workers = make([]*worker, n)
		for i := range b.workers {
			b.workers[i] = b.startWorker()
		}
	}
	return b, nil
}

func (b *LocalBus) Mode() ports.DispatchMode { return b.policy.Mode }

// Subscribe registers h for every payload published on channel.
func (b *LocalBus) Subscribe(channel string, h ports.Handler) (ports.Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("subscribe: empty channel name")
	}
	if h == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{
		id:      uuid.NewString(),
		channel: channel,
		handler: h,
		bus:     b,
	}
	sub.active.Store(true)

	switch b.policy.Mode {
	case ports.DispatchPerHandler:
		sub.worker = b.startWorker()
		sub.owned = true
	case ports.DispatchPool:
		idx := (b.next.Add(1) - 1) % uint64(len(b.workers))
		sub.worker = b.workers[idx]
	}

	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

// Publish delivers p to every current subscriber of channel.
func (b *LocalBus) Publish(channel string, p domain.Payload) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := b.subs[channel]
	b.obs.IncCounter(observability.BusPublished, 1)
	if len(subs) == 0 {
		b.mu.RUnlock()
		b.obs.IncCounter(observability.BusUndelivered, 1)
		return nil
	}

	if b.policy.Mode != ports.DispatchSequential {
		// enqueue under the read lock so Close cannot slip between the check and the enqueue
		for _, s := range subs {
			s.worker.mb.Enqueue(ports.Delivery{Channel: channel, Payload: p, Handler: s.deliver})
		}
		b.mu.RUnlock()
		return nil
	}

	targets := append([]*subscription(nil), subs...)
	b.mu.RUnlock()
	for _, s := range targets {
		b.invoke(ports.Delivery{Channel: channel, Payload: p, Handler: s.deliver})
	}
	return nil
}

// Pending reports the number of queued deliveries across all mailboxes.
func (b *LocalBus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[*worker]struct{})
	total := 0
	count := func(w *worker) {
		if w == nil {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		total += w.mb.Len()
	}
	for _, w := range b.workers {
		count(w)
	}
	for _, subs := range b.subs {
		for _, s := range subs {
			count(s.worker)
		}
	}
	return total
}

// Close stops accepting publishes, drains queued deliveries and waits for the
// workers to exit or ctx to expire.
func (b *LocalBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var stopping []*worker
	stopping = append(stopping, b.workers...)
	for _, subs := range b.subs {
		for _, s := range subs {
			if s.owned {
				stopping = append(stopping, s.worker)
			}
		}
	}
	b.mu.Unlock()

	for _, w := range stopping {
		w.stop()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) unsubscribe(s *subscription) {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	b.mu.Lock()
	subs := b.subs[s.channel]
	for i, cur := range subs {
		if cur == s {
			b.subs[s.channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	b.mu.Unlock()

	if s.owned {
		s.worker.stop()
	}
}

func (b *LocalBus) startWorker() *worker {
	w := &worker{
		mb:   queue.NewMemQueue(0),
		quit: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.runWorker(w)
	return w
}

func (b *LocalBus) runWorker(w *worker) {
	defer b.wg.Done()
	for {
		select {
		case <-w.mb.Ready():
			b.drain(w)
		case <-w.quit:
			b.drain(w)
			return
		}
	}
}

func (b *LocalBus) drain(w *worker) {
	for {
		batch := w.mb.DequeueBatch(b.policy.MaxBatch)
		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			b.invoke(d)
		}
	}
}

func (b *LocalBus) invoke(d ports.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.obs.IncCounter(observability.HandlerPanics, 1)
			b.obs.LogCritical("handler_panic", fmt.Errorf("%v", r),
				ports.Field{Key: "channel", Value: d.Channel})
		}
	}()
	d.Handler(d.Channel, d.Payload)
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
}

func (s *subscription) deliver(channel string, p domain.Payload) {
	if !s.active.Load() {
		return
	}
	s.handler(channel, p)
}

func (s *subscription) ID() string      { return s.id }
func (s *subscription) Channel() string { return s.channel }
func (s *subscription) Unsubscribe()    { s.bus.unsubscribe(s) }

var _ ports.Registry = (*LocalBus)(nil)
