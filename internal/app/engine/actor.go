// Package engine runs the firing-rule state machine embedded in every actor.
//
// An Actor tracks, per input channel, the latest value, its timestamp and an
// arrival count. Every rule-set keeps its own baseline of arrival counts; a
// rule-set's delta for a channel is the number of messages seen since that
// rule-set last fired. On each delivery the actor updates state, evaluates its
// rule expression and, when at least one rule-set holds, invokes domain logic
// exactly once with an immutable snapshot. All of this happens under one
// per-actor lock. Emitted payloads are published after the lock is released,
// in fire order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

var (
	// ErrAlreadyStarted is returned by Start on an actor that is subscribed.
	ErrAlreadyStarted = errors.New("aegiscdss: actor already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("aegiscdss: actor stopped")
)

// Spec is the construction input of an actor.
type Spec struct {
	ID      string
	Inputs  []string
	Outputs []string
	Rules   domain.RuleExpression
}

type Option func(*Actor)

// WithObservability sets the logging and metrics backend.
func WithObservability(obs ports.Observability) Option {
	return func(a *Actor) {
		if obs != nil {
			a.obs = obs
		}
	}
}

// WithTracer records one span per fire.
func WithTracer(t trace.Tracer) Option {
	return func(a *Actor) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithClock sets the clock used to stamp emitted payloads that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Actor) {
		if now != nil {
			a.now = now
		}
	}
}

type channelState struct {
	value    any
	ts       time.Time
	arrivals uint64
}

type outbound struct {
	channel string
	payload domain.Payload
}

type Actor struct {
	spec   Spec
	logic  ports.Logic
	obs    ports.Observability
	tracer trace.Tracer
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc

	index   map[string]int
	outputs map[string]struct{}

	// guarded by mu
	mu        sync.Mutex
	states    []channelState
	slots     [][]int
	baselines [][]uint64
	fired     []int
	announced map[string]struct{}
	stopped   bool

	outMu    sync.Mutex
	outbox   []outbound
	draining bool

	lifeMu sync.Mutex
	reg    ports.Registry
	subs   []ports.Subscription
}

// New validates spec and builds an actor. It does not subscribe; call Start.
func New(spec Spec, logic ports.Logic, opts ...Option) (*Actor, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if logic == nil {
		return nil, fmt.Errorf("%w: actor %q has no domain logic", domain.ErrConfiguration, spec.ID)
	}

	spec.Inputs = append([]string(nil), spec.Inputs...)
	spec.Outputs = append([]string(nil), spec.Outputs...)
	spec.Rules = append(domain.RuleExpression(nil), spec.Rules...)

	a := &Actor{
		spec:      spec,
		logic:     logic,
		obs:       observability.Nop{},
		tracer:    noop.NewTracerProvider().Tracer(""),
		now:       time.Now,
		index:     make(map[string]int, len(spec.Inputs)),
		outputs:   make(map[string]struct{}, len(spec.Outputs)),
		states:    make([]channelState, len(spec.Inputs)),
		slots:     make([][]int, len(spec.Rules)),
		baselines: make([][]uint64, len(spec.Rules)),
		fired:     make([]int, 0, len(spec.Rules)),
		announced: make(map[string]struct{}, len(spec.Outputs)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	for i, ch := range spec.Inputs {
		a.index[ch] = i
		// unseen channels read as numeric zero
		a.states[i].value = float64(0)
	}
	for _, ch := range spec.Outputs {
		a.outputs[ch] = struct{}{}
	}
	for i, rs := range spec.Rules {
		a.slots[i] = make([]int, rs.Len())
		a.baselines[i] = make([]uint64, rs.Len())
		for j := 0; j < rs.Len(); j++ {
			ch, _ := rs.At(j)
			a.slots[i][j] = a.index[ch]
		}
	}
	return a, nil
}

func validateSpec(spec Spec) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: actor id is required", domain.ErrConfiguration)
	}
	if err := uniqueChannels(spec.Inputs); err != nil {
		return fmt.Errorf("%w: actor %q inputs: %v", domain.ErrConfiguration, spec.ID, err)
	}
	if err := uniqueChannels(spec.Outputs); err != nil {
		return fmt.Errorf("%w: actor %q outputs: %v", domain.ErrConfiguration, spec.ID, err)
	}
	if err := spec.Rules.Validate(spec.Inputs); err != nil {
		return fmt.Errorf("actor %q: %w", spec.ID, err)
	}
	return nil
}

func uniqueChannels(chs []string) error {
	seen := make(map[string]struct{}, len(chs))
	for _, ch := range chs {
		if ch == "" {
			return errors.New("empty channel name")
		}
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("duplicate channel %q", ch)
		}
		seen[ch] = struct{}{}
	}
	return nil
}

func (a *Actor) ID() string { return a.spec.ID }

func (a *Actor) Inputs() []string { return append([]string(nil), a.spec.Inputs...) }

func (a *Actor) Outputs() []string { return append([]string(nil), a.spec.Outputs...) }

func (a *Actor) Rules() domain.RuleExpression {
	return append(domain.RuleExpression(nil), a.spec.Rules...)
}

// Running reports whether the actor is subscribed to the registry.
func (a *Actor) Running() bool {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.reg != nil && len(a.subs) > 0
}

// Arrivals returns the number of messages received on channel.
func (a *Actor) Arrivals(channel string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[channel]; ok {
		return a.states[i].arrivals
	}
	return 0
}

// Start subscribes the actor once per input channel. Emitted payloads are
// published on reg.
func (a *Actor) Start(reg ports.Registry) error {
	if reg == nil {
		return fmt.Errorf("actor %q: nil registry", a.spec.ID)
	}
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if a.reg != nil {
		return ErrAlreadyStarted
	}

	a.reg = reg
	subs := make([]ports.Subscription, 0, len(a.spec.Inputs))
	for _, ch := range a.spec.Inputs {
		sub, err := reg.Subscribe(ch, a.handle)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			a.reg = nil
			return fmt.Errorf("actor %q subscribe %q: %w", a.spec.ID, ch, err)
		}
		subs = append(subs, sub)
	}
	a.subs = subs
	return nil
}

// Stop unsubscribes from every input channel, waits for an in-flight delivery
// to finish and publishes anything it emitted. Later deliveries are ignored.
func (a *Actor) Stop() error {
	a.lifeMu.Lock()
	subs := a.subs
	a.subs = nil
	a.lifeMu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.cancel()

	a.flush()
	return nil
}

func (a *Actor) handle(channel string, p domain.Payload) {
	a.OnMessage(channel, p)
}

// OnMessage applies one channel update and fires domain logic at most once.
// It reports whether the actor fired. Messages on undeclared channels and
// messages after Stop are ignored.
func (a *Actor) OnMessage(channel string, p domain.Payload) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	slot, ok := a.index[channel]
	if !ok {
		a.mu.Unlock()
		return false
	}

	st := &a.states[slot]
	st.value = p.Value
	st.ts = p.Timestamp
	st.arrivals++
	a.obs.IncCounter(observability.MessagesReceived, 1, a.spec.ID)

	satisfied := a.evaluate()
	if len(satisfied) == 0 {
		a.mu.Unlock()
		return false
	}

	snap := a.snapshot()
	for _, i := range satisfied {
		for j, slot := range a.slots[i] {
			a.baselines[i][j] = a.states[slot].arrivals
		}
	}

	em := &emitter{actor: a}
	a.invoke(snap, em)
	em.done = true

	if len(em.pending) > 0 {
		a.outMu.Lock()
		a.outbox = append(a.outbox, em.pending...)
		a.outMu.Unlock()
	}
	a.mu.Unlock()

	a.flush()
	return true
}

// evaluate returns the indices of satisfied rule-sets. Caller holds mu.
func (a *Actor) evaluate() []int {
	a.fired = a.fired[:0]
	for i, rs := range a.spec.Rules {
		ok := true
		for j, slot := range a.slots[i] {
			_, cond := rs.At(j)
			st := &a.states[slot]
			if !cond.Satisfied(st.arrivals-a.baselines[i][j], st.value) {
				ok = false
				break
			}
		}
		if ok {
			a.fired = append(a.fired, i)
		}
	}
	return a.fired
}

// snapshot captures every input channel. Caller holds mu.
func (a *Actor) snapshot() domain.Snapshot {
	views := make([]domain.ChannelView, len(a.spec.Inputs))
	for i, ch := range a.spec.Inputs {
		views[i] = domain.ChannelView{
			Channel:   ch,
			Value:     a.states[i].value,
			Timestamp: a.states[i].ts,
		}
	}
	return domain.NewSnapshot(views)
}

func (a *Actor) invoke(snap domain.Snapshot, em *emitter) {
	ctx, span := a.tracer.Start(a.ctx, "actor.fire",
		trace.WithAttributes(
			attribute.String("actor.id", a.spec.ID),
			attribute.Int("actor.rule_sets_satisfied", len(a.fired)),
		))
	defer span.End()

	start := time.Now()
	err := a.callLogic(ctx, snap, em)
	a.obs.ObserveLatency(observability.FireLatency, time.Since(start).Seconds(), a.spec.ID)
	a.obs.IncCounter(observability.Fires, 1, a.spec.ID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.obs.IncCounter(observability.FireFailures, 1, a.spec.ID)
		a.obs.LogError("actor_fire_failed", err, ports.Field{Key: "actor", Value: a.spec.ID})
	}
}

func (a *Actor) callLogic(ctx context.Context, snap domain.Snapshot, em *emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("domain logic panicked: %v", r)
		}
	}()
	return a.logic.Fire(ctx, snap, em)
}

// flush publishes queued output in order. A goroutine that finds another one
// already draining leaves its payloads to that drainer, which keeps a
// self-feeding actor from re-entering its own publish loop.
func (a *Actor) flush() {
	a.outMu.Lock()
	if a.draining {
		a.outMu.Unlock()
		return
	}
	a.draining = true
	for len(a.outbox) > 0 {
		batch := a.outbox
		a.outbox = nil
		a.outMu.Unlock()

		a.publish(batch)

		a.outMu.Lock()
	}
	a.draining = false
	a.outMu.Unlock()
}

func (a *Actor) publish(batch []outbound) {
	a.lifeMu.Lock()
	reg := a.reg
	a.lifeMu.Unlock()

	if reg == nil {
		a.obs.LogWarn("actor_output_dropped",
			ports.Field{Key: "actor", Value: a.spec.ID},
			ports.Field{Key: "payloads", Value: len(batch)})
		return
	}
	for _, o := range batch {
		if err := reg.Publish(o.channel, o.payload); err != nil {
			a.obs.LogError("actor_publish_failed", err,
				ports.Field{Key: "actor", Value: a.spec.ID},
				ports.Field{Key: "channel", Value: o.channel})
			continue
		}
		if o.channel != domain.AddressesChannel {
			a.obs.IncCounter(observability.Emitted, 1, a.spec.ID)
		}
	}
}

// emitter buffers output produced during one fire. It is only valid while the
// domain logic call is running.
type emitter struct {
	actor   *Actor
	pending []outbound
	done    bool
}

func (e *emitter) Emit(p domain.Payload) error {
	for _, ch := range e.actor.spec.Outputs {
		if err := e.EmitTo(ch, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) EmitTo(channel string, p domain.Payload) error {
	a := e.actor
	if e.done {
		return fmt.Errorf("actor %q: emit on %q after fire returned", a.spec.ID, channel)
	}
	if _, ok := a.outputs[channel]; !ok {
		return fmt.Errorf("%w: actor %q cannot emit on undeclared output %q", domain.ErrConfiguration, a.spec.ID, channel)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = a.now()
	}
	if p.Source == "" {
		p.Source = a.spec.ID
	}

	if _, seen := a.announced[channel]; !seen {
		a.announced[channel] = struct{}{}
		e.pending = append(e.pending, outbound{
			channel: domain.AddressesChannel,
			payload: domain.Payload{Value: channel, Timestamp: p.Timestamp, Source: a.spec.ID},
		})
	}
	e.pending = append(e.pending, outbound{channel: channel, payload: p})
	return nil
}

func (e *emitter) Outputs() []string { return e.actor.Outputs() }

var _ ports.Emitter = (*emitter)(nil)
