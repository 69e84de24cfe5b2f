package aegiscdss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisCDSS/internal/adapters/bus"
	"github.com/ghalamif/AegisCDSS/internal/adapters/httpapi"
	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/adapters/opcua"
	"github.com/ghalamif/AegisCDSS/internal/adapters/redisbridge"
	"github.com/ghalamif/AegisCDSS/internal/adapters/replay"
	"github.com/ghalamif/AegisCDSS/internal/adapters/tracing"
	"github.com/ghalamif/AegisCDSS/internal/app/dfcn"
	"github.com/ghalamif/AegisCDSS/internal/app/engine"
	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/app/pipeline"
	"github.com/ghalamif/AegisCDSS/internal/classifiers"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

var (
	// ErrNotRunning is returned by Publish before Start and after Shutdown.
	ErrNotRunning = errors.New("aegiscdss: runtime not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("aegiscdss: runtime already started")
)

const gaugeInterval = time.Second

type runState int

const (
	stateCreated runState = iota
	stateRunning
	stateStopped
)

type managedActor struct {
	actor *engine.Actor
	typ   string
}

type namedCollector struct {
	name string
	col  ports.Collector
}

type attachedSink struct {
	sink     Sink
	channels []string
}

// Runtime owns the channel bus, the actor network and the collectors feeding it.
type Runtime struct {
	cfg        *Config
	instanceID string
	obs        ports.Observability
	metrics    *prometheus.Registry
	now        func() time.Time

	bus        *bus.LocalBus
	tracer     *tracing.Provider
	actors     []managedActor
	graph      *dfcn.Graph
	collectors []namedCollector
	sinks      []attachedSink
	transport  redisbridge.Transport
	dialRedis  bool
	bridge     *redisbridge.Bridge
	http       *httpapi.Server

	mu       sync.Mutex
	state    runState
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	sinkSubs []ports.Subscription
}

// NewRuntime builds the bus, the observability stack and every actor, then
// validates the actor network. Nothing is subscribed or started until Start;
// a configuration error or a cyclic network leaves no actor running.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rt := &Runtime{
		cfg:        cfg,
		instanceID: o.instanceID,
		now:        o.now,
		collectors: o.collectors,
		sinks:      o.sinks,
		transport:  o.transport,
	}
	if rt.instanceID == "" {
		rt.instanceID = uuid.NewString()
	}
	if rt.now == nil {
		rt.now = time.Now
	}

	rt.obs = o.observability
	if rt.obs == nil {
		logger := o.logger
		if logger == nil {
			logger = observability.NewLogger(os.Stderr, cfg.Logging)
		}
		logger = logger.With(slog.String("instance", rt.instanceID))
		rt.metrics = prometheus.NewRegistry()
		rt.obs = observability.NewPromObs(rt.metrics, logger)
	}

	types := factory.NewRegistry()
	if err := classifiers.Register(types); err != nil {
		return nil, err
	}
	for _, ct := range o.types {
		if err := types.Register(ct.tag, ct.ctor); err != nil {
			return nil, err
		}
	}

	tp, err := tracing.New(context.Background(), cfg.Tracing, rt.instanceID)
	if err != nil {
		return nil, err
	}
	rt.tracer = tp

	if err := rt.buildActors(types, o.actors); err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	nodes := make([]dfcn.Node, len(rt.actors))
	for i, m := range rt.actors {
		nodes[i] = m.actor
	}
	graph, err := dfcn.Build(nodes)
	if err != nil {
		rt.obs.LogCritical("topology_invalid", err)
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	graph.Log(rt.obs)
	rt.graph = graph

	if err := rt.buildCollectors(); err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	b, err := bus.New(cfg.Bus, rt.obs)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	rt.bus = b

	if cfg.Redis.Enabled && rt.transport == nil {
		rt.dialRedis = true
	}
	if cfg.Metrics.Enabled {
		var gatherer prometheus.Gatherer
		if rt.metrics != nil {
			gatherer = rt.metrics
		}
		rt.http = httpapi.NewServer(cfg.Metrics.Addr, httpapi.NewRouter(rt, gatherer), rt.obs)
	}
	return rt, nil
}

func (rt *Runtime) buildActors(types *factory.Registry, extra []programmaticActor) error {
	deps := factory.Deps{Obs: rt.obs, Now: rt.now}
	engineOpts := []engine.Option{
		engine.WithObservability(rt.obs),
		engine.WithTracer(rt.tracer.Tracer()),
		engine.WithClock(rt.now),
	}

	add := func(ac ActorConfig, logic ports.Logic) error {
		rules, err := ac.RuleExpression()
		if err != nil {
			return err
		}
		a, err := engine.New(engine.Spec{
			ID:      ac.ID,
			Inputs:  ac.Inputs,
			Outputs: ac.Outputs,
			Rules:   rules,
		}, logic, engineOpts...)
		if err != nil {
			return err
		}
		rt.actors = append(rt.actors, managedActor{actor: a, typ: ac.Type})
		return nil
	}

	for _, ac := range rt.cfg.Actors {
		logic, err := types.Build(factory.FromConfig(ac), deps)
		if err != nil {
			return err
		}
		if err := add(ac, logic); err != nil {
			return err
		}
	}
	for _, pa := range extra {
		if err := add(pa.cfg, pa.logic); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) buildCollectors() error {
	if rt.cfg.OPCUA.Enabled {
		col, err := opcua.NewCollector(rt.cfg.OPCUA.Config, rt.obs)
		if err != nil {
			return fmt.Errorf("%w: opcua: %v", domain.ErrConfiguration, err)
		}
		rt.collectors = append(rt.collectors, namedCollector{name: "opcua", col: col})
	}
	if rt.cfg.Replay.Enabled {
		col, err := replay.NewCollector(rt.cfg.Replay.Config, rt.obs)
		if err != nil {
			return fmt.Errorf("%w: replay: %v", domain.ErrConfiguration, err)
		}
		rt.collectors = append(rt.collectors, namedCollector{name: "replay", col: col})
	}
	return nil
}

// Start subscribes every actor and sink, connects the Redis bridge and
// launches the collectors and the HTTP server. It returns immediately; call
// Run to block on a context instead.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrNotRunning
	}

	ctx, cancel := context.WithCancel(context.Background())

	for i, m := range rt.actors {
		if err := m.actor.Start(rt.bus); err != nil {
			for _, started := range rt.actors[:i] {
				_ = started.actor.Stop()
			}
			cancel()
			return err
		}
	}

	for _, s := range rt.sinks {
		subs, err := rt.attach(s)
		if err != nil {
			rt.rollbackStart()
			cancel()
			return err
		}
		rt.sinkSubs = append(rt.sinkSubs, subs...)
	}

	if rt.cfg.Redis.Enabled {
		if err := rt.startBridge(ctx); err != nil {
			rt.rollbackStart()
			cancel()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, nc := range rt.collectors {
		nc := nc
		g.Go(func() error {
			return pipeline.RunIngest(gctx, nc.name, nc.col, rt.bus, pipeline.DefaultBuffer, rt.obs)
		})
	}
	if rt.http != nil {
		g.Go(func() error { return rt.http.Run(gctx) })
	}
	g.Go(func() error {
		rt.recordGauges(gctx, gaugeInterval)
		return nil
	})

	rt.cancel = cancel
	rt.group = g
	rt.groupCtx = gctx
	rt.state = stateRunning
	rt.obs.LogInfo("runtime_started",
		ports.Field{Key: "actors", Value: len(rt.actors)},
		ports.Field{Key: "collectors", Value: len(rt.collectors)},
		ports.Field{Key: "dispatch", Value: string(rt.bus.Mode())})
	return nil
}

func (rt *Runtime) startBridge(ctx context.Context) error {
	tr := rt.transport
	if tr == nil {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var err error
		tr, err = redisbridge.Dial(dialCtx, rt.cfg.Redis.Config)
		if err != nil {
			return err
		}
		rt.transport = tr
	}
	br, err := redisbridge.New(rt.cfg.Redis.Config, rt.instanceID, tr, rt.obs)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if err := br.Start(ctx, rt.bus); err != nil {
		return err
	}
	rt.bridge = br
	return nil
}

func (rt *Runtime) rollbackStart() {
	for _, s := range rt.sinkSubs {
		s.Unsubscribe()
	}
	rt.sinkSubs = nil
	for _, m := range rt.actors {
		_ = m.actor.Stop()
	}
}

// Run starts the runtime and blocks until ctx is cancelled or a collector or
// the HTTP server fails. It then shuts down gracefully.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(); err != nil {
		return err
	}
	rt.mu.Lock()
	failed := rt.groupCtx.Done()
	rt.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-failed:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown stops ingestion first, then the bridge and the actors, and finally
// drains the bus and flushes pending spans. It is safe to call more than once.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == stateStopped {
		rt.mu.Unlock()
		return nil
	}
	wasRunning := rt.state == stateRunning
	rt.state = stateStopped
	cancel, group := rt.cancel, rt.group
	subs := rt.sinkSubs
	rt.sinkSubs = nil
	rt.mu.Unlock()

	var errs []error

	if wasRunning {
		cancel()
		done := make(chan error, 1)
		go func() { done <- group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if rt.bridge != nil {
		if err := rt.bridge.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.transport != nil && rt.dialRedis {
		if err := rt.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, m := range rt.actors {
		if err := m.actor.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.bus.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, s := range subs {
		s.Unsubscribe()
	}
	if err := rt.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	rt.obs.SetGauge(observability.ActorsRunning, 0)
	rt.obs.LogInfo("runtime_stopped")
	return errors.Join(errs...)
}

// Graph returns the validated actor network.
func (rt *Runtime) Graph() *Graph { return rt.graph }

// InstanceID identifies this runtime, e.g. as the origin of bridged payloads.
func (rt *Runtime) InstanceID() string { return rt.instanceID }

// Metrics returns the private Prometheus registry, or nil when a custom
// Observability was injected.
func (rt *Runtime) Metrics() *prometheus.Registry { return rt.metrics }

// Publish injects a payload on channel. A zero timestamp is stamped with the
// runtime clock.
func (rt *Runtime) Publish(channel string, p Payload) error {
	if channel == "" {
		return fmt.Errorf("%w: channel is required", domain.ErrConfiguration)
	}
	if !rt.running() {
		return ErrNotRunning
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = rt.now()
	}
	return rt.bus.Publish(channel, p)
}

// Subscribe registers h on channel of the runtime bus.
func (rt *Runtime) Subscribe(channel string, h func(channel string, p Payload)) (Subscription, error) {
	return rt.bus.Subscribe(channel, h)
}

func (rt *Runtime) running() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state == stateRunning
}

// Topology, ActorInfo and Health serve the HTTP API.

func (rt *Runtime) Topology() *dfcn.Graph { return rt.graph }

func (rt *Runtime) ActorInfo() []httpapi.ActorInfo {
	out := make([]httpapi.ActorInfo, 0, len(rt.actors))
	for _, m := range rt.actors {
		arrivals := make(map[string]uint64)
		for _, ch := range m.actor.Inputs() {
			arrivals[ch] = m.actor.Arrivals(ch)
		}
		out = append(out, httpapi.ActorInfo{
			ID:       m.actor.ID(),
			Type:     m.typ,
			Inputs:   m.actor.Inputs(),
			Outputs:  m.actor.Outputs(),
			Rules:    m.actor.Rules().String(),
			Running:  m.actor.Running(),
			Arrivals: arrivals,
		})
	}
	return out
}

func (rt *Runtime) Health() error {
	if !rt.running() {
		return ErrNotRunning
	}
	return nil
}

func (rt *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	rt.obs.SetGauge(observability.TopologyEdges, float64(len(rt.graph.Edges)))
	rt.obs.SetGauge(observability.UnreachableActors, float64(len(rt.graph.Warnings)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		running := 0
		for _, m := range rt.actors {
			if m.actor.Running() {
				running++
			}
		}
		rt.obs.SetGauge(observability.ActorsRunning, float64(running))
		rt.obs.SetGauge(observability.BusPending, float64(rt.bus.Pending()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var _ httpapi.Source = (*Runtime)(nil)
