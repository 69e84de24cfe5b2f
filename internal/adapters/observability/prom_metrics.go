package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Metric names shared by the engine, bus and runtime.
const (
	MessagesReceived  = "aegis_messages_received_total"
	Fires             = "aegis_fires_total"
	FireFailures      = "aegis_fire_failures_total"
	Emitted           = "aegis_emitted_total"
	BusPublished      = "aegis_bus_published_total"
	BusUndelivered    = "aegis_bus_undelivered_total"
	HandlerPanics     = "aegis_handler_panics_total"
	UpdatesIngested   = "aegis_updates_ingested_total"
	BridgeForwarded   = "aegis_bridge_forwarded_total"
	FireLatency       = "aegis_fire_latency_seconds"
	ActorsRunning     = "aegis_actors_running"
	BusPending        = "aegis_bus_pending_deliveries"
	TopologyEdges     = "aegis_topology_edges"
	UnreachableActors = "aegis_topology_unreachable_actors"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	histos   map[string]*prometheus.HistogramVec
}

// NewPromObs registers the AegisCDSS metrics on reg and logs through logger.
// A nil reg uses the default registerer; a nil logger uses slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		log: logger,
		counters: map[string]*prometheus.CounterVec{
			MessagesReceived: counter(MessagesReceived, "Channel updates delivered to an actor.", "actor"),
			Fires:            counter(Fires, "Domain-logic invocations per actor.", "actor"),
			FireFailures:     counter(FireFailures, "Domain-logic invocations that returned an error or panicked.", "actor"),
			Emitted:          counter(Emitted, "Payloads published by actors on output channels.", "actor"),
			BusPublished:     counter(BusPublished, "Payloads published on the channel registry."),
			BusUndelivered:   counter(BusUndelivered, "Payloads published on channels without subscribers."),
			HandlerPanics:    counter(HandlerPanics, "Subscriber handlers that panicked."),
			UpdatesIngested:  counter(UpdatesIngested, "Updates forwarded from collectors to the registry.", "collector"),
			BridgeForwarded:  counter(BridgeForwarded, "Payloads mirrored through the Redis bridge.", "direction"),
		},
		gauges: map[string]prometheus.Gauge{
			ActorsRunning:     gauge(ActorsRunning, "Actors currently subscribed to the registry."),
			BusPending:        gauge(BusPending, "Deliveries queued in registry mailboxes."),
			TopologyEdges:     gauge(TopologyEdges, "Edges in the validated actor network."),
			UnreachableActors: gauge(UnreachableActors, "Actors with inputs but no producing actor."),
		},
		histos: map[string]*prometheus.HistogramVec{
			FireLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    FireLatency,
				Help:    "Wall time spent in actor domain logic.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			}, []string{"actor"}),
		},
	}

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h)
	}
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err == nil {
		return
	}
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err == nil {
		return
	}
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64, labels ...string) {
	if c, ok := p.counters[name]; ok {
		if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
			m.Add(v)
		}
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64, labels ...string) {
	if h, ok := p.histos[name]; ok {
		if m, err := h.GetMetricWithLabelValues(labels...); err == nil {
			m.Observe(seconds)
		}
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
