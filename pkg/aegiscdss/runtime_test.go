package aegiscdss

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghalamif/AegisCDSS/internal/adapters/redisbridge"
	"github.com/ghalamif/AegisCDSS/internal/domain"
)

const sfConfig = `
bus: {dispatch: sequential}
actors:
  - id: sf_ratio
    type: ratio
    inputs: [spo2, fio2]
    outputs: [sf]
  - id: sf_limit
    type: limit
    inputs: [sf]
    outputs: [sf.limit]
    params:
      limits: {sf: [235, 315]}
`

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustParse(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func shutdown(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRuntimeRoutesWarningsToSinks(t *testing.T) {
	sink, warnings, closeSink := NewChannelSink("warnings", 4)
	defer closeSink()

	rt, err := NewRuntime(mustParse(t, sfConfig), quietLogger(), WithSink(sink, "sf.limit"))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer shutdown(t, rt)

	pub := rt.Publisher("bedside")
	if err := pub.Publish("spo2", 94.0); err != nil {
		t.Fatalf("publish spo2: %v", err)
	}
	if err := pub.Publish("fio2", 0.5); err != nil {
		t.Fatalf("publish fio2: %v", err)
	}

	select {
	case w := <-warnings:
		if w.Channel != "sf.limit" || w.Payload.Value != -1 || w.Payload.Source != "sf_limit" {
			t.Fatalf("unexpected warning %+v", w)
		}
	case <-time.After(time.Second):
		t.Fatalf("no warning delivered")
	}

	if n, err := testutil.GatherAndCount(rt.Metrics(), "aegis_fires_total"); err != nil || n != 2 {
		t.Fatalf("expected fire counters for both actors, got %d (%v)", n, err)
	}
}

func TestRuntimeGraph(t *testing.T) {
	rt, err := NewRuntime(mustParse(t, sfConfig), quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer shutdown(t, rt)

	g := rt.Graph()
	if len(g.Edges) != 1 || g.Edges[0].From != "sf_ratio" || g.Edges[0].To != "sf_limit" {
		t.Fatalf("unexpected edges %+v", g.Edges)
	}
	if len(g.Sources) != 1 || g.Sources[0] != "sf_ratio" {
		t.Fatalf("unexpected sources %v", g.Sources)
	}
	if len(g.Leafs) != 1 || g.Leafs[0] != "sf_limit" {
		t.Fatalf("unexpected leafs %v", g.Leafs)
	}

	infos := rt.ActorInfo()
	if len(infos) != 2 || infos[0].Type != "ratio" || infos[0].Running {
		t.Fatalf("unexpected actor info before start: %+v", infos)
	}
}

func TestCyclicNetworkIsRejectedBeforeStart(t *testing.T) {
	var fired atomic.Int32
	logic := LogicFunc(func(context.Context, Snapshot, Emitter) error {
		fired.Add(1)
		return nil
	})
	cfg := mustParse(t, "bus: {dispatch: sequential}")

	_, err := NewRuntime(cfg, quietLogger(),
		WithActor(ActorConfig{ID: "a", Inputs: []string{"x"}, Outputs: []string{"y"}}, logic),
		WithActor(ActorConfig{ID: "b", Inputs: []string{"y"}, Outputs: []string{"z"}}, logic),
		WithActor(ActorConfig{ID: "c", Inputs: []string{"z"}, Outputs: []string{"x"}}, logic),
	)
	if !errors.Is(err, ErrCyclicTopology) {
		t.Fatalf("expected cyclic topology error, got %v", err)
	}
	var cycle *CycleError
	if !errors.As(err, &cycle) || len(cycle.Path) != 4 {
		t.Fatalf("expected cycle path of 3 actors, got %v", err)
	}
	if fired.Load() != 0 {
		t.Fatalf("no actor may fire on a rejected network")
	}
}

func TestConfigurationErrors(t *testing.T) {
	cfg := mustParse(t, `
actors:
  - id: x
    type: no_such_type
    inputs: [a]
    outputs: [b]
`)
	if _, err := NewRuntime(cfg, quietLogger()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown type, got %v", err)
	}

	_, err := NewRuntime(mustParse(t, ""), quietLogger(),
		WithActor(ActorConfig{ID: "x", Inputs: []string{"a"}, Outputs: []string{"b"}}, nil))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for missing logic, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	rt, err := NewRuntime(mustParse(t, sfConfig), quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Publish("spo2", Payload{Value: 1.0}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("publish before start: %v", err)
	}
	if err := rt.Health(); err == nil {
		t.Fatalf("runtime should be unhealthy before start")
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v", err)
	}
	if err := rt.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}
	shutdown(t, rt)
	shutdown(t, rt)
	if err := rt.Publish("spo2", Payload{Value: 1.0}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("publish after shutdown: %v", err)
	}
	for _, a := range rt.ActorInfo() {
		if a.Running {
			t.Fatalf("actor %s still running after shutdown", a.ID)
		}
	}
}

func TestPublishStampsMissingTimestamp(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rt, err := NewRuntime(mustParse(t, "bus: {dispatch: sequential}"), quietLogger(),
		WithClock(func() time.Time { return stamp }))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer shutdown(t, rt)

	var got Payload
	if _, err := rt.Subscribe("hr", func(_ string, p Payload) { got = p }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := rt.Publish("hr", Payload{Value: 72.0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !got.Timestamp.Equal(stamp) {
		t.Fatalf("expected runtime clock stamp, got %v", got.Timestamp)
	}
	if err := rt.Publish("", Payload{Value: 1.0}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("empty channel should be rejected, got %v", err)
	}
}

func TestRunIngestsCollectorUpdates(t *testing.T) {
	col := &stubCollector{updates: []*Update{
		{Channel: "hr", Payload: Payload{Value: 70.0}},
		{Channel: "hr", Payload: Payload{Value: 71.0}},
		{Channel: "hr", Payload: Payload{Value: 72.0}},
	}}
	var (
		mu   sync.Mutex
		seen []any
		done = make(chan struct{})
	)
	logic := LogicFunc(func(_ context.Context, snap Snapshot, _ Emitter) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap.Value("hr"))
		if len(seen) == 3 {
			close(done)
		}
		return nil
	})

	rt, err := NewRuntime(mustParse(t, ""), quietLogger(),
		WithCollector("stub", col),
		WithActor(ActorConfig{ID: "hr_watch", Inputs: []string{"hr"}, Outputs: []string{"hr.alarm"}}, logic))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("actor did not see the collector updates")
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !col.stopped.Load() {
		t.Fatalf("collector should be stopped on shutdown")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != 70.0 || seen[2] != 72.0 {
		t.Fatalf("updates out of order: %v", seen)
	}
}

func TestRedisBridgeIsWiredToTheBus(t *testing.T) {
	cfg := mustParse(t, `
bus: {dispatch: sequential}
redis:
  enabled: true
  channels: [alarm]
`)
	tr := &recordingTransport{}
	rt, err := NewRuntime(cfg, quietLogger(), WithRedisTransport(tr), WithInstanceID("bed-12"))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Publish("alarm", Payload{Value: 1.0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	shutdown(t, rt)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.topics) != 1 || tr.topics[0] != "aegis:alarm" {
		t.Fatalf("expected one bridged publish on aegis:alarm, got %v", tr.topics)
	}
	if tr.inbox == nil || !tr.inbox.closed.Load() {
		t.Fatalf("bridge subscription should be closed on shutdown")
	}
	if tr.closed {
		t.Fatalf("an injected transport belongs to the caller")
	}
}

type stubCollector struct {
	updates []*Update
	stopped atomic.Bool
}

func (s *stubCollector) Start(out chan<- *domain.Update) error {
	go func() {
		for _, u := range s.updates {
			out <- u
		}
	}()
	return nil
}

func (s *stubCollector) Stop() error {
	s.stopped.Store(true)
	return nil
}

type recordingTransport struct {
	mu     sync.Mutex
	topics []string
	inbox  *recordingInbox
	closed bool
}

func (r *recordingTransport) Publish(_ context.Context, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingTransport) Subscribe(context.Context, ...string) (redisbridge.Inbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = &recordingInbox{ch: make(chan []byte)}
	return r.inbox, nil
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type recordingInbox struct {
	ch     chan []byte
	closed atomic.Bool
}

func (in *recordingInbox) Messages() <-chan []byte { return in.ch }

func (in *recordingInbox) Close() error {
	if in.closed.CompareAndSwap(false, true) {
		close(in.ch)
	}
	return nil
}
