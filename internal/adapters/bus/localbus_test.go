package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

func newBus(t *testing.T, mode ports.DispatchMode, workers int) *LocalBus {
	t.Helper()
	b, err := New(ports.DispatchPolicy{Mode: mode, Workers: workers}, nil)
	if err != nil {
		t.Fatalf("New(%s): %v", mode, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

type recorder struct {
	mu     sync.Mutex
	values []float64
	done   chan struct{}
	want   int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) handle(_ string, p domain.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p.Value.(float64))
	if len(r.values) == r.want {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) []float64 {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		r.mu.Lock()
		defer r.mu.Unlock()
		t.Fatalf("timed out: got %d of %d deliveries", len(r.values), r.want)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func TestSequentialDeliversInline(t *testing.T) {
	b := newBus(t, ports.DispatchSequential, 0)

	var got []string
	if _, err := b.Subscribe("spo2", func(ch string, p domain.Payload) {
		got = append(got, ch)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish("spo2", domain.Payload{Value: 97.0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "spo2" {
		t.Fatalf("expected inline delivery, got %v", got)
	}
}

func TestQueuedModesPreserveOrder(t *testing.T) {
	for _, mode := range []ports.DispatchMode{ports.DispatchPerHandler, ports.DispatchPool} {
		t.Run(string(mode), func(t *testing.T) {
			b := newBus(t, mode, 3)
			const n = 500

			recs := []*recorder{newRecorder(n), newRecorder(n), newRecorder(n)}
			for _, r := range recs {
				if _, err := b.Subscribe("hr", r.handle); err != nil {
					t.Fatalf("subscribe: %v", err)
				}
			}

			for i := 0; i < n; i++ {
				if err := b.Publish("hr", domain.Payload{Value: float64(i)}); err != nil {
					t.Fatalf("publish %d: %v", i, err)
				}
			}

			for _, r := range recs {
				values := r.wait(t)
				for i, v := range values {
					if v != float64(i) {
						t.Fatalf("delivery %d out of order: %v", i, v)
					}
				}
			}
		})
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newBus(t, ports.DispatchSequential, 0)

	calls := 0
	sub, err := b.Subscribe("rr", func(string, domain.Payload) { calls++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Channel() != "rr" || sub.ID() == "" {
		t.Fatalf("unexpected subscription handle: %q %q", sub.Channel(), sub.ID())
	}

	_ = b.Publish("rr", domain.Payload{Value: 1.0})
	sub.Unsubscribe()
	sub.Unsubscribe()
	_ = b.Publish("rr", domain.Payload{Value: 2.0})

	if calls != 1 {
		t.Fatalf("expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestPanickingHandlerDoesNotStopWorker(t *testing.T) {
	b := newBus(t, ports.DispatchPerHandler, 0)

	rec := newRecorder(2)
	first := true
	if _, err := b.Subscribe("etco2", func(ch string, p domain.Payload) {
		if first {
			first = false
			panic("classifier bug")
		}
		rec.handle(ch, p)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = b.Publish("etco2", domain.Payload{Value: float64(i)})
	}
	if got := rec.wait(t); got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected deliveries after panic: %v", got)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b, err := New(ports.DispatchPolicy{Mode: ports.DispatchPool, Workers: 2}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := newRecorder(10)
	if _, err := b.Subscribe("fio2", rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = b.Publish("fio2", domain.Payload{Value: float64(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	// queued deliveries are drained before workers exit
	rec.wait(t)

	if err := b.Publish("fio2", domain.Payload{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Publish, got %v", err)
	}
	if _, err := b.Subscribe("fio2", rec.handle); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(ports.DispatchPolicy{Mode: "round_robin"}, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPendingCountsQueuedDeliveries(t *testing.T) {
	b := newBus(t, ports.DispatchPerHandler, 0)

	release := make(chan struct{})
	rec := newRecorder(3)
	if _, err := b.Subscribe("spo2", func(ch string, p domain.Payload) {
		<-release
		rec.handle(ch, p)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = b.Publish("spo2", domain.Payload{Value: float64(i)})
	}
	if b.Pending() > 3 {
		t.Fatalf("pending cannot exceed published count, got %d", b.Pending())
	}
	close(release)
	rec.wait(t)
	if b.Pending() != 0 {
		t.Fatalf("expected empty mailboxes, got %d", b.Pending())
	}
}
