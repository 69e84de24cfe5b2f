package aegiscdss

import (
	"errors"
	"testing"
	"time"
)

func TestNewCallbackSink(t *testing.T) {
	var received []Warning
	sink := NewCallbackSink("cb", func(w Warning) error {
		received = append(received, w)
		return nil
	})

	input := Warning{Channel: "etco2.trend", Payload: Payload{Value: -2.0, Timestamp: time.Unix(1, 0), Source: "etco2_trend"}}
	if err := sink.Deliver(input); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(received))
	}
	if got := received[0]; got.Channel != input.Channel || got.Payload.Value != -2.0 {
		t.Fatalf("mismatched warning: %+v vs %+v", got, input)
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
	if err := sink.Deliver(Warning{Channel: "x"}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	input := Warning{Channel: "sf.limit", Payload: Payload{Value: -1}}
	errCh := make(chan error, 1)

	go func() {
		errCh <- sink.Deliver(input)
	}()

	var got Warning
	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel warning")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if got.Channel != input.Channel {
		t.Fatalf("unexpected warning: %+v", got)
	}

	closeFn()
	if err := sink.Deliver(input); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}

func TestChannelSinkCloseUnblocksDelivery(t *testing.T) {
	sink, _, closeFn := NewChannelSink("chan", 0)
	errCh := make(chan error, 1)
	go func() { errCh <- sink.Deliver(Warning{Channel: "x"}) }()

	time.Sleep(10 * time.Millisecond)
	closeFn()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked delivery was not released by close")
	}
}

func TestAttachRequiresChannels(t *testing.T) {
	rt, err := NewRuntime(mustParse(t, sfConfig), quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer shutdown(t, rt)
	if _, err := rt.Attach(NewCallbackSink("cb", nil)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	detach, err := rt.Attach(NewCallbackSink("cb", func(Warning) error { return nil }), "sf.limit")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	detach()
}
