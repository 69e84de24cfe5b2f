package aegiscdss

import (
	"fmt"
	"time"
)

// Publisher lets an embedding service push observations into a running
// runtime, e.g. values charted by hand or received over an API the runtime
// has no collector for.
type Publisher struct {
	rt     *Runtime
	source string
}

// Publisher returns a publisher that stamps payloads with source.
func (rt *Runtime) Publisher(source string) *Publisher {
	if source == "" {
		source = "external"
	}
	return &Publisher{rt: rt, source: source}
}

// Publish sends value on channel, stamped with the runtime clock.
func (p *Publisher) Publish(channel string, value any) error {
	return p.PublishAt(channel, value, time.Time{})
}

// PublishAt sends value on channel with an explicit observation time.
func (p *Publisher) PublishAt(channel string, value any, ts time.Time) error {
	return p.rt.Publish(channel, Payload{Value: value, Timestamp: ts, Source: p.source})
}

// PublishUpdates sends a batch in order and stops at the first failure.
func (p *Publisher) PublishUpdates(updates []Update) error {
	for i, u := range updates {
		if u.Payload.Source == "" {
			u.Payload.Source = p.source
		}
		if err := p.rt.Publish(u.Channel, u.Payload); err != nil {
			return fmt.Errorf("update %d (%s): %w", i, u.Channel, err)
		}
	}
	return nil
}
