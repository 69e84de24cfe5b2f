package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// DefaultBuffer is the collector channel capacity used when none is given.
const DefaultBuffer = 1024

// RunIngest starts col and publishes every update it produces on reg, in the
// order produced, until ctx is cancelled, the collector closes its channel or
// a publish fails. The collector is stopped before RunIngest returns.
func RunIngest(ctx context.Context, name string, col ports.Collector, reg ports.Registry, buffer int, obs ports.Observability) (err error) {
	if obs == nil {
		obs = observability.Nop{}
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan *domain.Update, buffer)
	if err := col.Start(ch); err != nil {
		return fmt.Errorf("collector %s: %w", name, err)
	}
	defer func() {
		if stopErr := col.Stop(); stopErr != nil {
			obs.LogError("collector_stop_failed", stopErr, ports.Field{Key: "collector", Value: name})
			err = errors.Join(err, stopErr)
		}
	}()

	obs.LogInfo("ingest_started", ports.Field{Key: "collector", Value: name})
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-ch:
			if !ok {
				obs.LogInfo("ingest_finished", ports.Field{Key: "collector", Value: name})
				return nil
			}
			if upd == nil {
				continue
			}
			if upd.Channel == "" {
				obs.LogWarn("update_without_channel", ports.Field{Key: "collector", Value: name})
				continue
			}
			if err := reg.Publish(upd.Channel, upd.Payload); err != nil {
				obs.LogError("ingest_publish_failed", err,
					ports.Field{Key: "collector", Value: name},
					ports.Field{Key: "channel", Value: upd.Channel})
				return err
			}
			obs.IncCounter(observability.UpdatesIngested, 1, name)
		}
	}
}
