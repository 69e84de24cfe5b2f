package ports

import (
	"context"

	"github.com/ghalamif/AegisCDSS/internal/domain"
)

// Logic is the domain logic of an actor, invoked once per fire with the snapshot
// of its input channels.
type Logic interface {
	Fire(ctx context.Context, snap domain.Snapshot, out Emitter) error
}

// LogicFunc adapts a function to Logic.
type LogicFunc func(ctx context.Context, snap domain.Snapshot, out Emitter) error

func (f LogicFunc) Fire(ctx context.Context, snap domain.Snapshot, out Emitter) error {
	return f(ctx, snap, out)
}

// Emitter publishes results on the actor's declared output channels.
// Zero timestamps and empty sources are filled in by the engine.
type Emitter interface {
	// Emit publishes p on every output channel.
	Emit(p domain.Payload) error
	// EmitTo publishes p on one output channel.
	EmitTo(channel string, p domain.Payload) error
	Outputs() []string
}
