package aegiscdss

import (
	"github.com/ghalamif/AegisCDSS/internal/app/dfcn"
	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

var (
	// ErrConfiguration marks invalid rules, actor declarations or config files.
	ErrConfiguration = domain.ErrConfiguration
	// ErrCyclicTopology is returned when the actor network has a dependency loop.
	ErrCyclicTopology = domain.ErrCyclicTopology
)

// Payload is a value and the time it was observed.
type Payload = domain.Payload

// Update pairs a payload with its channel. Collectors produce Updates.
type Update = domain.Update

// Snapshot is the read-only view of an actor's inputs handed to its logic.
type Snapshot = domain.Snapshot

// Logic is the domain logic of an actor.
type Logic = ports.Logic

type LogicFunc = ports.LogicFunc

// Emitter publishes results on an actor's output channels.
type Emitter = ports.Emitter

// Collector streams channel updates from any data source into the runtime.
type Collector = ports.Collector

type Registry = ports.Registry

type Subscription = ports.Subscription

// Observability emits logs and metrics about the runtime.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Graph is the validated dataflow network.
type Graph = dfcn.Graph

// CycleError carries the actors forming a dependency loop.
type CycleError = dfcn.CycleError

type (
	// Definition is what an actor constructor receives.
	Definition = factory.Definition
	Deps       = factory.Deps
	// Constructor builds the logic of a custom actor type.
	Constructor = factory.Constructor
)
