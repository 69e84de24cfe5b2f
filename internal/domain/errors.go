package domain

import "errors"

var (
	// ErrConfiguration marks fatal startup problems: bad rule tokens, rules that
	// reference undeclared channels, malformed actor definitions.
	ErrConfiguration = errors.New("aegiscdss: configuration error")

	// ErrCyclicTopology is returned when the actor network contains a dependency loop.
	ErrCyclicTopology = errors.New("aegiscdss: cyclic topology")
)
