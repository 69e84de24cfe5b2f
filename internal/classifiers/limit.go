package classifiers

import (
	"context"
	"sort"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Limit states.
const (
	Below  = -1
	Within = 0
	Above  = 1
)

type limitParams struct {
	Limits map[string][]float64 `yaml:"limits"`
}

type bounds struct {
	lower, upper float64
}

// Limit classifies each limited channel against its [lower, upper] range and
// emits a map channel -> Below/Within/Above. Channels that have not received
// a message yet are left out.
type Limit struct {
	channels []string
	limits   map[string]bounds
}

func NewLimit(def factory.Definition, deps factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	var p limitParams
	if err := def.Decode(&p); err != nil {
		return nil, err
	}
	if len(p.Limits) == 0 {
		return nil, configErr(def, "limits are required")
	}

	l := &Limit{limits: make(map[string]bounds, len(p.Limits))}
	for ch, b := range p.Limits {
		if !def.HasInput(ch) {
			return nil, configErr(def, "limited channel %q is not a declared input", ch)
		}
		if len(b) != 2 {
			return nil, configErr(def, "limits for %q need exactly [lower, upper]", ch)
		}
		lo, hi := b[0], b[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		l.limits[ch] = bounds{lower: lo, upper: hi}
	}
	for _, in := range def.Inputs {
		if _, ok := l.limits[in]; ok {
			l.channels = append(l.channels, in)
		}
	}
	if len(l.channels) != len(def.Inputs) {
		deps.Obs.LogWarn("limit_inputs_not_all_limited",
			ports.Field{Key: "actor", Value: def.ID},
			ports.Field{Key: "limited", Value: sortedKeys(l.limits)})
	}
	return l, nil
}

// Classify returns the limit state of v against the channel's bounds.
func (l *Limit) Classify(channel string, v float64) (int, bool) {
	b, ok := l.limits[channel]
	if !ok {
		return 0, false
	}
	switch {
	case v < b.lower:
		return Below, true
	case v > b.upper:
		return Above, true
	default:
		return Within, true
	}
}

func (l *Limit) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	states := make(map[string]int, len(l.channels))
	for _, ch := range l.channels {
		if _, seen := snap.Timestamp(ch); !seen {
			continue
		}
		v, ok := snap.Float(ch)
		if !ok {
			continue
		}
		state, _ := l.Classify(ch, v)
		states[ch] = state
	}
	if len(states) == 0 {
		return nil
	}
	// a single limited channel publishes its bare state so rules can match on it
	if len(l.channels) == 1 {
		return out.Emit(domain.Payload{Value: states[l.channels[0]], Attrs: map[string]any{"channel": l.channels[0]}})
	}
	return out.Emit(domain.Payload{Value: states})
}

func sortedKeys(m map[string]bounds) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
