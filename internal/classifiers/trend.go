package classifiers

import (
	"context"
	"strings"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Trend directions.
const (
	TrendDown = "DOWN"
	TrendUp   = "UP"
)

type trendParams struct {
	Direction string             `yaml:"direction"`
	Window    map[string]int     `yaml:"window"`
	Persist   map[string]int     `yaml:"persist"`
	Delta     map[string]float64 `yaml:"delta"`
}

type trendChannel struct {
	size    int
	persist int
	delta   float64

	values []float64
	lastTS time.Time
	hits   int
}

// Trend keeps a sliding window per input channel and fits a least-squares
// slope over the sample index. A warning is emitted once the slope has crossed
// the channel's delta in the configured direction for persist consecutive
// windows, and again on every further crossing window.
type Trend struct {
	direction string
	order     []string
	channels  map[string]*trendChannel
}

func NewTrend(def factory.Definition, _ factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	if len(def.Inputs) == 0 {
		return nil, configErr(def, "trend needs at least one input")
	}
	var p trendParams
	if err := def.Decode(&p); err != nil {
		return nil, err
	}

	dir := strings.ToUpper(strings.TrimSpace(p.Direction))
	switch dir {
	case "":
		dir = TrendDown
	case TrendDown, TrendUp:
	default:
		return nil, configErr(def, "unknown trend direction %q", p.Direction)
	}

	for _, m := range []map[string]int{p.Window, p.Persist} {
		for ch := range m {
			if !def.HasInput(ch) {
				return nil, configErr(def, "trend parameter references undeclared input %q", ch)
			}
		}
	}
	for ch := range p.Delta {
		if !def.HasInput(ch) {
			return nil, configErr(def, "trend parameter references undeclared input %q", ch)
		}
	}

	t := &Trend{direction: dir, channels: make(map[string]*trendChannel, len(def.Inputs))}
	for _, ch := range def.Inputs {
		tc := &trendChannel{size: 2, persist: 1}
		if v, ok := p.Window[ch]; ok {
			if v < 2 {
				return nil, configErr(def, "window for %q must be >= 2, got %d", ch, v)
			}
			tc.size = v
		}
		if v, ok := p.Persist[ch]; ok {
			if v < 1 {
				return nil, configErr(def, "persist for %q must be >= 1, got %d", ch, v)
			}
			tc.persist = v
		}
		if v, ok := p.Delta[ch]; ok {
			if v < 0 {
				return nil, configErr(def, "delta for %q must be >= 0, got %v", ch, v)
			}
			tc.delta = v
		}
		tc.values = make([]float64, 0, tc.size)
		t.order = append(t.order, ch)
		t.channels[ch] = tc
	}
	return t, nil
}

// Fire appends every channel whose timestamp moved since the last fire, so a
// channel that did not receive a new message is not counted twice.
func (t *Trend) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	for _, ch := range t.order {
		tc := t.channels[ch]
		ts, seen := snap.Timestamp(ch)
		if !seen || ts.Equal(tc.lastTS) {
			continue
		}
		v, ok := snap.Float(ch)
		if !ok {
			continue
		}
		tc.lastTS = ts

		if len(tc.values) == tc.size {
			copy(tc.values, tc.values[1:])
			tc.values = tc.values[:tc.size-1]
		}
		tc.values = append(tc.values, v)
		if len(tc.values) < tc.size {
			continue
		}

		slope := IndexSlope(tc.values)
		crossed := slope <= -tc.delta
		if t.direction == TrendUp {
			crossed = slope >= tc.delta
		}
		if !crossed {
			tc.hits = 0
			continue
		}
		tc.hits++
		if tc.hits < tc.persist {
			continue
		}

		err := out.Emit(domain.Payload{
			Value: slope,
			Attrs: map[string]any{
				"input_channel": ch,
				"trend_metric":  "REGRESSION_SLOPE",
				"direction":     t.direction,
				"window_size":   tc.size,
				"delta":         tc.delta,
				"persist":       tc.persist,
				"window_first":  tc.values[0],
				"window_last":   tc.values[len(tc.values)-1],
				"consecutive":   tc.hits,
				"input_time":    ts,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// IndexSlope is the least-squares slope of values over x = 0..n-1.
func IndexSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	meanX := float64(n-1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= float64(n)

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
