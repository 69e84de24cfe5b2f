package classifiers

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// hampelScale turns a median absolute deviation into a standard deviation
// estimate for normally distributed data.
const hampelScale = 1.4826

type respiratoryParams struct {
	Channel           string  `yaml:"channel"`
	WindowSize        int     `yaml:"window_size"`
	RiseSlopeMin      float64 `yaml:"rise_slope_min"`
	FallSlopeMin      float64 `yaml:"fall_slope_min"`
	MinBreathInterval float64 `yaml:"min_breath_interval_sec"`
	HistorySeconds    float64 `yaml:"history_sec"`
	UseEMA            bool    `yaml:"use_ema"`
	EMAAlpha          float64 `yaml:"ema_alpha"`
	UseHampel         bool    `yaml:"use_hampel"`
	HampelWindow      int     `yaml:"hampel_window"`
	HampelK           float64 `yaml:"hampel_k"`
}

func defaultRespiratoryParams() respiratoryParams {
	return respiratoryParams{
		WindowSize:        25,
		RiseSlopeMin:      2,
		FallSlopeMin:      2,
		MinBreathInterval: 1,
		HistorySeconds:    40,
		UseEMA:            true,
		EMAAlpha:          0.2,
		UseHampel:         true,
		HampelWindow:      7,
		HampelK:           3,
	}
}

type timedSample struct {
	t time.Time
	v float64
}

// RespiratoryRate estimates breaths per minute from a capnography waveform.
// Each sample is optionally EMA-smoothed and Hampel-filtered, then a
// least-squares slope over a sliding time window drives a two-threshold
// detector: a rising slope arms it, a falling slope confirms a breath whose
// peak is the maximum of the recent half window. The rate is
// 60000 / median inter-breath interval in milliseconds.
type RespiratoryRate struct {
	channel string
	p       respiratoryParams
	now     func() time.Time

	ema     float64
	emaSet  bool
	hampel  []float64
	window  []timedSample
	armed   bool
	peaks   []time.Time
	lastTS  time.Time
	refract time.Duration
	history time.Duration
}

func NewRespiratoryRate(def factory.Definition, deps factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	p := defaultRespiratoryParams()
	if err := def.Decode(&p); err != nil {
		return nil, err
	}
	ch, err := channelParam(def, "channel", p.Channel, 0)
	if err != nil {
		return nil, err
	}
	switch {
	case p.WindowSize < 3:
		return nil, configErr(def, "window_size must be >= 3, got %d", p.WindowSize)
	case p.UseEMA && (p.EMAAlpha <= 0 || p.EMAAlpha > 1):
		return nil, configErr(def, "ema_alpha must be within (0, 1], got %v", p.EMAAlpha)
	case p.UseHampel && p.HampelK <= 0:
		return nil, configErr(def, "hampel_k must be positive, got %v", p.HampelK)
	case p.MinBreathInterval < 0 || p.HistorySeconds <= 0:
		return nil, configErr(def, "min_breath_interval_sec must be >= 0 and history_sec positive")
	}
	return &RespiratoryRate{
		channel: ch,
		p:       p,
		now:     deps.Now,
		refract: time.Duration(p.MinBreathInterval * float64(time.Second)),
		history: time.Duration(p.HistorySeconds * float64(time.Second)),
	}, nil
}

func (r *RespiratoryRate) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	v, ok := snap.Float(r.channel)
	if !ok {
		return nil
	}
	ts, seen := snap.Timestamp(r.channel)
	if !seen {
		ts = r.now()
	}

	if r.p.UseEMA {
		if !r.emaSet {
			r.ema, r.emaSet = v, true
		} else {
			r.ema = r.p.EMAAlpha*v + (1-r.p.EMAAlpha)*r.ema
		}
		v = r.ema
	}
	if r.p.UseHampel {
		v = r.hampelFilter(v)
	}

	r.window = append(r.window, timedSample{t: ts, v: v})
	if len(r.window) > r.p.WindowSize {
		r.window = r.window[1:]
	}
	if len(r.window) < max(3, r.p.WindowSize/2) {
		return nil
	}

	slope := timeSlope(r.window)
	if !r.armed && slope >= r.p.RiseSlopeMin {
		r.armed = true
	}
	if r.armed && slope <= -math.Abs(r.p.FallSlopeMin) {
		if peak, ok := r.peakTime(); ok {
			r.registerPeak(peak)
		}
		r.armed = false
	}

	rate, ok := r.rate()
	if !ok {
		return nil
	}
	return out.Emit(domain.Payload{Value: rate, Timestamp: ts, Attrs: map[string]any{"breaths": len(r.peaks)}})
}

// peakTime returns the time of the maximum over the recent half of the window.
func (r *RespiratoryRate) peakTime() (time.Time, bool) {
	n := len(r.window)
	start := max(0, n-max(3, n/2))
	var (
		best  = -math.MaxFloat64
		at    time.Time
		found bool
	)
	for _, s := range r.window[start:] {
		if s.v > best {
			best, at, found = s.v, s.t, true
		}
	}
	return at, found
}

func (r *RespiratoryRate) registerPeak(ts time.Time) {
	if !r.lastTS.IsZero() && ts.Sub(r.lastTS) < r.refract {
		return
	}
	r.lastTS = ts

	cutoff := ts.Add(-r.history)
	drop := 0
	for drop < len(r.peaks) && r.peaks[drop].Before(cutoff) {
		drop++
	}
	r.peaks = append(r.peaks[drop:], ts)
}

// rate needs two peaks. With peaks but no interval longer than the refractory
// period it reports 0.
func (r *RespiratoryRate) rate() (float64, bool) {
	if len(r.peaks) < 2 {
		return 0, false
	}
	intervals := make([]float64, 0, len(r.peaks)-1)
	for i := 1; i < len(r.peaks); i++ {
		d := r.peaks[i].Sub(r.peaks[i-1])
		if d >= r.refract && d > 0 {
			intervals = append(intervals, float64(d.Milliseconds()))
		}
	}
	if len(intervals) == 0 {
		return 0, true
	}
	sort.Float64s(intervals)
	median := intervals[len(intervals)/2]
	if median == 0 {
		return 0, true
	}
	return 60000 / median, true
}

func (r *RespiratoryRate) hampelFilter(x float64) float64 {
	r.hampel = append(r.hampel, x)
	if len(r.hampel) > max(3, r.p.HampelWindow) {
		r.hampel = r.hampel[1:]
	}
	if len(r.hampel) < max(3, r.p.HampelWindow/2) {
		return x
	}

	vals := append([]float64(nil), r.hampel...)
	sort.Float64s(vals)
	med := vals[len(vals)/2]
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	mad := dev[len(dev)/2]
	if mad == 0 {
		return x
	}
	if math.Abs(x-med)/(hampelScale*mad) > r.p.HampelK {
		return med
	}
	return x
}

// timeSlope is the least-squares slope of the samples against time in seconds
// since the first sample.
func timeSlope(samples []timedSample) float64 {
	n := float64(len(samples))
	if len(samples) == 0 {
		return 0
	}
	first := samples[0].t
	var sumT, sumV, sumTT, sumTV float64
	for _, s := range samples {
		t := s.t.Sub(first).Seconds()
		sumT += t
		sumV += s.v
		sumTT += t * t
		sumTV += t * s.v
	}
	den := n*sumTT - sumT*sumT
	if den == 0 {
		return 0
	}
	return (n*sumTV - sumT*sumV) / den
}
