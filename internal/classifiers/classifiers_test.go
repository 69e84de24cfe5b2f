package classifiers

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type recorder struct {
	payloads []domain.Payload
}

func (r *recorder) Emit(p domain.Payload) error {
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) EmitTo(_ string, p domain.Payload) error { return r.Emit(p) }
func (r *recorder) Outputs() []string                      { return []string{"out"} }

func def(t *testing.T, typ string, inputs []string, params string) factory.Definition {
	t.Helper()
	d := factory.Definition{ID: typ + "-test", Type: typ, Inputs: inputs, Outputs: []string{"out"}}
	if params != "" {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(params), &doc); err != nil {
			t.Fatalf("params: %v", err)
		}
		d.Params = *doc.Content[0]
	}
	return d
}

func build(t *testing.T, d factory.Definition) ports.Logic {
	t.Helper()
	reg := factory.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	logic, err := reg.Build(d, factory.Deps{Now: func() time.Time { return t0 }})
	if err != nil {
		t.Fatalf("build %s: %v", d.Type, err)
	}
	return logic
}

func snap(views ...domain.ChannelView) domain.Snapshot {
	return domain.NewSnapshot(views)
}

func seen(ch string, v any, ts time.Time) domain.ChannelView {
	return domain.ChannelView{Channel: ch, Value: v, Timestamp: ts}
}

func unseen(ch string) domain.ChannelView {
	return domain.ChannelView{Channel: ch, Value: float64(0)}
}

func TestRegisterInstallsAllBuiltins(t *testing.T) {
	reg := factory.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	want := []string{TypeExpression, TypeLimit, TypeMismatch, TypeRatio, TypeRespiratoryRate, TypeTrend}
	if !reflect.DeepEqual(reg.Types(), want) {
		t.Fatalf("unexpected types: %v", reg.Types())
	}
	if err := Register(reg); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("second registration must fail, got %v", err)
	}
}

func TestLimitClassifiesChannels(t *testing.T) {
	logic := build(t, def(t, TypeLimit, []string{"hr", "spo2", "etco2"}, `
limits:
  hr: [60, 100]
  spo2: [100, 90]
  etco2: [35, 45]
`))
	rec := &recorder{}
	err := logic.Fire(context.Background(), snap(
		seen("hr", 120.0, t0),
		seen("spo2", 89.5, t0),
		unseen("etco2"),
	), rec)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(rec.payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(rec.payloads))
	}
	want := map[string]int{"hr": Above, "spo2": Below}
	if !reflect.DeepEqual(rec.payloads[0].Value, want) {
		t.Fatalf("unexpected states: %v", rec.payloads[0].Value)
	}
}

func TestLimitSingleChannelEmitsBareState(t *testing.T) {
	logic := build(t, def(t, TypeLimit, []string{"hr"}, "limits: {hr: [60, 100]}"))
	rec := &recorder{}
	for _, v := range []float64{60, 100, 59.9} {
		if err := logic.Fire(context.Background(), snap(seen("hr", v, t0)), rec); err != nil {
			t.Fatalf("fire: %v", err)
		}
	}
	got := []any{rec.payloads[0].Value, rec.payloads[1].Value, rec.payloads[2].Value}
	if !reflect.DeepEqual(got, []any{Within, Within, Below}) {
		t.Fatalf("unexpected states: %v", got)
	}
	if domain.FormatValue(rec.payloads[2].Value) != "-1" {
		t.Fatalf("bare state should format for RequireValue matching")
	}
}

func TestLimitRejectsUndeclaredChannels(t *testing.T) {
	reg := factory.NewRegistry()
	_ = Register(reg)
	_, err := reg.Build(def(t, TypeLimit, []string{"hr"}, "limits: {spo2: [90, 100]}"), factory.Deps{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = reg.Build(def(t, TypeLimit, []string{"hr"}, "limits: {hr: [90]}"), factory.Deps{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for a single bound, got %v", err)
	}
}

func TestRatio(t *testing.T) {
	logic := build(t, def(t, TypeRatio, []string{"spo2", "fio2"}, ""))
	rec := &recorder{}
	ctx := context.Background()

	_ = logic.Fire(ctx, snap(seen("spo2", 96.0, t0), seen("fio2", 0.4, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("spo2", 96.0, t0), unseen("fio2")), rec)
	_ = logic.Fire(ctx, snap(seen("spo2", "n/a", t0), seen("fio2", 0.4, t0)), rec)

	if len(rec.payloads) != 1 {
		t.Fatalf("expected only the valid ratio to be emitted, got %d", len(rec.payloads))
	}
	if got := rec.payloads[0].Value.(float64); math.Abs(got-240) > 1e-9 {
		t.Fatalf("unexpected ratio %v", got)
	}
}

func TestMismatch(t *testing.T) {
	logic := build(t, def(t, TypeMismatch, []string{"rr.est", "rr.set"}, "limit: 4"))
	rec := &recorder{}
	ctx := context.Background()

	_ = logic.Fire(ctx, snap(seen("rr.est", 20.0, t0), seen("rr.set", 14.0, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("rr.est", 16.0, t0), seen("rr.set", 14.0, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("rr.est", 18.0, t0), seen("rr.set", 14.0, t0)), rec)

	got := []any{rec.payloads[0].Value, rec.payloads[1].Value, rec.payloads[2].Value}
	if !reflect.DeepEqual(got, []any{1, 0, 0}) {
		t.Fatalf("unexpected warnings: %v", got)
	}
}

func TestTrendWarnsAfterPersistentDecrease(t *testing.T) {
	logic := build(t, def(t, TypeTrend, []string{"etco2"}, `
window: {etco2: 3}
persist: {etco2: 2}
delta: {etco2: 1}
`))
	rec := &recorder{}
	values := []float64{40, 38, 36, 34, 35, 33, 31, 29}
	for i, v := range values {
		s := snap(seen("etco2", v, t0.Add(time.Duration(i)*time.Second)))
		if err := logic.Fire(context.Background(), s, rec); err != nil {
			t.Fatalf("fire: %v", err)
		}
	}
	// windows: [40 38 36] -2 hit1, [38 36 34] -2 hit2 warn, [36 34 35] -0.5 reset,
	// [34 35 33] -0.5, [35 33 31] -2 hit1, [33 31 29] -2 hit2 warn
	if len(rec.payloads) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(rec.payloads))
	}
	p := rec.payloads[0]
	if p.Value.(float64) != -2 {
		t.Fatalf("unexpected slope %v", p.Value)
	}
	if p.Attrs["input_channel"] != "etco2" || p.Attrs["direction"] != TrendDown {
		t.Fatalf("unexpected attrs: %v", p.Attrs)
	}
	if p.Attrs["window_first"] != 38.0 || p.Attrs["window_last"] != 34.0 {
		t.Fatalf("unexpected window bounds: %v", p.Attrs)
	}
}

func TestTrendIgnoresRepeatedSnapshots(t *testing.T) {
	logic := build(t, def(t, TypeTrend, []string{"a", "b"}, "window: {a: 2}"))
	rec := &recorder{}
	ctx := context.Background()

	// b fires the actor repeatedly; a's single sample must not be counted twice
	_ = logic.Fire(ctx, snap(seen("a", 10.0, t0), seen("b", 1.0, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("a", 10.0, t0), seen("b", 2.0, t0.Add(time.Second))), rec)
	for _, p := range rec.payloads {
		if p.Attrs["input_channel"] == "a" {
			t.Fatalf("a has only one sample and must not produce a trend: %+v", p)
		}
	}
	if len(rec.payloads) != 0 {
		t.Fatalf("rising b must not warn on a DOWN trend, got %d", len(rec.payloads))
	}
}

func TestTrendRejectsBadParams(t *testing.T) {
	reg := factory.NewRegistry()
	_ = Register(reg)
	for _, params := range []string{
		"window: {hr: 1}",
		"persist: {hr: 0}",
		"delta: {hr: -1}",
		"direction: SIDEWAYS",
		"window: {spo2: 3}",
	} {
		if _, err := reg.Build(def(t, TypeTrend, []string{"hr"}, params), factory.Deps{}); !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", params, err)
		}
	}
}

func TestIndexSlope(t *testing.T) {
	if got := IndexSlope([]float64{1, 2, 3, 4}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("expected slope 1, got %v", got)
	}
	if got := IndexSlope([]float64{5}); got != 0 {
		t.Fatalf("single value slope must be 0, got %v", got)
	}
}

func TestRespiratoryRateFromSyntheticWaveform(t *testing.T) {
	logic := build(t, def(t, TypeRespiratoryRate, []string{"co2.wave"}, `
window_size: 5
rise_slope_min: 5
fall_slope_min: 5
use_ema: false
use_hampel: false
`))
	rec := &recorder{}

	// triangle wave, 4 s period sampled at 4 Hz: 15 breaths per minute
	const period = 16
	for i := 0; i < period*8; i++ {
		phase := i % period
		v := float64(phase) * 5
		if phase >= period/2 {
			v = float64(period-phase) * 5
		}
		ts := t0.Add(time.Duration(i) * 250 * time.Millisecond)
		if err := logic.Fire(context.Background(), snap(seen("co2.wave", v, ts)), rec); err != nil {
			t.Fatalf("fire: %v", err)
		}
	}
	if len(rec.payloads) == 0 {
		t.Fatalf("expected a respiratory rate estimate")
	}
	last := rec.payloads[len(rec.payloads)-1].Value.(float64)
	if math.Abs(last-15) > 0.5 {
		t.Fatalf("expected ~15 breaths/min, got %v", last)
	}
}

func TestHampelSuppressesSpikes(t *testing.T) {
	r := &RespiratoryRate{p: respiratoryParams{HampelWindow: 5, HampelK: 3}}
	for _, v := range []float64{10, 11, 10, 11} {
		r.hampelFilter(v)
	}
	if got := r.hampelFilter(100); got != 11 {
		t.Fatalf("spike should be replaced by the median, got %v", got)
	}
}

func TestExpression(t *testing.T) {
	logic := build(t, def(t, TypeExpression, []string{"etco2.trend", "hr.limit"}, `
expr: 'in["etco2.trend"] == 1.0 ? (in["hr.limit"] == 0.0 ? 1 : (in["hr.limit"] == 1.0 ? 2 : 0)) : 0'
`))
	rec := &recorder{}
	ctx := context.Background()

	_ = logic.Fire(ctx, snap(seen("etco2.trend", 1, t0), seen("hr.limit", 0, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("etco2.trend", 1, t0), seen("hr.limit", 1, t0)), rec)
	_ = logic.Fire(ctx, snap(seen("etco2.trend", 0, t0), seen("hr.limit", 1, t0)), rec)

	got := []any{rec.payloads[0].Value, rec.payloads[1].Value, rec.payloads[2].Value}
	if !reflect.DeepEqual(got, []any{int64(1), int64(2), int64(0)}) {
		t.Fatalf("unexpected results: %v", got)
	}
}

func TestExpressionSkipFalse(t *testing.T) {
	logic := build(t, def(t, TypeExpression, []string{"hr"}, "expr: 'in.hr > 100.0'\nskip_false: true"))
	rec := &recorder{}
	_ = logic.Fire(context.Background(), snap(seen("hr", 80.0, t0)), rec)
	_ = logic.Fire(context.Background(), snap(seen("hr", 130.0, t0)), rec)
	if len(rec.payloads) != 1 || rec.payloads[0].Value != true {
		t.Fatalf("expected only the true result, got %+v", rec.payloads)
	}
}

func TestExpressionCompileErrorIsConfigurationError(t *testing.T) {
	reg := factory.NewRegistry()
	_ = Register(reg)
	_, err := reg.Build(def(t, TypeExpression, []string{"hr"}, "expr: 'in.hr >'"), factory.Deps{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
