package classifiers

import (
	"context"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

type ratioParams struct {
	Numerator   string  `yaml:"numerator"`
	Denominator string  `yaml:"denominator"`
	Scale       float64 `yaml:"scale"`
}

// Ratio emits scale * numerator / denominator, e.g. the SpO2/FiO2 ratio.
// Nothing is emitted while either value is non-numeric or the denominator is zero.
type Ratio struct {
	num, den string
	scale    float64
}

func NewRatio(def factory.Definition, _ factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	p := ratioParams{Scale: 1}
	if err := def.Decode(&p); err != nil {
		return nil, err
	}
	num, err := channelParam(def, "numerator", p.Numerator, 0)
	if err != nil {
		return nil, err
	}
	den, err := channelParam(def, "denominator", p.Denominator, 1)
	if err != nil {
		return nil, err
	}
	if num == den {
		return nil, configErr(def, "numerator and denominator must differ")
	}
	if p.Scale == 0 {
		return nil, configErr(def, "scale must not be zero")
	}
	return &Ratio{num: num, den: den, scale: p.Scale}, nil
}

func (r *Ratio) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	n, ok := snap.Float(r.num)
	if !ok {
		return nil
	}
	d, ok := snap.Float(r.den)
	if !ok || d == 0 {
		return nil
	}
	return out.Emit(domain.Payload{Value: r.scale * n / d})
}
