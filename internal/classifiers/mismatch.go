package classifiers

import (
	"context"
	"math"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

type mismatchParams struct {
	Estimate string  `yaml:"estimate"`
	Setting  string  `yaml:"setting"`
	Limit    float64 `yaml:"limit"`
}

// Mismatch emits 1 when the estimate deviates from the setting by more than
// limit and 0 otherwise. Non-numeric values count as 0.
type Mismatch struct {
	estimate, setting string
	limit             float64
}

func NewMismatch(def factory.Definition, _ factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	var p mismatchParams
	if err := def.Decode(&p); err != nil {
		return nil, err
	}
	est, err := channelParam(def, "estimate", p.Estimate, 0)
	if err != nil {
		return nil, err
	}
	set, err := channelParam(def, "setting", p.Setting, 1)
	if err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, configErr(def, "limit must not be negative")
	}
	return &Mismatch{estimate: est, setting: set, limit: p.Limit}, nil
}

func (m *Mismatch) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	est, _ := snap.Float(m.estimate)
	set, _ := snap.Float(m.setting)
	warn := 0
	if math.Abs(est-set) > m.limit {
		warn = 1
	}
	return out.Emit(domain.Payload{Value: warn})
}
