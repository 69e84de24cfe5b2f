// Package classifiers holds the built-in actor logic: limit, trend, ratio,
// mismatch, respiratory rate and CEL expression classifiers.
//
// Logic values are invoked by the engine under the owning actor's lock, so the
// per-classifier state below is never accessed concurrently.
package classifiers

import (
	"fmt"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
)

// Type tags understood by Register.
const (
	TypeLimit           = "limit"
	TypeTrend           = "trend"
	TypeRatio           = "ratio"
	TypeMismatch        = "mismatch"
	TypeRespiratoryRate = "respiratory_rate"
	TypeExpression      = "expression"
)

// Register installs every built-in classifier into reg.
func Register(reg *factory.Registry) error {
	for tag, c := range map[string]factory.Constructor{
		TypeLimit:           NewLimit,
		TypeTrend:           NewTrend,
		TypeRatio:           NewRatio,
		TypeMismatch:        NewMismatch,
		TypeRespiratoryRate: NewRespiratoryRate,
		TypeExpression:      NewExpression,
	} {
		if err := reg.Register(tag, c); err != nil {
			return err
		}
	}
	return nil
}

func configErr(def factory.Definition, format string, args ...any) error {
	return fmt.Errorf("%w: actor %q: %s", domain.ErrConfiguration, def.ID, fmt.Sprintf(format, args...))
}

// channelParam returns name, or the fallback input at index i when name is
// empty, and checks that the result is a declared input.
func channelParam(def factory.Definition, param, name string, i int) (string, error) {
	if name == "" {
		if i >= len(def.Inputs) {
			return "", configErr(def, "%s is required", param)
		}
		name = def.Inputs[i]
	}
	if !def.HasInput(name) {
		return "", configErr(def, "%s %q is not a declared input", param, name)
	}
	return name, nil
}

func requireOutputs(def factory.Definition) error {
	if len(def.Outputs) == 0 {
		return configErr(def, "at least one output channel is required")
	}
	return nil
}
