package classifiers

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ghalamif/AegisCDSS/internal/app/factory"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

const defaultCostLimit = 100000

type expressionParams struct {
	Expr      string `yaml:"expr"`
	CostLimit uint64 `yaml:"cost_limit"`
	// SkipFalse suppresses emission when the result is boolean false.
	SkipFalse bool `yaml:"skip_false"`
}

// Expression evaluates a CEL program over the snapshot and emits its result.
// The program sees `in`, a map from input channel to latest value with
// numbers widened to double.
type Expression struct {
	inputs    []string
	prg       cel.Program
	skipFalse bool
}

func NewExpression(def factory.Definition, _ factory.Deps) (ports.Logic, error) {
	if err := requireOutputs(def); err != nil {
		return nil, err
	}
	p := expressionParams{CostLimit: defaultCostLimit}
	if err := def.Decode(&p); err != nil {
		return nil, err
	}
	if p.Expr == "" {
		return nil, configErr(def, "expr is required")
	}
	prg, err := CompileExpression(p.Expr, p.CostLimit)
	if err != nil {
		return nil, configErr(def, "%v", err)
	}
	return &Expression{
		inputs:    append([]string(nil), def.Inputs...),
		prg:       prg,
		skipFalse: p.SkipFalse,
	}, nil
}

// CompileExpression type-checks expr against the `in` variable.
func CompileExpression(expr string, costLimit uint64) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("in", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if costLimit == 0 {
		costLimit = defaultCostLimit
	}
	prg, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prg, nil
}

func (e *Expression) Fire(_ context.Context, snap domain.Snapshot, out ports.Emitter) error {
	vars := make(map[string]any, len(e.inputs))
	for _, ch := range e.inputs {
		if f, ok := snap.Float(ch); ok {
			vars[ch] = f
			continue
		}
		vars[ch] = snap.Value(ch)
	}

	res, _, err := e.prg.Eval(map[string]any{"in": vars})
	if err != nil {
		return fmt.Errorf("evaluate expression: %w", err)
	}
	v := res.Value()
	if b, ok := v.(bool); ok && !b && e.skipFalse {
		return nil
	}
	return out.Emit(domain.Payload{Value: v})
}
